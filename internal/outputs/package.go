// Package outputs turns approved claims into on-air artifacts: the graphics
// payload package and the rendered lower-third image. Everything here is
// pinned to the claim version that was approved.
package outputs

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Template identity stamped on every package and render job.
const (
	TemplateVersion = "lower-third-v2"
	TemplateID      = "lower-third"

	headlineMaxChars = 120
)

// BuildPackage assembles the on-air payload for an approved claim, pinned to
// claimVersion. Assembly is local and deterministic apart from the id.
func BuildPackage(claim *model.Claim, claimVersion int, now time.Time) *model.OutputPackage {
	pkg := &model.OutputPackage{
		PackageID:       "pkg-" + uuid.NewString(),
		ClaimID:         claim.ID,
		RunID:           claim.RunID,
		ClaimVersion:    claimVersion,
		Status:          model.PackageQueued,
		TemplateVersion: TemplateVersion,
		CreatedAt:       now,
	}

	headline := strings.TrimSpace(claim.Text)
	if headline == "" {
		pkg.Status = model.PackageFailed
		pkg.Error = "claim has no text to render"
		return pkg
	}
	if r := []rune(headline); len(r) > headlineMaxChars {
		headline = strings.TrimSpace(string(r[:headlineMaxChars-1])) + "…"
	}

	attribution := ""
	if len(claim.Sources) > 0 {
		attribution = claim.Sources[0].Publisher
	}

	pkg.Payload = &model.PackagePayload{
		Headline:      headline,
		VerdictLabel:  verdictLabel(claim.Verdict),
		ConfidencePct: int(claim.Confidence*100 + 0.5),
		Attribution:   attribution,
		Clock:         claim.ChunkClock,
		TemplateID:    TemplateID,
	}
	pkg.Status = model.PackageReady
	return pkg
}

func verdictLabel(v model.Verdict) string {
	switch v {
	case model.VerdictTrue:
		return "TRUE"
	case model.VerdictFalse:
		return "FALSE"
	case model.VerdictMisleading:
		return "MISLEADING"
	default:
		return "UNVERIFIED"
	}
}
