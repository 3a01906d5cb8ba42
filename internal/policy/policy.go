// Package policy derives approval and export eligibility from a claim
// snapshot. Evaluation is pure: same snapshot in, same decision out, no
// clocks, no IO.
package policy

import (
	"strings"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Confidence floors by claim type tag.
const (
	ThresholdNumericFactual = 0.60
	ThresholdSimplePolicy   = 0.75
	ThresholdOther          = 0.80
)

// Evaluation is the full derived-policy block for a claim snapshot.
type Evaluation struct {
	ClaimTypeTag           model.ClaimTypeTag
	ClaimTypeConfidence    float64
	PolicyThreshold        float64
	IndependentSourceCount int
	EvidenceConflict       bool
	EvidenceStatus         model.EvidenceStatus
	ApprovalEligibility    bool
	ApprovalBlockReason    model.BlockReason // empty when eligible
	ExportEligibility      bool
	ExportBlockReason      model.BlockReason // empty when eligible
}

// Evaluate computes the policy block for a claim snapshot.
func Evaluate(c *model.Claim) Evaluation {
	ev := Evaluation{
		ClaimTypeTag:        c.TypeTag,
		ClaimTypeConfidence: c.TypeConfidence,
		PolicyThreshold:     ThresholdFor(c.TypeTag),
	}
	ev.IndependentSourceCount = countIndependentSources(c.Sources)
	ev.EvidenceConflict = hasConflict(c.Sources)
	ev.EvidenceStatus = evidenceStatus(c, ev.IndependentSourceCount, ev.EvidenceConflict)
	ev.ApprovalBlockReason = approvalBlock(c, ev.EvidenceStatus, ev.PolicyThreshold)
	ev.ApprovalEligibility = ev.ApprovalBlockReason == ""

	ev.ExportBlockReason = ev.ApprovalBlockReason
	if ev.ExportBlockReason == "" && c.OutputApprovalState != model.ApprovalApproved {
		ev.ExportBlockReason = model.BlockNotApproved
	}
	ev.ExportEligibility = ev.ExportBlockReason == ""
	return ev
}

// Apply writes the derived fields of Evaluate back onto the snapshot.
func Apply(c *model.Claim) {
	ev := Evaluate(c)
	c.PolicyThreshold = ev.PolicyThreshold
	c.IndependentSourceCount = ev.IndependentSourceCount
	c.EvidenceConflict = ev.EvidenceConflict
	c.EvidenceStatus = ev.EvidenceStatus
	c.ApprovalEligibility = ev.ApprovalEligibility
	c.ApprovalBlockReason = ev.ApprovalBlockReason
	c.ExportEligibility = ev.ExportEligibility
	c.ExportBlockReason = ev.ExportBlockReason
}

// ThresholdFor maps a claim type tag to its confidence floor. Unknown tags
// fall into the strictest tier.
func ThresholdFor(tag model.ClaimTypeTag) float64 {
	switch tag {
	case model.TagNumericFactual:
		return ThresholdNumericFactual
	case model.TagSimplePolicy:
		return ThresholdSimplePolicy
	default:
		return ThresholdOther
	}
}

// countIndependentSources counts distinct publishers, falling back to the
// URL when the publisher is blank.
func countIndependentSources(sources []model.Source) int {
	keys := make(map[string]bool)
	for _, s := range sources {
		key := strings.ToLower(strings.TrimSpace(s.Publisher))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(s.URL))
		}
		if key != "" {
			keys[key] = true
		}
	}
	return len(keys)
}

// ratingBucket is the coarse reading of a textual rating used only for
// conflict detection.
type ratingBucket string

const (
	bucketFalse      ratingBucket = "false"
	bucketMisleading ratingBucket = "misleading"
	bucketSupported  ratingBucket = "supported"
	bucketUnverified ratingBucket = "unverified"
)

// Phrase order matters: qualified ratings ("mostly false", "half true") must
// land in the misleading bucket before the bare word matches.
var (
	misleadingPhrases = []string{"misleading", "mixed", "partly false", "half true", "mostly false"}
	falsePhrases      = []string{"false", "incorrect", "pants on fire"}
	supportedPhrases  = []string{"mostly true", "true", "correct"}
)

func normalizeRating(rating string) ratingBucket {
	lower := strings.ToLower(rating)
	for _, p := range misleadingPhrases {
		if strings.Contains(lower, p) {
			return bucketMisleading
		}
	}
	for _, p := range falsePhrases {
		if strings.Contains(lower, p) {
			return bucketFalse
		}
	}
	for _, p := range supportedPhrases {
		if strings.Contains(lower, p) {
			return bucketSupported
		}
	}
	return bucketUnverified
}

// hasConflict reports whether at least two distinct classified buckets
// appear across the sources' textual ratings.
func hasConflict(sources []model.Source) bool {
	buckets := make(map[ratingBucket]bool)
	for _, s := range sources {
		if b := normalizeRating(s.TextualRating); b != bucketUnverified {
			buckets[b] = true
		}
	}
	return len(buckets) >= 2
}

func evidenceStatus(c *model.Claim, independent int, conflict bool) model.EvidenceStatus {
	switch c.Status {
	case model.StatusPendingResearch, model.StatusResearching:
		return model.EvidenceStatusResearching
	}
	if c.GoogleEvidenceState == model.EvidenceError {
		return model.EvidenceStatusProviderDegraded
	}
	if c.Category == model.CategoryEconomic {
		if c.FredEvidenceState == model.EvidenceError {
			return model.EvidenceStatusProviderDegraded
		}
		// A matched indicator series alone is sufficient evidence.
		if c.FredEvidenceState != model.EvidenceMatched && independent < 1 {
			return model.EvidenceStatusInsufficient
		}
	} else if independent < 1 {
		return model.EvidenceStatusInsufficient
	}
	if conflict {
		return model.EvidenceStatusConflicted
	}
	return model.EvidenceStatusSufficient
}

func approvalBlock(c *model.Claim, status model.EvidenceStatus, threshold float64) model.BlockReason {
	if c.OutputApprovalState == model.ApprovalRejected {
		return model.BlockRejectedLocked
	}
	if c.Status != model.StatusResearched {
		if c.Status == model.StatusResearching || c.Status == model.StatusPendingResearch {
			return model.BlockStillResearching
		}
		return model.BlockNotResearched
	}
	switch status {
	case model.EvidenceStatusResearching:
		return model.BlockStillResearching
	case model.EvidenceStatusProviderDegraded:
		return model.BlockProviderDegraded
	case model.EvidenceStatusInsufficient:
		return model.BlockInsufficientSources
	case model.EvidenceStatusConflicted:
		return model.BlockConflictedSources
	}
	if c.Confidence < threshold {
		return model.BlockBelowThreshold
	}
	return ""
}

// BlockMessage renders a block reason as the operator-facing explanation.
func BlockMessage(reason model.BlockReason) string {
	switch reason {
	case model.BlockRejectedLocked:
		return "claim was rejected; a content update is required before re-approval"
	case model.BlockStillResearching:
		return "research is still in progress"
	case model.BlockNotResearched:
		return "claim has no completed research"
	case model.BlockProviderDegraded:
		return "an evidence provider failed; verify manually before approving"
	case model.BlockInsufficientSources:
		return "no independent source supports this claim"
	case model.BlockConflictedSources:
		return "sources disagree on this claim"
	case model.BlockBelowThreshold:
		return "verdict confidence is below the policy threshold for this claim type"
	case model.BlockNotApproved:
		return "claim is not approved for output"
	default:
		return string(reason)
	}
}
