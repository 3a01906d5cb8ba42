package run

import (
	"fmt"
	"time"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/policy"
)

// claimStore is the in-memory claim lifecycle map for the active run. It is
// owned by the controller's event loop; nothing else touches it.
type claimStore struct {
	runID    string
	claims   map[string]*model.Claim
	order    []string
	claimSeq int
}

func newClaimStore(runID string) *claimStore {
	return &claimStore{
		runID:  runID,
		claims: make(map[string]*model.Claim),
	}
}

func (s *claimStore) get(id string) *model.Claim {
	return s.claims[id]
}

// list returns snapshot clones in detection order.
func (s *claimStore) list() []*model.Claim {
	out := make([]*model.Claim, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.claims[id].Clone())
	}
	return out
}

// nextClaimID mints the run-scoped zero-padded claim identity.
func (s *claimStore) nextClaimID() string {
	s.claimSeq++
	return fmt.Sprintf("%s-claim-%04d", s.runID, s.claimSeq)
}

// apply runs the event-specific merge rule, bumps the version, and
// recomputes the derived policy fields. It returns the updated snapshot, or
// nil when the event does not apply (unknown claim, wrong run, stale
// version pin).
func (s *claimStore) apply(ev *model.Event, now time.Time) *model.Claim {
	if ev.RunID != "" && ev.RunID != s.runID {
		return nil
	}

	var claim *model.Claim
	switch ev.Type {
	case model.EventClaimDetected:
		claim = s.insert(ev, now)
	default:
		claim = s.claims[ev.ClaimID]
		if claim == nil {
			return nil
		}
		if !s.merge(claim, ev, now) {
			return nil
		}
	}
	if claim == nil {
		return nil
	}

	claim.Version++
	if ev.Type == model.EventOutputApproved {
		// approvedVersion pins the exact snapshot the operator signed off on.
		v := claim.Version
		claim.ApprovedVersion = &v
	}
	policy.Apply(claim)
	return claim
}

// insert creates a claim at version 0 (bumped to 1 by apply) from the
// detection skeleton carried on the event.
func (s *claimStore) insert(ev *model.Event, now time.Time) *model.Claim {
	skeleton := ev.Claim
	if skeleton == nil {
		return nil
	}

	claim := skeleton.Clone()
	claim.ID = s.nextClaimID()
	claim.RunID = s.runID
	claim.Version = 0
	claim.DetectedAt = now
	claim.Status = model.StatusPendingResearch
	claim.Verdict = model.VerdictUnverified
	claim.OutputApprovalState = model.ApprovalPending
	claim.OutputPackageStatus = model.PackageNone
	claim.RenderStatus = model.RenderNone

	claim.GoogleEvidenceState = model.EvidenceNone
	claim.FredEvidenceState = model.EvidenceNotApplicable
	if claim.Category == model.CategoryEconomic {
		claim.FredEvidenceState = model.EvidenceNone
	}
	claim.CongressEvidenceState = model.EvidenceNotApplicable
	if claim.Category == model.CategoryPolitical {
		claim.CongressEvidenceState = model.EvidenceNone
	}

	s.claims[claim.ID] = claim
	s.order = append(s.order, claim.ID)
	ev.ClaimID = claim.ID
	return claim
}

// merge applies the per-type rule to an existing claim. Returns false when
// the event must be dropped without a mutation.
func (s *claimStore) merge(claim *model.Claim, ev *model.Event, now time.Time) bool {
	switch ev.Type {
	case model.EventClaimResearching:
		claim.Status = model.StatusResearching
		return true

	case model.EventClaimUpdated:
		changed := false
		if ev.Outcome != nil {
			mergeOutcome(claim, ev.Outcome)
			changed = true
		}
		if ev.Tag != nil {
			claim.TypeTag = ev.Tag.Tag
			claim.TypeConfidence = ev.Tag.Confidence
			claim.TagOverrideReason = ev.Tag.Reason
			changed = true
		}
		if !changed {
			return false
		}
		// Content changed: any prior sign-off no longer covers this claim.
		if claim.OutputApprovalState != model.ApprovalPending {
			resetApproval(claim)
		}
		return true

	case model.EventOutputApproved:
		claim.OutputApprovalState = model.ApprovalApproved
		t := now
		claim.ApprovedAt = &t
		claim.RejectedAt = nil
		return true

	case model.EventOutputRejected:
		claim.OutputApprovalState = model.ApprovalRejected
		t := now
		claim.RejectedAt = &t
		claim.ApprovedAt = nil
		claim.ApprovedVersion = nil
		return true

	case model.EventOutputPackageQueued, model.EventOutputPackageReady, model.EventOutputPackageFailed:
		if !versionPinned(claim, ev) || ev.Package == nil {
			return false
		}
		claim.OutputPackageID = ev.Package.PackageID
		claim.OutputPackageStatus = ev.Package.Status
		claim.OutputPackageError = ev.Package.Error
		return true

	case model.EventRenderQueued, model.EventRenderReady, model.EventRenderFailed:
		if !versionPinned(claim, ev) || ev.Render == nil {
			return false
		}
		if claim.RenderJobID != "" && ev.Render.RenderJobID != "" && claim.RenderJobID != ev.Render.RenderJobID {
			// A different job is already attached; only queued events may
			// replace it.
			if ev.Type != model.EventRenderQueued {
				return false
			}
		}
		claim.RenderJobID = ev.Render.RenderJobID
		claim.RenderStatus = ev.Render.Status
		claim.RenderError = ev.Render.Error
		claim.ArtifactURL = ev.Render.ArtifactURL
		return true
	}
	return false
}

// versionPinned gates downstream events on the approved version.
func versionPinned(claim *model.Claim, ev *model.Event) bool {
	if claim.OutputApprovalState != model.ApprovalApproved || claim.ApprovedVersion == nil {
		return false
	}
	if ev.ClaimVersion == nil {
		return true
	}
	return *ev.ClaimVersion == *claim.ApprovedVersion
}

// mergeOutcome copies the research block over the claim.
func mergeOutcome(claim *model.Claim, out *model.ResearchOutcome) {
	claim.Status = out.Status
	claim.GoogleEvidenceState = out.Google.State
	claim.GoogleEvidenceSummary = out.Google.Summary
	claim.GoogleEvidenceSources = out.Google.Sources
	claim.FredEvidenceState = out.Fred.State
	claim.FredEvidenceSummary = out.Fred.Summary
	claim.FredEvidenceSources = out.Fred.Sources
	claim.CongressEvidenceState = out.Congress.State
	claim.CongressEvidenceSummary = out.Congress.Summary
	claim.CongressEvidenceSources = out.Congress.Sources
	claim.Verdict = out.Verdict
	claim.Confidence = out.Confidence
	claim.Summary = out.Summary
	claim.Sources = out.Sources
	claim.AiVerdict = out.AiVerdict
	claim.AiConfidence = out.AiConfidence
	claim.CorrectedClaim = out.CorrectedClaim
	claim.AiSummary = out.AiSummary
	claim.EvidenceBasis = out.EvidenceBasis
}

// resetApproval clears the sign-off and every downstream field after a
// content change.
func resetApproval(claim *model.Claim) {
	claim.OutputApprovalState = model.ApprovalPending
	claim.ApprovedAt = nil
	claim.ApprovedVersion = nil
	claim.RejectedAt = nil
	claim.OutputPackageStatus = model.PackageNone
	claim.OutputPackageID = ""
	claim.OutputPackageError = ""
	claim.RenderStatus = model.RenderNone
	claim.RenderJobID = ""
	claim.RenderError = ""
	claim.ArtifactURL = ""
}
