package run

import (
	"strings"
	"time"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/outputs"
	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/policy"
)

// ApprovalResult is the response shape of the approve/export operations.
type ApprovalResult struct {
	Claim   *model.Claim         `json:"claim"`
	Package *model.OutputPackage `json:"package,omitempty"`
	Render  *model.RenderJob     `json:"renderJob,omitempty"`
}

// guard resolves the claim and enforces the optimistic-concurrency check.
// Loop-goroutine only.
func (c *Controller) guard(claimID string, expectedVersion int) (*activeRun, *model.Claim, error) {
	ar := c.active
	if ar == nil {
		return nil, nil, ErrNoRun
	}
	claim := ar.store.get(claimID)
	if claim == nil {
		return nil, nil, ErrNotFound
	}
	if claim.Version != expectedVersion {
		return nil, nil, &VersionConflictError{ClaimID: claimID, Expected: expectedVersion, Current: claim.Version}
	}
	return ar, claim, nil
}

// ApproveOutput approves a claim for output and triggers the package and
// render collaborators pinned to the new approved version.
func (c *Controller) ApproveOutput(claimID string, expectedVersion int) (*ApprovalResult, error) {
	var (
		res *ApprovalResult
		err error
	)
	c.do(func() {
		var ar *activeRun
		var claim *model.Claim
		ar, claim, err = c.guard(claimID, expectedVersion)
		if err != nil {
			return
		}
		// Fail closed: approval is re-evaluated against the live snapshot.
		ev := policy.Evaluate(claim)
		if !ev.ApprovalEligibility {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: ev.ApprovalBlockReason}
			return
		}

		c.apply(model.Event{Type: model.EventOutputApproved, RunID: ar.run.ID, ClaimID: claimID})
		claim = ar.store.get(claimID)
		if claim == nil || claim.ApprovedVersion == nil {
			err = ErrNotFound
			return
		}

		pkg := c.generatePackageLocked(ar, claim)
		job := ar.renderer.Render(ar.ctx, claim.Clone(), pkg, *claim.ApprovedVersion, false, "")
		res = &ApprovalResult{Claim: ar.store.get(claimID).Clone(), Package: pkg, Render: job}
	})
	return res, err
}

// RejectOutput rejects a claim's output. Rejection is version-guarded but
// never policy-gated: an operator can always say no.
func (c *Controller) RejectOutput(claimID string, expectedVersion int) (*model.Claim, error) {
	var (
		claim *model.Claim
		err   error
	)
	c.do(func() {
		var ar *activeRun
		ar, _, err = c.guard(claimID, expectedVersion)
		if err != nil {
			return
		}
		c.apply(model.Event{Type: model.EventOutputRejected, RunID: ar.run.ID, ClaimID: claimID})
		claim = ar.store.get(claimID).Clone()
	})
	return claim, err
}

// GeneratePackage (re)builds the on-air payload for an exportable claim.
func (c *Controller) GeneratePackage(claimID string, expectedVersion int) (*ApprovalResult, error) {
	var (
		res *ApprovalResult
		err error
	)
	c.do(func() {
		var ar *activeRun
		var claim *model.Claim
		ar, claim, err = c.guard(claimID, expectedVersion)
		if err != nil {
			return
		}
		ev := policy.Evaluate(claim)
		if !ev.ExportEligibility {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: ev.ExportBlockReason}
			return
		}
		if claim.ApprovedVersion == nil {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: model.BlockNotApproved}
			return
		}
		pkg := c.generatePackageLocked(ar, claim)
		res = &ApprovalResult{Claim: ar.store.get(claimID).Clone(), Package: pkg}
	})
	return res, err
}

// RenderImage queues a render for an exportable claim, optionally forcing a
// fresh job keyed by nonce.
func (c *Controller) RenderImage(claimID string, expectedVersion int, force bool, forceNonce string) (*ApprovalResult, error) {
	var (
		res *ApprovalResult
		err error
	)
	c.do(func() {
		var ar *activeRun
		var claim *model.Claim
		ar, claim, err = c.guard(claimID, expectedVersion)
		if err != nil {
			return
		}
		ev := policy.Evaluate(claim)
		if !ev.ExportEligibility {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: ev.ExportBlockReason}
			return
		}
		if claim.ApprovedVersion == nil {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: model.BlockNotApproved}
			return
		}

		pkg := c.generatePackageLocked(ar, claim)
		claim = ar.store.get(claimID)
		job := ar.renderer.Render(ar.ctx, claim.Clone(), pkg, *claim.ApprovedVersion, force, forceNonce)
		res = &ApprovalResult{Claim: claim.Clone(), Package: pkg, Render: job}
	})
	return res, err
}

// TagOverride changes the claim type tag, requiring a reason and an
// unapproved claim.
func (c *Controller) TagOverride(claimID string, expectedVersion int, tag model.ClaimTypeTag, reason string) (*model.Claim, error) {
	var (
		claim *model.Claim
		err   error
	)
	c.do(func() {
		var ar *activeRun
		var current *model.Claim
		ar, current, err = c.guard(claimID, expectedVersion)
		if err != nil {
			return
		}
		if strings.TrimSpace(reason) == "" || !model.ValidTypeTag(tag) {
			err = ErrBadInput
			return
		}
		if current.OutputApprovalState == model.ApprovalApproved {
			err = &PolicyBlockedError{ClaimID: claimID, Reason: model.BlockNotApproved}
			return
		}
		c.apply(model.Event{
			Type:    model.EventClaimUpdated,
			RunID:   ar.run.ID,
			ClaimID: claimID,
			Tag:     &model.TagOverride{Tag: tag, Confidence: 1.0, Reason: strings.TrimSpace(reason)},
		})
		claim = ar.store.get(claimID).Clone()
	})
	return claim, err
}

// generatePackageLocked assembles the payload and applies the package
// lifecycle events pinned to the approved version. Loop-goroutine only.
func (c *Controller) generatePackageLocked(ar *activeRun, claim *model.Claim) *model.OutputPackage {
	version := *claim.ApprovedVersion
	pkg := outputs.BuildPackage(claim, version, time.Now())

	queued := *pkg
	queued.Status = model.PackageQueued
	c.apply(model.Event{
		Type:         model.EventOutputPackageQueued,
		RunID:        ar.run.ID,
		ClaimID:      claim.ID,
		ClaimVersion: &version,
		Package:      &queued,
	})

	finalType := model.EventOutputPackageReady
	if pkg.Status == model.PackageFailed {
		finalType = model.EventOutputPackageFailed
	}
	c.apply(model.Event{
		Type:         finalType,
		RunID:        ar.run.ID,
		ClaimID:      claim.ID,
		ClaimVersion: &version,
		Package:      pkg,
	})
	return pkg
}
