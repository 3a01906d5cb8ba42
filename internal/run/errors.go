package run

import (
	"errors"
	"fmt"

	"github.com/XALT-Inc/sotu-factcheck-prototype/internal/model"
)

// Sentinel errors surfaced by controller operations.
var (
	ErrRunActive = errors.New("a run is already active")
	ErrNoRun     = errors.New("no active run")
	ErrNotFound  = errors.New("claim not found")
	ErrBadInput  = errors.New("bad input")
)

// VersionConflictError reports an expectedVersion mismatch along with the
// current version so callers can refresh and retry.
type VersionConflictError struct {
	ClaimID  string
	Expected int
	Current  int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("claim %s is at version %d, expected %d", e.ClaimID, e.Current, e.Expected)
}

// PolicyBlockedError reports a policy denial with its structured reason.
type PolicyBlockedError struct {
	ClaimID string
	Reason  model.BlockReason
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("claim %s blocked: %s", e.ClaimID, e.Reason)
}
