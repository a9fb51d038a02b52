// Package syncerr defines the error kinds the sync engine can surface to its
// caller, per the policy table in the engine's push/pull contract.
package syncerr

import "fmt"

// Kind classifies a sync failure so the caller (and its outer retry) can
// decide whether to re-pull before retrying.
type Kind string

const (
	// OutOfSync means the push observed a revision that disagrees with the
	// caller's lastPulledAt watermark; an intervening writer or a dropped
	// pull is implicated. The caller should re-pull before pushing again.
	OutOfSync Kind = "OUT_OF_SYNC"

	// StoreUnavailable means the remote store rejected a transaction or
	// batch for reasons other than a stale write.
	StoreUnavailable Kind = "STORE_UNAVAILABLE"

	// StageFailed means the side-batch push's stage phase failed to
	// commit. No rollback is attempted; the orphaned data is never
	// referenced by any root because the token was never linked.
	StageFailed Kind = "STAGE_FAILED"

	// IntegrateFailed means the side-batch push's integrate transaction
	// failed after a successful stage. Rollback runs before this error is
	// surfaced.
	IntegrateFailed Kind = "INTEGRATE_FAILED"

	// RollbackFailed means rollback itself failed after an integrate
	// failure; both errors are composited into one.
	RollbackFailed Kind = "ROLLBACK_FAILED"
)

// Error is the error type returned by engine operations. It always carries
// a Kind and the underlying cause, and supports errors.As/errors.Unwrap.
type Error struct {
	Kind  Kind
	Table string // empty when not table-specific
	Err   error
}

func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s: table %q: %v", e.Kind, e.Table, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as a sync error of the given kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewTable wraps err as a table-scoped sync error of the given kind.
func NewTable(kind Kind, table string, err error) *Error {
	return &Error{Kind: kind, Table: table, Err: err}
}

// Rollback composites an integrate failure with a subsequent rollback
// failure into one RollbackFailed error naming both stages.
func Rollback(integrateErr, rollbackErr error) *Error {
	return &Error{
		Kind: RollbackFailed,
		Err:  fmt.Errorf("integrate failed (%v) and rollback also failed: %w", integrateErr, rollbackErr),
	}
}
