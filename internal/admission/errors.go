package admission

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ─── Sentinel errors ─────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when an application or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor is neither an administrator nor
	// the recruiter owning the job.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable is returned when transient store failures outlast the
	// retry policy.
	ErrUnavailable = errors.New("store unavailable")
	// ErrTransient is matched by store errors that may succeed on retry:
	// serialization failures, deadlocks, lock timeouts, lost connections.
	ErrTransient = errors.New("transient store failure")
)

// Conflict reasons. A *ConflictError carries exactly one of them.
var (
	ErrAlreadyFinalized  = errors.New("already finalized")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrAlreadyApplied    = errors.New("already applied")
)

// ConflictError reports a request that contradicts the current business
// state. Retrying it with the same inputs fails the same way.
type ConflictError struct {
	Reason        error
	ApplicationID uuid.UUID
	JobID         uuid.UUID
	Current       Status
	Requested     Status
}

func (e *ConflictError) Error() string {
	if e.ApplicationID == uuid.Nil {
		return fmt.Sprintf("job %s: %v", e.JobID, e.Reason)
	}
	return fmt.Sprintf("application %s (job %s): %s → %s: %v",
		e.ApplicationID, e.JobID, e.Current, e.Requested, e.Reason)
}

func (e *ConflictError) Unwrap() error { return e.Reason }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// unavailableError keeps the last transient cause reachable through Unwrap.
type unavailableError struct{ cause error }

func (e *unavailableError) Error() string { return "store unavailable: " + e.cause.Error() }

func (e *unavailableError) Unwrap() error { return e.cause }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// NotFound reports a missing entity of the given kind.
func NotFound(kind string, id uuid.UUID) error {
	return errors.WithDetailf(errors.Wrapf(ErrNotFound, "%s %s", kind, id), "%s_id=%s", kind, id)
}

func forbidden(actor Actor, job *Job) error {
	return errors.WithDetailf(
		errors.Wrapf(ErrForbidden, "actor %s may not manage job %s", actor.ID, job.ID),
		"role=%s", actor.Role)
}
