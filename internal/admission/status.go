// Package admission implements the application status engine: the three-state
// lifecycle of a job application and the capacity rule that gates acceptance.
//
// Valid status graph:
//
//	PENDING ──► ACCEPTED
//	   │
//	   └──────► REJECTED
//
// ACCEPTED and REJECTED are terminal states. A job accepts at most
// AvailablePositions applications; the acceptance that fills the last slot
// rejects every application still PENDING on that job.
package admission

import "fmt"

// Status values mirror the application_status enum in PostgreSQL.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusAccepted, StatusRejected},
	// ACCEPTED and REJECTED are terminal: no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusPending, StatusAccepted, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTerminal reports whether no transition may ever leave s.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state, no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsAccepted returns true when status is ACCEPTED (may trigger the cascade).
func IsAccepted(s Status) bool { return s == StatusAccepted }
