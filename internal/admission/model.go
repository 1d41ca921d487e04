package admission

import (
	"time"

	"github.com/google/uuid"
)

// ─── Entities ─────────────────────────────────────────────────────────────────

// Job is a posting with a fixed number of open positions.
type Job struct {
	ID                 uuid.UUID `json:"id"`
	Title              string    `json:"title"`
	AvailablePositions int       `json:"availablePositions"`
	RecruiterID        uuid.UUID `json:"recruiterId"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Application is a candidate's application to exactly one job.
// JobID and CandidateID never change after creation.
type Application struct {
	ID             uuid.UUID      `json:"id"`
	JobID          uuid.UUID      `json:"jobId"`
	CandidateID    uuid.UUID      `json:"candidateId"`
	CandidateEmail string         `json:"candidateEmail"`
	Status         Status         `json:"status"`
	History        []HistoryEntry `json:"history"`
	AppliedAt      time.Time      `json:"appliedAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Cause records why a transition happened.
type Cause string

const (
	CauseDecision Cause = "decision"
	CauseCascade  Cause = "cascade"
)

// HistoryEntry is one committed transition, appended to Application.History.
type HistoryEntry struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"at"`
	ActorID uuid.UUID `json:"actorId"`
	Cause   Cause     `json:"cause"`
}

// transition moves a to status and appends the matching history entry.
func (a *Application) transition(to Status, at time.Time, actorID uuid.UUID, cause Cause) {
	a.History = append(a.History, HistoryEntry{
		From:    a.Status,
		To:      to,
		At:      at,
		ActorID: actorID,
		Cause:   cause,
	})
	a.Status = to
	a.UpdatedAt = at
}

// ─── Actor ────────────────────────────────────────────────────────────────────

// Role is the resolved role of the caller, as forwarded by the gateway.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleRecruiter Role = "RECRUITER"
	RoleCandidate Role = "CANDIDATE"
)

// ParseRole converts a raw string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleAdmin, RoleRecruiter, RoleCandidate:
		return r, nil
	}
	return "", &ValidationError{Msg: "unknown role " + s}
}

// Actor is an already-authenticated caller. It is passed explicitly into every
// operation; the engine never looks up the current user on its own.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// OwnsJob reports whether the actor is the recruiter who owns job.
func (a Actor) OwnsJob(job *Job) bool {
	return a.Role == RoleRecruiter && job.RecruiterID != uuid.Nil && job.RecruiterID == a.ID
}

// canManage is the ownership predicate for status changes and job listings.
func (a Actor) canManage(job *Job) bool { return a.IsAdmin() || a.OwnsJob(job) }
