package admission

import (
	"context"

	"github.com/google/uuid"
)

// Reader is the store surface used outside a unit of work. Reads observe
// committed data only.
type Reader interface {
	FindApplicationByID(ctx context.Context, id uuid.UUID) (*Application, error)
	FindJobByID(ctx context.Context, id uuid.UUID) (*Job, error)
	CountAcceptedByJob(ctx context.Context, jobID uuid.UUID) (int, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]Application, error)
	// ListJobsNeedingCascade returns jobs that are full but still have
	// PENDING applications.
	ListJobsNeedingCascade(ctx context.Context) ([]uuid.UUID, error)
	ExistsByCandidateAndJob(ctx context.Context, candidateID, jobID uuid.UUID) (bool, error)
	CreateJob(ctx context.Context, job *Job) error
}

// Tx is the store surface inside a unit of work. Writes become visible to
// other readers only when the unit commits.
type Tx interface {
	FindApplicationByID(ctx context.Context, id uuid.UUID) (*Application, error)
	FindJobByID(ctx context.Context, id uuid.UUID) (*Job, error)
	// LockJob loads the job and holds a row lock on it until the unit ends.
	LockJob(ctx context.Context, id uuid.UUID) (*Job, error)
	CountAcceptedByJob(ctx context.Context, jobID uuid.UUID) (int, error)
	FindPendingByJob(ctx context.Context, jobID uuid.UUID) ([]Application, error)
	ExistsByCandidateAndJob(ctx context.Context, candidateID, jobID uuid.UUID) (bool, error)
	CreateApplication(ctx context.Context, app *Application) error
	SaveApplication(ctx context.Context, app *Application) error
	SaveApplications(ctx context.Context, apps []Application) error
}

// Store gives access to committed reads and to units of work.
// Missing rows are reported as ErrNotFound.
type Store interface {
	Reader
	// InTx runs fn in a unit of work that commits when fn returns nil and
	// rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Notification is one committed status change to tell the candidate about.
type Notification struct {
	ApplicationID uuid.UUID
	JobID         uuid.UUID
	Recipient     string
	JobTitle      string
	Status        Status
}

// Notifier delivers notifications. Delivery is best effort: the engine logs
// failures and never rolls a committed transition back because of them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
