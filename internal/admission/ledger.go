package admission

import (
	"context"

	"github.com/google/uuid"
)

// JobStats is the read-only capacity view of a job.
type JobStats struct {
	JobID              uuid.UUID `json:"jobId"`
	Title              string    `json:"title"`
	AvailablePositions int       `json:"availablePositions"`
	AcceptedCount      int       `json:"acceptedCount"`
	RemainingPositions int       `json:"remainingPositions"`
}

// RemainingSlots returns how many more applications may be accepted.
// Never negative, even if the data already exceeds capacity.
func RemainingSlots(availablePositions, acceptedCount int) int {
	if r := availablePositions - acceptedCount; r > 0 {
		return r
	}
	return 0
}

// IsFull reports whether a job has no slot left.
func IsFull(availablePositions, acceptedCount int) bool {
	return acceptedCount >= availablePositions
}

// acceptedCounter is satisfied by both Reader and Tx, so stats and transition
// decisions share one definition of the accepted count.
type acceptedCounter interface {
	CountAcceptedByJob(ctx context.Context, jobID uuid.UUID) (int, error)
}

// ledger computes a job's capacity from a fresh count of ACCEPTED rows.
// No counter is stored alongside the job.
func ledger(ctx context.Context, q acceptedCounter, job *Job) (JobStats, error) {
	accepted, err := q.CountAcceptedByJob(ctx, job.ID)
	if err != nil {
		return JobStats{}, err
	}
	return JobStats{
		JobID:              job.ID,
		Title:              job.Title,
		AvailablePositions: job.AvailablePositions,
		AcceptedCount:      accepted,
		RemainingPositions: RemainingSlots(job.AvailablePositions, accepted),
	}, nil
}
