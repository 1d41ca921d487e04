package admission

import (
	"bytes"
	"slices"
)

// ResolveCascade returns the applications that must be rejected because the
// job is full. It yields every PENDING application in pending, or none when
// the job still has a free slot. The result is ordered by application ID so
// notifications go out in a stable order. Inputs are not modified.
func ResolveCascade(job *Job, acceptedCount int, pending []Application) []Application {
	if !IsFull(job.AvailablePositions, acceptedCount) {
		return nil
	}

	rejected := make([]Application, 0, len(pending))
	for _, app := range pending {
		if app.JobID != job.ID || app.Status != StatusPending {
			continue
		}
		app.History = slices.Clone(app.History)
		rejected = append(rejected, app)
	}
	slices.SortFunc(rejected, func(a, b Application) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return rejected
}
