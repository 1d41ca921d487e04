package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/admission-service/internal/admission"
	"jobmate/admission-service/internal/store/memory"
)

func newJob(t *testing.T, s *memory.Store, positions int) *admission.Job {
	t.Helper()
	job := &admission.Job{ID: uuid.New(), Title: "SRE", AvailablePositions: positions, RecruiterID: uuid.New()}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func newApp(jobID uuid.UUID, st admission.Status) admission.Application {
	return admission.Application{
		ID:          uuid.New(),
		JobID:       jobID,
		CandidateID: uuid.New(),
		Status:      st,
		AppliedAt:   time.Unix(0, 0).UTC(),
	}
}

func TestStore_NotFound(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	_, err := s.FindJobByID(ctx, uuid.New())
	assert.ErrorIs(t, err, admission.ErrNotFound)
	_, err = s.FindApplicationByID(ctx, uuid.New())
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestStore_CreateJobRejectsNegativeAndDuplicate(t *testing.T) {
	s := memory.New()
	job := newJob(t, s, 1)

	assert.Error(t, s.CreateJob(context.Background(), job))
	assert.Error(t, s.CreateJob(context.Background(), &admission.Job{ID: uuid.New(), AvailablePositions: -1}))
}

func TestStore_InTxCommitsAtomically(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	job := newJob(t, s, 2)
	app := newApp(job.ID, admission.StatusPending)

	err := s.InTx(ctx, func(tx admission.Tx) error {
		require.NoError(t, tx.CreateApplication(ctx, &app))

		// Visible inside the unit, invisible outside until commit.
		_, err := tx.FindApplicationByID(ctx, app.ID)
		require.NoError(t, err)
		_, err = s.FindApplicationByID(ctx, app.ID)
		assert.ErrorIs(t, err, admission.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := s.FindApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusPending, got.Status)
}

func TestStore_InTxRollsBackOnError(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	job := newJob(t, s, 1)
	app := newApp(job.ID, admission.StatusPending)
	s.PutApplication(app)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx admission.Tx) error {
		app.Status = admission.StatusAccepted
		require.NoError(t, tx.SaveApplication(ctx, &app))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.CountAcceptedByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_InTxDiscardsWritesWhenCancelled(t *testing.T) {
	s := memory.New()
	job := newJob(t, s, 1)
	app := newApp(job.ID, admission.StatusPending)
	s.PutApplication(app)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.InTx(ctx, func(tx admission.Tx) error {
		app.Status = admission.StatusRejected
		require.NoError(t, tx.SaveApplication(ctx, &app))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	got, err := s.FindApplicationByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusPending, got.Status)
}

func TestStore_TxReadsItsOwnWrites(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	job := newJob(t, s, 1)
	a1, a2 := newApp(job.ID, admission.StatusPending), newApp(job.ID, admission.StatusPending)
	s.PutApplication(a1)
	s.PutApplication(a2)

	err := s.InTx(ctx, func(tx admission.Tx) error {
		a1.Status = admission.StatusAccepted
		require.NoError(t, tx.SaveApplication(ctx, &a1))

		n, err := tx.CountAcceptedByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		pending, err := tx.FindPendingByJob(ctx, job.ID)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, a2.ID, pending[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_CreateApplicationDuplicate(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	job := newJob(t, s, 1)
	app := newApp(job.ID, admission.StatusPending)
	s.PutApplication(app)

	dup := newApp(job.ID, admission.StatusPending)
	dup.CandidateID = app.CandidateID
	err := s.InTx(ctx, func(tx admission.Tx) error { return tx.CreateApplication(ctx, &dup) })
	assert.ErrorIs(t, err, admission.ErrAlreadyApplied)

	orphan := newApp(uuid.New(), admission.StatusPending)
	err = s.InTx(ctx, func(tx admission.Tx) error { return tx.CreateApplication(ctx, &orphan) })
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestStore_SaveUnknownApplication(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	app := newApp(uuid.New(), admission.StatusPending)

	err := s.InTx(ctx, func(tx admission.Tx) error { return tx.SaveApplication(ctx, &app) })
	assert.ErrorIs(t, err, admission.ErrNotFound)
}

func TestStore_ListJobsNeedingCascade(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	stuck := newJob(t, s, 1)
	s.PutApplication(newApp(stuck.ID, admission.StatusAccepted))
	s.PutApplication(newApp(stuck.ID, admission.StatusPending))

	done := newJob(t, s, 1)
	s.PutApplication(newApp(done.ID, admission.StatusAccepted))
	s.PutApplication(newApp(done.ID, admission.StatusRejected))

	open := newJob(t, s, 2)
	s.PutApplication(newApp(open.ID, admission.StatusAccepted))
	s.PutApplication(newApp(open.ID, admission.StatusPending))

	ids, err := s.ListJobsNeedingCascade(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{stuck.ID}, ids)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	job := newJob(t, s, 1)
	app := newApp(job.ID, admission.StatusPending)
	app.History = []admission.HistoryEntry{{To: admission.StatusPending}}
	s.PutApplication(app)

	got, err := s.FindApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	got.Status = admission.StatusAccepted
	got.History[0].Cause = admission.CauseCascade

	again, err := s.FindApplicationByID(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, admission.StatusPending, again.Status)
	assert.Empty(t, again.History[0].Cause)
}
