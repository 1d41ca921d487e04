// Package memory is an in-process admission.Store. Units of work buffer their
// writes and publish them atomically on commit, so readers only ever see
// committed state. Row locks are not modelled: the admission service already
// serializes units of work per job.
package memory

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"jobmate/admission-service/internal/admission"
)

// Store keeps jobs and applications in maps guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]admission.Job
	apps map[uuid.UUID]admission.Application
}

var _ admission.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[uuid.UUID]admission.Job),
		apps: make(map[uuid.UUID]admission.Application),
	}
}

// PutApplication stores app as-is, bypassing the engine. Used for seeding.
func (s *Store) PutApplication(app admission.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = clone(app)
}

// ─── Reader ──────────────────────────────────────────────────────────────────

func (s *Store) FindApplicationByID(_ context.Context, id uuid.UUID) (*admission.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, admission.NotFound("application", id)
	}
	out := clone(app)
	return &out, nil
}

func (s *Store) FindJobByID(_ context.Context, id uuid.UUID) (*admission.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, admission.NotFound("job", id)
	}
	return &job, nil
}

func (s *Store) CountAcceptedByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countStatus(s.apps, nil, jobID, admission.StatusAccepted), nil
}

func (s *Store) ListByJob(_ context.Context, jobID uuid.UUID) ([]admission.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return byJob(s.apps, nil, jobID, ""), nil
}

func (s *Store) ListJobsNeedingCascade(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for id, job := range s.jobs {
		accepted := countStatus(s.apps, nil, id, admission.StatusAccepted)
		if !admission.IsFull(job.AvailablePositions, accepted) {
			continue
		}
		if countStatus(s.apps, nil, id, admission.StatusPending) > 0 {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, compareIDs)
	return ids, nil
}

func (s *Store) ExistsByCandidateAndJob(_ context.Context, candidateID, jobID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exists(s.apps, nil, candidateID, jobID), nil
}

func (s *Store) CreateJob(_ context.Context, job *admission.Job) error {
	if job.AvailablePositions < 0 {
		return errors.Newf("job %s: negative available positions", job.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return errors.Newf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

// ─── Units of work ───────────────────────────────────────────────────────────

// InTx runs fn against a buffered view and commits its writes atomically.
// A ctx cancelled before commit discards every write.
func (s *Store) InTx(ctx context.Context, fn func(tx admission.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{store: s, writes: make(map[uuid.UUID]admission.Application)}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, app := range t.writes {
		s.apps[id] = app
	}
	return nil
}

type tx struct {
	store  *Store
	writes map[uuid.UUID]admission.Application
}

func (t *tx) FindApplicationByID(ctx context.Context, id uuid.UUID) (*admission.Application, error) {
	if app, ok := t.writes[id]; ok {
		out := clone(app)
		return &out, nil
	}
	return t.store.FindApplicationByID(ctx, id)
}

func (t *tx) FindJobByID(ctx context.Context, id uuid.UUID) (*admission.Job, error) {
	return t.store.FindJobByID(ctx, id)
}

func (t *tx) LockJob(ctx context.Context, id uuid.UUID) (*admission.Job, error) {
	return t.store.FindJobByID(ctx, id)
}

func (t *tx) CountAcceptedByJob(_ context.Context, jobID uuid.UUID) (int, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return countStatus(t.store.apps, t.writes, jobID, admission.StatusAccepted), nil
}

func (t *tx) FindPendingByJob(_ context.Context, jobID uuid.UUID) ([]admission.Application, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return byJob(t.store.apps, t.writes, jobID, admission.StatusPending), nil
}

func (t *tx) ExistsByCandidateAndJob(_ context.Context, candidateID, jobID uuid.UUID) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return exists(t.store.apps, t.writes, candidateID, jobID), nil
}

func (t *tx) CreateApplication(ctx context.Context, app *admission.Application) error {
	if _, err := t.store.FindJobByID(ctx, app.JobID); err != nil {
		return err
	}
	found, err := t.ExistsByCandidateAndJob(ctx, app.CandidateID, app.JobID)
	if err != nil {
		return err
	}
	if found {
		return &admission.ConflictError{Reason: admission.ErrAlreadyApplied, JobID: app.JobID}
	}
	t.writes[app.ID] = clone(*app)
	return nil
}

func (t *tx) SaveApplication(ctx context.Context, app *admission.Application) error {
	if _, err := t.FindApplicationByID(ctx, app.ID); err != nil {
		return err
	}
	t.writes[app.ID] = clone(*app)
	return nil
}

func (t *tx) SaveApplications(ctx context.Context, apps []admission.Application) error {
	for i := range apps {
		if err := t.SaveApplication(ctx, &apps[i]); err != nil {
			return err
		}
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// merged yields committed rows overlaid with a unit's pending writes.
func merged(committed, writes map[uuid.UUID]admission.Application, yield func(admission.Application)) {
	for id, app := range committed {
		if w, ok := writes[id]; ok {
			app = w
		}
		yield(app)
	}
	for id, app := range writes {
		if _, ok := committed[id]; !ok {
			yield(app)
		}
	}
}

func countStatus(committed, writes map[uuid.UUID]admission.Application, jobID uuid.UUID, st admission.Status) int {
	n := 0
	merged(committed, writes, func(app admission.Application) {
		if app.JobID == jobID && app.Status == st {
			n++
		}
	})
	return n
}

// byJob returns the job's applications, optionally filtered by status,
// ordered by ID.
func byJob(committed, writes map[uuid.UUID]admission.Application, jobID uuid.UUID, st admission.Status) []admission.Application {
	out := make([]admission.Application, 0)
	merged(committed, writes, func(app admission.Application) {
		if app.JobID == jobID && (st == "" || app.Status == st) {
			out = append(out, clone(app))
		}
	})
	slices.SortFunc(out, func(a, b admission.Application) int { return compareIDs(a.ID, b.ID) })
	return out
}

func exists(committed, writes map[uuid.UUID]admission.Application, candidateID, jobID uuid.UUID) bool {
	found := false
	merged(committed, writes, func(app admission.Application) {
		if app.JobID == jobID && app.CandidateID == candidateID {
			found = true
		}
	})
	return found
}

func clone(app admission.Application) admission.Application {
	app.History = slices.Clone(app.History)
	return app
}

func compareIDs(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) }
