package admission

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"jobmate/admission-service/internal/platform/retry"
)

// ─── Service ─────────────────────────────────────────────────────────────────

// Recorder receives engine events, typically to feed metrics.
type Recorder interface {
	Transition(status, cause string)
	Conflict(reason string)
	NotifyFailed()
	LockWait(d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, string) {}
func (nopRecorder) Conflict(string)           {}
func (nopRecorder) NotifyFailed()             {}
func (nopRecorder) LockWait(time.Duration)    {}

// Service encapsulates the application status engine.
// It has no dependency on a transport; HTTP and gRPC both sit on top of it.
type Service struct {
	store    Store
	notifier Notifier
	locks    *JobLocker
	clock    clockwork.Clock
	policy   retry.Policy
	rec      Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

// WithRetryPolicy sets how transient store failures are retried.
func WithRetryPolicy(p retry.Policy) Option { return func(s *Service) { s.policy = p } }

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.rec = r } }

// WithJobLocker shares a JobLocker between services over the same store.
func WithJobLocker(l *JobLocker) Option { return func(s *Service) { s.locks = l } }

// NewService returns a configured Service.
func NewService(store Store, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		notifier: notifier,
		locks:    NewJobLocker(),
		clock:    clockwork.NewRealClock(),
		policy:   retry.DefaultPolicy,
		rec:      nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Status transitions ──────────────────────────────────────────────────────

// ChangeStatus moves an application to requested on behalf of actor.
//
// Returns ErrNotFound if the application or its job is missing, ErrForbidden
// if actor neither administers nor owns the job, a *ConflictError when the
// transition is illegal or the job is full, and ErrUnavailable when the store
// keeps failing transiently. When the acceptance fills the job, every PENDING
// application of that job is rejected in the same unit of work.
func (s *Service) ChangeStatus(ctx context.Context, appID uuid.UUID, requested Status, actor Actor) (*Application, error) {
	if _, err := ParseStatus(string(requested)); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}

	// The owning recruiter never changes, so authorization does not need to
	// wait for the job lock.
	var (
		app *Application
		job *Job
	)
	err := s.read(ctx, func() (err error) {
		if app, err = s.store.FindApplicationByID(ctx, appID); err != nil {
			return err
		}
		job, err = s.store.FindJobByID(ctx, app.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !actor.canManage(job) {
		return nil, forbidden(actor, job)
	}

	var (
		updated  *Application
		outbox   []Notification
		cascaded int
	)
	err = s.withJob(ctx, job.ID, func(tx Tx) error {
		updated, outbox, cascaded = nil, nil, 0

		locked, err := tx.LockJob(ctx, job.ID)
		if err != nil {
			return err
		}
		current, err := tx.FindApplicationByID(ctx, appID)
		if err != nil {
			return err
		}

		stats, err := ledger(ctx, tx, locked)
		if err != nil {
			return err
		}
		if reason := Validate(current.Status, requested, stats.RemainingPositions); reason != nil {
			return &ConflictError{
				Reason:        reason,
				ApplicationID: current.ID,
				JobID:         locked.ID,
				Current:       current.Status,
				Requested:     requested,
			}
		}

		now := s.clock.Now().UTC()
		current.transition(requested, now, actor.ID, CauseDecision)
		if err := tx.SaveApplication(ctx, current); err != nil {
			return errors.Wrapf(err, "save application %s", current.ID)
		}
		updated = current
		outbox = append(outbox, notificationFor(locked, current))

		if IsAccepted(requested) {
			rejected, err := s.cascade(ctx, tx, locked, actor.ID, now)
			if err != nil {
				return err
			}
			cascaded = len(rejected)
			outbox = append(outbox, rejected...)
		}
		return nil
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	s.rec.Transition(string(requested), string(CauseDecision))
	for range cascaded {
		s.rec.Transition(string(StatusRejected), string(CauseCascade))
	}
	slog.InfoContext(ctx, "application status changed",
		"applicationId", appID, "jobId", job.ID, "status", requested, "cascaded", cascaded)

	s.dispatch(ctx, outbox)
	return updated, nil
}

// Reevaluate re-runs the cascade condition for a job: if the job is full,
// every application still PENDING is rejected. It resumes a cascade that was
// interrupted and is a no-op (no writes, no notifications) otherwise.
// It returns the number of applications rejected.
func (s *Service) Reevaluate(ctx context.Context, jobID uuid.UUID) (int, error) {
	var outbox []Notification
	err := s.withJob(ctx, jobID, func(tx Tx) error {
		outbox = nil
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		outbox, err = s.cascade(ctx, tx, job, uuid.Nil, s.clock.Now().UTC())
		return err
	})
	if err != nil {
		s.recordFailure(err)
		return 0, err
	}

	for range outbox {
		s.rec.Transition(string(StatusRejected), string(CauseCascade))
	}
	if len(outbox) > 0 {
		slog.InfoContext(ctx, "cascade resumed", "jobId", jobID, "rejected", len(outbox))
	}
	s.dispatch(ctx, outbox)
	return len(outbox), nil
}

// ReevaluateAs is Reevaluate on behalf of actor, who must administer or own
// the job.
func (s *Service) ReevaluateAs(ctx context.Context, jobID uuid.UUID, actor Actor) (int, error) {
	var job *Job
	err := s.read(ctx, func() (err error) {
		job, err = s.store.FindJobByID(ctx, jobID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !actor.canManage(job) {
		return 0, forbidden(actor, job)
	}
	return s.Reevaluate(ctx, jobID)
}

// ReconcileFullJobs runs Reevaluate for every job that is full but still has
// PENDING applications. Failures on one job do not stop the others; the first
// error is returned after all jobs were tried.
func (s *Service) ReconcileFullJobs(ctx context.Context) (int, error) {
	var jobIDs []uuid.UUID
	err := s.read(ctx, func() (err error) {
		jobIDs, err = s.store.ListJobsNeedingCascade(ctx)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "list jobs needing cascade")
	}

	var (
		total    int
		firstErr error
	)
	for _, id := range jobIDs {
		n, err := s.Reevaluate(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "reevaluate failed", "jobId", id, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += n
	}
	return total, firstErr
}

// cascade rejects every PENDING application of job if the job is full.
func (s *Service) cascade(ctx context.Context, tx Tx, job *Job, actorID uuid.UUID, now time.Time) ([]Notification, error) {
	accepted, err := tx.CountAcceptedByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !IsFull(job.AvailablePositions, accepted) {
		return nil, nil
	}

	pending, err := tx.FindPendingByJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	rejected := ResolveCascade(job, accepted, pending)
	if len(rejected) == 0 {
		return nil, nil
	}

	for i := range rejected {
		rejected[i].transition(StatusRejected, now, actorID, CauseCascade)
	}
	if err := tx.SaveApplications(ctx, rejected); err != nil {
		return nil, errors.Wrapf(err, "cascade reject %d applications of job %s", len(rejected), job.ID)
	}

	notes := make([]Notification, 0, len(rejected))
	for i := range rejected {
		notes = append(notes, notificationFor(job, &rejected[i]))
	}
	return notes, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// GetJobStats returns the capacity view of a job. It shares the accepted
// count definition with ChangeStatus, so the two never disagree.
func (s *Service) GetJobStats(ctx context.Context, jobID uuid.UUID) (*JobStats, error) {
	var stats JobStats
	err := s.read(ctx, func() error {
		job, err := s.store.FindJobByID(ctx, jobID)
		if err != nil {
			return err
		}
		if stats, err = ledger(ctx, s.store, job); err != nil {
			return errors.Wrapf(err, "job stats %s", jobID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetApplication returns an application to its candidate, to the recruiter
// owning the job, or to an administrator.
func (s *Service) GetApplication(ctx context.Context, appID uuid.UUID, actor Actor) (*Application, error) {
	var app *Application
	err := s.read(ctx, func() (err error) {
		app, err = s.store.FindApplicationByID(ctx, appID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if actor.Role == RoleCandidate && app.CandidateID == actor.ID {
		return app, nil
	}
	var job *Job
	err = s.read(ctx, func() (err error) {
		job, err = s.store.FindJobByID(ctx, app.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !actor.canManage(job) {
		return nil, forbidden(actor, job)
	}
	return app, nil
}

// ListForJob returns every application of a job to its owner or an admin.
func (s *Service) ListForJob(ctx context.Context, jobID uuid.UUID, actor Actor) ([]Application, error) {
	var job *Job
	err := s.read(ctx, func() (err error) {
		job, err = s.store.FindJobByID(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !actor.canManage(job) {
		return nil, forbidden(actor, job)
	}

	var apps []Application
	err = s.read(ctx, func() (err error) {
		apps, err = s.store.ListByJob(ctx, jobID)
		return err
	})
	return apps, err
}

// HasApplied reports whether the candidate already applied to the job.
func (s *Service) HasApplied(ctx context.Context, candidateID, jobID uuid.UUID) (bool, error) {
	var exists bool
	err := s.read(ctx, func() (err error) {
		exists, err = s.store.ExistsByCandidateAndJob(ctx, candidateID, jobID)
		return err
	})
	return exists, err
}

// ─── Creation ────────────────────────────────────────────────────────────────

// CreateJob opens a posting owned by actor.
func (s *Service) CreateJob(ctx context.Context, actor Actor, title string, positions int) (*Job, error) {
	if actor.Role != RoleRecruiter && !actor.IsAdmin() {
		return nil, errors.Wrapf(ErrForbidden, "role %s may not create jobs", actor.Role)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &ValidationError{Msg: "title is required"}
	}
	if positions < 0 {
		return nil, &ValidationError{Msg: "availablePositions must be >= 0"}
	}

	job := &Job{
		ID:                 uuid.New(),
		Title:              title,
		AvailablePositions: positions,
		RecruiterID:        actor.ID,
		CreatedAt:          s.clock.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, errors.Wrap(err, "create job")
	}
	return job, nil
}

// Submit creates a PENDING application of actor to a job. It runs under the
// job lock so that no application can slip in while the job's cascade runs;
// a full job refuses new applications.
func (s *Service) Submit(ctx context.Context, jobID uuid.UUID, actor Actor, candidateEmail string) (*Application, error) {
	if actor.Role != RoleCandidate {
		return nil, errors.Wrapf(ErrForbidden, "role %s may not apply", actor.Role)
	}
	candidateEmail = strings.TrimSpace(candidateEmail)
	if !strings.Contains(candidateEmail, "@") {
		return nil, &ValidationError{Msg: "candidateEmail must be a valid e-mail address"}
	}

	var created *Application
	err := s.withJob(ctx, jobID, func(tx Tx) error {
		created = nil
		job, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}

		exists, err := tx.ExistsByCandidateAndJob(ctx, actor.ID, jobID)
		if err != nil {
			return err
		}
		if exists {
			return &ConflictError{Reason: ErrAlreadyApplied, JobID: jobID}
		}

		accepted, err := tx.CountAcceptedByJob(ctx, jobID)
		if err != nil {
			return err
		}
		if IsFull(job.AvailablePositions, accepted) {
			return &ConflictError{Reason: ErrCapacityExhausted, JobID: jobID}
		}

		now := s.clock.Now().UTC()
		app := &Application{
			ID:             uuid.New(),
			JobID:          jobID,
			CandidateID:    actor.ID,
			CandidateEmail: candidateEmail,
			Status:         StatusPending,
			AppliedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateApplication(ctx, app); err != nil {
			return errors.Wrap(err, "create application")
		}
		created = app
		return nil
	})
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}
	return created, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// withJob runs fn in a unit of work while holding the job's exclusive
// section. Transient store failures re-run the whole section; the lock is
// released between attempts.
func (s *Service) withJob(ctx context.Context, jobID uuid.UUID, fn func(tx Tx) error) error {
	err := retry.Do(ctx, s.policy, isTransient, func() error {
		start := s.clock.Now()
		unlock, err := s.locks.Lock(ctx, jobID)
		if err != nil {
			return errors.Wrapf(err, "wait for job %s", jobID)
		}
		defer unlock()
		s.rec.LockWait(s.clock.Since(start))

		return s.store.InTx(ctx, fn)
	})
	return unavailable(ctx, err, "jobId", jobID)
}

// read runs store reads that need no lock, retrying transient failures the
// same way withJob does.
func (s *Service) read(ctx context.Context, fn func() error) error {
	return unavailable(ctx, retry.Do(ctx, s.policy, isTransient, fn))
}

// unavailable turns exhausted retries into ErrUnavailable.
func unavailable(ctx context.Context, err error, attrs ...any) error {
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) {
		return err
	}
	attrs = append(attrs, "attempts", exhausted.Attempts, "err", exhausted.Err)
	slog.ErrorContext(ctx, "store unavailable", attrs...)
	return &unavailableError{cause: exhausted.Err}
}

func isTransient(err error) bool { return errors.Is(err, ErrTransient) }

// dispatch delivers notifications after their unit of work committed. The
// caller's cancellation does not stop delivery of what already happened.
func (s *Service) dispatch(ctx context.Context, outbox []Notification) {
	ctx = context.WithoutCancel(ctx)
	for _, n := range outbox {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.rec.NotifyFailed()
			slog.WarnContext(ctx, "notify failed",
				"applicationId", n.ApplicationID, "status", n.Status, "err", err)
		}
	}
}

func (s *Service) recordFailure(err error) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		s.rec.Conflict(ce.Reason.Error())
	}
}

func notificationFor(job *Job, app *Application) Notification {
	return Notification{
		ApplicationID: app.ID,
		JobID:         job.ID,
		Recipient:     app.CandidateEmail,
		JobTitle:      job.Title,
		Status:        app.Status,
	}
}
