package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jobmate/admission-service/internal/admission"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// repo implements both admission.Reader and admission.Tx over a querier.
type repo struct {
	q querier
}

const applicationColumns = `id, job_id, candidate_id, candidate_email, current_status,
	history_log, applied_at, updated_at`

const jobColumns = `id, title, available_positions, recruiter_id, created_at`

// ─── Jobs ────────────────────────────────────────────────────────────────────

func (r *repo) FindJobByID(ctx context.Context, id uuid.UUID) (*admission.Job, error) {
	return r.findJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

func (r *repo) LockJob(ctx context.Context, id uuid.UUID) (*admission.Job, error) {
	return r.findJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
}

func (r *repo) findJob(ctx context.Context, query string, id uuid.UUID) (*admission.Job, error) {
	var j admission.Job
	err := r.q.QueryRow(ctx, query, id).Scan(
		&j.ID, &j.Title, &j.AvailablePositions, &j.RecruiterID, &j.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, admission.NotFound("job", id)
	}
	if err != nil {
		return nil, classify(ctx, errors.Wrapf(err, "find job %s", id))
	}
	return &j, nil
}

func (r *repo) CreateJob(ctx context.Context, job *admission.Job) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO jobs (id, title, available_positions, recruiter_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Title, job.AvailablePositions, job.RecruiterID, job.CreatedAt,
	)
	return classify(ctx, errors.Wrap(err, "insert job"))
}

// ListJobsNeedingCascade finds full jobs that still have PENDING applications.
func (r *repo) ListJobsNeedingCascade(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx,
		`SELECT j.id
		 FROM jobs j
		 WHERE (SELECT count(*) FROM applications a
		        WHERE a.job_id = j.id AND a.current_status = 'ACCEPTED') >= j.available_positions
		   AND EXISTS (SELECT 1 FROM applications a
		               WHERE a.job_id = j.id AND a.current_status = 'PENDING')
		 ORDER BY j.id`,
	)
	if err != nil {
		return nil, classify(ctx, errors.Wrap(err, "query jobs needing cascade"))
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, classify(ctx, errors.Wrap(err, "scan jobs needing cascade"))
}

// ─── Applications: reads ─────────────────────────────────────────────────────

func (r *repo) FindApplicationByID(ctx context.Context, id uuid.UUID) (*admission.Application, error) {
	row := r.q.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, admission.NotFound("application", id)
	}
	if err != nil {
		return nil, classify(ctx, errors.Wrapf(err, "find application %s", id))
	}
	return &app, nil
}

// CountAcceptedByJob is the single definition of a job's accepted count.
func (r *repo) CountAcceptedByJob(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx,
		`SELECT count(*) FROM applications
		 WHERE job_id = $1 AND current_status = 'ACCEPTED'`,
		jobID,
	).Scan(&n)
	if err != nil {
		return 0, classify(ctx, errors.Wrapf(err, "count accepted for job %s", jobID))
	}
	return n, nil
}

func (r *repo) FindPendingByJob(ctx context.Context, jobID uuid.UUID) ([]admission.Application, error) {
	return r.listApplications(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE job_id = $1 AND current_status = 'PENDING'
		 ORDER BY id`,
		jobID,
	)
}

func (r *repo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]admission.Application, error) {
	return r.listApplications(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE job_id = $1
		 ORDER BY applied_at, id`,
		jobID,
	)
}

func (r *repo) ExistsByCandidateAndJob(ctx context.Context, candidateID, jobID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM applications WHERE candidate_id = $1 AND job_id = $2)`,
		candidateID, jobID,
	).Scan(&exists)
	return exists, classify(ctx, errors.Wrap(err, "exists application"))
}

func (r *repo) listApplications(ctx context.Context, query string, args ...any) ([]admission.Application, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, errors.Wrap(err, "query applications"))
	}
	apps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (admission.Application, error) {
		return scanApplication(row)
	})
	if err != nil {
		return nil, classify(ctx, errors.Wrap(err, "scan applications"))
	}
	return apps, nil
}

// ─── Applications: writes ────────────────────────────────────────────────────

func (r *repo) CreateApplication(ctx context.Context, app *admission.Application) error {
	history, err := encodeHistory(app.History)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx,
		`INSERT INTO applications
		   (id, job_id, candidate_id, candidate_email, current_status, history_log, applied_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::application_status, $6::jsonb, $7, $8)`,
		app.ID, app.JobID, app.CandidateID, app.CandidateEmail, string(app.Status),
		history, app.AppliedAt, app.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return &admission.ConflictError{Reason: admission.ErrAlreadyApplied, JobID: app.JobID}
	}
	return classify(ctx, errors.Wrap(err, "insert application"))
}

const updateApplication = `UPDATE applications
	SET current_status = $1::application_status,
	    history_log    = $2::jsonb,
	    updated_at     = $3
	WHERE id = $4`

func (r *repo) SaveApplication(ctx context.Context, app *admission.Application) error {
	history, err := encodeHistory(app.History)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, updateApplication, string(app.Status), history, app.UpdatedAt, app.ID)
	if err != nil {
		return classify(ctx, errors.Wrapf(err, "update application %s", app.ID))
	}
	if tag.RowsAffected() == 0 {
		return admission.NotFound("application", app.ID)
	}
	return nil
}

// SaveApplications writes every application in one round trip.
func (r *repo) SaveApplications(ctx context.Context, apps []admission.Application) error {
	if len(apps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range apps {
		history, err := encodeHistory(apps[i].History)
		if err != nil {
			return err
		}
		batch.Queue(updateApplication, string(apps[i].Status), history, apps[i].UpdatedAt, apps[i].ID)
	}

	br := r.q.SendBatch(ctx, batch)
	for i := range apps {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return classify(ctx, errors.Wrapf(err, "batch update application %s", apps[i].ID))
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return admission.NotFound("application", apps[i].ID)
		}
	}
	return classify(ctx, br.Close())
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func scanApplication(row pgx.Row) (admission.Application, error) {
	var (
		a       admission.Application
		status  string
		history []byte
	)
	if err := row.Scan(
		&a.ID, &a.JobID, &a.CandidateID, &a.CandidateEmail, &status,
		&history, &a.AppliedAt, &a.UpdatedAt,
	); err != nil {
		return admission.Application{}, err
	}

	st, err := admission.ParseStatus(status)
	if err != nil {
		return admission.Application{}, err
	}
	a.Status = st

	if err := json.Unmarshal(history, &a.History); err != nil {
		return admission.Application{}, fmt.Errorf("decode history_log of %s: %w", a.ID, err)
	}
	return a, nil
}

func encodeHistory(h []admission.HistoryEntry) (string, error) {
	if len(h) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode history_log: %w", err)
	}
	return string(b), nil
}
