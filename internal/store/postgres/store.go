// Package postgres is the PostgreSQL admission.Store. Units of work run as
// READ COMMITTED transactions; LockJob takes a FOR UPDATE row lock on the job
// so that several service instances serialize their decisions per job.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/admission-service/internal/admission"
)

// Store implements admission.Store on a pgx pool.
type Store struct {
	*repo
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ admission.Store = (*Store)(nil)

// New returns a Store. lockTimeout bounds how long a unit of work waits for a
// row lock before failing with a retryable error; zero keeps the server
// default.
func New(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{repo: &repo{q: pool}, pool: pool, lockTimeout: lockTimeout}
}

// InTx runs fn in a READ COMMITTED transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx admission.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if s.lockTimeout > 0 {
			// SET does not take bind parameters.
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return fn(&repo{q: tx})
	})
	return classify(ctx, err)
}
