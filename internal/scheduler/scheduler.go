// Package scheduler wires up the cron job that periodically resumes
// interrupted cascades for jobs that are full but still have PENDING
// applications.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Sweeper is the engine operation the scheduler triggers.
type Sweeper interface {
	ReconcileFullJobs(ctx context.Context) (int, error)
}

// Scheduler wraps robfig/cron and manages the sweep loop.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	spec    string // cron spec, e.g. "@every 5m"
	first   sync.WaitGroup
}

// New creates a Scheduler that sweeps on spec. A sweep that is still running
// when the next tick fires makes that tick a no-op.
func New(sweeper Sweeper, spec string) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		sweeper: sweeper,
		spec:    spec,
	}
}

// Start registers the job and starts the scheduler. It also runs one sweep
// immediately so cascades interrupted by the last shutdown are resumed
// without waiting for the first tick. That sweep goes through the same job
// chain as the ticks, so a tick never overlaps it.
func (s *Scheduler) Start(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	job := s.cron.Entry(id).WrappedJob

	s.cron.Start()
	slog.Info("sweeper started", "spec", s.spec)

	s.first.Add(1)
	go func() {
		defer s.first.Done()
		job.Run()
	}()
	return nil
}

// Stop shuts down the scheduler and waits for running sweeps, including the
// one started by Start, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.first.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	slog.Info("sweeper stopped")
}

// RunOnce performs a single sweep and returns the number of applications
// rejected.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	n, err := s.sweeper.ReconcileFullJobs(ctx)
	if err != nil {
		slog.Error("sweep failed", "rejected", n, "err", err)
		return n
	}
	if n > 0 {
		slog.Info("sweep resumed cascades", "rejected", n)
	} else {
		slog.Debug("sweep found nothing to do")
	}
	return n
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
