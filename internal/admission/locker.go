package admission

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// JobLocker hands out one exclusive section per job ID. Sections for
// different jobs never wait on each other. Entries are dropped once nobody
// holds or waits for them, so the map only grows with live contention.
type JobLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*jobLock
}

type jobLock struct {
	sem  chan struct{}
	refs int
}

// NewJobLocker returns an empty JobLocker.
func NewJobLocker() *JobLocker {
	return &JobLocker{locks: make(map[uuid.UUID]*jobLock)}
}

// Lock blocks until the section for jobID is free or ctx is done. On success
// the caller must call the returned unlock func exactly once; extra calls are
// ignored.
func (l *JobLocker) Lock(ctx context.Context, jobID uuid.UUID) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{sem: make(chan struct{}, 1)}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.mu.Unlock()

	select {
	case jl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(jobID, jl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-jl.sem
			l.release(jobID, jl)
		})
	}, nil
}

func (l *JobLocker) release(jobID uuid.UUID, jl *jobLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	jl.refs--
	if jl.refs == 0 {
		delete(l.locks, jobID)
	}
}

// Len returns the number of jobs currently locked or waited on.
func (l *JobLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
