// Package guard provides the per-job lock that keeps two advancers from
// dispatching the next task of the same job at once.
//
// Local serves a single process. The redisguard subpackage shares the lock
// across hosts.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotAcquired is returned when a lock stays held past the caller's patience.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires a named lock. The returned release function is safe to
// call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process Locker keyed by name.
type Local struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx ends.
func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			done := make(chan struct{})
			l.locks[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		}
	}
}

// Key builds the lock name for a job.
func Key(jobID string) string {
	return "mediaflow:job:" + jobID
}

// retryDelay bounds polling for lockers that cannot block natively.
const retryDelay = 50 * time.Millisecond

// Poll calls try until it reports acquisition, ctx ends, or try fails.
func Poll(ctx context.Context, try func() (bool, error)) error {
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return errors.Join(ErrNotAcquired, ctx.Err())
		}
	}
}
