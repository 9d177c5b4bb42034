package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// keyLocks is a per-key mutual-exclusion table. Waiters for the same key are
// served first-in-first-served (semaphore.Weighted queues waiters in FIFO
// order); different keys never contend. Disposing the table fails every
// pending waiter.
type keyLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	done chan struct{}
	once sync.Once
}

func newKeyLocks() *keyLocks {
	return &keyLocks{
		sems: make(map[string]*semaphore.Weighted),
		done: make(chan struct{}),
	}
}

func (k *keyLocks) sem(key string) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		k.sems[key] = s
	}
	return s
}

// acquire takes the lock for key, waiting at most timeout. The returned
// release function must be called on every exit path; acquire itself never
// leaves the slot held on failure.
func (k *keyLocks) acquire(ctx context.Context, key string, timeout time.Duration) (release func(), err error) {
	select {
	case <-k.done:
		return nil, fmt.Errorf("%w: lock table for key %q", ErrDisposed, key)
	default:
	}

	s := k.sem(key)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Fold disposal into the acquisition context so pending waiters fail
	// promptly when the group is disposed.
	waitCtx, waitCancel := context.WithCancel(ctx)
	defer waitCancel()
	go func() {
		select {
		case <-k.done:
			waitCancel()
		case <-waitCtx.Done():
		}
	}()

	if err := s.Acquire(waitCtx, 1); err != nil {
		select {
		case <-k.done:
			return nil, fmt.Errorf("%w: waiter for key %q abandoned", ErrDisposed, key)
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: key %q after %s", ErrLockTimeout, key, timeout)
		}
		return nil, err
	}
	return func() { s.Release(1) }, nil
}

// dispose fails all pending waiters. Held locks are released normally by
// their owners; new acquisitions fail immediately.
func (k *keyLocks) dispose() {
	k.once.Do(func() { close(k.done) })
}
