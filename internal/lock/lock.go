// Package lock provides named mutual exclusion across processes.
//
// A lock is held for the duration of one cart operation. Backends poll for
// the lock until it is free or the configured wait timeout elapses.
package lock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotAcquired is returned when the lock stayed busy for the whole wait
// timeout. Callers may retry the operation.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks until the named lock is held by the caller, the wait
	// timeout elapses (ErrNotAcquired) or ctx is done.
	Acquire(ctx context.Context, name string) (Handle, error)
}

// Handle is a held lock.
type Handle interface {
	Release(ctx context.Context) error
}

// Options configures acquisition for every backend.
type Options struct {
	// TTL bounds how long a lock survives a crashed holder.
	TTL time.Duration
	// WaitTimeout bounds how long Acquire polls for a busy lock.
	WaitTimeout time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 5 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 20 * time.Millisecond
	}
	return o
}

// CartName returns the lock name guarding the cart with the given id.
func CartName(id uuid.UUID) string {
	return "cart-lock-" + id.String()
}

// With runs fn while holding the named lock. The lock is released on every
// exit path of fn, including panics, with a context that is not canceled
// together with ctx.
func With(ctx context.Context, l Locker, name string, fn func(ctx context.Context) error) (err error) {
	h, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := h.Release(releaseCtx); rerr != nil && err == nil {
			err = errors.Wrapf(rerr, "release %s", name)
		}
	}()
	return fn(ctx)
}

// poll calls try until it reports success, the wait timeout elapses or ctx
// is done.
func poll(ctx context.Context, name string, opts Options, try func(ctx context.Context) (bool, error)) error {
	deadline := time.NewTimer(opts.WaitTimeout)
	defer deadline.Stop()
	retry := time.NewTicker(opts.RetryInterval)
	defer retry.Stop()

	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.Wrapf(ErrNotAcquired, "%s after %s", name, opts.WaitTimeout)
		case <-retry.C:
		}
	}
}
