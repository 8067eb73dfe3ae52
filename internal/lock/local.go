package lock

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
)

var _ Locker = (*Local)(nil)

// Local is an in-process Locker for single instance deployments and tests.
// Each name maps to a one-slot channel; holding the slot means holding the lock.
// A slot lives while someone holds or waits for it.
type Local struct {
	opts Options

	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an in-process Locker. Only WaitTimeout is used from opts.
func NewLocal(opts Options) *Local {
	return &Local{
		opts:  opts.withDefaults(),
		slots: make(map[string]*localSlot),
	}
}

func (l *Local) ref(name string) *localSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[name]
	if !ok {
		s = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[name] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(name string, s *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, name)
	}
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, name string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := l.ref(name)
	wait, cancel := context.WithTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	select {
	case s.ch <- struct{}{}:
		return &localHandle{l: l, name: name, slot: s}, nil
	case <-wait.Done():
		l.unref(name, s)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrNotAcquired, "%s after %s", name, l.opts.WaitTimeout)
	}
}

type localHandle struct {
	once sync.Once
	l    *Local
	name string
	slot *localSlot
}

func (h *localHandle) Release(context.Context) error {
	h.once.Do(func() {
		<-h.slot.ch
		h.l.unref(h.name, h.slot)
	})
	return nil
}
