package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

const (
	guardFPR = 0.001

	staleCheckEvery = time.Second
)

// CodeLister enumerates all active coupon codes. Repositories that implement
// it enable the bloom guard in Validator.
type CodeLister interface {
	ListCodes(ctx context.Context) ([]string, error)
}

// ChangeTracker reports when coupons were last written. Repositories that
// implement it let Validator notice codes added after the last Refresh.
type ChangeTracker interface {
	LastChanged(ctx context.Context) (time.Time, error)
}

var _ Lookup = (*Validator)(nil)

// Validator implements Lookup on top of a Repository. It checks the coupon
// time window and, once Refresh has run, rejects unknown codes through a
// bloom filter without touching the repository.
//
// When the repository is a ChangeTracker, a filter miss is checked against
// the repository change time at most once per staleCheckEvery. A filter built
// before the latest change is rebuilt and consulted again, so new codes are
// found without waiting for the next scheduled Refresh.
type Validator struct {
	repo       Repository
	now        func() time.Time
	checkEvery time.Duration
	rebuild    singleflight.Group

	mu        sync.RWMutex
	filter    *bloom.BloomFilter
	builtAt   time.Time
	checkedAt time.Time
}

// NewValidator creates a Validator backed by the given Repository.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now, checkEvery: staleCheckEvery}
}

// GetCoupon returns the coupon with the given code if it exists and is
// valid at the current time.
func (v *Validator) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	if !v.mayContain(code) && !v.refreshedContains(ctx, code) {
		return nil, ErrNotFound
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	now := v.now()
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrExpired
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrExpired
	}
	return c, nil
}

// Refresh rebuilds the bloom guard from the repository. It is a no-op when
// the repository cannot list codes.
func (v *Validator) Refresh(ctx context.Context) error {
	lister, ok := v.repo.(CodeLister)
	if !ok {
		return nil
	}
	// The change time is read before listing so writes racing the listing
	// leave the filter marked as stale.
	var builtAt time.Time
	if tracker, ok := v.repo.(ChangeTracker); ok {
		t, err := tracker.LastChanged(ctx)
		if err != nil {
			return errors.Wrap(err, "read coupons change time")
		}
		builtAt = t
	}
	codes, err := lister.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}

	n := uint(len(codes))
	if n < 1024 {
		n = 1024
	}
	filter := bloom.NewWithEstimates(n, guardFPR)
	for _, code := range codes {
		filter.AddString(code)
	}

	v.mu.Lock()
	v.filter = filter
	v.builtAt = builtAt
	v.mu.Unlock()
	return nil
}

// RunRefresh calls Refresh every interval until ctx is done. Failed refreshes
// keep the previous filter and are reported to onErr.
func (v *Validator) RunRefresh(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}

func (v *Validator) mayContain(code string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.filter == nil {
		return true
	}
	return v.filter.TestString(code)
}

// refreshedContains handles a filter miss. It rebuilds the filter when the
// repository changed after the current one was built and reports whether the
// rebuilt filter may hold code. Repository errors fall through to the lookup.
func (v *Validator) refreshedContains(ctx context.Context, code string) bool {
	tracker, ok := v.repo.(ChangeTracker)
	if !ok || !v.staleCheckDue() {
		return false
	}
	changed, err := tracker.LastChanged(ctx)
	if err != nil {
		return true
	}
	v.mu.RLock()
	stale := changed.After(v.builtAt)
	v.mu.RUnlock()
	if !stale {
		return false
	}

	_, err, _ = v.rebuild.Do("refresh", func() (any, error) {
		return nil, v.Refresh(ctx)
	})
	if err != nil {
		return true
	}
	return v.mayContain(code)
}

func (v *Validator) staleCheckDue() bool {
	now := v.now()
	v.mu.Lock()
	defer v.mu.Unlock()
	if now.Sub(v.checkedAt) < v.checkEvery {
		return false
	}
	v.checkedAt = now
	return true
}
