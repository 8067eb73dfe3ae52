package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-cart/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, min_cart_cost, discount_abs, valid_from, valid_until
	FROM coupons WHERE code = $1 AND active = TRUE`

	listCouponCodesSQL = `SELECT code FROM coupons WHERE active = TRUE`

	couponsChangedSQL = `SELECT coalesce(max(updated_at), 'epoch'::timestamptz) FROM coupons`

	upsertCouponSQL = `INSERT INTO coupons (code, min_cart_cost, discount_abs, valid_from, valid_until)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (code) DO UPDATE SET
		min_cart_cost = EXCLUDED.min_cart_cost,
		discount_abs = EXCLUDED.discount_abs,
		valid_from = EXCLUDED.valid_from,
		valid_until = EXCLUDED.valid_until,
		active = TRUE,
		updated_at = now()`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.CodeLister = (*CouponRepository)(nil)
	_ coupon.ChangeTracker = (*CouponRepository)(nil)
)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up an active coupon by its code.
// Returns coupon.ErrNotFound when no matching active coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	var c coupon.Coupon
	err := r.pool.QueryRow(ctx, getCouponByCodeSQL, code).
		Scan(&c.Code, &c.MinCartCost, &c.DiscountAbs, &c.ValidFrom, &c.ValidUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// ListCodes returns the codes of all active coupons.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// LastChanged returns the newest updated_at across all coupons.
func (r *CouponRepository) LastChanged(ctx context.Context) (time.Time, error) {
	var t time.Time
	if err := r.pool.QueryRow(ctx, couponsChangedSQL).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("reading coupons change time: %w", err)
	}
	return t, nil
}

// Upsert inserts or reactivates coupons in one batch.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL, c.Code, c.MinCartCost, c.DiscountAbs, c.ValidFrom, c.ValidUntil)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
	}
	return nil
}
