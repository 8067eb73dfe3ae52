package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xenking/kart-cart/internal/domain/cart"
)

const (
	upsertCartCouponSQL = `INSERT INTO cart_coupon (cart_id, coupon_id, min_cart_cost, discount_abs, applied)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (cart_id) DO UPDATE SET
		coupon_id = EXCLUDED.coupon_id,
		min_cart_cost = EXCLUDED.min_cart_cost,
		discount_abs = EXCLUDED.discount_abs,
		applied = EXCLUDED.applied`

	deleteCartCouponSQL = `DELETE FROM cart_coupon WHERE cart_id = $1`
)

var _ cart.CouponRepository = (*CartCouponRepository)(nil)

// CartCouponRepository stores the coupon attached to each cart.
type CartCouponRepository struct {
	db dbtx
}

// NewCartCouponRepository creates a CartCouponRepository executing through db.
func NewCartCouponRepository(db dbtx) *CartCouponRepository {
	return &CartCouponRepository{db: db}
}

func (r *CartCouponRepository) Save(ctx context.Context, cartID uuid.UUID, cp *cart.Coupon) error {
	_, err := r.db.Exec(ctx, upsertCartCouponSQL, cartID, cp.CouponID, cp.MinCartCost, cp.DiscountAbs, cp.Applied)
	if err != nil {
		return fmt.Errorf("saving coupon of cart %s: %w", cartID, err)
	}
	return nil
}

func (r *CartCouponRepository) Delete(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, deleteCartCouponSQL, cartID); err != nil {
		return fmt.Errorf("deleting coupon of cart %s: %w", cartID, err)
	}
	return nil
}
