package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when no active coupon has the requested code.
	ErrNotFound = errors.New("coupon not found")
	// ErrExpired is returned when a coupon is outside its valid time window.
	ErrExpired = errors.New("coupon expired")
)

// Coupon is an absolute discount offered for carts above a minimum cost.
type Coupon struct {
	Code        string
	MinCartCost decimal.Decimal
	DiscountAbs decimal.Decimal
	ValidFrom   *time.Time
	ValidUntil  *time.Time
}

// Repository reads coupons from storage.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
}

// Lookup resolves a coupon that can be used right now.
type Lookup interface {
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
}
