package cart

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository persists carts. Create and Clear also maintain the graph mirror
// inside the same unit of work.
type Repository interface {
	Create(ctx context.Context, c *Cart) error
	// Retrieve loads the cart with its items, coupon and configuration.
	// It returns ErrCartNotFound when no cart has the given id.
	Retrieve(ctx context.Context, id uuid.UUID) (*Cart, error)
	// Update writes the status of the cart.
	Update(ctx context.Context, c *Cart) error
	List(ctx context.Context, filter ListFilter) ([]*Cart, error)
	// Clear deletes all item rows and all item edges of the cart.
	Clear(ctx context.Context, id uuid.UUID) error
	// ItemsQty sums the quantities stored on the graph edges of the cart.
	// It returns zero for a cart without items.
	ItemsQty(ctx context.Context, id uuid.UUID) (decimal.Decimal, error)
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	UserID int64
	Status Status
	Limit  int
	Offset int
}

// ItemRepository persists cart items and their graph edges.
type ItemRepository interface {
	// Add returns ItemAlreadyExistsError when the (cart, item) pair exists.
	Add(ctx context.Context, item *Item) error
	Update(ctx context.Context, item *Item) error
	Delete(ctx context.Context, item *Item) error
}

// CouponRepository persists the coupon attached to a cart.
type CouponRepository interface {
	// Save inserts or replaces the cart coupon.
	Save(ctx context.Context, cartID uuid.UUID, cp *Coupon) error
	Delete(ctx context.Context, cartID uuid.UUID) error
}

// Store groups repositories that share one transaction.
type Store interface {
	Carts() Repository
	Items() ItemRepository
	Coupons() CouponRepository
}

// UnitOfWork runs fn against a transactional Store. With autocommit the
// transaction commits when fn returns nil; an error or panic from fn always
// rolls it back and is passed through. Without autocommit the transaction is
// rolled back after fn, which suits read-only use.
type UnitOfWork interface {
	Run(ctx context.Context, autocommit bool, fn func(ctx context.Context, s Store) error) error
}
