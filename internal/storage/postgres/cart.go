package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/graph"
)

const (
	insertCartSQL = `INSERT INTO cart (id, user_id, status)
	VALUES ($1, $2, $3)
	RETURNING created_at, updated_at`

	getCartSQL = `SELECT id, user_id, status, created_at, updated_at
	FROM cart WHERE id = $1`

	updateCartSQL = `UPDATE cart SET status = $2, updated_at = now()
	WHERE id = $1
	RETURNING updated_at`

	listCartsSQL = `SELECT id, user_id, status, created_at, updated_at
	FROM cart
	WHERE ($1::bigint = 0 OR user_id = $1) AND ($2::text = '' OR status = $2)
	ORDER BY created_at, id
	LIMIT $3 OFFSET $4`

	listItemsSQL = `SELECT cart_id, id, name, qty, price, is_weight
	FROM cart_item WHERE cart_id = ANY($1::uuid[])
	ORDER BY cart_id, position`

	listCartCouponsSQL = `SELECT cart_id, coupon_id, min_cart_cost, discount_abs, applied
	FROM cart_coupon WHERE cart_id = ANY($1::uuid[])`

	clearItemsSQL = `DELETE FROM cart_item WHERE cart_id = $1`
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository over the cart, cart_item and
// cart_coupon tables plus a graph mirror.
type CartRepository struct {
	db      dbtx
	mirror  graph.Mirror
	configs *ConfigRepository
}

// NewCartRepository creates a CartRepository executing through db.
func NewCartRepository(db dbtx, mirror graph.Mirror, configs *ConfigRepository) *CartRepository {
	return &CartRepository{db: db, mirror: mirror, configs: configs}
}

type cartRow struct {
	ID        uuid.UUID
	UserID    int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func scanCart(row pgx.CollectableRow) (cartRow, error) {
	var r cartRow
	err := row.Scan(&r.ID, &r.UserID, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (r *CartRepository) Create(ctx context.Context, c *cart.Cart) error {
	err := r.db.QueryRow(ctx, insertCartSQL, c.ID, c.UserID, c.Status.String()).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating cart %s: %w", c.ID, err)
	}
	return r.mirror.CreateCart(ctx, c.ID)
}

func (r *CartRepository) Retrieve(ctx context.Context, id uuid.UUID) (*cart.Cart, error) {
	rows, err := r.db.Query(ctx, getCartSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting cart %s: %w", id, err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrCartNotFound
		}
		return nil, fmt.Errorf("getting cart %s: %w", id, err)
	}

	carts, err := r.hydrate(ctx, []cartRow{row})
	if err != nil {
		return nil, err
	}
	return carts[0], nil
}

func (r *CartRepository) Update(ctx context.Context, c *cart.Cart) error {
	err := r.db.QueryRow(ctx, updateCartSQL, c.ID, c.Status.String()).Scan(&c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cart.ErrCartNotFound
		}
		return fmt.Errorf("updating cart %s: %w", c.ID, err)
	}
	return nil
}

func (r *CartRepository) List(ctx context.Context, f cart.ListFilter) ([]*cart.Cart, error) {
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	offset := max(f.Offset, 0)

	rows, err := r.db.Query(ctx, listCartsSQL, f.UserID, string(f.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing carts: %w", err)
	}
	found, err := pgx.CollectRows(rows, scanCart)
	if err != nil {
		return nil, fmt.Errorf("listing carts: %w", err)
	}
	if len(found) == 0 {
		return []*cart.Cart{}, nil
	}
	return r.hydrate(ctx, found)
}

func (r *CartRepository) Clear(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, clearItemsSQL, id); err != nil {
		return fmt.Errorf("clearing cart %s: %w", id, err)
	}
	return r.mirror.ClearCart(ctx, id)
}

func (r *CartRepository) ItemsQty(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return r.mirror.ItemsQty(ctx, id)
}

// hydrate loads items, coupons and the policy for the given cart rows and
// rebuilds the aggregates in row order.
func (r *CartRepository) hydrate(ctx context.Context, found []cartRow) ([]*cart.Cart, error) {
	ids := make([]string, len(found))
	for i, row := range found {
		ids[i] = row.ID.String()
	}

	cfg, err := r.configs.Get(ctx)
	if err != nil {
		return nil, err
	}
	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	coupons, err := r.coupons(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*cart.Cart, 0, len(found))
	for _, row := range found {
		status, err := cart.ParseStatus(row.Status)
		if err != nil {
			return nil, fmt.Errorf("cart %s: %w", row.ID, err)
		}
		out = append(out, cart.Restore(cart.State{
			ID:        row.ID,
			UserID:    row.UserID,
			Status:    status,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			Items:     items[row.ID],
			Coupon:    coupons[row.ID],
			Config:    cfg,
		}))
	}
	return out, nil
}

func (r *CartRepository) items(ctx context.Context, ids []string) (map[uuid.UUID][]*cart.Item, error) {
	rows, err := r.db.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.CartID, &it.ID, &it.Name, &it.Qty, &it.Price, &it.IsWeight)
		return &it, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}

	byCart := make(map[uuid.UUID][]*cart.Item, len(ids))
	for _, it := range items {
		byCart[it.CartID] = append(byCart[it.CartID], it)
	}
	return byCart, nil
}

func (r *CartRepository) coupons(ctx context.Context, ids []string) (map[uuid.UUID]*cart.Coupon, error) {
	rows, err := r.db.Query(ctx, listCartCouponsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing cart coupons: %w", err)
	}
	type couponRow struct {
		CartID uuid.UUID
		cart.Coupon
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (couponRow, error) {
		var c couponRow
		err := row.Scan(&c.CartID, &c.CouponID, &c.MinCartCost, &c.DiscountAbs, &c.Applied)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing cart coupons: %w", err)
	}

	byCart := make(map[uuid.UUID]*cart.Coupon, len(found))
	for _, c := range found {
		cp := c.Coupon
		byCart[c.CartID] = &cp
	}
	return byCart, nil
}
