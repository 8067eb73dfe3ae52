package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/graph"
)

const (
	insertItemSQL = `INSERT INTO cart_item (id, cart_id, name, qty, price, is_weight)
	VALUES ($1, $2, $3, $4, $5, $6)`

	updateItemSQL = `UPDATE cart_item
	SET name = $3, qty = $4, price = $5, is_weight = $6, updated_at = now()
	WHERE id = $1 AND cart_id = $2`

	deleteItemSQL = `DELETE FROM cart_item WHERE id = $1 AND cart_id = $2`
)

const uniqueViolation = "23505"

var _ cart.ItemRepository = (*ItemRepository)(nil)

// ItemRepository implements cart.ItemRepository over cart_item plus the
// CONTAINS edges of the graph mirror.
type ItemRepository struct {
	db     dbtx
	mirror graph.Mirror
}

// NewItemRepository creates an ItemRepository executing through db.
func NewItemRepository(db dbtx, mirror graph.Mirror) *ItemRepository {
	return &ItemRepository{db: db, mirror: mirror}
}

func (r *ItemRepository) Add(ctx context.Context, item *cart.Item) error {
	_, err := r.db.Exec(ctx, insertItemSQL, item.ID, item.CartID, item.Name, item.Qty, item.Price, item.IsWeight)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &cart.ItemAlreadyExistsError{CartID: item.CartID, ItemID: item.ID}
		}
		return fmt.Errorf("adding item %d to cart %s: %w", item.ID, item.CartID, err)
	}
	return r.mirror.AddItem(ctx, item.CartID, item.ID, item.Qty)
}

func (r *ItemRepository) Update(ctx context.Context, item *cart.Item) error {
	tag, err := r.db.Exec(ctx, updateItemSQL, item.ID, item.CartID, item.Name, item.Qty, item.Price, item.IsWeight)
	if err != nil {
		return fmt.Errorf("updating item %d of cart %s: %w", item.ID, item.CartID, err)
	}
	if tag.RowsAffected() == 0 {
		return &cart.ItemNotFoundError{ItemID: item.ID}
	}
	return r.mirror.UpdateItemQty(ctx, item.CartID, item.ID, item.Qty)
}

func (r *ItemRepository) Delete(ctx context.Context, item *cart.Item) error {
	if _, err := r.db.Exec(ctx, deleteItemSQL, item.ID, item.CartID); err != nil {
		return fmt.Errorf("deleting item %d of cart %s: %w", item.ID, item.CartID, err)
	}
	return r.mirror.DeleteItem(ctx, item.CartID, item.ID)
}
