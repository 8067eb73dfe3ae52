package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/graph"
)

const (
	ageCreateCartSQL = `SELECT cart_graph_create_cart($1, $2)`
	ageAddItemSQL    = `SELECT cart_graph_add_item($1, $2, $3, $4)`
	ageUpdateItemSQL = `SELECT cart_graph_update_item($1, $2, $3, $4)`
	ageDeleteItemSQL = `SELECT cart_graph_delete_item($1, $2, $3)`
	ageClearSQL      = `SELECT cart_graph_clear($1, $2)`
	ageItemsQtySQL   = `SELECT cart_graph_items_qty($1, $2)`
)

var _ graph.Mirror = (*AGEMirror)(nil)

// AGEMirror maintains the cart graph in Apache AGE through the functions
// installed by the graph migration. Bound to a transaction it writes the
// graph atomically with the relational rows.
type AGEMirror struct {
	db    dbtx
	graph string
}

// NewAGEMirror returns a mirror on graphName executing through db.
func NewAGEMirror(db dbtx, graphName string) *AGEMirror {
	return &AGEMirror{db: db, graph: graphName}
}

func (m *AGEMirror) CreateCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := m.db.Exec(ctx, ageCreateCartSQL, m.graph, cartID.String()); err != nil {
		return fmt.Errorf("graph: creating cart %s: %w", cartID, err)
	}
	return nil
}

func (m *AGEMirror) AddItem(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	if _, err := m.db.Exec(ctx, ageAddItemSQL, m.graph, cartID.String(), itemID, qty.String()); err != nil {
		return fmt.Errorf("graph: adding item %d to cart %s: %w", itemID, cartID, err)
	}
	return nil
}

func (m *AGEMirror) UpdateItemQty(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	if _, err := m.db.Exec(ctx, ageUpdateItemSQL, m.graph, cartID.String(), itemID, qty.String()); err != nil {
		return fmt.Errorf("graph: updating item %d of cart %s: %w", itemID, cartID, err)
	}
	return nil
}

func (m *AGEMirror) DeleteItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	if _, err := m.db.Exec(ctx, ageDeleteItemSQL, m.graph, cartID.String(), itemID); err != nil {
		return fmt.Errorf("graph: deleting item %d of cart %s: %w", itemID, cartID, err)
	}
	return nil
}

func (m *AGEMirror) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := m.db.Exec(ctx, ageClearSQL, m.graph, cartID.String()); err != nil {
		return fmt.Errorf("graph: clearing cart %s: %w", cartID, err)
	}
	return nil
}

func (m *AGEMirror) ItemsQty(ctx context.Context, cartID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := m.db.QueryRow(ctx, ageItemsQtySQL, m.graph, cartID.String()).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("graph: items qty of cart %s: %w", cartID, err)
	}
	return total, nil
}
