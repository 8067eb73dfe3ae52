// Package graph describes the graph representation of carts:
//
//	(:Cart {id})-[:CONTAINS {qty}]->(:CartItem {id, cart_id, qty})
//
// Mirrors write it next to the relational rows, either inside the same
// transaction or through an op log drained into a separate graph store.
package graph

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mirror maintains the graph representation of carts.
type Mirror interface {
	CreateCart(ctx context.Context, cartID uuid.UUID) error
	AddItem(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error
	UpdateItemQty(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error
	DeleteItem(ctx context.Context, cartID uuid.UUID, itemID int64) error
	// ClearCart removes every CONTAINS edge of the cart and the item nodes behind them.
	ClearCart(ctx context.Context, cartID uuid.UUID) error
	// ItemsQty sums qty over the CONTAINS edges of the cart, zero when there are none.
	ItemsQty(ctx context.Context, cartID uuid.UUID) (decimal.Decimal, error)
}
