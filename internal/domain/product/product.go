package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog data a cart needs to add an item.
type Product struct {
	ID       int64
	Title    string
	Price    decimal.Decimal
	IsWeight bool
}

// Lookup resolves products by id.
type Lookup interface {
	GetProduct(ctx context.Context, id int64) (*Product, error)
}
