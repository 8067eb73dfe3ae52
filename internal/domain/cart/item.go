package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Item is a line in a cart. Quantities of weight items are measured in
// arbitrary units and may be fractional; countable items are integral.
type Item struct {
	ID       int64
	CartID   uuid.UUID
	Name     string
	Qty      decimal.Decimal
	Price    decimal.Decimal
	IsWeight bool
}

// Cost returns Price × Qty.
func (i *Item) Cost() decimal.Decimal {
	return i.Price.Mul(i.Qty)
}

// MinQty returns the quantity boundary for the item. For weight items the
// bound is exclusive, for countable items inclusive.
func (i *Item) MinQty() decimal.Decimal {
	if i.IsWeight {
		return decimal.Zero
	}
	return decimal.NewFromInt(1)
}

func (i *Item) checkQty(qty decimal.Decimal) error {
	floor := i.MinQty()
	if i.IsWeight {
		if !qty.GreaterThan(floor) {
			return &QtyBelowMinimumError{ItemID: i.ID, IsWeight: true, Min: floor, Actual: qty}
		}
		return nil
	}
	if qty.LessThan(floor) {
		return &QtyBelowMinimumError{ItemID: i.ID, Min: floor, Actual: qty}
	}
	if !qty.Equal(qty.Truncate(0)) {
		return ErrFractionalQty
	}
	return nil
}
