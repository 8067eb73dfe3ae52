package cart

import "github.com/shopspring/decimal"

// Coupon is a discount attached to a cart. Applied is false when the coupon
// is attached but currently gives no discount.
type Coupon struct {
	CouponID    string
	MinCartCost decimal.Decimal
	DiscountAbs decimal.Decimal
	Applied     bool
}

// Config is the cart policy record. It is loaded together with the cart and
// never modified by it.
type Config struct {
	MinCostForCheckout decimal.Decimal
	// MaxItemsQty is the ceiling on the sum of item quantities. Null means
	// unlimited.
	MaxItemsQty    decimal.NullDecimal
	LimitItemsByID map[int64]decimal.Decimal
}

// ItemLimit returns the quantity ceiling for the item, if one is configured.
func (c Config) ItemLimit(itemID int64) (decimal.Decimal, bool) {
	limit, ok := c.LimitItemsByID[itemID]
	return limit, ok
}
