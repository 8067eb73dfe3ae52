package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// View is a read-only projection of a cart returned by use cases.
type View struct {
	ID              uuid.UUID
	UserID          int64
	Status          Status
	Items           []ItemView
	ItemsQty        decimal.Decimal
	Cost            decimal.Decimal
	CheckoutEnabled bool
	Coupon          *CouponView
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemView is the projection of a cart item.
type ItemView struct {
	ID       int64
	Name     string
	Qty      decimal.Decimal
	Price    decimal.Decimal
	Cost     decimal.Decimal
	IsWeight bool
}

// CouponView is the projection of the cart coupon. CartCost is the cart cost
// with the coupon taken into account.
type CouponView struct {
	CouponID    string
	MinCartCost decimal.Decimal
	DiscountAbs decimal.Decimal
	CartCost    decimal.Decimal
	Applied     bool
}

// View returns the projection of the current cart state.
func (c *Cart) View() View {
	v := View{
		ID:              c.ID,
		UserID:          c.UserID,
		Status:          c.Status,
		Items:           make([]ItemView, 0, len(c.items)),
		ItemsQty:        c.ItemsQty(),
		Cost:            c.Cost(),
		CheckoutEnabled: c.CheckoutEnabled(),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	for _, it := range c.items {
		v.Items = append(v.Items, ItemView{
			ID:       it.ID,
			Name:     it.Name,
			Qty:      it.Qty,
			Price:    it.Price,
			Cost:     it.Cost(),
			IsWeight: it.IsWeight,
		})
	}
	if c.coupon != nil {
		v.Coupon = &CouponView{
			CouponID:    c.coupon.CouponID,
			MinCartCost: c.coupon.MinCartCost,
			DiscountAbs: c.coupon.DiscountAbs,
			CartCost:    v.Cost,
			Applied:     c.coupon.Applied,
		}
	}
	return v
}
