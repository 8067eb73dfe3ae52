// Package cart contains the cart aggregate, its status machine and the use
// cases that load, mutate and persist it under a per-cart lock.
package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the aggregate root. Its items are kept in insertion order and are
// unique by id. All mutations go through methods so that the quantity limits
// and the status rules hold after every successful call.
type Cart struct {
	ID        uuid.UUID
	UserID    int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Config    Config

	items  []*Item
	coupon *Coupon
}

// New returns an empty OPENED cart owned by userID.
func New(id uuid.UUID, userID int64, cfg Config) *Cart {
	return &Cart{
		ID:     id,
		UserID: userID,
		Status: StatusOpened,
		Config: cfg,
	}
}

// State is the persisted form of a cart, used by repositories to rebuild the
// aggregate without running the mutation rules.
type State struct {
	ID        uuid.UUID
	UserID    int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []*Item
	Coupon    *Coupon
	Config    Config
}

// Restore rebuilds a cart from storage.
func Restore(st State) *Cart {
	items := make([]*Item, 0, len(st.Items))
	for _, it := range st.Items {
		it.CartID = st.ID
		items = append(items, it)
	}
	return &Cart{
		ID:        st.ID,
		UserID:    st.UserID,
		Status:    st.Status,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
		Config:    st.Config,
		items:     items,
		coupon:    st.Coupon,
	}
}

// Items returns the cart items in insertion order. The slice is a copy, the
// items are not.
func (c *Cart) Items() []*Item {
	out := make([]*Item, len(c.items))
	copy(out, c.items)
	return out
}

// Coupon returns the attached coupon or nil.
func (c *Cart) Coupon() *Coupon {
	return c.coupon
}

// Item returns the item with the given id.
func (c *Cart) Item(id int64) (*Item, error) {
	for _, it := range c.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, &ItemNotFoundError{ItemID: id}
}

// AddItem appends a new item. The item must not be in the cart yet and its
// quantity must satisfy the minimum and both limits.
func (c *Cart) AddItem(item *Item) error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	if item.ID <= 0 {
		return ErrInvalidItemID
	}
	if _, err := c.Item(item.ID); err == nil {
		return &ItemAlreadyExistsError{CartID: c.ID, ItemID: item.ID}
	}
	if err := c.checkItemQty(item, item.Qty, c.ItemsQty().Add(item.Qty)); err != nil {
		return err
	}

	item.CartID = c.ID
	c.items = append(c.items, item)
	c.itemsChanged()
	return nil
}

// IncreaseItemQty adds delta to the quantity of an existing item. Existence
// is checked first, then delta against the item minimum, then the per-item
// limit, then the total limit.
func (c *Cart) IncreaseItemQty(id int64, delta decimal.Decimal) error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	item, err := c.Item(id)
	if err != nil {
		return err
	}
	if err := item.checkQty(delta); err != nil {
		return err
	}
	return c.setQty(item, item.Qty.Add(delta))
}

// SetItemQty replaces the quantity of an existing item.
func (c *Cart) SetItemQty(id int64, qty decimal.Decimal) error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	item, err := c.Item(id)
	if err != nil {
		return err
	}
	return c.setQty(item, qty)
}

func (c *Cart) setQty(item *Item, qty decimal.Decimal) error {
	total := c.ItemsQty().Sub(item.Qty).Add(qty)
	if err := c.checkItemQty(item, qty, total); err != nil {
		return err
	}
	item.Qty = qty
	c.itemsChanged()
	return nil
}

// DeleteItem removes the item with the given id.
func (c *Cart) DeleteItem(id int64) error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	for i, it := range c.items {
		if it.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			c.itemsChanged()
			return nil
		}
	}
	return &ItemNotFoundError{ItemID: id}
}

// Clear removes every item.
func (c *Cart) Clear() error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	c.items = nil
	c.itemsChanged()
	return nil
}

// Lock moves an OPENED cart to LOCKED.
func (c *Cart) Lock() error {
	return c.changeStatus(StatusLocked)
}

// Unlock moves a LOCKED cart back to OPENED.
func (c *Cart) Unlock() error {
	return c.changeStatus(StatusOpened)
}

// Complete moves a LOCKED cart to COMPLETED. The transition is validated
// before the checkout minimum.
func (c *Cart) Complete() error {
	if !c.Status.CanTransitionTo(StatusCompleted) {
		return &ChangeStatusError{From: c.Status, To: StatusCompleted}
	}
	if !c.CheckoutEnabled() {
		return &CheckoutNotAllowedError{Cost: c.Cost(), Min: c.Config.MinCostForCheckout}
	}
	c.Status = StatusCompleted
	return nil
}

// Deactivate moves a non-terminal cart to DEACTIVATED.
func (c *Cart) Deactivate() error {
	return c.changeStatus(StatusDeactivated)
}

// ApplyCoupon attaches cp as the cart coupon, replacing any previous one.
// The items subtotal must reach the coupon threshold.
func (c *Cart) ApplyCoupon(cp *Coupon) error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	subtotal := c.Subtotal()
	if subtotal.LessThan(cp.MinCartCost) {
		return &CouponNotApplicableError{
			CouponID:    cp.CouponID,
			MinCartCost: cp.MinCartCost,
			Actual:      subtotal,
		}
	}
	cp.Applied = true
	c.coupon = cp
	return nil
}

// RemoveCoupon detaches the cart coupon.
func (c *Cart) RemoveCoupon() error {
	if err := c.checkOpened(); err != nil {
		return err
	}
	if c.coupon == nil {
		return ErrCouponNotFound
	}
	c.coupon = nil
	return nil
}

// CheckOwnership returns an OwnershipError unless userID owns the cart.
func (c *Cart) CheckOwnership(userID int64) error {
	if c.UserID != userID {
		return &OwnershipError{CartID: c.ID, UserID: userID}
	}
	return nil
}

// ItemsQty returns the sum of item quantities.
func (c *Cart) ItemsQty() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Qty)
	}
	return total
}

// Subtotal returns the sum of item costs without any discount.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Cost())
	}
	return total
}

// Cost returns the subtotal minus the discount of an applied coupon, floored
// at zero and rounded to 2 decimal places.
func (c *Cart) Cost() decimal.Decimal {
	cost := c.Subtotal()
	if c.coupon != nil && c.coupon.Applied {
		cost = cost.Sub(c.coupon.DiscountAbs)
	}
	if cost.IsNegative() {
		cost = decimal.Zero
	}
	return cost.Round(2)
}

// CheckoutEnabled reports whether the cart cost reaches the checkout minimum.
func (c *Cart) CheckoutEnabled() bool {
	return c.Cost().GreaterThanOrEqual(c.Config.MinCostForCheckout)
}

func (c *Cart) checkOpened() error {
	if c.Status != StatusOpened {
		return &OperationForbiddenError{Status: c.Status}
	}
	return nil
}

func (c *Cart) checkItemQty(item *Item, qty, total decimal.Decimal) error {
	if err := item.checkQty(qty); err != nil {
		return err
	}
	if limit, ok := c.Config.ItemLimit(item.ID); ok && qty.GreaterThan(limit) {
		return &PerItemLimitExceededError{ItemID: item.ID, Limit: limit, Actual: qty}
	}
	if ceiling := c.Config.MaxItemsQty; ceiling.Valid && total.GreaterThan(ceiling.Decimal) {
		return &MaxTotalQtyExceededError{Limit: ceiling.Decimal, Actual: total}
	}
	return nil
}

func (c *Cart) changeStatus(next Status) error {
	if !c.Status.CanTransitionTo(next) {
		return &ChangeStatusError{From: c.Status, To: next}
	}
	c.Status = next
	return nil
}

// itemsChanged suspends the coupon discount. The coupon stays attached and
// must be applied again against the new subtotal.
func (c *Cart) itemsChanged() {
	if c.coupon != nil {
		c.coupon.Applied = false
	}
}
