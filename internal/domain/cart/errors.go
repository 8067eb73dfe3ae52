package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// domainError is implemented by every error raised by the cart aggregate.
type domainError interface {
	error
	cartDomain()
}

// IsDomainError reports whether err (or anything it wraps) is a business
// rule violation rather than an infrastructure failure.
func IsDomainError(err error) bool {
	var de domainError
	return errors.As(err, &de)
}

// Error is a domain error without extra context.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func (*Error) cartDomain() {}

var (
	// ErrCartNotFound is returned when no cart exists with the requested id.
	ErrCartNotFound = &Error{msg: "cart not found"}
	// ErrCouponNotFound is returned when removing a coupon from a cart without one.
	ErrCouponNotFound = &Error{msg: "cart has no coupon"}
	// ErrFractionalQty is returned when a countable item gets a fractional quantity.
	ErrFractionalQty = &Error{msg: "quantity of a countable item must be integral"}
	// ErrInvalidItemID is returned for item ids that are not positive.
	ErrInvalidItemID = &Error{msg: "item id must be positive"}
)

// ItemNotFoundError indicates the cart has no item with the given id.
type ItemNotFoundError struct {
	ItemID int64
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %d not found in cart", e.ItemID)
}

func (*ItemNotFoundError) cartDomain() {}

// ItemAlreadyExistsError indicates an item with the same id is already in the cart.
type ItemAlreadyExistsError struct {
	CartID uuid.UUID
	ItemID int64
}

func (e *ItemAlreadyExistsError) Error() string {
	return fmt.Sprintf("item %d already exists in cart %s", e.ItemID, e.CartID)
}

func (*ItemAlreadyExistsError) cartDomain() {}

// OperationForbiddenError indicates a mutation attempted outside the OPENED status.
type OperationForbiddenError struct {
	Status Status
}

func (e *OperationForbiddenError) Error() string {
	return fmt.Sprintf("operation forbidden for cart in status %s", e.Status)
}

func (*OperationForbiddenError) cartDomain() {}

// ChangeStatusError indicates a transition not present in the status table.
type ChangeStatusError struct {
	From Status
	To   Status
}

func (e *ChangeStatusError) Error() string {
	return fmt.Sprintf("cannot change cart status from %s to %s", e.From, e.To)
}

func (*ChangeStatusError) cartDomain() {}

// PerItemLimitExceededError indicates an item quantity above its configured ceiling.
type PerItemLimitExceededError struct {
	ItemID int64
	Limit  decimal.Decimal
	Actual decimal.Decimal
}

func (e *PerItemLimitExceededError) Error() string {
	return fmt.Sprintf("item %d qty limit exceeded, limit: %s, actual: %s", e.ItemID, e.Limit, e.Actual)
}

func (*PerItemLimitExceededError) cartDomain() {}

// MaxTotalQtyExceededError indicates the sum of item quantities above the cart ceiling.
type MaxTotalQtyExceededError struct {
	Limit  decimal.Decimal
	Actual decimal.Decimal
}

func (e *MaxTotalQtyExceededError) Error() string {
	return fmt.Sprintf("cart items qty limit exceeded, limit: %s, actual: %s", e.Limit, e.Actual)
}

func (*MaxTotalQtyExceededError) cartDomain() {}

// QtyBelowMinimumError indicates an item quantity under the allowed minimum.
// Weight items need a quantity strictly greater than Min, countable items need
// at least Min.
type QtyBelowMinimumError struct {
	ItemID   int64
	IsWeight bool
	Min      decimal.Decimal
	Actual   decimal.Decimal
}

func (e *QtyBelowMinimumError) Error() string {
	if e.IsWeight {
		return fmt.Sprintf("item %d qty must be greater than %s, actual: %s", e.ItemID, e.Min, e.Actual)
	}
	return fmt.Sprintf("item %d qty must be at least %s, actual: %s", e.ItemID, e.Min, e.Actual)
}

func (*QtyBelowMinimumError) cartDomain() {}

// CheckoutNotAllowedError indicates completion of a cart cheaper than the checkout minimum.
type CheckoutNotAllowedError struct {
	Cost decimal.Decimal
	Min  decimal.Decimal
}

func (e *CheckoutNotAllowedError) Error() string {
	return fmt.Sprintf("checkout not allowed, cart cost %s is below minimum %s", e.Cost, e.Min)
}

func (*CheckoutNotAllowedError) cartDomain() {}

// CouponNotApplicableError indicates the cart subtotal is below the coupon threshold.
type CouponNotApplicableError struct {
	CouponID    string
	MinCartCost decimal.Decimal
	Actual      decimal.Decimal
}

func (e *CouponNotApplicableError) Error() string {
	return fmt.Sprintf("coupon %s requires cart cost %s, actual: %s", e.CouponID, e.MinCartCost, e.Actual)
}

func (*CouponNotApplicableError) cartDomain() {}

// OwnershipError indicates the caller does not own the cart.
type OwnershipError struct {
	CartID uuid.UUID
	UserID int64
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("user %d does not own cart %s", e.UserID, e.CartID)
}

func (*OwnershipError) cartDomain() {}
