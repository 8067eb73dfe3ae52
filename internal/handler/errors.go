package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/domain/product"
	"github.com/xenking/kart-cart/internal/lock"
	"github.com/xenking/kart-cart/pkg/httpmiddleware"
)

type paramError struct{ name string }

func (e *paramError) Error() string { return "invalid query parameter " + e.name }

func errInvalidParam(name string) error { return &paramError{name: name} }

// classify maps an error to its HTTP status and error type. Only server
// errors hide their message.
func classify(err error) (status int, kind string) {
	var (
		itemNotFound  *cart.ItemNotFoundError
		ownership     *cart.OwnershipError
		itemExists    *cart.ItemAlreadyExistsError
		forbidden     *cart.OperationForbiddenError
		changeStatus  *cart.ChangeStatusError
		itemLimit     *cart.PerItemLimitExceededError
		totalLimit    *cart.MaxTotalQtyExceededError
		belowMin      *cart.QtyBelowMinimumError
		checkout      *cart.CheckoutNotAllowedError
		notApplicable *cart.CouponNotApplicableError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, cart.ErrCartNotFound):
		return http.StatusNotFound, "cart_not_found"
	case errors.As(err, &itemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.As(err, &ownership):
		return http.StatusForbidden, "forbidden"
	case errors.As(err, &itemExists):
		return http.StatusConflict, "item_exists"
	case errors.Is(err, lock.ErrNotAcquired):
		return http.StatusConflict, "cart_busy"
	case errors.Is(err, product.ErrNotFound):
		return http.StatusUnprocessableEntity, "product_not_found"
	case errors.Is(err, coupon.ErrNotFound):
		return http.StatusUnprocessableEntity, "coupon_not_found"
	case errors.Is(err, coupon.ErrExpired):
		return http.StatusUnprocessableEntity, "coupon_expired"
	case errors.As(err, &forbidden):
		return http.StatusUnprocessableEntity, "operation_forbidden"
	case errors.As(err, &changeStatus):
		return http.StatusUnprocessableEntity, "status_change_forbidden"
	case errors.As(err, &itemLimit):
		return http.StatusUnprocessableEntity, "item_qty_limit_exceeded"
	case errors.As(err, &totalLimit):
		return http.StatusUnprocessableEntity, "cart_qty_limit_exceeded"
	case errors.As(err, &belowMin):
		return http.StatusUnprocessableEntity, "qty_below_minimum"
	case errors.Is(err, cart.ErrFractionalQty):
		return http.StatusUnprocessableEntity, "fractional_qty"
	case errors.Is(err, cart.ErrInvalidItemID):
		return http.StatusUnprocessableEntity, "invalid_item_id"
	case errors.As(err, &checkout):
		return http.StatusUnprocessableEntity, "checkout_not_allowed"
	case errors.As(err, &notApplicable):
		return http.StatusUnprocessableEntity, "coupon_not_applicable"
	case errors.Is(err, cart.ErrCouponNotFound):
		return http.StatusUnprocessableEntity, "cart_has_no_coupon"
	case cart.IsDomainError(err):
		return http.StatusUnprocessableEntity, "domain_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal server error"
	}
	httpmiddleware.WriteError(w, status, kind, msg)
}

func badRequest(w http.ResponseWriter, msg string) {
	httpmiddleware.WriteError(w, http.StatusBadRequest, "bad_request", msg)
}
