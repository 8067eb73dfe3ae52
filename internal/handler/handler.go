// Package handler exposes the cart use cases over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/cart"
)

// CartService is the part of cart.Service the handler calls.
type CartService interface {
	Create(ctx context.Context, who auth.Identity) (cart.View, error)
	Get(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	List(ctx context.Context, who auth.Identity, filter cart.ListFilter) ([]cart.View, error)
	ItemsQty(ctx context.Context, who auth.Identity, cartID uuid.UUID) (decimal.Decimal, error)
	AddItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64, qty decimal.Decimal) (cart.View, error)
	UpdateItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64, qty decimal.Decimal) (cart.View, error)
	DeleteItem(ctx context.Context, who auth.Identity, cartID uuid.UUID, itemID int64) (cart.View, error)
	Clear(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	Deactivate(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	Lock(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	Unlock(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	Complete(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
	ApplyCoupon(ctx context.Context, who auth.Identity, cartID uuid.UUID, code string) (cart.View, error)
	RemoveCoupon(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)
}

var _ CartService = (*cart.Service)(nil)

// Handler serves the /api/v1 routes. Every route requires an identity in the
// request context, see Authenticate.
type Handler struct {
	carts CartService
}

// New creates a Handler.
func New(carts CartService) *Handler {
	return &Handler{carts: carts}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/carts", h.create)
	mux.HandleFunc("GET /api/v1/carts", h.list)
	mux.HandleFunc("GET /api/v1/carts/{id}", h.cart(h.carts.Get))
	mux.HandleFunc("DELETE /api/v1/carts/{id}", h.cart(h.carts.Deactivate))
	mux.HandleFunc("GET /api/v1/carts/{id}/items-qty", h.itemsQty)
	mux.HandleFunc("POST /api/v1/carts/{id}/items", h.addItem)
	mux.HandleFunc("DELETE /api/v1/carts/{id}/items", h.cart(h.carts.Clear))
	mux.HandleFunc("PUT /api/v1/carts/{id}/items/{item_id}", h.updateItem)
	mux.HandleFunc("DELETE /api/v1/carts/{id}/items/{item_id}", h.deleteItem)
	mux.HandleFunc("POST /api/v1/carts/{id}/coupon", h.applyCoupon)
	mux.HandleFunc("DELETE /api/v1/carts/{id}/coupon", h.cart(h.carts.RemoveCoupon))
	mux.HandleFunc("POST /api/v1/carts/{id}/lock", h.cart(h.carts.Lock))
	mux.HandleFunc("POST /api/v1/carts/{id}/unlock", h.cart(h.carts.Unlock))
	mux.HandleFunc("POST /api/v1/carts/{id}/complete", h.cart(h.carts.Complete))
}

type cartFunc func(ctx context.Context, who auth.Identity, cartID uuid.UUID) (cart.View, error)

// cart adapts a use case that only needs the cart id.
func (h *Handler) cart(fn cartFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, id, ok := target(w, r)
		if !ok {
			return
		}
		v, err := fn(r.Context(), who, id)
		respondView(w, r, http.StatusOK, v, err)
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(w, r)
	if !ok {
		return
	}
	v, err := h.carts.Create(r.Context(), who)
	respondView(w, r, http.StatusCreated, v, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	who, ok := identity(w, r)
	if !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	views, err := h.carts.List(r.Context(), who, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeViews(views))
}

func (h *Handler) itemsQty(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	qty, err := h.carts.ItemsQty(r.Context(), who, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeItemsQty(id, qty))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	req, err := decodeAddItem(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	v, err := h.carts.AddItem(r.Context(), who, id, req.ItemID, req.Qty)
	respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	qty, err := decodeQty(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	v, err := h.carts.UpdateItem(r.Context(), who, id, itemID, qty)
	respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	itemID, ok := itemParam(w, r)
	if !ok {
		return
	}
	v, err := h.carts.DeleteItem(r.Context(), who, id, itemID)
	respondView(w, r, http.StatusOK, v, err)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	who, id, ok := target(w, r)
	if !ok {
		return
	}
	code, err := decodeCouponCode(r.Body)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	v, err := h.carts.ApplyCoupon(r.Context(), who, id, code)
	respondView(w, r, http.StatusOK, v, err)
}

func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	who, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, r, auth.ErrUnauthorized)
	}
	return who, ok
}

func target(w http.ResponseWriter, r *http.Request) (auth.Identity, uuid.UUID, bool) {
	who, ok := identity(w, r)
	if !ok {
		return auth.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "invalid cart id")
		return auth.Identity{}, uuid.Nil, false
	}
	return who, id, true
}

func itemParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("item_id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid item id")
		return 0, false
	}
	return id, true
}

func parseListFilter(r *http.Request) (cart.ListFilter, error) {
	q := r.URL.Query()
	var (
		f   cart.ListFilter
		err error
	)
	if v := q.Get("user_id"); v != "" {
		if f.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, errInvalidParam("user_id")
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = cart.ParseStatus(v); err != nil {
			return f, errInvalidParam("status")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, errInvalidParam("limit")
		}
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, errInvalidParam("offset")
		}
	}
	return f, nil
}
