package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-cart/internal/domain/auth"
	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/domain/product"
	"github.com/xenking/kart-cart/internal/lock"
	"github.com/xenking/kart-cart/pkg/httpmiddleware"
)

var testCartID = uuid.MustParse("6f1c1bd2-4c4c-4c55-9d2f-4b2f0e0f1a01")

// fakeCarts records calls and answers with a fixed view or error.
type fakeCarts struct {
	view  cart.View
	err   error
	calls []string
	who   auth.Identity

	itemID int64
	qty    decimal.Decimal
	code   string
	filter cart.ListFilter
}

func (f *fakeCarts) record(name string, who auth.Identity) (cart.View, error) {
	f.calls = append(f.calls, name)
	f.who = who
	return f.view, f.err
}

func (f *fakeCarts) Create(_ context.Context, who auth.Identity) (cart.View, error) {
	return f.record("Create", who)
}

func (f *fakeCarts) Get(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Get", who)
}

func (f *fakeCarts) List(_ context.Context, who auth.Identity, filter cart.ListFilter) ([]cart.View, error) {
	f.filter = filter
	v, err := f.record("List", who)
	return []cart.View{v}, err
}

func (f *fakeCarts) ItemsQty(_ context.Context, who auth.Identity, _ uuid.UUID) (decimal.Decimal, error) {
	v, err := f.record("ItemsQty", who)
	return v.ItemsQty, err
}

func (f *fakeCarts) AddItem(_ context.Context, who auth.Identity, _ uuid.UUID, itemID int64, qty decimal.Decimal) (cart.View, error) {
	f.itemID, f.qty = itemID, qty
	return f.record("AddItem", who)
}

func (f *fakeCarts) UpdateItem(_ context.Context, who auth.Identity, _ uuid.UUID, itemID int64, qty decimal.Decimal) (cart.View, error) {
	f.itemID, f.qty = itemID, qty
	return f.record("UpdateItem", who)
}

func (f *fakeCarts) DeleteItem(_ context.Context, who auth.Identity, _ uuid.UUID, itemID int64) (cart.View, error) {
	f.itemID = itemID
	return f.record("DeleteItem", who)
}

func (f *fakeCarts) Clear(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Clear", who)
}

func (f *fakeCarts) Deactivate(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Deactivate", who)
}

func (f *fakeCarts) Lock(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Lock", who)
}

func (f *fakeCarts) Unlock(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Unlock", who)
}

func (f *fakeCarts) Complete(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("Complete", who)
}

func (f *fakeCarts) ApplyCoupon(_ context.Context, who auth.Identity, _ uuid.UUID, code string) (cart.View, error) {
	f.code = code
	return f.record("ApplyCoupon", who)
}

func (f *fakeCarts) RemoveCoupon(_ context.Context, who auth.Identity, _ uuid.UUID) (cart.View, error) {
	return f.record("RemoveCoupon", who)
}

type staticResolver struct {
	credential string
	id         auth.Identity
}

func (s staticResolver) Resolve(_ context.Context, credential string) (auth.Identity, error) {
	if credential != s.credential {
		return auth.Identity{}, auth.ErrUnauthorized
	}
	return s.id, nil
}

func newServer(carts CartService) http.Handler {
	mux := http.NewServeMux()
	New(carts).Register(mux)
	return httpmiddleware.Wrap(mux, Authenticate(
		staticResolver{credential: "user-token", id: auth.Identity{UserID: 42}},
		staticResolver{credential: "svc-key", id: auth.Identity{UserID: 1, IsAdmin: true}},
	))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer user-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func sampleView() cart.View {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return cart.View{
		ID:     testCartID,
		UserID: 42,
		Status: cart.StatusOpened,
		Items: []cart.ItemView{{
			ID:       1,
			Name:     "Apple",
			Qty:      decimal.NewFromInt(3),
			Price:    decimal.RequireFromString("10"),
			Cost:     decimal.RequireFromString("30"),
			IsWeight: false,
		}},
		ItemsQty:        decimal.NewFromInt(3),
		Cost:            decimal.RequireFromString("25"),
		CheckoutEnabled: true,
		Coupon: &cart.CouponView{
			CouponID:    "FIVE",
			MinCartCost: decimal.NewFromInt(20),
			DiscountAbs: decimal.NewFromInt(5),
			CartCost:    decimal.RequireFromString("25"),
			Applied:     true,
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestAuthenticate(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	h := newServer(carts)

	t.Run("missing credentials", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/carts", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", decodeBody(t, w)["type"])
	})
	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", nil)
		req.Header.Set("Authorization", "Bearer nope")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("api key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", nil)
		req.Header.Set(APIKeyHeader, "svc-key")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, auth.Identity{UserID: 1, IsAdmin: true}, carts.who)
	})
}

func TestAuthenticate_JWT(t *testing.T) {
	jwtResolver := auth.NewJWTResolver([]byte("secret"), "cart")
	token, err := jwtResolver.Issue(auth.Identity{UserID: 42}, time.Minute)
	require.NoError(t, err)

	carts := &fakeCarts{view: sampleView()}
	mux := http.NewServeMux()
	New(carts).Register(mux)
	h := Authenticate(jwtResolver, nil)(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/carts/"+testCartID.String(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, auth.Identity{UserID: 42}, carts.who)
}

func TestCreate_EncodesView(t *testing.T) {
	h := newServer(&fakeCarts{view: sampleView()})
	w := do(t, h, http.MethodPost, "/api/v1/carts", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	assert.JSONEq(t, `{
		"id": "6f1c1bd2-4c4c-4c55-9d2f-4b2f0e0f1a01",
		"user_id": 42,
		"status": "OPENED",
		"items": [{"id": 1, "name": "Apple", "qty": "3", "price": "10.00", "cost": "30.00", "is_weight": false}],
		"items_qty": "3",
		"cost": "25.00",
		"checkout_enabled": true,
		"coupon": {"coupon_id": "FIVE", "min_cart_cost": "20.00", "discount_abs": "5.00", "cart_cost": "25.00", "applied": true},
		"created_at": "2026-03-01T10:00:00Z",
		"updated_at": "2026-03-01T10:00:00Z"
	}`, w.Body.String())
}

func TestRoutes(t *testing.T) {
	base := "/api/v1/carts/" + testCartID.String()
	for _, tt := range []struct {
		method, path, body string
		call               string
	}{
		{http.MethodGet, base, "", "Get"},
		{http.MethodDelete, base, "", "Deactivate"},
		{http.MethodDelete, base + "/items", "", "Clear"},
		{http.MethodDelete, base + "/items/7", "", "DeleteItem"},
		{http.MethodDelete, base + "/coupon", "", "RemoveCoupon"},
		{http.MethodPost, base + "/lock", "", "Lock"},
		{http.MethodPost, base + "/unlock", "", "Unlock"},
		{http.MethodPost, base + "/complete", "", "Complete"},
		{http.MethodGet, base + "/items-qty", "", "ItemsQty"},
	} {
		t.Run(tt.method+" "+strings.TrimPrefix(tt.path, base), func(t *testing.T) {
			carts := &fakeCarts{view: sampleView()}
			w := do(t, newServer(carts), tt.method, tt.path, tt.body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []string{tt.call}, carts.calls)
		})
	}
}

func TestItemsQty(t *testing.T) {
	v := sampleView()
	v.ItemsQty = decimal.RequireFromString("2.5")
	w := do(t, newServer(&fakeCarts{view: v}), http.MethodGet, "/api/v1/carts/"+testCartID.String()+"/items-qty", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"6f1c1bd2-4c4c-4c55-9d2f-4b2f0e0f1a01","items_qty":"2.5"}`, w.Body.String())
}

func TestAddItem(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	h := newServer(carts)
	path := "/api/v1/carts/" + testCartID.String() + "/items"

	w := do(t, h, http.MethodPost, path, `{"item_id": 2, "qty": 1.25, "note": {"x": 1}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(2), carts.itemID)
	assert.True(t, carts.qty.Equal(decimal.RequireFromString("1.25")))

	w = do(t, h, http.MethodPost, path, `{"item_id": 2, "qty": "3"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, carts.qty.Equal(decimal.NewFromInt(3)))

	carts.calls = nil
	for _, body := range []string{
		`{"item_id": 2}`,
		`{"qty": 1}`,
		`{"item_id": "x", "qty": 1}`,
		`not json`,
		`{"item_id": 1, "qty": true}`,
		`{"item_id": 0, "qty": 1}`,
		`{"item_id": -4, "qty": 1}`,
	} {
		w := do(t, h, http.MethodPost, path, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, carts.calls)
}

func TestUpdateItem(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	h := newServer(carts)
	path := "/api/v1/carts/" + testCartID.String() + "/items/9"

	w := do(t, h, http.MethodPut, path, `{"qty": "4"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), carts.itemID)
	assert.True(t, carts.qty.Equal(decimal.NewFromInt(4)))

	w = do(t, h, http.MethodPut, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	carts.calls = nil
	for _, id := range []string{"abc", "0", "-1"} {
		w = do(t, h, http.MethodPut, "/api/v1/carts/"+testCartID.String()+"/items/"+id, `{"qty": 1}`)
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		w = do(t, h, http.MethodDelete, "/api/v1/carts/"+testCartID.String()+"/items/"+id, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
	}
	assert.Empty(t, carts.calls)
}

func TestApplyCoupon(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	h := newServer(carts)
	path := "/api/v1/carts/" + testCartID.String() + "/coupon"

	w := do(t, h, http.MethodPost, path, `{"code": "FIVE"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "FIVE", carts.code)

	w = do(t, h, http.MethodPost, path, `{"code": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvalidCartID(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	w := do(t, newServer(carts), http.MethodGet, "/api/v1/carts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, carts.calls)
}

func TestList(t *testing.T) {
	carts := &fakeCarts{view: sampleView()}
	h := newServer(carts)

	w := do(t, h, http.MethodGet, "/api/v1/carts?user_id=7&status=LOCKED&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, cart.ListFilter{UserID: 7, Status: cart.StatusLocked, Limit: 10, Offset: 20}, carts.filter)
	assert.Len(t, decodeBody(t, w)["carts"], 1)

	for _, q := range []string{"status=OPEN", "limit=-1", "user_id=x", "offset=y"} {
		w := do(t, h, http.MethodGet, "/api/v1/carts?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestErrorMapping(t *testing.T) {
	for _, tt := range []struct {
		err    error
		status int
		kind   string
	}{
		{cart.ErrCartNotFound, http.StatusNotFound, "cart_not_found"},
		{&cart.ItemNotFoundError{ItemID: 1}, http.StatusNotFound, "item_not_found"},
		{&cart.OwnershipError{CartID: testCartID, UserID: 7}, http.StatusForbidden, "forbidden"},
		{&cart.ItemAlreadyExistsError{CartID: testCartID, ItemID: 1}, http.StatusConflict, "item_exists"},
		{errors.Wrap(lock.ErrNotAcquired, "cart-lock-x"), http.StatusConflict, "cart_busy"},
		{errors.Wrapf(product.ErrNotFound, "cart %s: get product %d", testCartID, 5), http.StatusUnprocessableEntity, "product_not_found"},
		{coupon.ErrNotFound, http.StatusUnprocessableEntity, "coupon_not_found"},
		{coupon.ErrExpired, http.StatusUnprocessableEntity, "coupon_expired"},
		{&cart.OperationForbiddenError{Status: cart.StatusLocked}, http.StatusUnprocessableEntity, "operation_forbidden"},
		{&cart.ChangeStatusError{From: cart.StatusOpened, To: cart.StatusCompleted}, http.StatusUnprocessableEntity, "status_change_forbidden"},
		{cart.ErrFractionalQty, http.StatusUnprocessableEntity, "fractional_qty"},
		{cart.ErrInvalidItemID, http.StatusUnprocessableEntity, "invalid_item_id"},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal"},
	} {
		t.Run(tt.kind, func(t *testing.T) {
			w := do(t, newServer(&fakeCarts{err: tt.err}), http.MethodPost, "/api/v1/carts/"+testCartID.String()+"/lock", "")
			require.Equal(t, tt.status, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tt.kind, body["type"])
			assert.Equal(t, float64(tt.status), body["code"])
			if tt.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["message"])
			} else {
				assert.Equal(t, tt.err.Error(), body["message"])
			}
		})
	}
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1"
	assert.Equal(t, "ip:10.0.0.9", RateLimitKey(req))

	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: 42}))
	assert.Equal(t, "user:42", RateLimitKey(req))
}
