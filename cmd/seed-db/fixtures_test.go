package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"products": [{"id": 3, "title": "Milk", "price": "1.49", "is_weight": false, "sku": "ignored"}],
	"coupons": [
		{"code": "FIVEOFF", "min_cart_cost": 20, "discount_abs": "5"},
		{"code": "SPRING3", "discount_abs": "3", "valid_from": "2026-03-01T00:00:00Z", "valid_until": null}
	],
	"cart_configs": {"cart": {"min_cost_for_checkout": "10", "max_items_qty": null, "limit_items_by_id": {"3": "12"}}},
	"version": 2
}`

func TestDecodeFixtures(t *testing.T) {
	fx, err := decodeFixtures([]byte(sample))
	require.NoError(t, err)

	require.Len(t, fx.Products, 1)
	assert.Equal(t, int64(3), fx.Products[0].ID)
	assert.Equal(t, "Milk", fx.Products[0].Title)
	assert.True(t, fx.Products[0].Price.Equal(decimal.RequireFromString("1.49")))

	require.Len(t, fx.Coupons, 2)
	assert.True(t, fx.Coupons[0].MinCartCost.Equal(decimal.NewFromInt(20)))
	assert.Nil(t, fx.Coupons[0].ValidFrom)
	require.NotNil(t, fx.Coupons[1].ValidFrom)
	assert.True(t, fx.Coupons[1].ValidFrom.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, fx.Coupons[1].ValidUntil)

	cfg, ok := fx.Configs["cart"]
	require.True(t, ok)
	assert.True(t, cfg.MinCostForCheckout.Equal(decimal.NewFromInt(10)))
	assert.False(t, cfg.MaxItemsQty.Valid)
	limit, ok := cfg.ItemLimit(3)
	require.True(t, ok)
	assert.True(t, limit.Equal(decimal.NewFromInt(12)))
}

func TestDecodeFixtures_Invalid(t *testing.T) {
	for _, body := range []string{
		`{"products": [{"title": "No id", "price": "1"}]}`,
		`{"products": [{"id": 1, "title": "Milk", "price": "cheap"}]}`,
		`{"coupons": [{"discount_abs": "1"}]}`,
		`{"coupons": [{"code": "X", "valid_from": "yesterday"}]}`,
		`{"cart_configs": {"cart": {"min_cost_for_checkout": "x"}}}`,
		`[]`,
	} {
		_, err := decodeFixtures([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestDecodeFixtures_FieldErrors(t *testing.T) {
	fx, err := decodeFixtures([]byte(`{"products": [{"id": 1, "title": "Milk", "price": "1"}, {"id": 2, "title": "Tea", "price": "cheap"}]}`))
	require.Error(t, err)
	assert.Nil(t, fx)
	assert.Contains(t, err.Error(), "product #1")
	assert.Contains(t, err.Error(), "price")
	assert.Contains(t, err.Error(), "can't convert cheap to decimal")

	_, err = decodeFixtures([]byte(`{"coupons": [{"code": "X", "valid_until": "soon"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coupon #0")
	assert.Contains(t, err.Error(), "valid_until")
}

func TestReadFixtures_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	fx, err := readFixtures(path)
	require.NoError(t, err)
	assert.Len(t, fx.Products, 1)
	assert.Len(t, fx.Coupons, 2)
}

func TestReadFixtures_Bundled(t *testing.T) {
	fx, err := readFixtures(filepath.Join("..", "..", "db", "seed", "fixtures.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, fx.Products)
	assert.NotEmpty(t, fx.Coupons)
	assert.Contains(t, fx.Configs, "cart")
}
