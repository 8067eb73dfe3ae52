package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-cart/internal/domain/cart"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{
		"min_cost_for_checkout": 100.5,
		"max_items_qty": "50",
		"limit_items_by_id": {"1": 5, "42": "2.5"},
		"comment": {"ignored": [1, 2]}
	}`))
	require.NoError(t, err)

	assert.True(t, cfg.MinCostForCheckout.Equal(decimal.RequireFromString("100.5")))
	require.True(t, cfg.MaxItemsQty.Valid)
	assert.True(t, cfg.MaxItemsQty.Decimal.Equal(decimal.NewFromInt(50)))
	require.Len(t, cfg.LimitItemsByID, 2)
	assert.True(t, cfg.LimitItemsByID[1].Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.LimitItemsByID[42].Equal(decimal.RequireFromString("2.5")))
}

func TestDecodeConfig_NullMaxItemsQty(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{"min_cost_for_checkout": "0", "max_items_qty": null}`))
	require.NoError(t, err)
	assert.False(t, cfg.MaxItemsQty.Valid)
	assert.Empty(t, cfg.LimitItemsByID)
}

func TestDecodeConfig_Invalid(t *testing.T) {
	for name, input := range map[string]string{
		"not an object": `[1]`,
		"bad decimal":   `{"min_cost_for_checkout": "ten"}`,
		"bool qty":      `{"max_items_qty": true}`,
		"bad item id":   `{"limit_items_by_id": {"x": 1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeConfig([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestEncodeConfig(t *testing.T) {
	cfg := cart.Config{
		MinCostForCheckout: decimal.NewFromInt(100),
		LimitItemsByID: map[int64]decimal.Decimal{
			7: decimal.NewFromInt(3),
			2: decimal.RequireFromString("1.5"),
		},
	}
	assert.JSONEq(t,
		`{"min_cost_for_checkout":"100","max_items_qty":null,"limit_items_by_id":{"2":"1.5","7":"3"}}`,
		string(EncodeConfig(cfg)))

	back, err := DecodeConfig(EncodeConfig(cfg))
	require.NoError(t, err)
	assert.False(t, back.MaxItemsQty.Valid)
	assert.True(t, back.LimitItemsByID[2].Equal(cfg.LimitItemsByID[2]))
}

func TestValidGraphName(t *testing.T) {
	assert.True(t, ValidGraphName("cart_graph"))
	assert.True(t, ValidGraphName("_g1"))
	assert.False(t, ValidGraphName("Cart"))
	assert.False(t, ValidGraphName("1g"))
	assert.False(t, ValidGraphName("g'; DROP"))
	assert.False(t, ValidGraphName(""))
}
