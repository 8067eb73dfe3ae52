package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOp_DecodeIgnoresUnknownFields(t *testing.T) {
	var op Op
	err := op.UnmarshalJSON([]byte(`{"kind":"add_item","cart_id":"0b9c7b32-4a6f-4b55-9a1c-3f0d6a2e56c1","item_id":7,"qty":"2.5","extra":{"a":[1]}}`))
	require.NoError(t, err)

	assert.Equal(t, OpAddItem, op.Kind)
	assert.Equal(t, uuid.MustParse("0b9c7b32-4a6f-4b55-9a1c-3f0d6a2e56c1"), op.CartID)
	assert.Equal(t, int64(7), op.ItemID)
	assert.True(t, decimal.RequireFromString("2.5").Equal(op.Qty))
}

func TestOp_EncodeOmitsQtyForDeletes(t *testing.T) {
	op := Op{Kind: OpDeleteItem, CartID: uuid.MustParse("0b9c7b32-4a6f-4b55-9a1c-3f0d6a2e56c1"), ItemID: 3}
	data, err := op.MarshalJSON()
	require.NoError(t, err)

	assert.JSONEq(t, `{"kind":"delete_item","cart_id":"0b9c7b32-4a6f-4b55-9a1c-3f0d6a2e56c1","item_id":3}`, string(data))
}

func TestOp_DecodeBadCartID(t *testing.T) {
	var op Op
	require.Error(t, op.UnmarshalJSON([]byte(`{"kind":"clear_cart","cart_id":"nope"}`)))
}
