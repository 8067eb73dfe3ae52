package graph

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OpKind names a graph mutation.
type OpKind string

const (
	OpCreateCart OpKind = "create_cart"
	OpAddItem    OpKind = "add_item"
	OpUpdateItem OpKind = "update_item"
	OpDeleteItem OpKind = "delete_item"
	OpClearCart  OpKind = "clear_cart"
)

// Op is one recorded graph mutation.
type Op struct {
	Kind   OpKind
	CartID uuid.UUID
	ItemID int64
	Qty    decimal.Decimal
}

// UnknownOpError is returned for op kinds this version cannot apply.
type UnknownOpError struct {
	Kind OpKind
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("unknown graph op %q", e.Kind)
}

// Encode writes op as a JSON object.
func (op Op) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("kind")
	e.Str(string(op.Kind))
	e.FieldStart("cart_id")
	e.Str(op.CartID.String())
	if op.ItemID != 0 {
		e.FieldStart("item_id")
		e.Int64(op.ItemID)
	}
	if op.Kind == OpAddItem || op.Kind == OpUpdateItem {
		e.FieldStart("qty")
		e.Str(op.Qty.String())
	}
	e.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (op Op) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	op.Encode(&e)
	return e.Bytes(), nil
}

// Decode reads an op written by Encode.
func (op *Op) Decode(d *jx.Decoder) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "kind":
			v, err := d.Str()
			if err != nil {
				return err
			}
			op.Kind = OpKind(v)
		case "cart_id":
			v, err := d.Str()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(v)
			if err != nil {
				return errors.Wrap(err, "cart_id")
			}
			op.CartID = id
		case "item_id":
			v, err := d.Int64()
			if err != nil {
				return err
			}
			op.ItemID = v
		case "qty":
			v, err := d.Str()
			if err != nil {
				return err
			}
			qty, err := decimal.NewFromString(v)
			if err != nil {
				return errors.Wrap(err, "qty")
			}
			op.Qty = qty
		default:
			return d.Skip()
		}
		return nil
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (op *Op) UnmarshalJSON(data []byte) error {
	return op.Decode(jx.DecodeBytes(data))
}
