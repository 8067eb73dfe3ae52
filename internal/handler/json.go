package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/cart"
)

const maxBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondView(w http.ResponseWriter, r *http.Request, status int, v cart.View, err error) {
	if err != nil {
		respondError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeView(&e, v)
	writeJSON(w, status, e.Bytes())
}

func encodeViews(views []cart.View) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("carts")
	e.ArrStart()
	for _, v := range views {
		encodeView(&e, v)
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func encodeItemsQty(id uuid.UUID, qty decimal.Decimal) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id.String())
	e.FieldStart("items_qty")
	e.Str(qty.String())
	e.ObjEnd()
	return e.Bytes()
}

// encodeView renders decimals as strings to keep their precision.
func encodeView(e *jx.Encoder, v cart.View) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(v.ID.String())
	e.FieldStart("user_id")
	e.Int64(v.UserID)
	e.FieldStart("status")
	e.Str(v.Status.String())

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range v.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(it.ID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("qty")
		e.Str(it.Qty.String())
		e.FieldStart("price")
		e.Str(it.Price.StringFixed(2))
		e.FieldStart("cost")
		e.Str(it.Cost.StringFixed(2))
		e.FieldStart("is_weight")
		e.Bool(it.IsWeight)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("items_qty")
	e.Str(v.ItemsQty.String())
	e.FieldStart("cost")
	e.Str(v.Cost.StringFixed(2))
	e.FieldStart("checkout_enabled")
	e.Bool(v.CheckoutEnabled)

	e.FieldStart("coupon")
	if cp := v.Coupon; cp != nil {
		e.ObjStart()
		e.FieldStart("coupon_id")
		e.Str(cp.CouponID)
		e.FieldStart("min_cart_cost")
		e.Str(cp.MinCartCost.StringFixed(2))
		e.FieldStart("discount_abs")
		e.Str(cp.DiscountAbs.StringFixed(2))
		e.FieldStart("cart_cost")
		e.Str(cp.CartCost.StringFixed(2))
		e.FieldStart("applied")
		e.Bool(cp.Applied)
		e.ObjEnd()
	} else {
		e.Null()
	}

	e.FieldStart("created_at")
	e.Str(v.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("updated_at")
	e.Str(v.UpdatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

type addItemRequest struct {
	ItemID int64
	Qty    decimal.Decimal
}

func decoder(body io.Reader) *jx.Decoder {
	return jx.Decode(io.LimitReader(body, maxBodySize), 512)
}

// decodeAddItem reads {"item_id": 1, "qty": "2.5"}.
func decodeAddItem(body io.Reader) (addItemRequest, error) {
	var (
		req           addItemRequest
		hasID, hasQty bool
	)
	err := decoder(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "item_id":
			id, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "item_id")
			}
			if id <= 0 {
				return errors.New("item_id must be positive")
			}
			req.ItemID, hasID = id, true
		case "qty":
			qty, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "qty")
			}
			req.Qty, hasQty = qty, true
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return req, errors.Wrap(err, "decode body")
	}
	if !hasID || !hasQty {
		return req, errors.New("item_id and qty are required")
	}
	return req, nil
}

// decodeQty reads {"qty": "2.5"}.
func decodeQty(body io.Reader) (decimal.Decimal, error) {
	var (
		qty    decimal.Decimal
		hasQty bool
	)
	err := decoder(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "qty" {
			return d.Skip()
		}
		v, err := decodeDecimal(d)
		if err != nil {
			return errors.Wrap(err, "qty")
		}
		qty, hasQty = v, true
		return nil
	})
	if err != nil {
		return qty, errors.Wrap(err, "decode body")
	}
	if !hasQty {
		return qty, errors.New("qty is required")
	}
	return qty, nil
}

// decodeCouponCode reads {"code": "FIVE"}.
func decodeCouponCode(body io.Reader) (string, error) {
	var code string
	err := decoder(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		if err != nil {
			return errors.Wrap(err, "code")
		}
		code = v
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "decode body")
	}
	if code == "" {
		return "", errors.New("code is required")
	}
	return code, nil
}

// decodeDecimal accepts a JSON string or number.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	default:
		return decimal.Zero, errors.Errorf("unexpected %s, want decimal", d.Next())
	}
}
