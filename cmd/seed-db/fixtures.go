package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/domain/coupon"
	"github.com/xenking/kart-cart/internal/domain/product"
	"github.com/xenking/kart-cart/internal/storage/postgres"
)

// fixtures is the content of a seed file:
//
//	{"products": [...], "coupons": [...], "cart_configs": {"cart": {...}}}
type fixtures struct {
	Products []product.Product
	Coupons  []coupon.Coupon
	Configs  map[string]cart.Config
}

// readFixtures loads a seed file, gunzipping it when the name ends in .gz.
func readFixtures(path string) (*fixtures, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return decodeFixtures(data)
}

func decodeFixtures(data []byte) (*fixtures, error) {
	fx := &fixtures{Configs: make(map[string]cart.Config)}
	err := jx.DecodeBytes(bytes.TrimSpace(data)).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return errors.Wrapf(err, "product #%d", len(fx.Products))
				}
				fx.Products = append(fx.Products, p)
				return nil
			})
		case "coupons":
			return d.Arr(func(d *jx.Decoder) error {
				c, err := decodeCoupon(d)
				if err != nil {
					return errors.Wrapf(err, "coupon #%d", len(fx.Coupons))
				}
				fx.Coupons = append(fx.Coupons, c)
				return nil
			})
		case "cart_configs":
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				raw, err := d.Raw()
				if err != nil {
					return errors.Wrapf(err, "cart config %s", name)
				}
				cfg, err := postgres.DecodeConfig(raw)
				if err != nil {
					return errors.Wrapf(err, "cart config %s", name)
				}
				fx.Configs[string(name)] = cfg
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode fixtures")
	}
	return fx, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var (
		p        product.Product
		hasID    bool
		hasPrice bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Int64()
			hasID = true
		case "title":
			p.Title, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
			hasPrice = true
		case "is_weight":
			p.IsWeight, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return p, err
	}
	if !hasID || !hasPrice || p.Title == "" {
		return p, errors.New("id, title and price are required")
	}
	return p, nil
}

func decodeCoupon(d *jx.Decoder) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			c.Code, err = d.Str()
		case "min_cart_cost":
			c.MinCartCost, err = decodeDecimal(d)
		case "discount_abs":
			c.DiscountAbs, err = decodeDecimal(d)
		case "valid_from":
			c.ValidFrom, err = decodeTime(d)
		case "valid_until":
			c.ValidUntil, err = decodeTime(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return c, err
	}
	if c.Code == "" {
		return c, errors.New("code is required")
	}
	return c, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Number {
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	}
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
