package postgres

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/domain/cart"
)

const (
	getCartConfigSQL = `SELECT value FROM cart_config WHERE name = $1`

	upsertCartConfigSQL = `INSERT INTO cart_config (name, value) VALUES ($1, $2)
	ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

// ConfigRepository loads the cart policy record stored under a name in
// cart_config. Missing records fall back to a default policy.
type ConfigRepository struct {
	db       dbtx
	name     string
	fallback cart.Config
}

// NewConfigRepository creates a ConfigRepository for the named record.
func NewConfigRepository(db dbtx, name string, fallback cart.Config) *ConfigRepository {
	return &ConfigRepository{db: db, name: name, fallback: fallback}
}

// Get returns the stored policy or the fallback when none is stored.
func (r *ConfigRepository) Get(ctx context.Context) (cart.Config, error) {
	var value string
	err := r.db.QueryRow(ctx, getCartConfigSQL, r.name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r.fallback, nil
		}
		return cart.Config{}, fmt.Errorf("getting cart config %q: %w", r.name, err)
	}
	cfg, err := DecodeConfig([]byte(value))
	if err != nil {
		return cart.Config{}, fmt.Errorf("decoding cart config %q: %w", r.name, err)
	}
	return cfg, nil
}

// Save stores cfg under the repository name.
func (r *ConfigRepository) Save(ctx context.Context, cfg cart.Config) error {
	if _, err := r.db.Exec(ctx, upsertCartConfigSQL, r.name, string(EncodeConfig(cfg))); err != nil {
		return fmt.Errorf("saving cart config %q: %w", r.name, err)
	}
	return nil
}

// DecodeConfig parses the JSON form of the cart policy:
//
//	{"min_cost_for_checkout": "100", "max_items_qty": null, "limit_items_by_id": {"1": "5"}}
//
// Quantities and costs may be JSON strings or numbers.
func DecodeConfig(data []byte) (cart.Config, error) {
	var cfg cart.Config
	d := jx.DecodeBytes(data)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "min_cost_for_checkout":
			v, err := decodeDecimal(d)
			if err != nil {
				return fmt.Errorf("min_cost_for_checkout: %w", err)
			}
			cfg.MinCostForCheckout = v
		case "max_items_qty":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := decodeDecimal(d)
			if err != nil {
				return fmt.Errorf("max_items_qty: %w", err)
			}
			cfg.MaxItemsQty = decimal.NewNullDecimal(v)
		case "limit_items_by_id":
			cfg.LimitItemsByID = make(map[int64]decimal.Decimal)
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				id, err := strconv.ParseInt(string(key), 10, 64)
				if err != nil {
					return fmt.Errorf("limit_items_by_id: item id %q: %w", key, err)
				}
				v, err := decodeDecimal(d)
				if err != nil {
					return fmt.Errorf("limit_items_by_id[%d]: %w", id, err)
				}
				cfg.LimitItemsByID[id] = v
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return cart.Config{}, err
	}
	return cfg, nil
}

// EncodeConfig renders cfg in the form DecodeConfig reads.
func EncodeConfig(cfg cart.Config) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("min_cost_for_checkout")
	e.Str(cfg.MinCostForCheckout.String())
	e.FieldStart("max_items_qty")
	if cfg.MaxItemsQty.Valid {
		e.Str(cfg.MaxItemsQty.Decimal.String())
	} else {
		e.Null()
	}
	e.FieldStart("limit_items_by_id")
	e.ObjStart()
	ids := make([]int64, 0, len(cfg.LimitItemsByID))
	for id := range cfg.LimitItemsByID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e.FieldStart(strconv.FormatInt(id, 10))
		e.Str(cfg.LimitItemsByID[id].String())
	}
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}

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
		return decimal.Zero, fmt.Errorf("unexpected %s, want decimal", d.Next())
	}
}
