// Package neo4jgraph stores the cart graph in Neo4j.
package neo4jgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-cart/internal/graph"
)

// Config holds Neo4j connection settings.
type Config struct {
	URI         string        `usage:"Neo4j bolt URI, empty disables the Neo4j mirror"`
	User        string        `default:"neo4j" usage:"Neo4j user"`
	Password    string        `usage:"Neo4j password"`
	Database    string        `usage:"Neo4j database, empty selects the server default"`
	MaxPoolSize int           `default:"50" usage:"Neo4j connection pool size"`
	Timeout     time.Duration `default:"10s" usage:"Neo4j connect timeout"`
}

// Connect creates a driver and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	return driver, nil
}

var _ graph.Mirror = (*Mirror)(nil)

// Mirror implements graph.Mirror on Neo4j. Every write is idempotent so that
// replaying an op log after a partial failure converges.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewMirror returns a Mirror writing to database (empty for the default).
func NewMirror(driver neo4j.DriverWithContext, database string) *Mirror {
	return &Mirror{driver: driver, database: database}
}

const (
	cypherCreateCart = `MERGE (:Cart {id: $cart_id})`
	cypherAddItem    = `
MERGE (c:Cart {id: $cart_id})
MERGE (i:CartItem {id: $item_id, cart_id: $cart_id})
SET i.qty = $qty
MERGE (c)-[r:CONTAINS]->(i)
SET r.qty = $qty`
	cypherUpdateItem = `
MATCH (:Cart {id: $cart_id})-[r:CONTAINS]->(i:CartItem {id: $item_id})
SET r.qty = $qty, i.qty = $qty`
	cypherDeleteItem = `
MATCH (:Cart {id: $cart_id})-[:CONTAINS]->(i:CartItem {id: $item_id})
DETACH DELETE i`
	cypherClearCart = `
MATCH (:Cart {id: $cart_id})-[:CONTAINS]->(i:CartItem)
DETACH DELETE i`
	cypherItemsQty = `
MATCH (:Cart {id: $cart_id})-[r:CONTAINS]->(:CartItem)
RETURN r.qty AS qty`
)

// EnsureSchema creates the uniqueness constraints the writes rely on.
func (m *Mirror) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE CONSTRAINT cart_id IF NOT EXISTS FOR (c:Cart) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT cart_item_id IF NOT EXISTS FOR (i:CartItem) REQUIRE (i.id, i.cart_id) IS UNIQUE`,
	} {
		if err := m.write(ctx, func(ctx context.Context, r runner) error {
			return exec(ctx, r, stmt, nil)
		}); err != nil {
			return errors.Wrap(err, "ensure schema")
		}
	}
	return nil
}

// CreateCart implements graph.Mirror.
func (m *Mirror) CreateCart(ctx context.Context, cartID uuid.UUID) error {
	return m.ApplyOps(ctx, []graph.Op{{Kind: graph.OpCreateCart, CartID: cartID}})
}

// AddItem implements graph.Mirror.
func (m *Mirror) AddItem(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	return m.ApplyOps(ctx, []graph.Op{{Kind: graph.OpAddItem, CartID: cartID, ItemID: itemID, Qty: qty}})
}

// UpdateItemQty implements graph.Mirror.
func (m *Mirror) UpdateItemQty(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	return m.ApplyOps(ctx, []graph.Op{{Kind: graph.OpUpdateItem, CartID: cartID, ItemID: itemID, Qty: qty}})
}

// DeleteItem implements graph.Mirror.
func (m *Mirror) DeleteItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	return m.ApplyOps(ctx, []graph.Op{{Kind: graph.OpDeleteItem, CartID: cartID, ItemID: itemID}})
}

// ClearCart implements graph.Mirror.
func (m *Mirror) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	return m.ApplyOps(ctx, []graph.Op{{Kind: graph.OpClearCart, CartID: cartID}})
}

// ApplyOps applies ops in order inside a single write transaction.
func (m *Mirror) ApplyOps(ctx context.Context, ops []graph.Op) error {
	return m.write(ctx, func(ctx context.Context, r runner) error {
		for _, op := range ops {
			cypher, params, err := statement(op)
			if err != nil {
				return err
			}
			if err := exec(ctx, r, cypher, params); err != nil {
				return errors.Wrapf(err, "%s %s", op.Kind, op.CartID)
			}
		}
		return nil
	})
}

// ItemsQty implements graph.Mirror.
func (m *Mirror) ItemsQty(ctx context.Context, cartID uuid.UUID) (decimal.Decimal, error) {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: m.database,
	})
	defer session.Close(ctx)

	total, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypherItemsQty, map[string]any{"cart_id": cartID.String()})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		sum := decimal.Zero
		for _, rec := range records {
			raw, _ := rec.Get("qty")
			s, ok := raw.(string)
			if !ok {
				return nil, errors.Errorf("unexpected qty %T", raw)
			}
			qty, err := decimal.NewFromString(s)
			if err != nil {
				return nil, errors.Wrapf(err, "parse qty %q", s)
			}
			sum = sum.Add(qty)
		}
		return sum, nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("neo4j: items qty of cart %s: %w", cartID, err)
	}
	return total.(decimal.Decimal), nil
}

type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

func (m *Mirror) write(ctx context.Context, fn func(ctx context.Context, r runner) error) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("neo4j: %w", err)
	}
	return nil
}

func exec(ctx context.Context, r runner, cypher string, params map[string]any) error {
	res, err := r.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func statement(op graph.Op) (string, map[string]any, error) {
	params := map[string]any{"cart_id": op.CartID.String()}
	switch op.Kind {
	case graph.OpCreateCart:
		return cypherCreateCart, params, nil
	case graph.OpAddItem:
		params["item_id"] = op.ItemID
		params["qty"] = op.Qty.String()
		return cypherAddItem, params, nil
	case graph.OpUpdateItem:
		params["item_id"] = op.ItemID
		params["qty"] = op.Qty.String()
		return cypherUpdateItem, params, nil
	case graph.OpDeleteItem:
		params["item_id"] = op.ItemID
		return cypherDeleteItem, params, nil
	case graph.OpClearCart:
		return cypherClearCart, params, nil
	default:
		return "", nil, &graph.UnknownOpError{Kind: op.Kind}
	}
}
