package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/graph"
)

const (
	enqueueOpSQL = `INSERT INTO graph_outbox (op) VALUES ($1::jsonb)`

	// A single relay drains at a time so ops reach the graph in commit order.
	relayLockSQL = `SELECT pg_try_advisory_xact_lock(hashtextextended('graph-outbox-relay', 0))`

	pendingOpsSQL = `SELECT id, op::text FROM graph_outbox
	ORDER BY id LIMIT $1`

	deleteOpsSQL = `DELETE FROM graph_outbox WHERE id = ANY($1)`
)

var _ graph.Mirror = (*OutboxMirror)(nil)

// OutboxMirror records graph writes as ops in graph_outbox, inside the
// caller's transaction. Reads go to reader, which sees the graph store the
// relay writes to.
type OutboxMirror struct {
	db     dbtx
	reader graph.Mirror
}

// NewOutboxMirror returns a mirror enqueuing through db and reading from reader.
func NewOutboxMirror(db dbtx, reader graph.Mirror) *OutboxMirror {
	return &OutboxMirror{db: db, reader: reader}
}

func (m *OutboxMirror) enqueue(ctx context.Context, op graph.Op) error {
	data, err := op.MarshalJSON()
	if err != nil {
		return err
	}
	if _, err := m.db.Exec(ctx, enqueueOpSQL, string(data)); err != nil {
		return fmt.Errorf("enqueueing %s for cart %s: %w", op.Kind, op.CartID, err)
	}
	return nil
}

func (m *OutboxMirror) CreateCart(ctx context.Context, cartID uuid.UUID) error {
	return m.enqueue(ctx, graph.Op{Kind: graph.OpCreateCart, CartID: cartID})
}

func (m *OutboxMirror) AddItem(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	return m.enqueue(ctx, graph.Op{Kind: graph.OpAddItem, CartID: cartID, ItemID: itemID, Qty: qty})
}

func (m *OutboxMirror) UpdateItemQty(ctx context.Context, cartID uuid.UUID, itemID int64, qty decimal.Decimal) error {
	return m.enqueue(ctx, graph.Op{Kind: graph.OpUpdateItem, CartID: cartID, ItemID: itemID, Qty: qty})
}

func (m *OutboxMirror) DeleteItem(ctx context.Context, cartID uuid.UUID, itemID int64) error {
	return m.enqueue(ctx, graph.Op{Kind: graph.OpDeleteItem, CartID: cartID, ItemID: itemID})
}

func (m *OutboxMirror) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	return m.enqueue(ctx, graph.Op{Kind: graph.OpClearCart, CartID: cartID})
}

// ItemsQty reads the external graph. Ops still queued in the outbox are not
// reflected.
func (m *OutboxMirror) ItemsQty(ctx context.Context, cartID uuid.UUID) (decimal.Decimal, error) {
	return m.reader.ItemsQty(ctx, cartID)
}

// OpApplier writes a batch of ops to a graph store. Applying the same batch
// twice must leave the store unchanged.
type OpApplier interface {
	ApplyOps(ctx context.Context, ops []graph.Op) error
}

// OutboxRelay moves ops from graph_outbox into an external graph store.
type OutboxRelay struct {
	pool     *pgxpool.Pool
	target   OpApplier
	batch    int
	interval time.Duration
	lg       *zap.Logger
}

// NewOutboxRelay creates a relay draining up to batch ops every interval.
func NewOutboxRelay(pool *pgxpool.Pool, target OpApplier, batch int, interval time.Duration, lg *zap.Logger) *OutboxRelay {
	if batch <= 0 {
		batch = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxRelay{pool: pool, target: target, batch: batch, interval: interval, lg: lg}
}

// Run drains the outbox until ctx is done. Failed batches stay queued and are
// retried on the next tick.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.Drain(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.lg.Warn("Graph outbox relay failed", zap.Error(err))
				}
				break
			}
			if n < r.batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain applies one batch and returns how many ops it relayed.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	var locked bool
	if err := tx.QueryRow(ctx, relayLockSQL).Scan(&locked); err != nil {
		return 0, errors.Wrap(err, "relay lock")
	}
	if !locked {
		return 0, nil
	}

	rows, err := tx.Query(ctx, pendingOpsSQL, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "query outbox")
	}
	type pending struct {
		ID  int64
		Raw string
	}
	queued, err := pgx.CollectRows(rows, pgx.RowToStructByPos[pending])
	if err != nil {
		return 0, errors.Wrap(err, "scan outbox")
	}
	if len(queued) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(queued))
	ops := make([]graph.Op, 0, len(queued))
	for _, p := range queued {
		var op graph.Op
		if err := op.UnmarshalJSON([]byte(p.Raw)); err != nil {
			return 0, errors.Wrapf(err, "decode outbox op %d", p.ID)
		}
		ids = append(ids, p.ID)
		ops = append(ops, op)
	}

	if err := r.target.ApplyOps(ctx, ops); err != nil {
		return 0, errors.Wrap(err, "apply ops")
	}
	if _, err := tx.Exec(ctx, deleteOpsSQL, ids); err != nil {
		return 0, errors.Wrap(err, "delete relayed ops")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit")
	}
	return len(ops), nil
}
