package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-cart/internal/domain/cart"
	"github.com/xenking/kart-cart/internal/graph"
)

// MirrorFactory binds a graph mirror to a transaction.
type MirrorFactory func(tx pgx.Tx) graph.Mirror

// AGE returns a factory for the in-database mirror on graphName.
func AGE(graphName string) MirrorFactory {
	return func(tx pgx.Tx) graph.Mirror { return NewAGEMirror(tx, graphName) }
}

// Outbox returns a factory that queues graph ops for the relay and reads
// quantities from reader.
func Outbox(reader graph.Mirror) MirrorFactory {
	return func(tx pgx.Tx) graph.Mirror { return NewOutboxMirror(tx, reader) }
}

var _ cart.UnitOfWork = (*UnitOfWork)(nil)

// UnitOfWork runs cart operations in a single pgx transaction. Every
// repository of the Store, the graph mirror included, executes through it.
type UnitOfWork struct {
	pool       *pgxpool.Pool
	mirror     MirrorFactory
	configName string
	fallback   cart.Config
}

// NewUnitOfWork creates a UnitOfWork. Carts are loaded with the policy stored
// under configName, or fallback when it is missing.
func NewUnitOfWork(pool *pgxpool.Pool, mirror MirrorFactory, configName string, fallback cart.Config) *UnitOfWork {
	return &UnitOfWork{pool: pool, mirror: mirror, configName: configName, fallback: fallback}
}

func (u *UnitOfWork) Run(ctx context.Context, autocommit bool, fn func(ctx context.Context, s cart.Store) error) (err error) {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Roll back even when ctx is already canceled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && err == nil {
			err = fmt.Errorf("rolling back transaction: %w", rbErr)
		}
	}()

	if err := fn(ctx, u.store(tx)); err != nil {
		return err
	}
	if !autocommit {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}

func (u *UnitOfWork) store(tx pgx.Tx) *store {
	mirror := u.mirror(tx)
	return &store{
		carts:   NewCartRepository(tx, mirror, NewConfigRepository(tx, u.configName, u.fallback)),
		items:   NewItemRepository(tx, mirror),
		coupons: NewCartCouponRepository(tx),
	}
}

type store struct {
	carts   *CartRepository
	items   *ItemRepository
	coupons *CartCouponRepository
}

func (s *store) Carts() cart.Repository         { return s.carts }
func (s *store) Items() cart.ItemRepository     { return s.items }
func (s *store) Coupons() cart.CouponRepository { return s.coupons }
