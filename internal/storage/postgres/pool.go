// Package postgres implements cart storage on PostgreSQL with pgx.
//
// Relational rows and the graph mirror are written through the same pgx.Tx.
// With Apache AGE the graph lives in the database itself; otherwise graph ops
// are queued in graph_outbox and relayed to an external graph store.
package postgres

import (
	"context"
	"fmt"
	"regexp"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-cart/db"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolOptions tune connection setup.
type PoolOptions struct {
	// LoadAGE loads the Apache AGE library on every new connection.
	LoadAGE bool
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		if opts.LoadAGE {
			if _, err := conn.Exec(ctx, `LOAD 'age'`); err != nil {
				return fmt.Errorf("loading age: %w", err)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

var graphNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidGraphName reports whether name can be used as an AGE graph name.
func ValidGraphName(name string) bool {
	return graphNameRe.MatchString(name)
}

// RunMigrations executes the embedded DDL schema against the pool. A non-empty
// graphName also installs the AGE functions and creates the graph when missing.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, graphName string) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if graphName == "" {
		return nil
	}
	if !ValidGraphName(graphName) {
		return fmt.Errorf("invalid graph name %q", graphName)
	}
	if _, err := pool.Exec(ctx, db.GraphSchema); err != nil {
		return fmt.Errorf("running graph migrations: %w", err)
	}

	var exists bool
	if err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ag_catalog.ag_graph WHERE name = $1::name)`, graphName,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking graph %q: %w", graphName, err)
	}
	if exists {
		return nil
	}
	if _, err := pool.Exec(ctx, `SELECT ag_catalog.create_graph($1::name)`, graphName); err != nil {
		return fmt.Errorf("creating graph %q: %w", graphName, err)
	}
	return nil
}
