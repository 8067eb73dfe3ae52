package lock

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Locker = (*Postgres)(nil)

// Postgres is a Locker built on session level advisory locks. The lock lives
// on a dedicated pooled connection and disappears with it, so TTL is unused.
type Postgres struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgres creates an advisory-lock Locker on pool.
func NewPostgres(pool *pgxpool.Pool, opts Options) *Postgres {
	return &Postgres{pool: pool, opts: opts.withDefaults()}
}

// Acquire implements Locker.
func (p *Postgres) Acquire(ctx context.Context, name string) (Handle, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for %s: %w", name, err)
	}

	err = poll(ctx, name, p.opts, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, name,
		).Scan(&ok); err != nil {
			return false, fmt.Errorf("trying advisory lock %s: %w", name, err)
		}
		return ok, nil
	})
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &pgHandle{conn: conn, name: name}, nil
}

type pgHandle struct {
	conn *pgxpool.Conn
	name string
}

func (h *pgHandle) Release(ctx context.Context) error {
	if h.conn == nil {
		return nil
	}
	conn := h.conn
	h.conn = nil

	var unlocked bool
	err := conn.QueryRow(ctx,
		`SELECT pg_advisory_unlock(hashtextextended($1, 0))`, h.name,
	).Scan(&unlocked)
	if err != nil || !unlocked {
		// Closing the session drops any advisory lock it still holds.
		_ = conn.Hijack().Close(ctx)
		if err != nil {
			return errors.Wrapf(err, "advisory unlock %s", h.name)
		}
		return errors.Errorf("advisory lock %s was not held", h.name)
	}
	conn.Release()
	return nil
}
