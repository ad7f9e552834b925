package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// connSource is the slice of pgxpool.Pool the bounded adapter relies on.
type connSource interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewBoundedPool wraps a pgxpool.Pool so that waiting for a free connection
// is capped at acquireTimeout. pgxpool itself blocks indefinitely once every
// connection is busy; the adapter acquires under its own deadline and
// surfaces expiry as ErrStoreUnavailable. The caller's own cancellation or
// deadline passes through untouched. A non-positive timeout returns the pool
// as is.
func NewBoundedPool(pool *pgxpool.Pool, acquireTimeout time.Duration) DBPool {
	if acquireTimeout <= 0 {
		return pool
	}
	return &boundedPool{src: pool, timeout: acquireTimeout}
}

type boundedPool struct {
	src     connSource
	timeout time.Duration
}

var _ DBPool = (*boundedPool)(nil)

// mapAcquireErr distinguishes the adapter's own deadline from the caller's:
// only an expiry the caller did not cause becomes ErrStoreUnavailable.
func (b *boundedPool) mapAcquireErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: no free connection within %s", schemas.ErrStoreUnavailable, b.timeout)
	}
	return err
}

func (b *boundedPool) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	conn, err := b.src.Acquire(actx)
	if err != nil {
		return nil, b.mapAcquireErr(ctx, err)
	}
	return conn, nil
}

func (b *boundedPool) Ping(ctx context.Context) error {
	conn, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

func (b *boundedPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Release()
	return conn.Exec(ctx, sql, args...)
}

func (b *boundedPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		conn.Release()
		return nil, err
	}
	return &releasingRows{Rows: rows, conn: conn}, nil
}

func (b *boundedPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := b.acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &releasingRow{row: conn.QueryRow(ctx, sql, args...), conn: conn}
}

// Begin bounds only the acquire-and-BEGIN step. pgxpool's transaction wrapper
// returns the connection to the pool on Commit or Rollback.
func (b *boundedPool) Begin(ctx context.Context) (pgx.Tx, error) {
	actx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	tx, err := b.src.Begin(actx)
	if err != nil {
		return nil, b.mapAcquireErr(ctx, err)
	}
	return tx, nil
}

// releasingRows hands the acquired connection back when the result set is
// closed. pgx closes rows implicitly on iteration errors, so Close may run
// more than once.
type releasingRows struct {
	pgx.Rows
	conn *pgxpool.Conn
}

func (r *releasingRows) Close() {
	r.Rows.Close()
	if r.conn != nil {
		r.conn.Release()
		r.conn = nil
	}
}

// releasingRow defers the release until Scan, which is when pgx actually
// reads the row.
type releasingRow struct {
	row  pgx.Row
	conn *pgxpool.Conn
}

func (r *releasingRow) Scan(dest ...any) error {
	defer r.conn.Release()
	return r.row.Scan(dest...)
}

// errRow reports an acquisition failure through the pgx.Row contract.
type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }
