package graph

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// exhaustedSource models a pool with every connection busy: acquisition
// blocks until the supplied context gives up.
type exhaustedSource struct{}

func (exhaustedSource) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (exhaustedSource) Begin(ctx context.Context) (pgx.Tx, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBoundedPoolAcquireTimeout(t *testing.T) {
	t.Parallel()
	pool := &boundedPool{src: exhaustedSource{}, timeout: 5 * time.Millisecond}
	ctx := context.Background()

	t.Run("exec", func(t *testing.T) {
		_, err := pool.Exec(ctx, "SELECT 1")
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("query", func(t *testing.T) {
		_, err := pool.Query(ctx, "SELECT 1")
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("query row defers the error to scan", func(t *testing.T) {
		var n int
		err := pool.QueryRow(ctx, "SELECT 1").Scan(&n)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("begin", func(t *testing.T) {
		_, err := pool.Begin(ctx)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("ping", func(t *testing.T) {
		err := pool.Ping(ctx)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})
}

func TestBoundedPoolCallerContextPassesThrough(t *testing.T) {
	t.Parallel()
	pool := &boundedPool{src: exhaustedSource{}, timeout: time.Minute}

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := pool.Exec(ctx, "SELECT 1")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()

		_, err := pool.Exec(ctx, "SELECT 1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.NotErrorIs(t, err, schemas.ErrStoreUnavailable)
	})
}
