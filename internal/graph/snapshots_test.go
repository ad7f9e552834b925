package graph

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhalberd/tracegraph/api/schemas"
)

func snapshotFor(workItem, version string) schemas.VersionSnapshot {
	data := schemas.NewProperties()
	data.Set(schemas.PropVersion, schemas.String(version))
	return schemas.VersionSnapshot{
		WorkItemID: workItem,
		Version:    version,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMemorySnapshots(t *testing.T) {
	t.Parallel()
	snaps := NewMemorySnapshots()
	ctx := context.Background()

	require.NoError(t, snaps.AppendSnapshot(ctx, snapshotFor("wi-1", "1.0")))
	require.NoError(t, snaps.AppendSnapshot(ctx, snapshotFor("wi-1", "1.1")))

	t.Run("duplicate version errors", func(t *testing.T) {
		err := snaps.AppendSnapshot(ctx, snapshotFor("wi-1", "1.0"))
		assert.Error(t, err)
	})

	t.Run("lists all versions", func(t *testing.T) {
		all, err := snaps.Snapshots(ctx, "wi-1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("exact version lookup", func(t *testing.T) {
		snap, err := snaps.Snapshot(ctx, "wi-1", "1.1")
		require.NoError(t, err)
		assert.Equal(t, "1.1", snap.Version)

		_, err = snaps.Snapshot(ctx, "wi-1", "9.9")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})

	t.Run("stored data is isolated from the caller", func(t *testing.T) {
		snap := snapshotFor("wi-2", "1.0")
		require.NoError(t, snaps.AppendSnapshot(ctx, snap))
		snap.Data.Set("mutated", schemas.Bool(true))

		stored, err := snaps.Snapshot(ctx, "wi-2", "1.0")
		require.NoError(t, err)
		assert.False(t, stored.Data.Has("mutated"))
	})
}

func TestPostgresSnapshots(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()
	snaps := NewPostgresSnapshots(store)
	ctx := context.Background()

	t.Run("append", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSnapshot)).
			WithArgs("wi-1", "1.0", pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, snaps.AppendSnapshot(ctx, snapshotFor("wi-1", "1.0")))
	})

	t.Run("duplicate key surfaces", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSnapshot)).
			WithArgs("wi-1", "1.0", pgxmock.AnyArg(), "", "", pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := snaps.AppendSnapshot(ctx, snapshotFor("wi-1", "1.0"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("missing snapshot is not found", func(t *testing.T) {
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectSnapshot)).
			WithArgs("wi-1", "3.0").
			WillReturnError(pgx.ErrNoRows)

		_, err := snaps.Snapshot(ctx, "wi-1", "3.0")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}
