package graph

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for
// more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

var nodeColumns = []string{"id", "label", "properties", "created_at", "updated_at"}
var edgeColumns = []string{"id", "from_node", "to_node", "rel_type", "properties", "created_at"}

// newMockStore builds a Postgres store over a pgxmock pool with the schema
// marked as already ensured, so tests only mock the statements under test.
func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	mockPool.ExpectPing().WillReturnError(nil)

	store, err := NewPostgres(context.Background(), mockPool, config.GraphConfig{
		SchemaRetries:      1,
		SchemaRetryBackoff: time.Millisecond,
	}, testLogger)
	require.NoError(t, err)
	store.schema.done.Store(true)

	return store, mockPool
}

func TestNewPostgresPingFailure(t *testing.T) {
	t.Parallel()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectPing().WillReturnError(errors.New("connection refused"))

	_, err = NewPostgres(context.Background(), mockPool, config.GraphConfig{}, testLogger)
	assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
}

func TestPostgresCreateNode(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	t.Run("success", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertNode)).
			WithArgs(pgxmock.AnyArg(), "Project", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		node, err := store.CreateNode(context.Background(), schemas.LabelProject, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, node.ID)
		require.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("connectivity loss maps to ErrStoreUnavailable", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertNode)).
			WithArgs(pgxmock.AnyArg(), "Project", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("broken pipe"))

		_, err := store.CreateNode(context.Background(), schemas.LabelProject, nil)
		assert.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	})

	t.Run("invalid label fails before any SQL", func(t *testing.T) {
		_, err := store.CreateNode(context.Background(), "Widget", nil)
		assert.ErrorIs(t, err, schemas.ErrInvalidQuery)
	})
}

func TestPostgresGetNode(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	t.Run("found", func(t *testing.T) {
		now := time.Now().UTC()
		rows := pgxmock.NewRows(nodeColumns).
			AddRow("node-1", "WorkItem", []byte(`{"name":"auth","version":"1.2"}`), now, now)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
			WithArgs("node-1").
			WillReturnRows(rows)

		node, err := store.GetNode(context.Background(), "node-1")
		require.NoError(t, err)
		assert.Equal(t, schemas.LabelWorkItem, node.Label)
		assert.Equal(t, "1.2", node.Version())
		// Property order survives the JSONB round trip.
		assert.Equal(t, []string{"name", "version"}, node.Properties.Keys())
	})

	t.Run("not found", func(t *testing.T) {
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.GetNode(context.Background(), "missing")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestPostgresUpdateNodeCAS(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	props := schemas.NewProperties()
	props.Set(schemas.PropVersion, schemas.String("1.3"))

	t.Run("zero rows means conflict", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateNodeCAS)).
			WithArgs("node-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "1.2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		now := time.Now().UTC()
		rows := pgxmock.NewRows(nodeColumns).
			AddRow("node-1", "WorkItem", []byte(`{"version":"1.3"}`), now, now)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
			WithArgs("node-1").
			WillReturnRows(rows)

		_, err := store.UpdateNodeCAS(context.Background(), "node-1", props, "1.2")
		assert.ErrorIs(t, err, schemas.ErrVersionConflict)
	})

	t.Run("zero rows on a vanished node means not found", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateNodeCAS)).
			WithArgs("node-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "1.2").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectNode)).
			WithArgs("node-1").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.UpdateNodeCAS(context.Background(), "node-1", props, "1.2")
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestPostgresCreateEdge(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	t.Run("duplicate returns the existing edge", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEdge)).
			WithArgs(pgxmock.AnyArg(), "a", "b", "DEPENDS_ON", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		rows := pgxmock.NewRows(edgeColumns).
			AddRow("edge-1", "a", "b", "DEPENDS_ON", []byte(`{}`), time.Now().UTC())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectEdgeByKey)).
			WithArgs("a", "b", "DEPENDS_ON").
			WillReturnRows(rows)

		edge, created, err := store.CreateEdge(context.Background(), "a", "b", schemas.RelDependsOn, nil)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "edge-1", edge.ID)
	})

	t.Run("missing endpoint maps the FK violation to not found", func(t *testing.T) {
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertEdge)).
			WithArgs(pgxmock.AnyArg(), "a", "ghost", "BLOCKS", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		_, _, err := store.CreateEdge(context.Background(), "a", "ghost", schemas.RelBlocks, nil)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestPostgresDeleteEdges(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	mockPool.ExpectExec(flexibleSQLMatcher(`DELETE FROM graph_edges WHERE from_node = $1 AND rel_type = $2`)).
		WithArgs("a", "BLOCKS").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	count, err := store.DeleteEdges(context.Background(), schemas.EdgePredicate{From: "a", Type: schemas.RelBlocks})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = store.DeleteEdges(context.Background(), schemas.EdgePredicate{})
	assert.ErrorIs(t, err, schemas.ErrInvalidQuery)
}

func TestPostgresTraverse(t *testing.T) {
	t.Parallel()
	store, mockPool := newMockStore(t)
	defer mockPool.Close()

	now := time.Now().UTC()

	// Depth 1 frontier query from the origin.
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlEdgesOutgoingAll)).
		WithArgs([]string{"a"}).
		WillReturnRows(pgxmock.NewRows(edgeColumns).
			AddRow("e1", "a", "b", "DEPENDS_ON", []byte(`{}`), now))

	// Node materialization for the visited set.
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlNodesByID)).
		WithArgs([]string{"a", "b"}).
		WillReturnRows(pgxmock.NewRows(nodeColumns).
			AddRow("b", "WorkItem", []byte(`{}`), now, now).
			AddRow("a", "WorkItem", []byte(`{}`), now, now))

	// Edge materialization within the visited set.
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlEdgesOutgoingAll)).
		WithArgs([]string{"a", "b"}).
		WillReturnRows(pgxmock.NewRows(edgeColumns).
			AddRow("e1", "a", "b", "DEPENDS_ON", []byte(`{}`), now).
			AddRow("e2", "b", "ghost", "BLOCKS", []byte(`{}`), now))

	sub, err := store.Traverse(context.Background(), schemas.TraversalRequest{
		Origin:    "a",
		Direction: schemas.DirectionOutgoing,
		MaxDepth:  1,
		Limit:     100,
	})
	require.NoError(t, err)

	// Visit order is preserved and the edge to the unvisited node is dropped.
	require.Len(t, sub.Nodes, 2)
	assert.Equal(t, "a", sub.Nodes[0].ID)
	assert.Equal(t, "b", sub.Nodes[1].ID)
	require.Len(t, sub.Edges, 1)
	assert.Equal(t, "e1", sub.Edges[0].ID)
	require.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSchemaEnsureRetries(t *testing.T) {
	t.Parallel()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectPing().WillReturnError(nil)

	store, err := NewPostgres(context.Background(), mockPool, config.GraphConfig{
		SchemaRetries:      2,
		SchemaRetryBackoff: time.Millisecond,
	}, testLogger)
	require.NoError(t, err)

	// First attempt fails on the first statement; the retry applies all of it.
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS graph_nodes").
		WillReturnError(errors.New("transient"))
	for range schemaStatements {
		mockPool.ExpectExec("CREATE").
			WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mockPool.ExpectationsWereMet())

	// Once ensured, no further DDL is issued.
	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestSchemaEnsureExhaustionReturnsWithoutBackoff(t *testing.T) {
	t.Parallel()

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectPing().WillReturnError(nil)

	// A pathological backoff makes any wait after the final attempt obvious.
	store, err := NewPostgres(context.Background(), mockPool, config.GraphConfig{
		SchemaRetries:      1,
		SchemaRetryBackoff: time.Hour,
	}, testLogger)
	require.NoError(t, err)

	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS graph_nodes").
		WillReturnError(errors.New("permission denied"))

	start := time.Now()
	err = store.EnsureSchema(context.Background())
	require.ErrorIs(t, err, schemas.ErrStoreUnavailable)
	assert.Less(t, time.Since(start), time.Minute)
}
