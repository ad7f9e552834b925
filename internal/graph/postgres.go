package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
)

// jsonCodec handles the JSONB property payloads. Properties implements
// json.Marshaler/Unmarshaler, which jsoniter honors in compatible mode.
var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so the store can be exercised against
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the persistent GraphStore implementation. All SQL binds caller
// values as parameters; no literal is ever interpolated into query text.
type Postgres struct {
	pool   DBPool
	log    *zap.Logger
	schema schemaEnsurer
}

var _ schemas.GraphStore = (*Postgres)(nil)

// NewPostgres creates a store over the given pool and verifies connectivity.
func NewPostgres(ctx context.Context, pool DBPool, cfg config.GraphConfig, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, unavailablef("ping", err)
	}
	p := &Postgres{
		pool: pool,
		log:  logger.Named("PostgresGraph"),
	}
	p.schema.retries = cfg.SchemaRetries
	p.schema.backoff = cfg.SchemaRetryBackoff
	return p, nil
}

// classify maps driver errors onto the shared taxonomy. Server-rejected
// statements keep their detail; anything that never reached the server (or
// lost the connection) becomes ErrStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundf("%s", op)
	}
	// Pool acquisition timeouts arrive pre-classified by the bounded adapter.
	if errors.Is(err, schemas.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Foreign key violation on edge insert means a missing endpoint.
		if pgErr.Code == "23503" {
			return notFoundf("%s: missing endpoint node", op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return unavailablef(op, err)
}

// EnsureSchema applies the graph schema immediately instead of waiting for
// the first mutation. The migrate command uses it for an explicit roll-out.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.ensureSchema(ctx)
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if err := p.schema.ensure(ctx, p.pool, p.log); err != nil {
		return classify("ensure schema", err)
	}
	return nil
}

func marshalProps(props *schemas.Properties) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	blob, err := jsonCodec.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return blob, nil
}

func unmarshalProps(blob []byte) (*schemas.Properties, error) {
	props := schemas.NewProperties()
	if len(blob) == 0 {
		return props, nil
	}
	if err := jsonCodec.Unmarshal(blob, props); err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}
	return props, nil
}

const sqlInsertNode = `
	INSERT INTO graph_nodes (id, label, properties, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5);
`

// CreateNode persists a new node under a fresh UUID.
func (p *Postgres) CreateNode(ctx context.Context, label schemas.NodeLabel, props *schemas.Properties) (schemas.Node, error) {
	if !label.Valid() {
		return schemas.Node{}, invalidQueryf("unknown node label %q", label)
	}
	if err := p.ensureSchema(ctx); err != nil {
		return schemas.Node{}, err
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	blob, err := marshalProps(props)
	if err != nil {
		return schemas.Node{}, err
	}

	now := time.Now().UTC()
	node := schemas.Node{
		ID:         uuid.NewString(),
		Label:      label,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := p.pool.Exec(ctx, sqlInsertNode, node.ID, string(label), blob, now, now); err != nil {
		return schemas.Node{}, classify("create node", err)
	}
	p.log.Debug("Node created", zap.String("id", node.ID), zap.String("label", string(label)))
	return node, nil
}

const sqlImportNode = `
	INSERT INTO graph_nodes (id, label, properties, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING;
`

// ImportNode persists a node under a caller-supplied id. The conflict target
// makes re-imports a no-op; the existing node is returned with created ==
// false.
func (p *Postgres) ImportNode(ctx context.Context, id string, label schemas.NodeLabel, props *schemas.Properties) (schemas.Node, bool, error) {
	if id == "" {
		return schemas.Node{}, false, invalidQueryf("import requires a node id")
	}
	if !label.Valid() {
		return schemas.Node{}, false, invalidQueryf("unknown node label %q", label)
	}
	if err := p.ensureSchema(ctx); err != nil {
		return schemas.Node{}, false, err
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	blob, err := marshalProps(props)
	if err != nil {
		return schemas.Node{}, false, err
	}
	now := time.Now().UTC()
	tag, err := p.pool.Exec(ctx, sqlImportNode, id, string(label), blob, now, now)
	if err != nil {
		return schemas.Node{}, false, classify("import node", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := p.GetNode(ctx, id)
		if err != nil {
			return schemas.Node{}, false, err
		}
		return existing, false, nil
	}
	return schemas.Node{
		ID:         id,
		Label:      label,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

const sqlSelectNode = `
	SELECT id, label, properties, created_at, updated_at
	FROM graph_nodes WHERE id = $1;
`

// GetNode retrieves a single node by its unique ID.
func (p *Postgres) GetNode(ctx context.Context, id string) (schemas.Node, error) {
	row := p.pool.QueryRow(ctx, sqlSelectNode, id)
	node, err := scanNodeRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Node{}, notFoundf("node %s", id)
		}
		return schemas.Node{}, classify("get node", err)
	}
	return node, nil
}

const (
	sqlFindNodesByLabel = `
	SELECT id, label, properties, created_at, updated_at
	FROM graph_nodes
	WHERE label = $1 AND properties @> $2::jsonb
	ORDER BY created_at
	LIMIT $3;
`
	sqlFindNodesAnyLabel = `
	SELECT id, label, properties, created_at, updated_at
	FROM graph_nodes
	WHERE properties @> $1::jsonb
	ORDER BY created_at
	LIMIT $2;
`
)

// FindNodes returns nodes matching the label and all property-equality
// filters. Filters compile to a JSONB containment check, which stays fully
// parameter-bound.
func (p *Postgres) FindNodes(ctx context.Context, label schemas.NodeLabel, propEq map[string]schemas.Value, limit int) ([]schemas.Node, error) {
	if label != "" && !label.Valid() {
		return nil, invalidQueryf("unknown node label %q", label)
	}
	if limit < 1 {
		limit = 100
	}

	filter := schemas.NewProperties()
	for _, k := range sortedFilterKeys(propEq) {
		filter.Set(k, propEq[k])
	}
	filterBlob, err := marshalProps(filter)
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	if label != "" {
		rows, err = p.pool.Query(ctx, sqlFindNodesByLabel, string(label), filterBlob, limit)
	} else {
		rows, err = p.pool.Query(ctx, sqlFindNodesAnyLabel, filterBlob, limit)
	}
	if err != nil {
		return nil, classify("find nodes", err)
	}
	defer rows.Close()

	var out []schemas.Node
	for rows.Next() {
		node, err := scanNodeRow(rows)
		if err != nil {
			return nil, classify("find nodes scan", err)
		}
		out = append(out, node)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find nodes rows", err)
	}
	return out, nil
}

func sortedFilterKeys(m map[string]schemas.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

const (
	sqlSelectNodeForUpdate = `
	SELECT id, label, properties, created_at, updated_at
	FROM graph_nodes WHERE id = $1 FOR UPDATE;
`
	sqlUpdateNodeProps = `
	UPDATE graph_nodes SET properties = $2, updated_at = $3 WHERE id = $1;
`
)

// UpdateNode merges the patch into the node's properties inside a
// transaction, so concurrent merges never lose keys.
func (p *Postgres) UpdateNode(ctx context.Context, id string, patch *schemas.Properties) (schemas.Node, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return schemas.Node{}, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return schemas.Node{}, classify("begin update", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			p.log.Error("Failed to rollback node update", zap.Error(rollbackErr))
		}
	}()

	node, err := scanNodeRow(tx.QueryRow(ctx, sqlSelectNodeForUpdate, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schemas.Node{}, notFoundf("node %s", id)
		}
		return schemas.Node{}, classify("load node for update", err)
	}

	node.Properties = node.Properties.Merge(patch)
	node.UpdatedAt = time.Now().UTC()
	blob, err := marshalProps(node.Properties)
	if err != nil {
		return schemas.Node{}, err
	}
	if _, err := tx.Exec(ctx, sqlUpdateNodeProps, id, blob, node.UpdatedAt); err != nil {
		return schemas.Node{}, classify("update node", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return schemas.Node{}, classify("commit update", err)
	}
	return node, nil
}

const sqlUpdateNodeCAS = `
	UPDATE graph_nodes SET properties = $2, updated_at = $3
	WHERE id = $1 AND properties->>'version' = $4;
`

// UpdateNodeCAS replaces the full property set guarded by the expected
// current version string. Zero rows affected means either the node vanished
// or a concurrent writer won the race.
func (p *Postgres) UpdateNodeCAS(ctx context.Context, id string, props *schemas.Properties, expectedVersion string) (schemas.Node, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return schemas.Node{}, err
	}

	blob, err := marshalProps(props)
	if err != nil {
		return schemas.Node{}, err
	}
	now := time.Now().UTC()
	tag, err := p.pool.Exec(ctx, sqlUpdateNodeCAS, id, blob, now, expectedVersion)
	if err != nil {
		return schemas.Node{}, classify("cas update", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := p.GetNode(ctx, id)
		if err != nil {
			return schemas.Node{}, err // not found or unavailable
		}
		return schemas.Node{}, versionConflictf(id, expectedVersion, current.Version())
	}

	node, err := p.GetNode(ctx, id)
	if err != nil {
		return schemas.Node{}, err
	}
	return node, nil
}

const sqlDeleteNode = `DELETE FROM graph_nodes WHERE id = $1;`

// DeleteNode removes the node; incident edges cascade via foreign keys. The
// mayDelete predicate is consulted with the live node state first.
func (p *Postgres) DeleteNode(ctx context.Context, id string, mayDelete schemas.MayDelete) (bool, error) {
	if err := p.ensureSchema(ctx); err != nil {
		return false, err
	}

	node, err := p.GetNode(ctx, id)
	if err != nil {
		if errors.Is(err, schemas.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if mayDelete != nil {
		allowed, err := mayDelete(ctx, node)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, deleteVetoedf(id)
		}
	}

	tag, err := p.pool.Exec(ctx, sqlDeleteNode, id)
	if err != nil {
		return false, classify("delete node", err)
	}
	return tag.RowsAffected() > 0, nil
}

const (
	sqlInsertEdge = `
	INSERT INTO graph_edges (id, from_node, to_node, rel_type, properties, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (from_node, to_node, rel_type) DO NOTHING;
`
	sqlSelectEdgeByKey = `
	SELECT id, from_node, to_node, rel_type, properties, created_at
	FROM graph_edges WHERE from_node = $1 AND to_node = $2 AND rel_type = $3;
`
)

// CreateEdge persists a directed edge. A duplicate (from, to, type) is a
// logical no-op: the existing edge is returned with created == false, which
// callers must detect.
func (p *Postgres) CreateEdge(ctx context.Context, from, to string, rel schemas.RelationshipType, props *schemas.Properties) (schemas.Edge, bool, error) {
	if !rel.Valid() {
		return schemas.Edge{}, false, invalidQueryf("unknown relationship type %q", rel)
	}
	if err := p.ensureSchema(ctx); err != nil {
		return schemas.Edge{}, false, err
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	blob, err := marshalProps(props)
	if err != nil {
		return schemas.Edge{}, false, err
	}

	edge := schemas.Edge{
		ID:         uuid.NewString(),
		From:       from,
		To:         to,
		Type:       rel,
		Properties: props.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
	tag, err := p.pool.Exec(ctx, sqlInsertEdge, edge.ID, from, to, string(rel), blob, edge.CreatedAt)
	if err != nil {
		return schemas.Edge{}, false, classify("create edge", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := scanEdgeRow(p.pool.QueryRow(ctx, sqlSelectEdgeByKey, from, to, string(rel)))
		if err != nil {
			return schemas.Edge{}, false, classify("load existing edge", err)
		}
		return existing, false, nil
	}
	return edge, true, nil
}

const sqlEdgeExists = `
	SELECT EXISTS (
		SELECT 1 FROM graph_edges
		WHERE from_node = $1 AND to_node = $2 AND rel_type = $3
	);
`

// EdgeExists reports whether an edge with the given endpoints and type is
// present.
func (p *Postgres) EdgeExists(ctx context.Context, from, to string, rel schemas.RelationshipType) (bool, error) {
	var exists bool
	if err := p.pool.QueryRow(ctx, sqlEdgeExists, from, to, string(rel)).Scan(&exists); err != nil {
		return false, classify("edge exists", err)
	}
	return exists, nil
}

const (
	sqlEdgesOutgoing = `
	SELECT id, from_node, to_node, rel_type, properties, created_at
	FROM graph_edges WHERE from_node = ANY($1) AND rel_type = ANY($2);
`
	sqlEdgesOutgoingAll = `
	SELECT id, from_node, to_node, rel_type, properties, created_at
	FROM graph_edges WHERE from_node = ANY($1);
`
	sqlEdgesIncoming = `
	SELECT id, from_node, to_node, rel_type, properties, created_at
	FROM graph_edges WHERE to_node = ANY($1) AND rel_type = ANY($2);
`
	sqlEdgesIncomingAll = `
	SELECT id, from_node, to_node, rel_type, properties, created_at
	FROM graph_edges WHERE to_node = ANY($1);
`
)

// OutgoingEdges returns edges leaving the node, optionally filtered by type.
func (p *Postgres) OutgoingEdges(ctx context.Context, nodeID string, rels []schemas.RelationshipType) ([]schemas.Edge, error) {
	return p.queryEdges(ctx, []string{nodeID}, rels, schemas.DirectionOutgoing)
}

// IncomingEdges returns edges entering the node, optionally filtered by type.
func (p *Postgres) IncomingEdges(ctx context.Context, nodeID string, rels []schemas.RelationshipType) ([]schemas.Edge, error) {
	return p.queryEdges(ctx, []string{nodeID}, rels, schemas.DirectionIncoming)
}

func (p *Postgres) queryEdges(ctx context.Context, ids []string, rels []schemas.RelationshipType, dir schemas.Direction) ([]schemas.Edge, error) {
	relStrings := make([]string, len(rels))
	for i, r := range rels {
		relStrings[i] = string(r)
	}

	run := func(sqlFiltered, sqlAll string) ([]schemas.Edge, error) {
		var rows pgx.Rows
		var err error
		if len(rels) > 0 {
			rows, err = p.pool.Query(ctx, sqlFiltered, ids, relStrings)
		} else {
			rows, err = p.pool.Query(ctx, sqlAll, ids)
		}
		if err != nil {
			return nil, classify("query edges", err)
		}
		defer rows.Close()
		return collectEdges(rows)
	}

	var out []schemas.Edge
	if dir == schemas.DirectionOutgoing || dir == schemas.DirectionBoth {
		edges, err := run(sqlEdgesOutgoing, sqlEdgesOutgoingAll)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	if dir == schemas.DirectionIncoming || dir == schemas.DirectionBoth {
		edges, err := run(sqlEdgesIncoming, sqlEdgesIncomingAll)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}
	return out, nil
}

// DeleteEdges removes all edges matching the predicate and returns the count.
// The WHERE clause is assembled from fixed fragments; values always bind as
// parameters.
func (p *Postgres) DeleteEdges(ctx context.Context, pred schemas.EdgePredicate) (int64, error) {
	if pred.Empty() {
		return 0, invalidQueryf("edge deletion predicate must constrain at least one field")
	}
	if pred.Type != "" && !pred.Type.Valid() {
		return 0, invalidQueryf("unknown relationship type %q", pred.Type)
	}
	if err := p.ensureSchema(ctx); err != nil {
		return 0, err
	}

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if pred.From != "" {
		args = append(args, pred.From)
		clauses = append(clauses, fmt.Sprintf("from_node = $%d", len(args)))
	}
	if pred.To != "" {
		args = append(args, pred.To)
		clauses = append(clauses, fmt.Sprintf("to_node = $%d", len(args)))
	}
	if pred.Type != "" {
		args = append(args, string(pred.Type))
		clauses = append(clauses, fmt.Sprintf("rel_type = $%d", len(args)))
	}

	query := "DELETE FROM graph_edges WHERE " + joinClauses(clauses)
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, classify("delete edges", err)
	}
	return tag.RowsAffected(), nil
}

func joinClauses(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}

// Traverse performs the bounded-depth expansion using batched frontier
// queries.
func (p *Postgres) Traverse(ctx context.Context, req schemas.TraversalRequest) (schemas.Subgraph, error) {
	if err := validateTraversal(req); err != nil {
		return schemas.Subgraph{}, err
	}
	return expand(ctx, p, req)
}

func (p *Postgres) edgesFrom(ctx context.Context, ids []string, rels []schemas.RelationshipType, dir schemas.Direction) ([]schemas.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return p.queryEdges(ctx, ids, rels, dir)
}

const sqlNodesByID = `
	SELECT id, label, properties, created_at, updated_at
	FROM graph_nodes WHERE id = ANY($1);
`

func (p *Postgres) nodesByID(ctx context.Context, ids []string) ([]schemas.Node, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, sqlNodesByID, ids)
	if err != nil {
		return nil, classify("nodes by id", err)
	}
	defer rows.Close()

	byID := make(map[string]schemas.Node, len(ids))
	for rows.Next() {
		node, err := scanNodeRow(rows)
		if err != nil {
			return nil, classify("nodes by id scan", err)
		}
		byID[node.ID] = node
	}
	if err := rows.Err(); err != nil {
		return nil, classify("nodes by id rows", err)
	}

	// Preserve the traversal's visit order.
	out := make([]schemas.Node, 0, len(byID))
	for _, id := range ids {
		if node, ok := byID[id]; ok {
			out = append(out, node)
		}
	}
	return out, nil
}

// -- row scanning --

func scanNodeRow(row pgx.Row) (schemas.Node, error) {
	var node schemas.Node
	var label string
	var blob []byte
	if err := row.Scan(&node.ID, &label, &blob, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return schemas.Node{}, err
	}
	node.Label = schemas.NodeLabel(label)
	props, err := unmarshalProps(blob)
	if err != nil {
		return schemas.Node{}, err
	}
	node.Properties = props
	return node, nil
}

func scanEdgeRow(row pgx.Row) (schemas.Edge, error) {
	var edge schemas.Edge
	var relType string
	var blob []byte
	if err := row.Scan(&edge.ID, &edge.From, &edge.To, &relType, &blob, &edge.CreatedAt); err != nil {
		return schemas.Edge{}, err
	}
	edge.Type = schemas.RelationshipType(relType)
	props, err := unmarshalProps(blob)
	if err != nil {
		return schemas.Edge{}, err
	}
	edge.Properties = props
	return edge, nil
}

func collectEdges(rows pgx.Rows) ([]schemas.Edge, error) {
	var out []schemas.Edge
	for rows.Next() {
		edge, err := scanEdgeRow(rows)
		if err != nil {
			return nil, classify("edge scan", err)
		}
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("edge rows", err)
	}
	return out, nil
}
