package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// Memory provides a fast, ephemeral, in-memory implementation of the
// GraphStore interface. It backs unit tests and short-lived tooling where
// persistence isn't required; the algorithmic layers (integrity, versioning,
// risk) are exercised against it without a database.
type Memory struct {
	nodes    map[string]schemas.Node
	edges    map[string]schemas.Edge // key: edge ID
	outgoing map[string][]string     // key: node ID, value: edge IDs
	incoming map[string][]string
	mu       sync.RWMutex
	log      *zap.Logger
}

// Ensures Memory implements the GraphStore contract at compile time.
var _ schemas.GraphStore = (*Memory)(nil)

// NewMemory creates a new, empty in-memory graph store.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		nodes:    make(map[string]schemas.Node),
		edges:    make(map[string]schemas.Edge),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]string),
		log:      logger.Named("MemoryGraph"),
	}
}

// CreateNode stores a new node under a fresh UUID.
func (m *Memory) CreateNode(ctx context.Context, label schemas.NodeLabel, props *schemas.Properties) (schemas.Node, error) {
	if !label.Valid() {
		return schemas.Node{}, invalidQueryf("unknown node label %q", label)
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	node := schemas.Node{
		ID:         uuid.NewString(),
		Label:      label,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.nodes[node.ID] = node
	m.log.Debug("Node created", zap.String("id", node.ID), zap.String("label", string(label)))
	return cloneNode(node), nil
}

// ImportNode stores a node under a caller-supplied id. An existing node with
// that id is returned untouched with created == false.
func (m *Memory) ImportNode(ctx context.Context, id string, label schemas.NodeLabel, props *schemas.Properties) (schemas.Node, bool, error) {
	if id == "" {
		return schemas.Node{}, false, invalidQueryf("import requires a node id")
	}
	if !label.Valid() {
		return schemas.Node{}, false, invalidQueryf("unknown node label %q", label)
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.nodes[id]; ok {
		return cloneNode(existing), false, nil
	}
	now := time.Now().UTC()
	node := schemas.Node{
		ID:         id,
		Label:      label,
		Properties: props.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.nodes[id] = node
	return cloneNode(node), true, nil
}

// GetNode retrieves a node by its ID.
func (m *Memory) GetNode(ctx context.Context, id string) (schemas.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.nodes[id]
	if !ok {
		return schemas.Node{}, notFoundf("node %s", id)
	}
	return cloneNode(node), nil
}

// FindNodes returns nodes matching the label and all property-equality
// filters, up to limit.
func (m *Memory) FindNodes(ctx context.Context, label schemas.NodeLabel, propEq map[string]schemas.Value, limit int) ([]schemas.Node, error) {
	if label != "" && !label.Valid() {
		return nil, invalidQueryf("unknown node label %q", label)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schemas.Node
	for _, node := range m.nodes {
		if label != "" && node.Label != label {
			continue
		}
		if !propsMatch(node.Properties, propEq) {
			continue
		}
		out = append(out, cloneNode(node))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func propsMatch(props *schemas.Properties, propEq map[string]schemas.Value) bool {
	for k, want := range propEq {
		got, ok := props.Get(k)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// UpdateNode merges the patch into the node's properties.
func (m *Memory) UpdateNode(ctx context.Context, id string, patch *schemas.Properties) (schemas.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return schemas.Node{}, notFoundf("node %s", id)
	}
	node.Properties = node.Properties.Merge(patch)
	node.UpdatedAt = time.Now().UTC()
	m.nodes[id] = node
	return cloneNode(node), nil
}

// UpdateNodeCAS replaces the node's property set, guarded by the expected
// current version string.
func (m *Memory) UpdateNodeCAS(ctx context.Context, id string, props *schemas.Properties, expectedVersion string) (schemas.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return schemas.Node{}, notFoundf("node %s", id)
	}
	if node.Version() != expectedVersion {
		return schemas.Node{}, versionConflictf(id, expectedVersion, node.Version())
	}
	node.Properties = props.Clone()
	node.UpdatedAt = time.Now().UTC()
	m.nodes[id] = node
	return cloneNode(node), nil
}

// DeleteNode removes the node and cascades to all incident edges. The
// mayDelete predicate is consulted first.
func (m *Memory) DeleteNode(ctx context.Context, id string, mayDelete schemas.MayDelete) (bool, error) {
	m.mu.Lock()
	node, ok := m.nodes[id]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	if mayDelete != nil {
		allowed, err := mayDelete(ctx, cloneNode(node))
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, deleteVetoedf(id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.nodes[id]; !still {
		return false, nil
	}

	for _, edgeID := range append(append([]string{}, m.outgoing[id]...), m.incoming[id]...) {
		m.removeEdgeLocked(edgeID)
	}
	delete(m.nodes, id)
	delete(m.outgoing, id)
	delete(m.incoming, id)
	m.log.Debug("Node deleted", zap.String("id", id))
	return true, nil
}

// CreateEdge stores a directed edge. Re-creating an edge with identical
// endpoints and type is a logical no-op: the existing edge comes back with
// created == false.
func (m *Memory) CreateEdge(ctx context.Context, from, to string, rel schemas.RelationshipType, props *schemas.Properties) (schemas.Edge, bool, error) {
	if !rel.Valid() {
		return schemas.Edge{}, false, invalidQueryf("unknown relationship type %q", rel)
	}
	if props == nil {
		props = schemas.NewProperties()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[from]; !ok {
		return schemas.Edge{}, false, notFoundf("source node %s", from)
	}
	if _, ok := m.nodes[to]; !ok {
		return schemas.Edge{}, false, notFoundf("destination node %s", to)
	}

	if existing, ok := m.findEdgeLocked(from, to, rel); ok {
		return cloneEdge(existing), false, nil
	}

	edge := schemas.Edge{
		ID:         uuid.NewString(),
		From:       from,
		To:         to,
		Type:       rel,
		Properties: props.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
	m.edges[edge.ID] = edge
	m.outgoing[from] = append(m.outgoing[from], edge.ID)
	m.incoming[to] = append(m.incoming[to], edge.ID)
	m.log.Debug("Edge created",
		zap.String("from", from), zap.String("to", to), zap.String("type", string(rel)))
	return cloneEdge(edge), true, nil
}

// EdgeExists reports whether an edge with the given endpoints and type is
// present.
func (m *Memory) EdgeExists(ctx context.Context, from, to string, rel schemas.RelationshipType) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.findEdgeLocked(from, to, rel)
	return ok, nil
}

// OutgoingEdges returns edges leaving the node, optionally filtered by type.
func (m *Memory) OutgoingEdges(ctx context.Context, nodeID string, rels []schemas.RelationshipType) ([]schemas.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return nil, notFoundf("node %s", nodeID)
	}
	return m.collectEdgesLocked(m.outgoing[nodeID], rels), nil
}

// IncomingEdges returns edges entering the node, optionally filtered by type.
func (m *Memory) IncomingEdges(ctx context.Context, nodeID string, rels []schemas.RelationshipType) ([]schemas.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.nodes[nodeID]; !ok {
		return nil, notFoundf("node %s", nodeID)
	}
	return m.collectEdgesLocked(m.incoming[nodeID], rels), nil
}

// DeleteEdges removes all edges matching the predicate and returns the count.
func (m *Memory) DeleteEdges(ctx context.Context, pred schemas.EdgePredicate) (int64, error) {
	if pred.Empty() {
		return 0, invalidQueryf("edge deletion predicate must constrain at least one field")
	}
	if pred.Type != "" && !pred.Type.Valid() {
		return 0, invalidQueryf("unknown relationship type %q", pred.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, edge := range m.edges {
		if pred.Matches(edge) {
			m.removeEdgeLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

// Traverse performs a bounded-depth expansion from the origin and returns the
// induced sub-graph.
func (m *Memory) Traverse(ctx context.Context, req schemas.TraversalRequest) (schemas.Subgraph, error) {
	if err := validateTraversal(req); err != nil {
		return schemas.Subgraph{}, err
	}
	return expand(ctx, m, req)
}

// edgesFrom implements the frontier expansion used by the shared traversal
// engine. Assumes small frontiers; batches are only a database concern.
func (m *Memory) edgesFrom(ctx context.Context, ids []string, rels []schemas.RelationshipType, dir schemas.Direction) ([]schemas.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []schemas.Edge
	for _, id := range ids {
		if dir == schemas.DirectionOutgoing || dir == schemas.DirectionBoth {
			out = append(out, m.collectEdgesLocked(m.outgoing[id], rels)...)
		}
		if dir == schemas.DirectionIncoming || dir == schemas.DirectionBoth {
			out = append(out, m.collectEdgesLocked(m.incoming[id], rels)...)
		}
	}
	return out, nil
}

// nodesByID resolves a batch of node ids, skipping any that have vanished.
func (m *Memory) nodesByID(ctx context.Context, ids []string) ([]schemas.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schemas.Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := m.nodes[id]; ok {
			out = append(out, cloneNode(node))
		}
	}
	return out, nil
}

// -- locked helpers --

func (m *Memory) findEdgeLocked(from, to string, rel schemas.RelationshipType) (schemas.Edge, bool) {
	for _, edgeID := range m.outgoing[from] {
		edge, ok := m.edges[edgeID]
		if !ok {
			continue
		}
		if edge.To == to && edge.Type == rel {
			return edge, true
		}
	}
	return schemas.Edge{}, false
}

func (m *Memory) collectEdgesLocked(edgeIDs []string, rels []schemas.RelationshipType) []schemas.Edge {
	out := make([]schemas.Edge, 0, len(edgeIDs))
	for _, edgeID := range edgeIDs {
		edge, ok := m.edges[edgeID]
		if !ok {
			m.log.Warn("Inconsistency found: edge ID in index but not in edges map", zap.String("edge_id", edgeID))
			continue
		}
		if len(rels) > 0 && !relIn(edge.Type, rels) {
			continue
		}
		out = append(out, cloneEdge(edge))
	}
	return out
}

func (m *Memory) removeEdgeLocked(edgeID string) {
	edge, ok := m.edges[edgeID]
	if !ok {
		return
	}
	m.outgoing[edge.From] = removeID(m.outgoing[edge.From], edgeID)
	m.incoming[edge.To] = removeID(m.incoming[edge.To], edgeID)
	delete(m.edges, edgeID)
}

// removeID removes one occurrence of id from the slice; order doesn't matter,
// so it swaps with the last element and truncates.
func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			ids[i] = ids[len(ids)-1]
			return ids[:len(ids)-1]
		}
	}
	return ids
}

func relIn(rel schemas.RelationshipType, rels []schemas.RelationshipType) bool {
	for _, r := range rels {
		if r == rel {
			return true
		}
	}
	return false
}

func cloneNode(n schemas.Node) schemas.Node {
	n.Properties = n.Properties.Clone()
	return n
}

func cloneEdge(e schemas.Edge) schemas.Edge {
	e.Properties = e.Properties.Clone()
	return e
}
