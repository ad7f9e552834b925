// Package query builds graph traversal requests from declarative inputs.
// Callers describe what they want (labels, property filters, relationship
// types, direction, depth) and the composer emits parameter-bound store
// operations; no caller value is ever concatenated into query text.
package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
)

// Spec is a declarative traversal description, assembled with the With*
// builder methods. The zero Spec is valid and matches nothing useful; at
// least a center or a label/property filter should be set.
type Spec struct {
	center    string
	label     schemas.NodeLabel
	propEq    map[string]schemas.Value
	relTypes  []schemas.RelationshipType
	direction schemas.Direction
	depth     int
	limit     int
}

// New returns an empty spec with direction defaulting to outgoing and depth
// to 1.
func New() Spec {
	return Spec{direction: schemas.DirectionOutgoing, depth: 1}
}

// WithCenter sets the node the expansion starts from.
func (s Spec) WithCenter(nodeID string) Spec {
	s.center = nodeID
	return s
}

// WithLabel restricts matched nodes to a label.
func (s Spec) WithLabel(label schemas.NodeLabel) Spec {
	s.label = label
	return s
}

// WherePropEquals adds a property-equality filter. Multiple filters conjoin.
func (s Spec) WherePropEquals(key string, value schemas.Value) Spec {
	propEq := make(map[string]schemas.Value, len(s.propEq)+1)
	for k, v := range s.propEq {
		propEq[k] = v
	}
	propEq[key] = value
	s.propEq = propEq
	return s
}

// WithRelTypes restricts which edge types the expansion follows.
func (s Spec) WithRelTypes(rels ...schemas.RelationshipType) Spec {
	s.relTypes = append([]schemas.RelationshipType{}, rels...)
	return s
}

// WithDirection selects outgoing, incoming or both.
func (s Spec) WithDirection(dir schemas.Direction) Spec {
	s.direction = dir
	return s
}

// WithDepth bounds the expansion depth. Values above the configured maximum
// are clamped, not rejected; non-positive values are rejected.
func (s Spec) WithDepth(depth int) Spec {
	s.depth = depth
	return s
}

// WithLimit bounds the number of nodes materialized. Zero means the
// configured default; values above the hard cap are clamped.
func (s Spec) WithLimit(limit int) Spec {
	s.limit = limit
	return s
}

// Composer validates and clamps specs, then executes them against the store.
type Composer struct {
	store schemas.GraphStore
	cfg   config.GraphConfig
	log   *zap.Logger
}

// NewComposer wires a composer to a store and the configured limits.
func NewComposer(store schemas.GraphStore, cfg config.GraphConfig, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{store: store, cfg: cfg, log: logger.Named("QueryComposer")}
}

// Compile validates the spec and produces the clamped TraversalRequest the
// store will execute. Exposed so callers that only need the request (e.g.
// the risk propagator) can reuse the same validation path.
func (c *Composer) Compile(spec Spec) (schemas.TraversalRequest, error) {
	if spec.center == "" {
		return schemas.TraversalRequest{}, fmt.Errorf("%w: traversal requires a center node", schemas.ErrInvalidQuery)
	}
	if spec.depth < 1 {
		return schemas.TraversalRequest{}, fmt.Errorf("%w: depth must be >= 1, got %d", schemas.ErrInvalidQuery, spec.depth)
	}
	if !spec.direction.Valid() {
		return schemas.TraversalRequest{}, fmt.Errorf("%w: unknown direction %q", schemas.ErrInvalidQuery, spec.direction)
	}
	for _, rel := range spec.relTypes {
		if !rel.Valid() {
			return schemas.TraversalRequest{}, fmt.Errorf("%w: unknown relationship type %q", schemas.ErrInvalidQuery, rel)
		}
	}
	if spec.label != "" && !spec.label.Valid() {
		return schemas.TraversalRequest{}, fmt.Errorf("%w: unknown node label %q", schemas.ErrInvalidQuery, spec.label)
	}

	depth := spec.depth
	if depth > c.cfg.MaxTraversalDepth {
		c.log.Debug("Clamping traversal depth",
			zap.Int("requested", depth), zap.Int("max", c.cfg.MaxTraversalDepth))
		depth = c.cfg.MaxTraversalDepth
	}

	limit := spec.limit
	if limit <= 0 {
		limit = c.cfg.DefaultResultLimit
	}
	if limit > c.cfg.HardResultLimit {
		c.log.Debug("Clamping traversal limit",
			zap.Int("requested", limit), zap.Int("cap", c.cfg.HardResultLimit))
		limit = c.cfg.HardResultLimit
	}

	return schemas.TraversalRequest{
		Origin:    spec.center,
		RelTypes:  append([]schemas.RelationshipType{}, spec.relTypes...),
		Direction: spec.direction,
		MaxDepth:  depth,
		Limit:     limit,
	}, nil
}

// Run executes the spec. With a center, it resolves the center node, expands
// to the bounded depth, then applies label/property filters to the expanded
// node set (keeping the center) and keeps only edges whose endpoints both
// survive. Without a center, it is a plain filtered node lookup.
func (c *Composer) Run(ctx context.Context, spec Spec) (schemas.Subgraph, error) {
	if spec.center == "" {
		return c.runFilterOnly(ctx, spec)
	}

	req, err := c.Compile(spec)
	if err != nil {
		return schemas.Subgraph{}, err
	}

	// Resolve the center first so an unknown origin surfaces as NotFound
	// rather than an empty expansion.
	if _, err := c.store.GetNode(ctx, spec.center); err != nil {
		return schemas.Subgraph{}, err
	}

	sub, err := c.store.Traverse(ctx, req)
	if err != nil {
		return schemas.Subgraph{}, err
	}

	if spec.label == "" && len(spec.propEq) == 0 {
		return sub, nil
	}
	return filterSubgraph(sub, spec), nil
}

func (c *Composer) runFilterOnly(ctx context.Context, spec Spec) (schemas.Subgraph, error) {
	if spec.label == "" && len(spec.propEq) == 0 {
		return schemas.Subgraph{}, fmt.Errorf("%w: query needs a center node or at least one filter", schemas.ErrInvalidQuery)
	}
	if spec.label != "" && !spec.label.Valid() {
		return schemas.Subgraph{}, fmt.Errorf("%w: unknown node label %q", schemas.ErrInvalidQuery, spec.label)
	}

	limit := spec.limit
	if limit <= 0 {
		limit = c.cfg.DefaultResultLimit
	}
	if limit > c.cfg.HardResultLimit {
		limit = c.cfg.HardResultLimit
	}

	nodes, err := c.store.FindNodes(ctx, spec.label, spec.propEq, limit)
	if err != nil {
		return schemas.Subgraph{}, err
	}
	return schemas.Subgraph{Nodes: nodes}, nil
}

// filterSubgraph drops expanded nodes failing the label/property filters
// (the center is always kept as the anchor) and prunes edges whose endpoints
// no longer both exist.
func filterSubgraph(sub schemas.Subgraph, spec Spec) schemas.Subgraph {
	kept := make(map[string]struct{}, len(sub.Nodes))
	var nodes []schemas.Node
	for _, node := range sub.Nodes {
		if node.ID != spec.center && !nodeMatches(node, spec) {
			continue
		}
		kept[node.ID] = struct{}{}
		nodes = append(nodes, node)
	}

	var edges []schemas.Edge
	for _, edge := range sub.Edges {
		if _, ok := kept[edge.From]; !ok {
			continue
		}
		if _, ok := kept[edge.To]; !ok {
			continue
		}
		edges = append(edges, edge)
	}
	return schemas.Subgraph{Nodes: nodes, Edges: edges}
}

func nodeMatches(node schemas.Node, spec Spec) bool {
	if spec.label != "" && node.Label != spec.label {
		return false
	}
	for k, want := range spec.propEq {
		got, ok := node.Properties.Get(k)
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}
