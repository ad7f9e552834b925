package graph

import (
	"context"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// expander is the minimal surface the shared traversal engine needs from a
// store. Both implementations satisfy it with batch-friendly lookups.
type expander interface {
	edgesFrom(ctx context.Context, ids []string, rels []schemas.RelationshipType, dir schemas.Direction) ([]schemas.Edge, error)
	nodesByID(ctx context.Context, ids []string) ([]schemas.Node, error)
}

// validateTraversal rejects malformed requests fast, before any store I/O.
func validateTraversal(req schemas.TraversalRequest) error {
	if req.Origin == "" {
		return invalidQueryf("traversal origin must be set")
	}
	if req.MaxDepth < 1 {
		return invalidQueryf("traversal depth must be >= 1, got %d", req.MaxDepth)
	}
	if req.Limit < 1 {
		return invalidQueryf("traversal limit must be >= 1, got %d", req.Limit)
	}
	if !req.Direction.Valid() {
		return invalidQueryf("unknown traversal direction %q", req.Direction)
	}
	for _, rel := range req.RelTypes {
		if !rel.Valid() {
			return invalidQueryf("unknown relationship type %q", rel)
		}
	}
	return nil
}

// expand runs a breadth-first, depth-bounded expansion from the origin, then
// materializes only edges whose endpoints are both inside the visited node
// set. The two-phase shape avoids combinatorial edge blow-up on dense graphs.
func expand(ctx context.Context, store expander, req schemas.TraversalRequest) (schemas.Subgraph, error) {
	visited := map[string]struct{}{req.Origin: {}}
	order := []string{req.Origin}
	frontier := []string{req.Origin}

	for depth := 0; depth < req.MaxDepth && len(frontier) > 0 && len(order) < req.Limit; depth++ {
		if err := ctx.Err(); err != nil {
			return schemas.Subgraph{}, err
		}

		edges, err := store.edgesFrom(ctx, frontier, req.RelTypes, req.Direction)
		if err != nil {
			return schemas.Subgraph{}, err
		}

		var next []string
		for _, edge := range edges {
			for _, endpoint := range []string{edge.From, edge.To} {
				if _, seen := visited[endpoint]; seen {
					continue
				}
				visited[endpoint] = struct{}{}
				order = append(order, endpoint)
				next = append(next, endpoint)
				if len(order) >= req.Limit {
					break
				}
			}
			if len(order) >= req.Limit {
				break
			}
		}
		frontier = next
	}

	nodes, err := store.nodesByID(ctx, order)
	if err != nil {
		return schemas.Subgraph{}, err
	}

	// Second pass: only edges fully inside the expanded node set.
	allEdges, err := store.edgesFrom(ctx, order, req.RelTypes, schemas.DirectionOutgoing)
	if err != nil {
		return schemas.Subgraph{}, err
	}
	var edges []schemas.Edge
	seenEdges := make(map[string]struct{}, len(allEdges))
	for _, edge := range allEdges {
		if _, dup := seenEdges[edge.ID]; dup {
			continue
		}
		if _, ok := visited[edge.From]; !ok {
			continue
		}
		if _, ok := visited[edge.To]; !ok {
			continue
		}
		seenEdges[edge.ID] = struct{}{}
		edges = append(edges, edge)
	}

	return schemas.Subgraph{Nodes: nodes, Edges: edges}, nil
}
