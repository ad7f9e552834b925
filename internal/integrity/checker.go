// Package integrity gates edge creation. Dependency-family edges are checked
// for self-loops, duplicates and cycles before they are persisted; LEADS_TO
// edges are validated against the risk/failure label rules; mutually
// exclusive relationship families are enforced with pre-write existence
// checks.
package integrity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
)

// Checker validates and creates edges. The check-then-insert sequence for
// guarded relationship types is serialized by an application-level mutex, so
// two concurrent writers cannot each pass the cycle check and then close a
// cycle together.
type Checker struct {
	store schemas.GraphStore
	log   *zap.Logger

	// mu serializes check+insert for guarded relationship families.
	mu sync.Mutex
}

// NewChecker wires a checker over the graph store.
func NewChecker(store schemas.GraphStore, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{store: store, log: logger.Named("IntegrityChecker")}
}

// CreateEdge is the gated edge-creation entry point. Unguarded relationship
// types pass straight through to the store; dependency-family, LEADS_TO and
// mutually exclusive types are checked first. Integrity violations always
// surface to the caller.
func (c *Checker) CreateEdge(ctx context.Context, from, to string, rel schemas.RelationshipType, props *schemas.Properties) (schemas.Edge, bool, error) {
	if !rel.Valid() {
		return schemas.Edge{}, false, fmt.Errorf("%w: unknown relationship type %q", schemas.ErrInvalidQuery, rel)
	}

	guarded := schemas.InDependencyFamily(rel) || rel == schemas.RelLeadsTo || isExclusive(rel)
	if guarded {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	switch {
	case schemas.InDependencyFamily(rel):
		if err := c.checkDependency(ctx, from, to, rel); err != nil {
			return schemas.Edge{}, false, err
		}
	case rel == schemas.RelLeadsTo:
		if err := c.checkLeadsTo(ctx, from, to); err != nil {
			return schemas.Edge{}, false, err
		}
	case isExclusive(rel):
		if err := c.checkExclusive(ctx, from, to, rel); err != nil {
			return schemas.Edge{}, false, err
		}
	}

	return c.store.CreateEdge(ctx, from, to, rel, props)
}

// checkDependency enforces the three dependency rules in order: no
// self-loops, no duplicate (from, to, type) edges, no cycles. Both endpoints
// must be WorkItem nodes.
func (c *Checker) checkDependency(ctx context.Context, from, to string, rel schemas.RelationshipType) error {
	if from == to {
		return &schemas.CycleError{From: from, To: to, Rel: rel}
	}

	for _, id := range []string{from, to} {
		node, err := c.store.GetNode(ctx, id)
		if err != nil {
			return err
		}
		if node.Label != schemas.LabelWorkItem {
			return fmt.Errorf("%w: dependency edges connect WorkItem nodes, %s is %s",
				schemas.ErrInvalidQuery, id, node.Label)
		}
	}

	exists, err := c.store.EdgeExists(ctx, from, to, rel)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s --%s--> %s", schemas.ErrDuplicateEdge, from, rel, to)
	}

	// The proposed edge from -> to closes a cycle exactly when `to` already
	// reaches `from` through the family, so we search before inserting.
	path, reachable, err := c.findPath(ctx, to, from)
	if err != nil {
		return err
	}
	if reachable {
		c.log.Debug("Rejected dependency edge closing a cycle",
			zap.String("from", from), zap.String("to", to), zap.String("type", string(rel)),
			zap.Strings("path", path))
		return &schemas.CycleError{From: from, To: to, Rel: rel, Path: path}
	}
	return nil
}

// findPath runs an iterative depth-first search from start to target over
// outgoing dependency-family edges. It returns the discovered node path for
// diagnostics. One shared visited set bounds the work at O(V+E).
func (c *Checker) findPath(ctx context.Context, start, target string) ([]string, bool, error) {
	visited := map[string]struct{}{start: {}}
	parent := map[string]string{}
	stack := []string{start}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current == target {
			return reconstructPath(parent, start, target), true, nil
		}

		edges, err := c.store.OutgoingEdges(ctx, current, schemas.DependencyFamily)
		if err != nil {
			return nil, false, err
		}
		for _, edge := range edges {
			if _, seen := visited[edge.To]; seen {
				continue
			}
			visited[edge.To] = struct{}{}
			parent[edge.To] = current
			stack = append(stack, edge.To)
		}
	}
	return nil, false, nil
}

func reconstructPath(parent map[string]string, start, target string) []string {
	path := []string{target}
	for current := target; current != start; {
		prev, ok := parent[current]
		if !ok {
			break
		}
		path = append(path, prev)
		current = prev
	}
	// reverse into start..target order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// checkLeadsTo enforces the failure-propagation rule: LEADS_TO may only run
// from a Risk or Failure node to a Failure node.
func (c *Checker) checkLeadsTo(ctx context.Context, from, to string) error {
	fromNode, err := c.store.GetNode(ctx, from)
	if err != nil {
		return err
	}
	if fromNode.Label != schemas.LabelRisk && fromNode.Label != schemas.LabelFailure {
		return fmt.Errorf("%w: LEADS_TO must start at a Risk or Failure node, %s is %s",
			schemas.ErrInvalidQuery, from, fromNode.Label)
	}
	toNode, err := c.store.GetNode(ctx, to)
	if err != nil {
		return err
	}
	if toNode.Label != schemas.LabelFailure {
		return fmt.Errorf("%w: LEADS_TO must end at a Failure node, %s is %s",
			schemas.ErrInvalidQuery, to, toNode.Label)
	}
	return nil
}

func isExclusive(rel schemas.RelationshipType) bool {
	switch rel {
	case schemas.RelInBacklog, schemas.RelAssignedToSprint, schemas.RelAllocatedTo:
		return true
	}
	return false
}

// checkExclusive enforces the mutually exclusive relationship families: a
// task is either in a backlog or assigned to a sprint, and a resource is
// allocated to a project or to a task, never both.
func (c *Checker) checkExclusive(ctx context.Context, from, to string, rel schemas.RelationshipType) error {
	switch rel {
	case schemas.RelInBacklog, schemas.RelAssignedToSprint:
		other := schemas.RelAssignedToSprint
		if rel == schemas.RelAssignedToSprint {
			other = schemas.RelInBacklog
		}
		existing, err := c.store.OutgoingEdges(ctx, from, []schemas.RelationshipType{other})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: %s already has %s", schemas.ErrExclusiveRelationship, from, other)
		}
		return nil

	case schemas.RelAllocatedTo:
		newTarget, err := c.store.GetNode(ctx, to)
		if err != nil {
			return err
		}
		existing, err := c.store.OutgoingEdges(ctx, from, []schemas.RelationshipType{schemas.RelAllocatedTo})
		if err != nil {
			return err
		}
		for _, edge := range existing {
			if edge.To == to {
				continue // idempotent re-create; the store reports it
			}
			current, err := c.store.GetNode(ctx, edge.To)
			if err != nil {
				return err
			}
			if current.Label != newTarget.Label {
				return fmt.Errorf("%w: %s is already allocated to a %s",
					schemas.ErrExclusiveRelationship, from, current.Label)
			}
		}
		return nil
	}
	return nil
}
