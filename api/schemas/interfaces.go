package schemas

import (
	"context"
)

// MayDelete is the externally supplied deletion veto. Deletion paths consult
// it before removing a node; the signature service plugs in here so the core
// never embeds signature logic. A nil predicate allows every deletion.
type MayDelete func(ctx context.Context, node Node) (bool, error)

// GraphStore is the property graph storage contract. Implementations must
// ensure the underlying schema exists before any mutation (a one-time,
// retried side effect that is safe to repeat) and must surface connectivity
// loss as ErrStoreUnavailable without retrying.
type GraphStore interface {
	// CreateNode persists a new node under a fresh UUID.
	CreateNode(ctx context.Context, label NodeLabel, props *Properties) (Node, error)

	// ImportNode persists a node under a caller-supplied id. An existing
	// node with that id is left untouched and returned with created ==
	// false, which makes bulk imports idempotent.
	ImportNode(ctx context.Context, id string, label NodeLabel, props *Properties) (node Node, created bool, err error)

	// GetNode returns the node or ErrNotFound.
	GetNode(ctx context.Context, id string) (Node, error)

	// FindNodes returns nodes matching the label and all property-equality
	// filters, up to limit. A zero limit means the store default.
	FindNodes(ctx context.Context, label NodeLabel, propEq map[string]Value, limit int) ([]Node, error)

	// UpdateNode merges the patch into the node's properties. Null patch
	// values delete keys. Returns the updated node.
	UpdateNode(ctx context.Context, id string, patch *Properties) (Node, error)

	// UpdateNodeCAS replaces the node's full property set, guarded by the
	// expected current version string. Returns ErrVersionConflict when the
	// live version no longer matches.
	UpdateNodeCAS(ctx context.Context, id string, props *Properties, expectedVersion string) (Node, error)

	// DeleteNode removes the node and cascades to incident edges. The
	// mayDelete predicate is consulted first; a veto surfaces as
	// ErrDeleteVetoed. Returns false with ErrNotFound absorbed when the node
	// did not exist.
	DeleteNode(ctx context.Context, id string, mayDelete MayDelete) (bool, error)

	// CreateEdge persists a directed edge. When an edge with identical
	// (from, to, type) already exists the call is a logical no-op: the
	// existing edge is returned with created == false.
	CreateEdge(ctx context.Context, from, to string, rel RelationshipType, props *Properties) (edge Edge, created bool, err error)

	// EdgeExists reports whether an edge with the given endpoints and type
	// is present.
	EdgeExists(ctx context.Context, from, to string, rel RelationshipType) (bool, error)

	// OutgoingEdges returns edges leaving the node, optionally restricted to
	// the given relationship types.
	OutgoingEdges(ctx context.Context, nodeID string, rels []RelationshipType) ([]Edge, error)

	// IncomingEdges returns edges entering the node, optionally restricted
	// to the given relationship types.
	IncomingEdges(ctx context.Context, nodeID string, rels []RelationshipType) ([]Edge, error)

	// DeleteEdges removes all edges matching the predicate and returns the
	// count. An empty predicate is rejected with ErrInvalidQuery.
	DeleteEdges(ctx context.Context, pred EdgePredicate) (int64, error)

	// Traverse performs a bounded-depth expansion from the request origin
	// and materializes the sub-graph induced by the visited node set.
	Traverse(ctx context.Context, req TraversalRequest) (Subgraph, error)
}

// SnapshotStore is the append-only version ledger storage contract.
// Snapshots are immutable once written; no two snapshots of a work item may
// share a version.
type SnapshotStore interface {
	// AppendSnapshot persists an immutable snapshot. A duplicate
	// (workitem, version) pair is a ledger corruption and must error.
	AppendSnapshot(ctx context.Context, snap VersionSnapshot) error

	// Snapshots returns every snapshot for the work item, in no particular
	// order; the ledger sorts during history reconstruction.
	Snapshots(ctx context.Context, workItemID string) ([]VersionSnapshot, error)

	// Snapshot returns one exact version, or ErrNotFound.
	Snapshot(ctx context.Context, workItemID, version string) (VersionSnapshot, error)
}
