package schemas

import (
	"time"
)

// -- Canonical Property Graph Data Model --

// NodeLabel identifies the kind of entity a node represents. The vocabulary is
// closed; the store rejects labels outside this set.
type NodeLabel string

const (
	LabelWorkItem    NodeLabel = "WorkItem"
	LabelRisk        NodeLabel = "Risk"
	LabelFailure     NodeLabel = "Failure"
	LabelResource    NodeLabel = "Resource"
	LabelProject     NodeLabel = "Project"
	LabelPhase       NodeLabel = "Phase"
	LabelWorkpackage NodeLabel = "Workpackage"
	LabelMilestone   NodeLabel = "Milestone"
	LabelSprint      NodeLabel = "Sprint"
	LabelBacklog     NodeLabel = "Backlog"
	LabelCompany     NodeLabel = "Company"
	LabelDepartment  NodeLabel = "Department"
	LabelUser        NodeLabel = "User"
	LabelComment     NodeLabel = "Comment"
)

// knownLabels is the closed label vocabulary used for validation.
var knownLabels = map[NodeLabel]struct{}{
	LabelWorkItem: {}, LabelRisk: {}, LabelFailure: {}, LabelResource: {},
	LabelProject: {}, LabelPhase: {}, LabelWorkpackage: {}, LabelMilestone: {},
	LabelSprint: {}, LabelBacklog: {}, LabelCompany: {}, LabelDepartment: {},
	LabelUser: {}, LabelComment: {},
}

// Valid reports whether the label belongs to the closed vocabulary.
func (l NodeLabel) Valid() bool {
	_, ok := knownLabels[l]
	return ok
}

// WorkItemType is the discriminant carried by WorkItem nodes in the "type"
// property. It is immutable after creation.
type WorkItemType string

const (
	WorkItemRequirement WorkItemType = "requirement"
	WorkItemTask        WorkItemType = "task"
	WorkItemTest        WorkItemType = "test"
	WorkItemRisk        WorkItemType = "risk"
	WorkItemDocument    WorkItemType = "document"
)

// Valid reports whether the work item type is one of the known discriminants.
func (t WorkItemType) Valid() bool {
	switch t {
	case WorkItemRequirement, WorkItemTask, WorkItemTest, WorkItemRisk, WorkItemDocument:
		return true
	}
	return false
}

// Well-known property keys. PropType and PropVersion only appear on WorkItem
// nodes; PropVersion is owned by the version ledger and must not be patched
// directly by callers.
const (
	PropType        = "type"
	PropVersion     = "version"
	PropName        = "name"
	PropEmail       = "email"
	PropProbability = "probability"
	PropSeverity    = "severity"
	PropOccurrence  = "occurrence"
	PropDetection   = "detection"
)

// RelationshipType defines the semantic type of a directed edge.
type RelationshipType string

const (
	RelDependsOn        RelationshipType = "DEPENDS_ON"
	RelBlocks           RelationshipType = "BLOCKS"
	RelRelatesTo        RelationshipType = "RELATES_TO"
	RelImplements       RelationshipType = "IMPLEMENTS"
	RelValidates        RelationshipType = "VALIDATES"
	RelConflictsWith    RelationshipType = "CONFLICTS_WITH"
	RelMitigates        RelationshipType = "MITIGATES"
	RelLeadsTo          RelationshipType = "LEADS_TO"
	RelAllocatedTo      RelationshipType = "ALLOCATED_TO"
	RelBelongsTo        RelationshipType = "BELONGS_TO"
	RelHasComment       RelationshipType = "HAS_COMMENT"
	RelInBacklog        RelationshipType = "IN_BACKLOG"
	RelAssignedToSprint RelationshipType = "ASSIGNED_TO_SPRINT"
	RelPartOf           RelationshipType = "PART_OF"
	RelHasPhase         RelationshipType = "HAS_PHASE"
	RelHasWorkpackage   RelationshipType = "HAS_WORKPACKAGE"
	RelHasMilestone     RelationshipType = "HAS_MILESTONE"
	RelMemberOf         RelationshipType = "MEMBER_OF"
	RelResponsibleFor   RelationshipType = "RESPONSIBLE_FOR"
	RelDocuments        RelationshipType = "DOCUMENTS"
)

var knownRelationships = map[RelationshipType]struct{}{
	RelDependsOn: {}, RelBlocks: {}, RelRelatesTo: {}, RelImplements: {},
	RelValidates: {}, RelConflictsWith: {}, RelMitigates: {}, RelLeadsTo: {},
	RelAllocatedTo: {}, RelBelongsTo: {}, RelHasComment: {}, RelInBacklog: {},
	RelAssignedToSprint: {}, RelPartOf: {}, RelHasPhase: {}, RelHasWorkpackage: {},
	RelHasMilestone: {}, RelMemberOf: {}, RelResponsibleFor: {}, RelDocuments: {},
}

// Valid reports whether the relationship type is part of the edge vocabulary.
func (r RelationshipType) Valid() bool {
	_, ok := knownRelationships[r]
	return ok
}

// DependencyFamily is the set of relationship types subject to the
// cycle-prevention rules of the integrity checker.
var DependencyFamily = []RelationshipType{
	RelDependsOn, RelBlocks, RelRelatesTo, RelImplements, RelValidates, RelConflictsWith,
}

// InDependencyFamily reports whether rel is covered by cycle prevention.
func InDependencyFamily(rel RelationshipType) bool {
	for _, r := range DependencyFamily {
		if r == rel {
			return true
		}
	}
	return false
}

// Node represents a single labeled entity in the graph. ID is a UUID assigned
// at creation and globally unique; Properties carries all domain attributes.
type Node struct {
	ID         string      `json:"id"`
	Label      NodeLabel   `json:"label"`
	Properties *Properties `json:"properties"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// WorkItemType returns the work item discriminant, or "" for non-WorkItem
// nodes or nodes missing the property.
func (n Node) WorkItemType() WorkItemType {
	if n.Label != LabelWorkItem || n.Properties == nil {
		return ""
	}
	if s, ok := n.Properties.GetString(PropType); ok {
		return WorkItemType(s)
	}
	return ""
}

// Version returns the "major.minor" version string carried by WorkItem nodes.
func (n Node) Version() string {
	if n.Properties == nil {
		return ""
	}
	s, _ := n.Properties.GetString(PropVersion)
	return s
}

// Edge represents a directed, typed relationship between two nodes. ID is an
// opaque store identifier and is not meaningful outside the store.
type Edge struct {
	ID         string           `json:"id"`
	From       string           `json:"from"`
	To         string           `json:"to"`
	Type       RelationshipType `json:"type"`
	Properties *Properties      `json:"properties"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Subgraph is a subset of the graph: a collection of nodes plus the edges
// whose endpoints are both inside that collection.
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeIDs returns the ids of all nodes in the subgraph, in order.
func (s Subgraph) NodeIDs() []string {
	ids := make([]string, len(s.Nodes))
	for i, n := range s.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Direction constrains which incident edges a traversal follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Valid reports whether the direction is one of the three traversal modes.
func (d Direction) Valid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	}
	return false
}

// TraversalRequest is the parameter-bound traversal contract consumed by the
// store. It is produced by the query composer; callers never hand the store
// raw query text.
type TraversalRequest struct {
	// Origin is the id of the node the expansion starts from.
	Origin string
	// RelTypes restricts which edge types are followed. Empty means all.
	RelTypes []RelationshipType
	// Direction selects outgoing, incoming or both.
	Direction Direction
	// MaxDepth bounds the expansion. Must be >= 1.
	MaxDepth int
	// Limit bounds the number of nodes materialized. Must be >= 1.
	Limit int
}

// EdgePredicate selects edges for bulk deletion. Zero-valued fields act as
// wildcards; at least one field must be set.
type EdgePredicate struct {
	From string
	To   string
	Type RelationshipType
}

// Empty reports whether the predicate matches everything (which is rejected).
func (p EdgePredicate) Empty() bool {
	return p.From == "" && p.To == "" && p.Type == ""
}

// Matches reports whether the edge satisfies the predicate.
func (p EdgePredicate) Matches(e Edge) bool {
	if p.From != "" && e.From != p.From {
		return false
	}
	if p.To != "" && e.To != p.To {
		return false
	}
	if p.Type != "" && e.Type != p.Type {
		return false
	}
	return true
}
