package schemas

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by every graph engine component. Callers classify
// with errors.Is / errors.As; the concrete wrapped messages carry the detail.
var (
	// ErrStoreUnavailable signals connectivity loss or pool exhaustion.
	// Retrying (with backoff) is a caller policy, never done by the store.
	ErrStoreUnavailable = errors.New("graph store unavailable")

	// ErrInvalidQuery signals a malformed traversal or filter request:
	// unknown relationship type, non-positive depth, bad direction. Not
	// retryable.
	ErrInvalidQuery = errors.New("invalid graph query")

	// ErrNotFound signals an absent node or edge. Expected in normal
	// operation and not logged as an error.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEdge signals an edge with identical (from, to, type)
	// already exists.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrExclusiveRelationship signals a mutual-exclusivity violation, e.g.
	// a task that is both in a backlog and assigned to a sprint.
	ErrExclusiveRelationship = errors.New("mutually exclusive relationship already present")

	// ErrVersionConflict signals a concurrent update raced the version
	// ledger's compare-and-swap. The ledger retries once before surfacing it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidVersionFormat signals a current-version string that does not
	// parse as "major.minor". This indicates data corruption and is never
	// silently coerced.
	ErrInvalidVersionFormat = errors.New("invalid version format")

	// ErrDeleteVetoed signals the externally supplied may-delete predicate
	// refused the deletion (e.g. a signed risk).
	ErrDeleteVetoed = errors.New("deletion vetoed")

	// ErrImmutableField signals an attempt to change a write-once property
	// such as a work item's type discriminant.
	ErrImmutableField = errors.New("immutable field")
)

// CycleError reports a rejected dependency edge that would have closed a
// cycle. Path lists node ids from the proposed target back to the proposed
// source, for diagnostics.
type CycleError struct {
	From string
	To   string
	Rel  RelationshipType
	Path []string
}

// Error renders the offending path in traversal order.
func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("dependency cycle: %s --%s--> %s is a self-loop", e.From, e.Rel, e.To)
	}
	return fmt.Sprintf("dependency cycle: adding %s --%s--> %s closes path %s",
		e.From, e.Rel, e.To, strings.Join(e.Path, " -> "))
}

// IsCycle reports whether err is (or wraps) a CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
