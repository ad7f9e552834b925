package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVocabularies(t *testing.T) {
	t.Parallel()

	assert.True(t, LabelWorkItem.Valid())
	assert.False(t, NodeLabel("Widget").Valid())

	assert.True(t, RelDependsOn.Valid())
	assert.False(t, RelationshipType("KNOWS").Valid())

	assert.True(t, WorkItemRequirement.Valid())
	assert.False(t, WorkItemType("epic").Valid())
}

func TestDependencyFamily(t *testing.T) {
	t.Parallel()

	for _, rel := range DependencyFamily {
		assert.True(t, InDependencyFamily(rel), "%s", rel)
	}
	assert.False(t, InDependencyFamily(RelLeadsTo))
	assert.False(t, InDependencyFamily(RelMitigates))
}

func TestEdgePredicate(t *testing.T) {
	t.Parallel()

	edge := Edge{From: "a", To: "b", Type: RelBlocks}

	assert.True(t, EdgePredicate{From: "a"}.Matches(edge))
	assert.True(t, EdgePredicate{From: "a", To: "b", Type: RelBlocks}.Matches(edge))
	assert.False(t, EdgePredicate{From: "a", Type: RelDependsOn}.Matches(edge))
	assert.True(t, EdgePredicate{}.Empty())
	assert.False(t, EdgePredicate{To: "b"}.Empty())
}

func TestCycleError(t *testing.T) {
	t.Parallel()

	err := &CycleError{From: "a", To: "b", Rel: RelDependsOn, Path: []string{"b", "c", "a"}}

	assert.True(t, IsCycle(err))
	assert.Contains(t, err.Error(), "b -> c -> a")

	wrapped := errors.New("plain")
	assert.False(t, IsCycle(wrapped))
}
