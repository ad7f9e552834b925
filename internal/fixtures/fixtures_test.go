package fixtures

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/graph"
	"github.com/vhalberd/tracegraph/internal/integrity"
)

const demoTemplate = `
name: demo-project
nodes:
  - id: req-auth
    label: WorkItem
    properties:
      type: requirement
      name: User authentication
      skills: '["security","backend"]'
  - id: task-auth
    label: WorkItem
    properties:
      type: task
      name: Implement login
  - id: alice
    label: User
    properties:
      name: Alice
      email: alice@example.com
edges:
  - from: task-auth
    to: req-auth
    type: IMPLEMENTS
  - from: alice
    to: task-auth
    type: RESPONSIBLE_FOR
`

func newLoader(t *testing.T) (*Loader, *graph.Memory) {
	t.Helper()
	store := graph.NewMemory(zap.NewNop())
	checker := integrity.NewChecker(store, zap.NewNop())
	return NewLoader(store, checker, zap.NewNop()), store
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("valid template", func(t *testing.T) {
		tmpl, err := Parse([]byte(demoTemplate))
		require.NoError(t, err)
		assert.Equal(t, "demo-project", tmpl.Name)
		assert.Len(t, tmpl.Nodes, 3)
		assert.Len(t, tmpl.Edges, 2)
	})

	t.Run("rejections", func(t *testing.T) {
		cases := map[string]string{
			"missing name":      `nodes: [{id: a, label: User}]`,
			"duplicate node id": `{name: x, nodes: [{id: a, label: User}, {id: a, label: User}]}`,
			"unknown label":     `{name: x, nodes: [{id: a, label: Widget}]}`,
			"dangling edge ref": `{name: x, nodes: [{id: a, label: User}], edges: [{from: a, to: ghost, type: RELATES_TO}]}`,
			"unknown edge type": `{name: x, nodes: [{id: a, label: User}, {id: b, label: User}], edges: [{from: a, to: b, type: KNOWS}]}`,
			"not yaml":          `{{{`,
		}
		for name, doc := range cases {
			_, err := Parse([]byte(doc))
			assert.Error(t, err, name)
		}
	})
}

func TestNodeIDDeterminism(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NodeID("demo", "a"), NodeID("demo", "a"))
	assert.NotEqual(t, NodeID("demo", "a"), NodeID("demo", "b"))
	assert.NotEqual(t, NodeID("demo", "a"), NodeID("other", "a"))
}

func TestApply(t *testing.T) {
	t.Parallel()
	loader, store := newLoader(t)
	ctx := context.Background()

	tmpl, err := Parse([]byte(demoTemplate))
	require.NoError(t, err)

	report, err := loader.Apply(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, 3, report.NodesCreated)
	assert.Equal(t, 0, report.NodesSkipped)
	assert.Equal(t, 2, report.EdgesCreated)
	assert.Equal(t, 0, report.EdgesSkipped)

	t.Run("work items get an initial version", func(t *testing.T) {
		node, err := store.GetNode(ctx, NodeID("demo-project", "req-auth"))
		require.NoError(t, err)
		assert.Equal(t, "1.0", node.Version())
	})

	t.Run("json-string properties coerce to the JSON kind", func(t *testing.T) {
		node, err := store.GetNode(ctx, NodeID("demo-project", "req-auth"))
		require.NoError(t, err)
		v, ok := node.Properties.Get("skills")
		require.True(t, ok)
		_, isJSON := v.AsJSON()
		assert.True(t, isJSON)
	})

	t.Run("second apply is fully idempotent", func(t *testing.T) {
		again, err := loader.Apply(ctx, tmpl)
		require.NoError(t, err)
		assert.Equal(t, 0, again.NodesCreated)
		assert.Equal(t, 3, again.NodesSkipped)
		assert.Equal(t, 0, again.EdgesCreated)
		assert.Equal(t, 2, again.EdgesSkipped)
	})
}

func TestApplyNaturalKeyDedup(t *testing.T) {
	t.Parallel()
	loader, store := newLoader(t)
	ctx := context.Background()

	// A user with the template's email already exists under a random id.
	props := schemas.NewProperties()
	props.Set(schemas.PropEmail, schemas.String("alice@example.com"))
	_, err := store.CreateNode(ctx, schemas.LabelUser, props)
	require.NoError(t, err)

	tmpl, err := Parse([]byte(`
name: users-only
nodes:
  - id: alice
    label: User
    properties:
      email: alice@example.com
`))
	require.NoError(t, err)

	report, err := loader.Apply(ctx, tmpl)
	require.NoError(t, err)
	assert.Equal(t, 0, report.NodesCreated)
	assert.Equal(t, 1, report.NodesSkipped)
}

func TestApplyRejectsIntegrityViolations(t *testing.T) {
	t.Parallel()
	loader, _ := newLoader(t)
	ctx := context.Background()

	tmpl, err := Parse([]byte(`
name: cyclic
nodes:
  - id: a
    label: WorkItem
    properties: {type: task}
  - id: b
    label: WorkItem
    properties: {type: task}
edges:
  - {from: a, to: b, type: DEPENDS_ON}
  - {from: b, to: a, type: DEPENDS_ON}
`))
	require.NoError(t, err)

	_, err = loader.Apply(ctx, tmpl)
	assert.True(t, schemas.IsCycle(err), "got %v", err)
}

func TestApplyRequiresWorkItemType(t *testing.T) {
	t.Parallel()
	loader, _ := newLoader(t)

	tmpl, err := Parse([]byte(`
name: bad-wi
nodes:
  - id: a
    label: WorkItem
    properties: {name: typeless}
`))
	require.NoError(t, err)

	_, err = loader.Apply(context.Background(), tmpl)
	assert.Error(t, err)
}
