package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
	"github.com/vhalberd/tracegraph/internal/graph"
	"github.com/vhalberd/tracegraph/internal/risk"
)

func TestExportPublicIDs(t *testing.T) {
	t.Parallel()
	exporter := NewExporter(nil, zap.NewNop())

	sub := schemas.Subgraph{
		Nodes: []schemas.Node{
			{ID: "internal-a", Label: schemas.LabelWorkItem},
			{ID: "internal-b", Label: schemas.LabelWorkItem},
		},
		Edges: []schemas.Edge{
			{From: "internal-a", To: "internal-b", Type: schemas.RelDependsOn},
			{From: "internal-a", To: "ghost", Type: schemas.RelBlocks},
		},
	}

	out := exporter.Export(context.Background(), sub)

	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "n1", out.Nodes[0].ID)
	assert.Equal(t, "n2", out.Nodes[1].ID)

	// Storage ids never leak and dangling edges are dropped.
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "n1", out.Edges[0].From)
	assert.Equal(t, "n2", out.Edges[0].To)

	blob, err := out.JSON()
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "internal-a")
}

func TestExportRiskAnnotation(t *testing.T) {
	t.Parallel()
	store := graph.NewMemory(zap.NewNop())
	ctx := context.Background()

	scored := schemas.NewProperties()
	scored.Set(schemas.PropSeverity, schemas.Int(10))
	scored.Set(schemas.PropOccurrence, schemas.Int(5))
	scored.Set(schemas.PropDetection, schemas.Int(5))
	riskNode, err := store.CreateNode(ctx, schemas.LabelRisk, scored)
	require.NoError(t, err)

	// This risk carries no factors; annotation must fail soft.
	bareNode, err := store.CreateNode(ctx, schemas.LabelRisk, nil)
	require.NoError(t, err)

	propagator := risk.NewPropagator(store, config.RiskConfig{
		CriticalThreshold: 200, HighThreshold: 100, MediumThreshold: 50, MaxChainDepth: 5,
	}, zap.NewNop())
	exporter := NewExporter(propagator, zap.NewNop())

	scoredOut, err := store.GetNode(ctx, riskNode.ID)
	require.NoError(t, err)
	bareOut, err := store.GetNode(ctx, bareNode.ID)
	require.NoError(t, err)

	out := exporter.Export(ctx, schemas.Subgraph{Nodes: []schemas.Node{scoredOut, bareOut}})

	require.Len(t, out.Nodes, 2)
	assert.Equal(t, schemas.RiskCritical, out.Nodes[0].RiskLevel, "10*5*5 = 250")
	assert.Empty(t, out.Nodes[1].RiskLevel, "unscorable node exports without a level")
}
