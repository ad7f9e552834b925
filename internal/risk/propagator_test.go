package risk

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
	"github.com/vhalberd/tracegraph/internal/graph"
)

var testThresholds = config.RiskConfig{
	CriticalThreshold: 200,
	HighThreshold:     100,
	MediumThreshold:   50,
	MaxChainDepth:     5,
}

func TestCalculateRPN(t *testing.T) {
	t.Parallel()

	t.Run("deterministic product", func(t *testing.T) {
		rpn, err := CalculateRPN(5, 5, 5)
		require.NoError(t, err)
		assert.Equal(t, 125, rpn)

		again, err := CalculateRPN(5, 5, 5)
		require.NoError(t, err)
		assert.Equal(t, rpn, again)
	})

	t.Run("bounds", func(t *testing.T) {
		rpn, err := CalculateRPN(1, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, rpn)

		rpn, err = CalculateRPN(10, 10, 10)
		require.NoError(t, err)
		assert.Equal(t, 1000, rpn)
	})

	t.Run("out-of-range factors", func(t *testing.T) {
		for _, factors := range [][3]int{{0, 5, 5}, {5, 11, 5}, {5, 5, -1}} {
			_, err := CalculateRPN(factors[0], factors[1], factors[2])
			assert.ErrorIs(t, err, schemas.ErrInvalidQuery, "factors %v", factors)
		}
	})
}

func TestLevelThresholds(t *testing.T) {
	t.Parallel()
	p := NewPropagator(nil, testThresholds, zap.NewNop())

	cases := map[int]schemas.RiskLevel{
		1:    schemas.RiskLow,
		49:   schemas.RiskLow,
		50:   schemas.RiskMedium,
		99:   schemas.RiskMedium,
		100:  schemas.RiskHigh,
		125:  schemas.RiskHigh,
		199:  schemas.RiskHigh,
		200:  schemas.RiskCritical,
		1000: schemas.RiskCritical,
	}
	for rpn, want := range cases {
		assert.Equal(t, want, p.Level(rpn), "rpn %d", rpn)
	}
}

// chainFixture builds risk -> failure-a -> failure-b with probabilities on
// the LEADS_TO edges, plus a side branch risk -> failure-c.
func chainFixture(t *testing.T) (*Propagator, *graph.Memory, map[string]string) {
	t.Helper()
	store := graph.NewMemory(zap.NewNop())
	ctx := context.Background()
	ids := make(map[string]string)

	add := func(name string, label schemas.NodeLabel, props *schemas.Properties) {
		node, err := store.CreateNode(ctx, label, props)
		require.NoError(t, err)
		ids[name] = node.ID
	}

	riskProps := schemas.NewProperties()
	riskProps.Set(schemas.PropName, schemas.String("db outage risk"))
	riskProps.Set(schemas.PropSeverity, schemas.Int(5))
	riskProps.Set(schemas.PropOccurrence, schemas.Int(5))
	riskProps.Set(schemas.PropDetection, schemas.Int(5))
	add("risk", schemas.LabelRisk, riskProps)
	add("failure-a", schemas.LabelFailure, nil)
	add("failure-b", schemas.LabelFailure, nil)
	add("failure-c", schemas.LabelFailure, nil)

	link := func(from, to string, probability float64) {
		props := schemas.NewProperties()
		if probability >= 0 {
			props.Set(schemas.PropProbability, schemas.Float(probability))
		}
		_, _, err := store.CreateEdge(ctx, ids[from], ids[to], schemas.RelLeadsTo, props)
		require.NoError(t, err)
	}
	link("risk", "failure-a", 0.5)
	link("failure-a", "failure-b", 0.8)
	link("risk", "failure-c", 0.25)

	return NewPropagator(store, testThresholds, zap.NewNop()), store, ids
}

func TestAssess(t *testing.T) {
	t.Parallel()
	p, store, ids := chainFixture(t)
	ctx := context.Background()

	t.Run("scores the node", func(t *testing.T) {
		assessment, err := p.Assess(ctx, ids["risk"])
		require.NoError(t, err)
		assert.Equal(t, 125, assessment.RPN)
		assert.Equal(t, schemas.RiskHigh, assessment.Level)
	})

	t.Run("missing factor", func(t *testing.T) {
		_, err := p.Assess(ctx, ids["failure-a"])
		assert.ErrorIs(t, err, schemas.ErrInvalidQuery, "Failure nodes carry no FMEA factors")
	})

	t.Run("whole-float factor is accepted", func(t *testing.T) {
		props := schemas.NewProperties()
		props.Set(schemas.PropSeverity, schemas.Float(5.0))
		props.Set(schemas.PropOccurrence, schemas.Int(5))
		props.Set(schemas.PropDetection, schemas.Int(5))
		node, err := store.CreateNode(ctx, schemas.LabelRisk, props)
		require.NoError(t, err)

		assessment, err := p.Assess(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, 125, assessment.RPN)
	})

	t.Run("non-integer factor", func(t *testing.T) {
		props := schemas.NewProperties()
		props.Set(schemas.PropSeverity, schemas.Float(4.5))
		props.Set(schemas.PropOccurrence, schemas.Int(5))
		props.Set(schemas.PropDetection, schemas.Int(5))
		node, err := store.CreateNode(ctx, schemas.LabelRisk, props)
		require.NoError(t, err)

		_, err = p.Assess(ctx, node.ID)
		assert.ErrorIs(t, err, schemas.ErrInvalidQuery)
	})
}

func TestChains(t *testing.T) {
	t.Parallel()
	p, store, ids := chainFixture(t)
	ctx := context.Background()

	t.Run("multiplies probabilities along the chain", func(t *testing.T) {
		chains, err := p.Chains(ctx, ids["risk"])
		require.NoError(t, err)
		require.Len(t, chains, 2)

		byDepth := map[int]schemas.RiskChain{}
		for _, chain := range chains {
			byDepth[chain.Depth()] = chain
		}

		deep := byDepth[2]
		require.NotNil(t, deep.Steps)
		assert.InDelta(t, 0.4, deep.TotalProbability, 1e-9, "0.5 * 0.8")
		assert.Equal(t, ids["failure-b"], deep.Terminal().ID)

		side := byDepth[1]
		assert.InDelta(t, 0.25, side.TotalProbability, 1e-9)
	})

	t.Run("missing probability collapses the total to exactly zero", func(t *testing.T) {
		// failure-b -> failure-c without a probability property.
		_, _, err := store.CreateEdge(ctx, ids["failure-b"], ids["failure-c"], schemas.RelLeadsTo,
			schemas.NewProperties())
		require.NoError(t, err)

		chains, err := p.Chains(ctx, ids["risk"])
		require.NoError(t, err)

		var found bool
		for _, chain := range chains {
			if chain.Depth() == 3 {
				found = true
				assert.Equal(t, 0.0, chain.TotalProbability)
				assert.True(t, math.Signbit(chain.TotalProbability) == false)
				assert.Equal(t, -1.0, chain.Steps[2].Probability, "invalid step is marked")
			}
		}
		assert.True(t, found, "expected the extended chain to be discovered")
	})

	t.Run("out-of-range probability is invalid", func(t *testing.T) {
		props := schemas.NewProperties()
		props.Set(schemas.PropProbability, schemas.Float(1.5))
		node, err := store.CreateNode(ctx, schemas.LabelRisk, nil)
		require.NoError(t, err)
		target, err := store.CreateNode(ctx, schemas.LabelFailure, nil)
		require.NoError(t, err)
		_, _, err = store.CreateEdge(ctx, node.ID, target.ID, schemas.RelLeadsTo, props)
		require.NoError(t, err)

		chains, err := p.Chains(ctx, node.ID)
		require.NoError(t, err)
		require.Len(t, chains, 1)
		assert.Equal(t, 0.0, chains[0].TotalProbability)
	})

	t.Run("origin must be a risk or failure", func(t *testing.T) {
		user, err := store.CreateNode(ctx, schemas.LabelUser, nil)
		require.NoError(t, err)
		_, err = p.Chains(ctx, user.ID)
		assert.ErrorIs(t, err, schemas.ErrInvalidQuery)
	})
}

func TestChainsTerminateOnCycles(t *testing.T) {
	t.Parallel()
	store := graph.NewMemory(zap.NewNop())
	ctx := context.Background()

	a, err := store.CreateNode(ctx, schemas.LabelFailure, nil)
	require.NoError(t, err)
	b, err := store.CreateNode(ctx, schemas.LabelFailure, nil)
	require.NoError(t, err)

	// LEADS_TO has no cycle prevention; the walker must not loop forever.
	props := schemas.NewProperties()
	props.Set(schemas.PropProbability, schemas.Float(0.5))
	_, _, err = store.CreateEdge(ctx, a.ID, b.ID, schemas.RelLeadsTo, props.Clone())
	require.NoError(t, err)
	_, _, err = store.CreateEdge(ctx, b.ID, a.ID, schemas.RelLeadsTo, props.Clone())
	require.NoError(t, err)

	p := NewPropagator(store, testThresholds, zap.NewNop())
	chains, err := p.Chains(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, 1, chains[0].Depth())
}

func TestChainsDepthBound(t *testing.T) {
	t.Parallel()
	store := graph.NewMemory(zap.NewNop())
	ctx := context.Background()

	// A straight line two hops past the configured depth.
	cfg := testThresholds
	cfg.MaxChainDepth = 3

	prev, err := store.CreateNode(ctx, schemas.LabelFailure, nil)
	require.NoError(t, err)
	origin := prev
	for i := 0; i < 5; i++ {
		next, err := store.CreateNode(ctx, schemas.LabelFailure, nil)
		require.NoError(t, err)
		props := schemas.NewProperties()
		props.Set(schemas.PropProbability, schemas.Float(0.9))
		_, _, err = store.CreateEdge(ctx, prev.ID, next.ID, schemas.RelLeadsTo, props)
		require.NoError(t, err)
		prev = next
	}

	p := NewPropagator(store, cfg, zap.NewNop())
	chains, err := p.Chains(ctx, origin.ID)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, 3, chains[0].Depth())
}
