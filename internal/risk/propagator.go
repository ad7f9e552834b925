// Package risk implements FMEA scoring and failure-chain propagation. RPN
// scores are pure arithmetic over the three FMEA factors; chains are derived
// on demand by walking LEADS_TO edges and are never persisted.
package risk

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/config"
)

// CalculateRPN computes the Risk Priority Number severity * occurrence *
// detection. Each factor must lie in [1,10], which bounds the result to
// [1,1000].
func CalculateRPN(severity, occurrence, detection int) (int, error) {
	for _, factor := range []struct {
		name  string
		value int
	}{
		{"severity", severity},
		{"occurrence", occurrence},
		{"detection", detection},
	} {
		if factor.value < 1 || factor.value > 10 {
			return 0, fmt.Errorf("%w: %s must be in [1,10], got %d",
				schemas.ErrInvalidQuery, factor.name, factor.value)
		}
	}
	return severity * occurrence * detection, nil
}

// Assessment is the derived FMEA verdict for a risk node.
type Assessment struct {
	RPN   int               `json:"rpn"`
	Level schemas.RiskLevel `json:"level"`
}

// Propagator scores risk nodes and discovers failure-propagation chains.
type Propagator struct {
	store schemas.GraphStore
	cfg   config.RiskConfig
	log   *zap.Logger
}

// NewPropagator wires a propagator over the graph store with the configured
// level thresholds and chain depth bound.
func NewPropagator(store schemas.GraphStore, cfg config.RiskConfig, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{store: store, cfg: cfg, log: logger.Named("RiskPropagator")}
}

// Level buckets an RPN score using the configured thresholds.
func (p *Propagator) Level(rpn int) schemas.RiskLevel {
	switch {
	case rpn >= p.cfg.CriticalThreshold:
		return schemas.RiskCritical
	case rpn >= p.cfg.HighThreshold:
		return schemas.RiskHigh
	case rpn >= p.cfg.MediumThreshold:
		return schemas.RiskMedium
	default:
		return schemas.RiskLow
	}
}

// Assess loads a risk node, reads its three FMEA factor properties and
// returns the RPN and level. Missing or out-of-range factors are an input
// error, not a silent zero.
func (p *Propagator) Assess(ctx context.Context, nodeID string) (Assessment, error) {
	node, err := p.store.GetNode(ctx, nodeID)
	if err != nil {
		return Assessment{}, err
	}
	if node.Label != schemas.LabelRisk {
		return Assessment{}, fmt.Errorf("%w: node %s is %s, FMEA scoring applies to Risk nodes",
			schemas.ErrInvalidQuery, nodeID, node.Label)
	}

	severity, err := factor(node, schemas.PropSeverity)
	if err != nil {
		return Assessment{}, err
	}
	occurrence, err := factor(node, schemas.PropOccurrence)
	if err != nil {
		return Assessment{}, err
	}
	detection, err := factor(node, schemas.PropDetection)
	if err != nil {
		return Assessment{}, err
	}

	rpn, err := CalculateRPN(severity, occurrence, detection)
	if err != nil {
		return Assessment{}, err
	}
	return Assessment{RPN: rpn, Level: p.Level(rpn)}, nil
}

func factor(node schemas.Node, key string) (int, error) {
	value, ok := node.Properties.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: risk node %s is missing %q", schemas.ErrInvalidQuery, node.ID, key)
	}
	// Whole-valued floats normalize to the int kind at construction, so this
	// also covers factors that arrived as JSON numbers like 7.0.
	if n, ok := value.AsInt(); ok {
		return int(n), nil
	}
	return 0, fmt.Errorf("%w: risk node %s has non-integer %q", schemas.ErrInvalidQuery, node.ID, key)
}

// Chains discovers every maximal failure-propagation chain starting at the
// origin, which must be a Risk or Failure node. Traversal follows LEADS_TO
// edges up to the configured depth; nodes already on the current path are not
// revisited, so cyclic failure graphs terminate.
func (p *Propagator) Chains(ctx context.Context, originID string) ([]schemas.RiskChain, error) {
	origin, err := p.store.GetNode(ctx, originID)
	if err != nil {
		return nil, err
	}
	if origin.Label != schemas.LabelRisk && origin.Label != schemas.LabelFailure {
		return nil, fmt.Errorf("%w: chains start at Risk or Failure nodes, %s is %s",
			schemas.ErrInvalidQuery, originID, origin.Label)
	}

	walker := &chainWalker{
		store:    p.store,
		maxDepth: p.cfg.MaxChainDepth,
		onPath:   map[string]struct{}{originID: {}},
	}
	if err := walker.walk(ctx, originID, nil); err != nil {
		return nil, err
	}

	chains := make([]schemas.RiskChain, len(walker.chains))
	for i, steps := range walker.chains {
		chains[i] = schemas.RiskChain{
			Origin:           origin,
			Steps:            steps,
			TotalProbability: chainProbability(steps),
		}
	}
	p.log.Debug("Failure chains discovered",
		zap.String("origin", originID), zap.Int("count", len(chains)))
	return chains, nil
}

type chainWalker struct {
	store    schemas.GraphStore
	maxDepth int
	onPath   map[string]struct{}
	chains   [][]schemas.ChainStep
}

// walk extends the current path from nodeID. A path is emitted as a chain
// when it cannot grow: depth reached, no outgoing LEADS_TO edges, or all
// successors already on the path.
func (w *chainWalker) walk(ctx context.Context, nodeID string, path []schemas.ChainStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var edges []schemas.Edge
	if len(path) < w.maxDepth {
		var err error
		edges, err = w.store.OutgoingEdges(ctx, nodeID, []schemas.RelationshipType{schemas.RelLeadsTo})
		if err != nil {
			return err
		}
	}

	extended := false
	for _, edge := range edges {
		if _, cyclic := w.onPath[edge.To]; cyclic {
			continue
		}
		next, err := w.store.GetNode(ctx, edge.To)
		if err != nil {
			return err
		}
		step := schemas.ChainStep{Edge: edge, Node: next, Probability: edgeProbability(edge)}

		w.onPath[edge.To] = struct{}{}
		if err := w.walk(ctx, edge.To, append(path, step)); err != nil {
			return err
		}
		delete(w.onPath, edge.To)
		extended = true
	}

	if !extended && len(path) > 0 {
		chain := make([]schemas.ChainStep, len(path))
		copy(chain, path)
		w.chains = append(w.chains, chain)
	}
	return nil
}

// edgeProbability reads the probability carried by a LEADS_TO edge. Anything
// outside [0,1], or missing entirely, yields the invalid marker -1.
func edgeProbability(edge schemas.Edge) float64 {
	if edge.Properties == nil {
		return -1
	}
	f, ok := edge.Properties.GetFloat(schemas.PropProbability)
	if !ok || f < 0 || f > 1 {
		return -1
	}
	return f
}

// chainProbability multiplies the step probabilities. Any invalid step
// collapses the total to exactly 0, signalling "no confidence" without
// failing the chain discovery.
func chainProbability(steps []schemas.ChainStep) float64 {
	total := 1.0
	for _, step := range steps {
		if step.Probability < 0 {
			return 0
		}
		total *= step.Probability
	}
	return total
}
