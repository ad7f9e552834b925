// Package export maps traversal results onto the visualization DTO. Graph
// ids are internal; the export assigns stable public ids so downstream
// renderers never see storage identifiers.
package export

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vhalberd/tracegraph/api/schemas"
	"github.com/vhalberd/tracegraph/internal/risk"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Node is the exported node shape. RiskLevel is only set for Risk nodes
// whose FMEA factors could be scored.
type Node struct {
	ID         string              `json:"id"`
	Label      schemas.NodeLabel   `json:"label"`
	Properties *schemas.Properties `json:"properties,omitempty"`
	RiskLevel  schemas.RiskLevel   `json:"risk_level,omitempty"`
}

// Edge is the exported edge shape, keyed by public node ids.
type Edge struct {
	From string                   `json:"from"`
	To   string                   `json:"to"`
	Type schemas.RelationshipType `json:"type"`
}

// Graph is the visualization payload.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// JSON renders the payload.
func (g Graph) JSON() ([]byte, error) {
	blob, err := jsonCodec.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export graph: %w", err)
	}
	return blob, nil
}

// Exporter converts subgraphs to the public DTO, optionally annotating risk
// nodes via the propagator.
type Exporter struct {
	risks *risk.Propagator
	log   *zap.Logger
}

// NewExporter wires an exporter. A nil propagator disables annotation.
func NewExporter(risks *risk.Propagator, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{risks: risks, log: logger.Named("Exporter")}
}

// Export maps the subgraph to public ids, in order of appearance, and
// annotates Risk nodes with their FMEA level. Annotation is cosmetic and
// best-effort: a node that cannot be scored is exported without a level, the
// subgraph itself is never dropped.
func (e *Exporter) Export(ctx context.Context, sub schemas.Subgraph) Graph {
	publicID := make(map[string]string, len(sub.Nodes))
	out := Graph{Nodes: make([]Node, 0, len(sub.Nodes))}

	for i, node := range sub.Nodes {
		id := fmt.Sprintf("n%d", i+1)
		publicID[node.ID] = id
		exported := Node{
			ID:         id,
			Label:      node.Label,
			Properties: node.Properties,
		}
		if e.risks != nil && node.Label == schemas.LabelRisk {
			if assessment, err := e.risks.Assess(ctx, node.ID); err == nil {
				exported.RiskLevel = assessment.Level
			} else {
				e.log.Debug("Skipping risk annotation", zap.String("node", node.ID), zap.Error(err))
			}
		}
		out.Nodes = append(out.Nodes, exported)
	}

	for _, edge := range sub.Edges {
		from, okFrom := publicID[edge.From]
		to, okTo := publicID[edge.To]
		if !okFrom || !okTo {
			continue
		}
		out.Edges = append(out.Edges, Edge{From: from, To: to, Type: edge.Type})
	}
	return out
}
