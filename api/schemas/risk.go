package schemas

// RiskLevel buckets an RPN score into the four FMEA severity bands.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ChainStep is a single hop of a failure-propagation chain: the edge followed
// and the node it leads to, with the edge's probability. Probability is -1
// when the edge carried no valid probability in [0,1].
type ChainStep struct {
	Edge        Edge    `json:"edge"`
	Node        Node    `json:"node"`
	Probability float64 `json:"probability"`
}

// RiskChain is a derived (never stored) failure-propagation path starting at
// a Risk or Failure node. TotalProbability is the product of all step
// probabilities; if any step lacks a valid probability in [0,1] the total is
// exactly 0, a deliberate "no confidence" sentinel rather than an error.
type RiskChain struct {
	Origin           Node        `json:"origin"`
	Steps            []ChainStep `json:"steps"`
	TotalProbability float64     `json:"total_probability"`
}

// Depth returns the number of hops in the chain.
func (c RiskChain) Depth() int { return len(c.Steps) }

// Terminal returns the last node of the chain, or the origin for an empty
// chain.
func (c RiskChain) Terminal() Node {
	if len(c.Steps) == 0 {
		return c.Origin
	}
	return c.Steps[len(c.Steps)-1].Node
}
