package schemas

// -- Attack Chain Schemas --

// Likelihood is the Threat Modeler's estimate that a chain is exploitable.
type Likelihood string

const (
	LikelihoodHigh   Likelihood = "high"
	LikelihoodMedium Likelihood = "medium"
	LikelihoodLow    Likelihood = "low"
)

// Weight maps likelihood onto [0, 1]. Unknown values weigh as medium.
func (l Likelihood) Weight() float64 {
	switch l {
	case LikelihoodHigh:
		return 1.0
	case LikelihoodLow:
		return 0.4
	default:
		return 0.7
	}
}

// Complexity is the attacker effort required to execute a chain.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Factor discounts harder chains. Unknown values count as medium.
func (c Complexity) Factor() float64 {
	switch c {
	case ComplexityLow:
		return 1.0
	case ComplexityHigh:
		return 0.7
	default:
		return 0.85
	}
}

// AttackStep is one move of an attack chain. References holds the finding and
// vulnerability IDs the step depends on.
type AttackStep struct {
	Order      int      `json:"order"`
	Action     string   `json:"action"`
	References []string `json:"references"`
}

// AttackChain is a named, multi-step scenario composed only of known facts.
type AttackChain struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Steps            []AttackStep `json:"steps"`
	Severity         Severity     `json:"severity"`
	Likelihood       Likelihood   `json:"likelihood"`
	Complexity       Complexity   `json:"complexity"`
	BusinessImpact   string       `json:"business_impact"`
	RemediationSteps []string     `json:"remediation_steps"`
	// RiskScore is assigned by the Reporter, on a 0 to 10 scale.
	RiskScore float64 `json:"risk_score"`
}

// References returns the de-duplicated set of IDs cited across all steps, in first
// appearance order.
func (c AttackChain) References() []string {
	seen := make(map[string]struct{})
	var refs []string
	for _, step := range c.Steps {
		for _, ref := range step.References {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs
}
