// File: internal/agent/threat_modeler.go
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/llmutil"
)

// chainNamespace seeds deterministic chain IDs.
var chainNamespace = uuid.MustParse("6f1c7a52-5d0e-4f43-9a57-0c2b8e1d3f90")

type rawStep struct {
	Order      int      `json:"order"`
	Action     string   `json:"action"`
	References []string `json:"references"`
}

type rawChain struct {
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	Likelihood       string    `json:"likelihood"`
	Complexity       string    `json:"complexity"`
	BusinessImpact   string    `json:"business_impact"`
	Steps            []rawStep `json:"steps"`
	RemediationSteps []string  `json:"remediation_steps"`
}

type chainResponse struct {
	Chains []rawChain `json:"chains"`
}

// ThreatModeler asks the reasoning backend to compose ranked vulnerabilities into
// attack chains, then discards any chain that cites something it was not given.
type ThreatModeler struct {
	llm       schemas.LLMClient
	retriever schemas.KnowledgeRetriever
	topK      int
	logger    *zap.Logger
}

// NewThreatModeler creates the modeling step. retriever may be nil.
func NewThreatModeler(llm schemas.LLMClient, retriever schemas.KnowledgeRetriever, topK int, logger *zap.Logger) *ThreatModeler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreatModeler{llm: llm, retriever: retriever, topK: topK, logger: logger.Named("threat_modeler")}
}

func (t *ThreatModeler) Role() Role { return RoleThreatModeler }

// Execute issues exactly one reasoning call.
func (t *ThreatModeler) Execute(ctx context.Context, in Input) (Output, error) {
	if t.llm == nil {
		return Output{}, ErrNoReasoningBackend
	}
	var out Output
	if len(in.Ranked) == 0 {
		return out, nil
	}

	var chunks []schemas.KnowledgeChunk
	if t.retriever != nil {
		var err error
		chunks, err = t.retriever.Query(ctx, retrievalQuery("api attack patterns", in.Ranked), schemas.CorpusAttacker, t.topK)
		if err != nil {
			t.logger.Warn("Attacker corpus retrieval failed, continuing without context", zap.Error(err))
			out.Degradations = append(out.Degradations, schemas.Degradation{
				Stage:   RoleThreatModeler.String(),
				Kind:    schemas.DegradationRetrieval,
				Message: err.Error(),
			})
			chunks = nil
		}
	}

	prompt, err := buildThreatModelerPrompt(in.Ranked, chunks)
	if err != nil {
		return Output{}, err
	}
	resp, err := t.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: threatModelerSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return Output{}, fmt.Errorf("llm generation failed: %w", err)
	}
	parsed, err := llmutil.ParseJSONResponse[chainResponse](resp)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	chains, reasons := validateChains(parsed.Chains, in.Ranked)
	out.Chains = chains
	out.DropReasons = reasons
	out.Dropped = len(reasons)
	if out.Dropped > 0 {
		t.logger.Warn("Discarded invalid attack chains",
			zap.Int("dropped", out.Dropped),
			zap.Strings("reasons", reasons))
	}
	if len(parsed.Chains) > 0 && len(chains) == 0 {
		out.Degradations = append(out.Degradations, schemas.Degradation{
			Stage:   RoleThreatModeler.String(),
			Kind:    schemas.DegradationReasoning,
			Message: fmt.Sprintf("all %d proposed chains were invalid", len(parsed.Chains)),
		})
	}
	t.logger.Info("Attack chains modeled", zap.Int("accepted", len(chains)), zap.Int("dropped", out.Dropped))
	return out, nil
}

// validateChains converts proposed chains into AttackChains. A chain is rejected
// when it has no steps or cites an ID outside the ranked vulnerabilities and their
// findings. The second return value holds one reason per rejected chain.
func validateChains(proposed []rawChain, ranked []schemas.Vulnerability) ([]schemas.AttackChain, []string) {
	allowed := make(map[string]schemas.Vulnerability)
	for _, v := range ranked {
		allowed[v.ID] = v
		for _, fid := range v.FindingIDs {
			if _, ok := allowed[fid]; !ok {
				allowed[fid] = v
			}
		}
	}

	var (
		chains  []schemas.AttackChain
		reasons []string
		seenIDs = make(map[string]struct{})
	)
	for i, rc := range proposed {
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			name = fmt.Sprintf("chain-%d", i+1)
		}
		if len(rc.Steps) == 0 {
			reasons = append(reasons, fmt.Sprintf("%s: no steps", name))
			continue
		}
		unknown := ""
		steps := make([]schemas.AttackStep, 0, len(rc.Steps))
		for _, st := range rc.Steps {
			if len(st.References) == 0 {
				unknown = "(step without references)"
				break
			}
			for _, ref := range st.References {
				if _, ok := allowed[ref]; !ok {
					unknown = ref
					break
				}
			}
			if unknown != "" {
				break
			}
			steps = append(steps, schemas.AttackStep{
				Order:      st.Order,
				Action:     strings.TrimSpace(st.Action),
				References: append([]string(nil), st.References...),
			})
		}
		if unknown != "" {
			reasons = append(reasons, fmt.Sprintf("%s: unknown reference %s", name, unknown))
			continue
		}
		sort.SliceStable(steps, func(a, b int) bool { return steps[a].Order < steps[b].Order })
		for k := range steps {
			steps[k].Order = k + 1
		}

		chain := schemas.AttackChain{
			Name:             name,
			Description:      rc.Description,
			Steps:            steps,
			Severity:         normalizeSeverity(rc.Severity),
			Likelihood:       normalizeLikelihood(rc.Likelihood),
			Complexity:       normalizeComplexity(rc.Complexity),
			BusinessImpact:   rc.BusinessImpact,
			RemediationSteps: rc.RemediationSteps,
		}
		if chain.Severity == "" {
			chain.Severity = derivedSeverity(chain, allowed)
		}
		refs := chain.References()
		chain.ID = uuid.NewSHA1(chainNamespace, []byte(name+"|"+strings.Join(refs, ","))).String()
		if _, dup := seenIDs[chain.ID]; dup {
			reasons = append(reasons, fmt.Sprintf("%s: duplicate chain", name))
			continue
		}
		seenIDs[chain.ID] = struct{}{}
		chains = append(chains, chain)
	}
	return chains, reasons
}

// derivedSeverity is the worst severity among the vulnerabilities a chain cites.
func derivedSeverity(c schemas.AttackChain, allowed map[string]schemas.Vulnerability) schemas.Severity {
	best := schemas.SeverityLow
	for _, ref := range c.References() {
		if v, ok := allowed[ref]; ok && v.Severity.Rank() < best.Rank() {
			best = v.Severity
		}
	}
	return best
}

func normalizeSeverity(s string) schemas.Severity {
	switch sev := schemas.Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case schemas.SeverityCritical, schemas.SeverityHigh, schemas.SeverityMedium, schemas.SeverityLow:
		return sev
	default:
		return ""
	}
}

func normalizeLikelihood(s string) schemas.Likelihood {
	switch l := schemas.Likelihood(strings.ToLower(strings.TrimSpace(s))); l {
	case schemas.LikelihoodHigh, schemas.LikelihoodLow:
		return l
	default:
		return schemas.LikelihoodMedium
	}
}

func normalizeComplexity(s string) schemas.Complexity {
	switch c := schemas.Complexity(strings.ToLower(strings.TrimSpace(s))); c {
	case schemas.ComplexityLow, schemas.ComplexityHigh:
		return c
	default:
		return schemas.ComplexityMedium
	}
}
