// File: internal/agent/reporter.go
package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/llmutil"
)

type reportResponse struct {
	ExecutiveSummary string   `json:"executive_summary"`
	Remediation      []string `json:"remediation"`
}

// Reporter scores chains deterministically and asks the reasoning backend for the
// narrative parts of the report.
type Reporter struct {
	llm       schemas.LLMClient
	retriever schemas.KnowledgeRetriever
	topK      int
	logger    *zap.Logger
}

// NewReporter creates the reporting step. retriever may be nil.
func NewReporter(llm schemas.LLMClient, retriever schemas.KnowledgeRetriever, topK int, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{llm: llm, retriever: retriever, topK: topK, logger: logger.Named("reporter")}
}

func (r *Reporter) Role() Role { return RoleReporter }

// Execute always returns the scored chains and a deterministic summary, even when
// the reasoning call fails. In that case the error is returned alongside them.
func (r *Reporter) Execute(ctx context.Context, in Input) (Output, error) {
	chains := ScoreChains(in.Chains)
	out := Output{
		Chains:      chains,
		OverallRisk: OverallRisk(chains, in.Ranked),
		Summary:     FallbackSummary(chains, in.Ranked),
		Remediation: FallbackRemediation(chains, in.Ranked),
	}
	if r.llm == nil {
		return out, ErrNoReasoningBackend
	}

	var chunks []schemas.KnowledgeChunk
	if r.retriever != nil {
		var err error
		chunks, err = r.retriever.Query(ctx, retrievalQuery("risk scoring compliance remediation", in.Ranked), schemas.CorpusGovernance, r.topK)
		if err != nil {
			r.logger.Warn("Governance corpus retrieval failed, continuing without context", zap.Error(err))
			out.Degradations = append(out.Degradations, schemas.Degradation{
				Stage:   RoleReporter.String(),
				Kind:    schemas.DegradationRetrieval,
				Message: err.Error(),
			})
			chunks = nil
		}
	}

	prompt, err := buildReporterPrompt(chains, in.Ranked, out.OverallRisk, chunks)
	if err != nil {
		return out, err
	}
	resp, err := r.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: reporterSystemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return out, fmt.Errorf("llm generation failed: %w", err)
	}
	parsed, err := llmutil.ParseJSONResponse[reportResponse](resp)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if s := strings.TrimSpace(parsed.ExecutiveSummary); s != "" {
		out.Summary = s
	}
	if rem := compact(parsed.Remediation); len(rem) > 0 {
		out.Remediation = rem
	}
	r.logger.Info("Report assembled",
		zap.Int("chains", len(chains)),
		zap.Float64("overall_risk", out.OverallRisk))
	return out, nil
}

// ChainRisk is severity weight times likelihood weight times complexity factor,
// scaled to 0..10 and rounded to two decimals.
func ChainRisk(c schemas.AttackChain) float64 {
	return round2(10 * c.Severity.Weight() * c.Likelihood.Weight() * c.Complexity.Factor())
}

// ScoreChains returns a copy of chains with RiskScore set, highest risk first and
// ties broken by ID.
func ScoreChains(chains []schemas.AttackChain) []schemas.AttackChain {
	out := make([]schemas.AttackChain, len(chains))
	copy(out, chains)
	for i := range out {
		out[i].RiskScore = ChainRisk(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OverallRisk blends the worst chain with the mean: 0.7*max + 0.3*mean. Without
// chains it falls back to the worst ranked vulnerability at medium likelihood.
func OverallRisk(scored []schemas.AttackChain, ranked []schemas.Vulnerability) float64 {
	if len(scored) == 0 {
		worst := 0.0
		for _, v := range ranked {
			worst = math.Max(worst, v.Severity.Weight())
		}
		if len(ranked) == 0 {
			return 0
		}
		return round2(10 * worst * 0.6)
	}
	var sum, maxScore float64
	for _, c := range scored {
		sum += c.RiskScore
		maxScore = math.Max(maxScore, c.RiskScore)
	}
	return round2(0.7*maxScore + 0.3*sum/float64(len(scored)))
}

// FallbackSummary is the deterministic executive summary used when no reasoning
// output is available.
func FallbackSummary(scored []schemas.AttackChain, ranked []schemas.Vulnerability) string {
	counts := make(map[schemas.Severity]int)
	for _, v := range ranked {
		counts[v.Severity]++
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Deterministic analysis identified %d prioritized vulnerabilities (critical: %d, high: %d, medium: %d, low: %d).",
		len(ranked), counts[schemas.SeverityCritical], counts[schemas.SeverityHigh],
		counts[schemas.SeverityMedium], counts[schemas.SeverityLow])
	if len(scored) > 0 {
		fmt.Fprintf(&b, " %d attack chains were validated; the highest-risk chain is %q with a risk score of %.2f.",
			len(scored), scored[0].Name, scored[0].RiskScore)
	} else {
		b.WriteString(" No attack chains were produced.")
	}
	return b.String()
}

// FallbackRemediation lists chain remediation steps in risk order, followed by the
// recommendations of the ranked vulnerabilities. Duplicates are removed.
func FallbackRemediation(scored []schemas.AttackChain, ranked []schemas.Vulnerability) []string {
	var items []string
	for _, c := range scored {
		items = append(items, c.RemediationSteps...)
	}
	for _, v := range ranked {
		if v.Recommendation != "" {
			items = append(items, v.Recommendation)
		} else if v.Title != "" {
			items = append(items, "Address: "+v.Title)
		}
	}
	return compact(items)
}

func compact(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
