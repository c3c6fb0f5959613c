// File: internal/agent/agent_test.go
package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/mocks"
)

func sampleVulns() []schemas.Vulnerability {
	return []schemas.Vulnerability{
		{ID: "V-info", Severity: schemas.SeverityInfo, FindingIDs: []string{"F-0"}},
		{ID: "V-med", Category: "BOLA", Severity: schemas.SeverityMedium, FindingIDs: []string{"F-3"}},
		{ID: "V-crit", Category: "SENSITIVE_DATA_EXPOSURE", Classification: schemas.ClassTaint, Severity: schemas.SeverityCritical, FindingIDs: []string{"F-1", "F-2"}},
		{ID: "V-high-b", Severity: schemas.SeverityHigh, FindingIDs: []string{"F-4"}},
		{ID: "V-high-a", Severity: schemas.SeverityHigh, FindingIDs: []string{"F-5"}},
		{ID: "V-high-more", Severity: schemas.SeverityHigh, FindingIDs: []string{"F-6", "F-7"}},
	}
}

func ids(vs []schemas.Vulnerability) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.ID)
	}
	return out
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "scanner", RoleScanner.String())
	assert.Equal(t, "threat_modeler", RoleThreatModeler.String())
	assert.Equal(t, "reporter", RoleReporter.String())
	assert.Equal(t, "unknown", Role(42).String())
}

func TestScanner_RanksAndBounds(t *testing.T) {
	s := NewScanner(zaptest.NewLogger(t), 3)
	assert.Equal(t, RoleScanner, s.Role())

	out, err := s.Execute(context.Background(), Input{Vulnerabilities: sampleVulns()})
	require.NoError(t, err)
	assert.Equal(t, []string{"V-crit", "V-high-more", "V-high-a"}, ids(out.Ranked))
}

func TestScanner_ConfidenceLowersScore(t *testing.T) {
	vulns := []schemas.Vulnerability{
		{ID: "A", Severity: schemas.SeverityHigh, Confidence: 0.3},
		{ID: "B", Severity: schemas.SeverityMedium},
	}
	ranked := Rank(vulns, 0)
	assert.Equal(t, []string{"B", "A"}, ids(ranked))
}

func TestScanner_DefaultMaxAndCancellation(t *testing.T) {
	s := NewScanner(nil, 0)
	assert.Equal(t, DefaultMaxVulnerabilities, s.max)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Execute(ctx, Input{Vulnerabilities: sampleVulns()})
	assert.ErrorIs(t, err, context.Canceled)
}

const validChains = `Here you go:
` + "```json" + `
{"chains":[
 {"name":"Account takeover","description":"d","severity":"HIGH","likelihood":"high","complexity":"low",
  "business_impact":"bi","steps":[{"order":2,"action":"use token","references":["F-2"]},{"order":1,"action":"enumerate","references":["V-med"]}],
  "remediation_steps":["Rotate tokens"]},
 {"name":"Invented","severity":"critical","steps":[{"order":1,"action":"x","references":["V-ghost"]}]},
 {"name":"Empty","steps":[]},
 {"name":"No severity","likelihood":"bogus","steps":[{"order":1,"action":"y","references":["V-crit"]}]}
]}
` + "```"

func TestThreatModeler_ValidatesChains(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	ret := new(mocks.MockKnowledgeRetriever)
	ranked := Rank(sampleVulns(), 0)

	ret.On("Query", mock.Anything, mock.MatchedBy(func(q string) bool {
		return assert.Contains(t, q, "BOLA")
	}), schemas.CorpusAttacker, 3).Return([]schemas.KnowledgeChunk{
		{ID: "atk-bola-enumeration", Title: "BOLA", Content: "enumerate ids"},
	}, nil)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful && req.Options.ForceJSONFormat &&
			assert.Contains(t, req.UserPrompt, "atk-bola-enumeration") &&
			assert.Contains(t, req.UserPrompt, "V-crit")
	})).Return(validChains, nil).Once()

	tm := NewThreatModeler(llm, ret, 3, zaptest.NewLogger(t))
	out, err := tm.Execute(context.Background(), Input{Ranked: ranked})
	require.NoError(t, err)

	require.Len(t, out.Chains, 2)
	assert.Equal(t, 2, out.Dropped)
	assert.Len(t, out.DropReasons, 2)
	assert.Empty(t, out.Degradations)

	first := out.Chains[0]
	assert.Equal(t, "Account takeover", first.Name)
	assert.Equal(t, schemas.SeverityHigh, first.Severity)
	assert.Equal(t, "enumerate", first.Steps[0].Action)
	assert.Equal(t, 1, first.Steps[0].Order)
	assert.NotEmpty(t, first.ID)

	second := out.Chains[1]
	assert.Equal(t, schemas.SeverityCritical, second.Severity, "severity derived from cited vulnerability")
	assert.Equal(t, schemas.LikelihoodMedium, second.Likelihood)
	assert.Equal(t, schemas.ComplexityMedium, second.Complexity)

	llm.AssertExpectations(t)
	ret.AssertExpectations(t)
}

func TestThreatModeler_DeterministicChainIDs(t *testing.T) {
	ranked := Rank(sampleVulns(), 0)
	proposed := []rawChain{{Name: "c", Steps: []rawStep{{Order: 1, Action: "a", References: []string{"V-crit"}}}}}
	a, _ := validateChains(proposed, ranked)
	b, _ := validateChains(proposed, ranked)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestThreatModeler_AllDroppedIsReasoningDegradation(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).
		Return(`{"chains":[{"name":"x","steps":[{"order":1,"action":"a","references":["nope"]}]}]}`, nil)

	out, err := NewThreatModeler(llm, nil, 3, nil).Execute(context.Background(), Input{Ranked: sampleVulns()[1:]})
	require.NoError(t, err)
	assert.Empty(t, out.Chains)
	require.Len(t, out.Degradations, 1)
	assert.Equal(t, schemas.DegradationReasoning, out.Degradations[0].Kind)
}

func TestThreatModeler_RetrievalFailureDegrades(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	ret := new(mocks.MockKnowledgeRetriever)
	ret.On("Query", mock.Anything, mock.Anything, schemas.CorpusAttacker, 3).Return(nil, errors.New("index offline"))
	llm.On("Generate", mock.Anything, mock.Anything).Return(`{"chains":[]}`, nil)

	out, err := NewThreatModeler(llm, ret, 3, nil).Execute(context.Background(), Input{Ranked: sampleVulns()[1:]})
	require.NoError(t, err)
	require.Len(t, out.Degradations, 1)
	assert.Equal(t, schemas.DegradationRetrieval, out.Degradations[0].Kind)
	assert.Contains(t, out.Degradations[0].Message, "index offline")
}

func TestThreatModeler_Errors(t *testing.T) {
	t.Run("no backend", func(t *testing.T) {
		_, err := NewThreatModeler(nil, nil, 3, nil).Execute(context.Background(), Input{Ranked: sampleVulns()})
		assert.ErrorIs(t, err, ErrNoReasoningBackend)
	})

	t.Run("malformed", func(t *testing.T) {
		llm := new(mocks.MockLLMClient)
		llm.On("Generate", mock.Anything, mock.Anything).Return("I cannot help with that.", nil)
		_, err := NewThreatModeler(llm, nil, 3, nil).Execute(context.Background(), Input{Ranked: sampleVulns()})
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("generation error", func(t *testing.T) {
		llm := new(mocks.MockLLMClient)
		boom := errors.New("quota")
		llm.On("Generate", mock.Anything, mock.Anything).Return("", boom)
		_, err := NewThreatModeler(llm, nil, 3, nil).Execute(context.Background(), Input{Ranked: sampleVulns()})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("nothing ranked skips the call", func(t *testing.T) {
		llm := new(mocks.MockLLMClient)
		out, err := NewThreatModeler(llm, nil, 3, nil).Execute(context.Background(), Input{})
		require.NoError(t, err)
		assert.Empty(t, out.Chains)
		llm.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})
}

func TestChainRisk(t *testing.T) {
	c := schemas.AttackChain{Severity: schemas.SeverityCritical, Likelihood: schemas.LikelihoodHigh, Complexity: schemas.ComplexityLow}
	assert.Equal(t, 10.0, ChainRisk(c))

	c = schemas.AttackChain{Severity: schemas.SeverityHigh, Likelihood: schemas.LikelihoodMedium, Complexity: schemas.ComplexityMedium}
	// 10 * 0.75 * 0.7 * 0.85
	assert.Equal(t, 4.46, ChainRisk(c))
}

func TestOverallRisk(t *testing.T) {
	scored := ScoreChains([]schemas.AttackChain{
		{ID: "b", Severity: schemas.SeverityCritical, Likelihood: schemas.LikelihoodHigh, Complexity: schemas.ComplexityLow},
		{ID: "a", Severity: schemas.SeverityLow, Likelihood: schemas.LikelihoodLow, Complexity: schemas.ComplexityLow},
	})
	assert.Equal(t, "b", scored[0].ID)
	// max 10, mean (10+1)/2 = 5.5 -> 7 + 1.65
	assert.Equal(t, 8.65, OverallRisk(scored, nil))

	assert.Equal(t, 0.0, OverallRisk(nil, nil))
	assert.Equal(t, 4.5, OverallRisk(nil, []schemas.Vulnerability{{Severity: schemas.SeverityHigh}}))
}

func TestReporter_Execute(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	ret := new(mocks.MockKnowledgeRetriever)
	ret.On("Query", mock.Anything, mock.Anything, schemas.CorpusGovernance, 2).Return([]schemas.KnowledgeChunk{
		{ID: "gov-risk-scoring", Title: "Scoring", Content: "weights"},
	}, nil)
	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast && assert.Contains(t, req.UserPrompt, "gov-risk-scoring")
	})).Return(`{"executive_summary":"Critical exposure.","remediation":["Fix auth"," ","Fix auth","Add scopes"]}`, nil)

	chains := []schemas.AttackChain{{ID: "c1", Name: "ATO", Severity: schemas.SeverityHigh, Likelihood: schemas.LikelihoodHigh, Complexity: schemas.ComplexityLow,
		Steps: []schemas.AttackStep{{Order: 1, References: []string{"V-crit"}}}}}
	r := NewReporter(llm, ret, 2, zaptest.NewLogger(t))
	assert.Equal(t, RoleReporter, r.Role())

	out, err := r.Execute(context.Background(), Input{Ranked: Rank(sampleVulns(), 0), Chains: chains})
	require.NoError(t, err)
	require.Len(t, out.Chains, 1)
	assert.Equal(t, 7.5, out.Chains[0].RiskScore)
	assert.Equal(t, 7.5, out.OverallRisk)
	assert.Equal(t, "Critical exposure.", out.Summary)
	assert.Equal(t, []string{"Fix auth", "Add scopes"}, out.Remediation)
	assert.Zero(t, chains[0].RiskScore, "input must not be mutated")
}

func TestReporter_FailureKeepsDeterministicOutput(t *testing.T) {
	llm := new(mocks.MockLLMClient)
	llm.On("Generate", mock.Anything, mock.Anything).Return("not json at all", nil)

	chains := []schemas.AttackChain{{ID: "c1", Name: "ATO", Severity: schemas.SeverityHigh, Likelihood: schemas.LikelihoodHigh,
		Complexity: schemas.ComplexityLow, RemediationSteps: []string{"Rotate tokens"}}}
	ranked := []schemas.Vulnerability{{ID: "V-1", Severity: schemas.SeverityHigh, Recommendation: "Remove the field"}}

	out, err := NewReporter(llm, nil, 3, nil).Execute(context.Background(), Input{Ranked: ranked, Chains: chains})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	require.Len(t, out.Chains, 1)
	assert.Contains(t, out.Summary, `"ATO"`)
	assert.Equal(t, []string{"Rotate tokens", "Remove the field"}, out.Remediation)
}

func TestReporter_NoBackend(t *testing.T) {
	out, err := NewReporter(nil, nil, 3, nil).Execute(context.Background(), Input{Ranked: []schemas.Vulnerability{{ID: "V", Severity: schemas.SeverityLow, Title: "t"}}})
	assert.ErrorIs(t, err, ErrNoReasoningBackend)
	assert.Contains(t, out.Summary, "No attack chains were produced.")
	assert.Equal(t, []string{"Address: t"}, out.Remediation)
}
