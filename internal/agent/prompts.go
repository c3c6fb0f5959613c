// File: internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

const threatModelerSystemPrompt = `You are the Threat Modeler of 'scalpel-contract', a security analysis engine for API contracts.
You receive a fixed list of vulnerabilities that deterministic analysis already proved.
Your only job is to CHAIN them into realistic multi-step attack scenarios.

RULES:
1. Never invent vulnerabilities. Every step must cite one or more IDs from the provided list, either a vulnerability "id" or one of its "finding_ids".
2. A chain needs at least one step. Prefer chains of two or more steps that combine distinct weaknesses.
3. severity is one of: critical, high, medium, low. likelihood is one of: high, medium, low. complexity is one of: low, medium, high.
4. Respond with a single JSON object and nothing else.

RESPONSE FORMAT:
{
  "chains": [
    {
      "name": "short scenario name",
      "description": "what the attacker achieves",
      "severity": "high",
      "likelihood": "medium",
      "complexity": "low",
      "business_impact": "impact in business terms",
      "steps": [{"order": 1, "action": "what the attacker does", "references": ["V-..."]}],
      "remediation_steps": ["..."]
    }
  ]
}`

const reporterSystemPrompt = `You are the Reporter of 'scalpel-contract', a security analysis engine for API contracts.
You receive scored attack chains and the ranked vulnerabilities they are built from.
Write an executive summary for engineering leadership and a remediation list ordered by priority, most urgent first.
Do not introduce new vulnerabilities or chains. Do not change any score.
Respond with a single JSON object and nothing else:
{"executive_summary": "...", "remediation": ["...", "..."]}`

// promptVulnerability is the reduced view of a vulnerability sent to the model.
type promptVulnerability struct {
	ID          string           `json:"id"`
	Category    string           `json:"category"`
	Severity    schemas.Severity `json:"severity"`
	Title       string           `json:"title"`
	Location    string           `json:"location,omitempty"`
	Description string           `json:"description,omitempty"`
	FindingIDs  []string         `json:"finding_ids"`
}

func toPromptVulnerabilities(vulns []schemas.Vulnerability) []promptVulnerability {
	out := make([]promptVulnerability, 0, len(vulns))
	for _, v := range vulns {
		out = append(out, promptVulnerability{
			ID:          v.ID,
			Category:    v.Category,
			Severity:    v.Severity,
			Title:       v.Title,
			Location:    v.Location,
			Description: v.Description,
			FindingIDs:  v.FindingIDs,
		})
	}
	return out
}

func writeContext(b *strings.Builder, heading string, chunks []schemas.KnowledgeChunk) {
	if len(chunks) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, c := range chunks {
		fmt.Fprintf(b, "- [%s] %s: %s\n", c.ID, c.Title, strings.TrimSpace(c.Content))
	}
	b.WriteString("\n")
}

func buildThreatModelerPrompt(ranked []schemas.Vulnerability, ctxChunks []schemas.KnowledgeChunk) (string, error) {
	payload, err := json.MarshalIndent(map[string]interface{}{
		"vulnerabilities": toPromptVulnerabilities(ranked),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode vulnerabilities: %w", err)
	}
	var b strings.Builder
	writeContext(&b, "ATTACK PATTERN CONTEXT", ctxChunks)
	b.WriteString("VULNERABILITIES:\n")
	b.Write(payload)
	b.WriteString("\n\nChain these vulnerabilities into attack scenarios.")
	return b.String(), nil
}

type promptChain struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Severity   schemas.Severity   `json:"severity"`
	Likelihood schemas.Likelihood `json:"likelihood"`
	Complexity schemas.Complexity `json:"complexity"`
	RiskScore  float64            `json:"risk_score"`
	Impact     string             `json:"business_impact,omitempty"`
	References []string           `json:"references"`
}

func buildReporterPrompt(chains []schemas.AttackChain, ranked []schemas.Vulnerability, overall float64, ctxChunks []schemas.KnowledgeChunk) (string, error) {
	pcs := make([]promptChain, 0, len(chains))
	for _, c := range chains {
		pcs = append(pcs, promptChain{
			ID:         c.ID,
			Name:       c.Name,
			Severity:   c.Severity,
			Likelihood: c.Likelihood,
			Complexity: c.Complexity,
			RiskScore:  c.RiskScore,
			Impact:     c.BusinessImpact,
			References: c.References(),
		})
	}
	payload, err := json.MarshalIndent(map[string]interface{}{
		"overall_risk_score": overall,
		"attack_chains":      pcs,
		"vulnerabilities":    toPromptVulnerabilities(ranked),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report input: %w", err)
	}
	var b strings.Builder
	writeContext(&b, "GOVERNANCE CONTEXT", ctxChunks)
	b.WriteString("REPORT INPUT:\n")
	b.Write(payload)
	return b.String(), nil
}

// retrievalQuery joins the distinct vulnerability categories in first-seen order.
func retrievalQuery(prefix string, vulns []schemas.Vulnerability) string {
	seen := make(map[string]struct{})
	parts := []string{prefix}
	for _, v := range vulns {
		for _, term := range []string{v.Category, string(v.Classification)} {
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			parts = append(parts, term)
		}
	}
	return strings.Join(parts, " ")
}
