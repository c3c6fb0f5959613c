// File: internal/agent/scanner.go
package agent

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// DefaultMaxVulnerabilities bounds the ranked subset handed to the reasoning steps.
const DefaultMaxVulnerabilities = 25

// Scanner ranks vulnerabilities locally. It never calls a reasoning backend.
type Scanner struct {
	logger *zap.Logger
	max    int
}

// NewScanner creates a Scanner keeping at most max vulnerabilities.
func NewScanner(logger *zap.Logger, max int) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if max <= 0 {
		max = DefaultMaxVulnerabilities
	}
	return &Scanner{logger: logger.Named("scanner"), max: max}
}

func (s *Scanner) Role() Role { return RoleScanner }

// Execute drops informational entries, orders the rest by score and truncates.
func (s *Scanner) Execute(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	ranked := Rank(in.Vulnerabilities, s.max)
	s.logger.Debug("Vulnerabilities ranked",
		zap.Int("input", len(in.Vulnerabilities)),
		zap.Int("ranked", len(ranked)))
	return Output{Ranked: ranked}, nil
}

// Score is severity weight scaled by confidence. A zero confidence counts as
// certain, matching findings that carry no heuristic estimate.
func Score(v schemas.Vulnerability) float64 {
	conf := v.Confidence
	if conf <= 0 || conf > 1 {
		conf = 1
	}
	return v.Severity.Weight() * conf
}

// Rank returns a copy of vulns without informational entries, highest score first,
// bounded to max. Ties prefer more supporting findings, then the lower ID.
func Rank(vulns []schemas.Vulnerability, max int) []schemas.Vulnerability {
	out := make([]schemas.Vulnerability, 0, len(vulns))
	for _, v := range vulns {
		if v.Severity == schemas.SeverityInfo || v.Severity == "" {
			continue
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := Score(out[i]), Score(out[j])
		if si != sj {
			return si > sj
		}
		if len(out[i].FindingIDs) != len(out[j].FindingIDs) {
			return len(out[i].FindingIDs) > len(out[j].FindingIDs)
		}
		return out[i].ID < out[j].ID
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
