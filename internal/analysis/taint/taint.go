// Package taint follows sensitive schema fields to the operations that expose them.
//
// Sources are SENSITIVE_FIELD findings. Propagation runs breadth-first over the
// reversed REFERENCES and RETURNS edges, so a field reaches every schema that embeds
// it and finally every operation that returns one of those schemas. An operation
// with a non-empty effective security requirement is a barrier; anything else is a
// sink.
package taint

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

const (
	// Name identifies the analyzer in results and logs.
	Name = "TaintAnalyzer"
	// Category is the vulnerability category this analyzer reports.
	Category = "SENSITIVE_DATA_EXPOSURE"
)

// Analyzer implements core.Analyzer.
type Analyzer struct {
	*core.BaseAnalyzer
	maxDepth int
}

var _ core.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates a taint analyzer. maxDepth bounds the number of hops from a
// source; zero means unbounded.
func NewAnalyzer(logger *zap.Logger, maxDepth int) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer(Name, "Propagates sensitive fields to unauthenticated responses", core.TypeDataFlow, logger),
		maxDepth:     maxDepth,
	}
}

// Analyze runs one reverse traversal per source.
func (a *Analyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) (schemas.AnalyzerResult, error) {
	res := schemas.AnalyzerResult{Analyzer: Name}
	g := ac.Graph
	if g == nil {
		return res, nil
	}
	barriers := 0

	for _, src := range ac.AllSensitiveFields() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sourceID := graph.SchemaID(src.Metadata.Schema)
		walk := g.BFS(sourceID, graph.Reverse, a.maxDepth, graph.EdgeReferences, graph.EdgeReturns)
		if walk.Truncated {
			res.Notes = append(res.Notes, fmt.Sprintf("taint traversal from %s truncated at depth %d", src.Location, a.maxDepth))
		}

		for _, id := range walk.Order {
			op, ok := g.Operation(id)
			if !ok {
				continue
			}
			if !op.Public {
				barriers++
				continue
			}
			pathCount := countPaths(g, op.ID, sourceID)
			res.Vulnerabilities = append(res.Vulnerabilities, a.vulnerability(ac, src, op, displayPath(walk.PathTo(id)), pathCount))
		}
	}

	a.Logger.Debug("Taint analysis complete",
		zap.Int("vulnerabilities", len(res.Vulnerabilities)),
		zap.Int("barriers", barriers))
	return res, nil
}

func (a *Analyzer) vulnerability(ac *core.AnalysisContext, src schemas.Finding, op *graph.OperationNode, path []string, pathCount int) schemas.Vulnerability {
	ids := []string{src.ID}
	if f, ok := ac.PublicEndpoint(op.ID); ok {
		ids = append(ids, f.ID)
	}
	if f, ok := ac.ReturnsFinding(op.ID, src.Metadata.Schema); ok {
		ids = append(ids, f.ID)
	}
	v := newVulnerability(src, op.ID, op.Label(), ids)
	v.Path = path
	v.PathCount = pathCount
	return v
}

// newVulnerability is shared by the graph and findings-only paths so both produce
// identical IDs for the same exposure.
func newVulnerability(src schemas.Finding, opID, opLabel string, findingIDs []string) schemas.Vulnerability {
	md := src.Metadata
	return schemas.Vulnerability{
		ID:             core.StableID("V-", "taint", opID, md.Schema, md.Field),
		Category:       Category,
		Classification: schemas.ClassTaint,
		Title:          fmt.Sprintf("Sensitive field %s.%s exposed by unauthenticated %s", md.Schema, md.Field, opLabel),
		Description: fmt.Sprintf("%s returns schema %s carrying %s-tier field %q without any security requirement.",
			opLabel, md.Schema, md.Tier, md.Field),
		Severity:       md.Tier.Severity(),
		Location:       opLabel,
		Operation:      opLabel,
		Schema:         md.Schema,
		Field:          md.Field,
		FindingIDs:     findingIDs,
		Confidence:     1.0,
		Recommendation: fmt.Sprintf("Require authentication on %s or remove %s from the response schema.", opLabel, md.Field),
	}
}

// maxCountedPaths caps countPaths on densely cross-referenced contracts.
const maxCountedPaths = 1000

// countPaths counts the distinct simple paths from an operation to the source
// schema: one RETURNS edge followed by any number of REFERENCES edges. Parallel
// edges (two properties of the same type, two responses) are distinct paths.
func countPaths(g *graph.Graph, opID, sourceID string) int {
	count := 0
	onPath := make(map[string]struct{})
	var visit func(id string)
	visit = func(id string) {
		if count >= maxCountedPaths {
			return
		}
		if id == sourceID {
			count++
			return
		}
		if _, ok := onPath[id]; ok {
			return
		}
		onPath[id] = struct{}{}
		for _, e := range g.Out(id, graph.EdgeReferences) {
			visit(e.To)
		}
		delete(onPath, id)
	}
	for _, e := range g.Out(opID, graph.EdgeReturns) {
		visit(e.To)
	}
	return count
}

// displayPath renders node IDs as schema names and operation labels.
func displayPath(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		if strings.HasPrefix(id, "op:") {
			out[i] = strings.TrimPrefix(id, "op:")
			continue
		}
		out[i] = graph.SchemaName(id)
	}
	return out
}

// FromFindings derives taint vulnerabilities from a finding set alone. It joins
// SENSITIVE_FIELD findings with the ENDPOINT_RETURNS_SCHEMA findings of public
// operations; because return associations already include nested schemas, this
// reproduces the exposures found by the graph traversal without hop detail.
func FromFindings(fs []schemas.Finding) []schemas.Vulnerability {
	sensitive := make(map[string][]schemas.Finding)
	public := make(map[string]schemas.Finding)
	for _, f := range fs {
		switch f.Kind {
		case schemas.KindSensitiveField:
			sensitive[f.Metadata.Schema] = append(sensitive[f.Metadata.Schema], f)
		case schemas.KindPublicEndpoint:
			public[f.Metadata.OperationID] = f
		}
	}

	var out []schemas.Vulnerability
	seen := make(map[string]struct{})
	for _, f := range fs {
		if f.Kind != schemas.KindEndpointReturnsSchema {
			continue
		}
		pub, ok := public[f.Metadata.OperationID]
		if !ok {
			continue
		}
		label := f.Metadata.Method + " " + f.Metadata.Path
		for _, src := range sensitive[f.Metadata.Schema] {
			v := newVulnerability(src, f.Metadata.OperationID, label, []string{src.ID, pub.ID, f.ID})
			if _, dup := seen[v.ID]; dup {
				continue
			}
			seen[v.ID] = struct{}{}
			v.Path = []string{src.Metadata.Schema, label}
			v.PathCount = 1
			out = append(out, v)
		}
	}
	core.SortVulnerabilities(out)
	return out
}
