// Package similarity clusters structurally similar schemas and proposes a
// consolidation strategy for each cluster.
package similarity

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
)

// Name identifies the analyzer in results and logs.
const Name = "SchemaSimilarityAnalyzer"

// Options holds the clustering thresholds.
type Options struct {
	// Threshold is the minimum Jaccard similarity that links two schemas.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	// MergeThreshold is the minimum pairwise similarity for a MERGE suggestion.
	MergeThreshold float64 `mapstructure:"merge_threshold" yaml:"merge_threshold"`
	// InheritanceRatio is the minimum share of the field union that every member
	// declares as required for a base-schema suggestion.
	InheritanceRatio float64 `mapstructure:"inheritance_ratio" yaml:"inheritance_ratio"`
	// IncludeSynthetic also clusters anonymous inline schemas.
	IncludeSynthetic bool `mapstructure:"include_synthetic" yaml:"include_synthetic"`
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{Threshold: 0.8, MergeThreshold: 0.95, InheritanceRatio: 0.6}
}

// Analyzer implements core.Analyzer.
type Analyzer struct {
	*core.BaseAnalyzer
	opts Options
}

var _ core.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates the clusterer. Zero thresholds take their defaults.
func NewAnalyzer(logger *zap.Logger, opts Options) *Analyzer {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = def.MergeThreshold
	}
	if opts.InheritanceRatio <= 0 {
		opts.InheritanceRatio = def.InheritanceRatio
	}
	return &Analyzer{
		BaseAnalyzer: core.NewBaseAnalyzer(Name, "Clusters schemas by structural Jaccard similarity", core.TypeStructural, logger),
		opts:         opts,
	}
}

// Signature is the structural identity of a schema: its set of "name:type" pairs.
// The schema's own name and description are deliberately absent.
type Signature map[string]struct{}

// SignatureOf builds the signature of a schema node.
func SignatureOf(s *graph.SchemaNode) Signature {
	sig := make(Signature, len(s.Properties))
	for _, p := range s.Properties {
		sig[p.Name+":"+p.Type] = struct{}{}
	}
	return sig
}

// RequiredOf returns the signature entries of the properties a schema marks as
// required. Required names without a matching property are ignored.
func RequiredOf(s *graph.SchemaNode) Signature {
	req := make(map[string]struct{}, len(s.Required))
	for _, name := range s.Required {
		req[name] = struct{}{}
	}
	sig := make(Signature, len(s.Required))
	for _, p := range s.Properties {
		if _, ok := req[p.Name]; ok {
			sig[p.Name+":"+p.Type] = struct{}{}
		}
	}
	return sig
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty signatures have similarity zero.
func Jaccard(a, b Signature) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Analyze compares every eligible schema pair and unions those above threshold.
func (a *Analyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) (schemas.AnalyzerResult, error) {
	res := schemas.AnalyzerResult{Analyzer: Name}
	if ac.Graph == nil {
		return res, nil
	}

	// 1. Eligible schemas in ID order, which is also name order.
	var names []string
	var sigs, required []Signature
	for _, s := range ac.Graph.Schemas() {
		if len(s.Properties) == 0 || (s.Synthetic && !a.opts.IncludeSynthetic) {
			continue
		}
		names = append(names, s.Name)
		sigs = append(sigs, SignatureOf(s))
		required = append(required, RequiredOf(s))
	}
	n := len(names)

	// 2. O(n²) pairwise similarity with union-find.
	uf := newUnionFind(n)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for j := i + 1; j < n; j++ {
			s := Jaccard(sigs[i], sigs[j])
			sim[i][j], sim[j][i] = s, s
			if s >= a.opts.Threshold {
				uf.union(i, j)
			}
		}
	}

	// 3. Group and label.
	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}
	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		res.Clusters = append(res.Clusters, a.cluster(members, names, sigs, required, sim))
	}
	sort.Slice(res.Clusters, func(i, j int) bool {
		return res.Clusters[i].Members[0] < res.Clusters[j].Members[0]
	})

	a.Logger.Debug("Similarity clustering complete",
		zap.Int("schemas", n),
		zap.Int("clusters", len(res.Clusters)))
	return res, nil
}

func (a *Analyzer) cluster(members []int, names []string, sigs, required []Signature, sim [][]float64) schemas.SimilarityCluster {
	sort.Ints(members)
	c := schemas.SimilarityCluster{MinSimilarity: 1, MaxSimilarity: 0}
	for _, m := range members {
		c.Members = append(c.Members, names[m])
	}
	for x := 0; x < len(members); x++ {
		for y := x + 1; y < len(members); y++ {
			s := sim[members[x]][members[y]]
			if s < c.MinSimilarity {
				c.MinSimilarity = s
			}
			if s > c.MaxSimilarity {
				c.MaxSimilarity = s
			}
		}
	}

	// Fields common to every member, against the union of all fields.
	union := make(map[string]int)
	for _, m := range members {
		for k := range sigs[m] {
			union[k]++
		}
	}
	for k, count := range union {
		if count == len(members) {
			c.CommonFields = append(c.CommonFields, k)
		}
	}
	sort.Strings(c.CommonFields)

	// The base schema candidate: shared fields that every member also requires.
	commonRequired := 0
	for _, k := range c.CommonFields {
		all := true
		for _, m := range members {
			if _, ok := required[m][k]; !ok {
				all = false
				break
			}
		}
		if all {
			commonRequired++
		}
	}
	commonRatio := float64(commonRequired) / float64(len(union))

	switch {
	case c.MinSimilarity >= a.opts.MergeThreshold:
		c.Strategy = schemas.StrategyMerge
	case commonRatio >= a.opts.InheritanceRatio:
		c.Strategy = schemas.StrategyInheritance
	default:
		c.Strategy = schemas.StrategyComposition
	}
	c.ID = core.StableID("C-", c.Members...)
	return c
}
