package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// Failure records an analyzer that returned an error or panicked. Failures never
// abort the run; they surface as structural degradations.
type Failure struct {
	Analyzer string
	Err      error
}

// Outcome is the merged output of one concurrent analysis pass.
type Outcome struct {
	Vulnerabilities []schemas.Vulnerability
	AuthzAnomalies  []schemas.AuthzAnomaly
	AuthzMatrix     *schemas.AuthzMatrix
	Clusters        []schemas.SimilarityCluster
	Zombies         []schemas.ZombieEndpoint
	Notes           []string
	Failures        []Failure
}

// Runner executes a fixed set of analyzers concurrently over one context.
type Runner struct {
	analyzers   []Analyzer
	concurrency int
	logger      *zap.Logger
}

// NewRunner creates a runner. A concurrency of zero or less runs every analyzer at
// once.
func NewRunner(logger *zap.Logger, concurrency int, analyzers ...Analyzer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = len(analyzers)
	}
	return &Runner{analyzers: analyzers, concurrency: concurrency, logger: logger.Named("analysis_runner")}
}

// Analyzers returns the configured analyzers.
func (r *Runner) Analyzers() []Analyzer {
	return append([]Analyzer(nil), r.analyzers...)
}

// Run executes all analyzers and merges their results by concatenation. Each
// analyzer writes only to its own result slot, so no locking is involved.
func (r *Runner) Run(ctx context.Context, ac *AnalysisContext) Outcome {
	results := make([]schemas.AnalyzerResult, len(r.analyzers))
	failures := make([]error, len(r.analyzers))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.concurrency, 1))
	for i, a := range r.analyzers {
		g.Go(func() error {
			results[i], failures[i] = r.runOne(groupCtx, a, ac)
			return nil
		})
	}
	_ = g.Wait()

	var out Outcome
	for i, res := range results {
		if failures[i] != nil {
			out.Failures = append(out.Failures, Failure{Analyzer: r.analyzers[i].Name(), Err: failures[i]})
			continue
		}
		out.Vulnerabilities = append(out.Vulnerabilities, res.Vulnerabilities...)
		out.AuthzAnomalies = append(out.AuthzAnomalies, res.AuthzAnomalies...)
		if res.AuthzMatrix != nil {
			out.AuthzMatrix = res.AuthzMatrix
		}
		out.Clusters = append(out.Clusters, res.Clusters...)
		out.Zombies = append(out.Zombies, res.Zombies...)
		out.Notes = append(out.Notes, res.Notes...)
	}
	SortOutcome(&out)
	return out
}

func (r *Runner) runOne(ctx context.Context, a Analyzer, ac *AnalysisContext) (res schemas.AnalyzerResult, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic recovered in analyzer",
				zap.String("analyzer", a.Name()),
				zap.Any("panic_value", p),
				zap.Stack("stack"),
			)
			res, err = schemas.AnalyzerResult{}, fmt.Errorf("analyzer %s panicked: %v", a.Name(), p)
		}
	}()
	if err := ctx.Err(); err != nil {
		return schemas.AnalyzerResult{}, err
	}
	res, err = a.Analyze(ctx, ac)
	if err != nil {
		r.logger.Warn("Analyzer failed", zap.String("analyzer", a.Name()), zap.Error(err))
		return schemas.AnalyzerResult{}, fmt.Errorf("analyzer %s: %w", a.Name(), err)
	}
	r.logger.Debug("Analyzer finished",
		zap.String("analyzer", a.Name()),
		zap.Int("vulnerabilities", len(res.Vulnerabilities)),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// SortOutcome puts merged results into their canonical order so that output is
// independent of analyzer scheduling.
func SortOutcome(o *Outcome) {
	SortVulnerabilities(o.Vulnerabilities)
	sort.SliceStable(o.AuthzAnomalies, func(i, j int) bool {
		a, b := o.AuthzAnomalies[i], o.AuthzAnomalies[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		return a.ID < b.ID
	})
	sort.SliceStable(o.Clusters, func(i, j int) bool {
		return o.Clusters[i].Members[0] < o.Clusters[j].Members[0]
	})
	sort.SliceStable(o.Zombies, func(i, j int) bool {
		a, b := o.Zombies[i], o.Zombies[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Method < b.Method
	})
	sort.Strings(o.Notes)
}

// SortVulnerabilities orders vulnerabilities by severity, then location, then ID.
func SortVulnerabilities(vs []schemas.Vulnerability) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.ID < b.ID
	})
}
