// File: internal/engine/engine.go
// Description: The two analysis entry points. Analyze runs the deterministic
// pipeline over a contract and hands the result to the reasoning stages;
// AnalyzeFindings starts from an already extracted finding set.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/agent"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/authz"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/core"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/similarity"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/taint"
	"github.com/xkilldash9x/scalpel-contract/internal/analysis/zombie"
	"github.com/xkilldash9x/scalpel-contract/internal/cache"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
	"github.com/xkilldash9x/scalpel-contract/internal/findings"
	"github.com/xkilldash9x/scalpel-contract/internal/graph"
	"github.com/xkilldash9x/scalpel-contract/internal/results"
)

const persistTimeout = 30 * time.Second

// Reasoner runs the attack path state machine. The orchestrator implements it.
type Reasoner interface {
	Run(ctx context.Context, fs []schemas.Finding, vulns []schemas.Vulnerability) (*schemas.ChainReport, error)
}

// ReportPersister records finished reports. store.Store implements it.
type ReportPersister interface {
	PersistReport(ctx context.Context, report *schemas.Report) error
}

// Options wires the optional collaborators. A nil Reasoner yields
// deterministic-only reports; a nil Cache disables caching.
type Options struct {
	Reasoner           Reasoner
	Cache              *cache.Cache
	Persister          ReportPersister
	MaxVulnerabilities int
}

// Engine is safe for concurrent use.
type Engine struct {
	logger    *zap.Logger
	builder   *graph.Builder
	extractor *findings.Extractor
	runner    *core.Runner
	enricher  *results.Enricher
	reasoner  Reasoner
	cache     *cache.Cache
	persister ReportPersister
	maxVulns  int
	now       func() time.Time
}

// New assembles the deterministic pipeline from the analysis configuration.
func New(logger *zap.Logger, cfg config.AnalysisConfig, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	lexicon := findings.Lexicon{
		Credential: cfg.Lexicon.Credential,
		High:       cfg.Lexicon.High,
		Medium:     cfg.Lexicon.Medium,
	}
	runner := core.NewRunner(logger, cfg.Concurrency,
		taint.NewAnalyzer(logger, cfg.TaintMaxDepth),
		authz.NewAnalyzer(logger, authz.Options{
			ReadMarkers:           cfg.Authz.ReadMarkers,
			PrivilegedMarkers:     cfg.Authz.PrivilegedMarkers,
			IdentityFields:        cfg.Authz.IdentityFields,
			MaxScopesPerOperation: cfg.Authz.MaxScopesPerOperation,
			ConfidenceThreshold:   cfg.Authz.ConfidenceThreshold,
		}),
		similarity.NewAnalyzer(logger, similarity.Options{
			Threshold:        cfg.Similarity.Threshold,
			MergeThreshold:   cfg.Similarity.MergeThreshold,
			InheritanceRatio: cfg.Similarity.InheritanceRatio,
			IncludeSynthetic: cfg.Similarity.IncludeSynthetic,
		}),
		zombie.NewAnalyzer(logger),
	)
	maxVulns := opts.MaxVulnerabilities
	if maxVulns <= 0 {
		maxVulns = agent.DefaultMaxVulnerabilities
	}
	return &Engine{
		logger:    logger.Named("engine"),
		builder:   graph.NewBuilder(logger),
		extractor: findings.NewExtractor(logger, lexicon),
		runner:    runner,
		enricher:  results.NewEnricher(nil, logger),
		reasoner:  opts.Reasoner,
		cache:     opts.Cache,
		persister: opts.Persister,
		maxVulns:  maxVulns,
		now:       time.Now,
	}
}

// ReasoningEnabled reports whether reports go through the agent pipeline.
func (e *Engine) ReasoningEnabled() bool {
	return e.reasoner != nil
}

// Analyze runs every stage for a contract. It never returns nil and never fails:
// problems surface as degradations on the report.
func (e *Engine) Analyze(ctx context.Context, c *schemas.Contract) *schemas.Report {
	report := e.Extract(ctx, c)
	e.reason(ctx, report)
	e.persist(report)
	return report
}

// AnalyzeFindings is the second entry point: it accepts findings produced
// elsewhere and runs only the reasoning stages. Missing vulnerabilities are
// derived from the findings.
func (e *Engine) AnalyzeFindings(ctx context.Context, fs []schemas.Finding, vulns []schemas.Vulnerability) *schemas.Report {
	report := e.newReport()
	report.Findings = append([]schemas.Finding(nil), fs...)
	findings.Sort(report.Findings)
	if vulns == nil {
		e.safely(report, "taint", func() { vulns = taint.FromFindings(report.Findings) })
	}
	report.Vulnerabilities = append([]schemas.Vulnerability(nil), vulns...)
	core.SortVulnerabilities(report.Vulnerabilities)
	e.safely(report, "enrich", func() { e.enricher.Enrich(report.Vulnerabilities) })

	e.reason(ctx, report)
	e.persist(report)
	return report
}

// Extract runs only the deterministic stages. The report status is
// DETERMINISTIC_ONLY until reasoning fills it in.
func (e *Engine) Extract(ctx context.Context, c *schemas.Contract) *schemas.Report {
	report := e.newReport()
	if c == nil {
		report.AddDegradation(schemas.Degradation{Stage: "graph", Kind: schemas.DegradationStructural, Message: "no contract supplied"})
		return report
	}

	var g *graph.Graph
	e.safely(report, "graph", func() { g = e.builder.Build(c) })
	if g == nil {
		return report
	}
	for _, n := range g.Notes() {
		report.StructuralNotes = append(report.StructuralNotes, n.String())
	}

	e.safely(report, "findings", func() { report.Findings = e.extractor.Extract(g) })

	ac := core.NewAnalysisContext(g, report.Findings, e.logger)
	var outcome core.Outcome
	e.safely(report, "analysis", func() { outcome = e.runner.Run(ctx, ac) })
	for _, f := range outcome.Failures {
		report.AddDegradation(schemas.Degradation{Stage: f.Analyzer, Kind: schemas.DegradationStructural, Message: f.Err.Error()})
	}
	report.Vulnerabilities = outcome.Vulnerabilities
	e.safely(report, "enrich", func() { e.enricher.Enrich(report.Vulnerabilities) })
	report.AuthzAnomalies = outcome.AuthzAnomalies
	report.AuthzMatrix = outcome.AuthzMatrix
	report.SimilarityClusters = outcome.Clusters
	report.ZombieEndpoints = outcome.Zombies
	report.StructuralNotes = append(report.StructuralNotes, outcome.Notes...)

	if sig, err := cache.Signature(report.Findings); err == nil {
		report.Signature = sig
	}
	e.logger.Info("Deterministic analysis complete",
		zap.String("run_id", report.RunID),
		zap.Int("findings", len(report.Findings)),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("notes", len(report.StructuralNotes)))
	return report
}

func (e *Engine) newReport() *schemas.Report {
	return &schemas.Report{
		RunID:       uuid.NewString(),
		Status:      schemas.StatusDeterministicOnly,
		GeneratedAt: e.now().UTC(),
	}
}

// reason fills the attack chain part of the report, through the cache when one
// is configured.
func (e *Engine) reason(ctx context.Context, report *schemas.Report) {
	if report.Signature == "" {
		sig, err := cache.Signature(report.Findings)
		if err != nil {
			e.logger.Warn("Failed to compute findings signature", zap.Error(err))
		}
		report.Signature = sig
	}

	if e.reasoner == nil {
		e.deterministicOnly(report)
		return
	}

	var (
		cr     *schemas.ChainReport
		hit    bool
		runErr error
	)
	e.safely(report, "orchestrator", func() {
		compute := func(ctx context.Context) (*schemas.ChainReport, error) {
			return e.reasoner.Run(ctx, report.Findings, report.Vulnerabilities)
		}
		if e.cache != nil && report.Signature != "" {
			key := cache.Key(report.Signature, report.Vulnerabilities)
			cr, hit, runErr = e.cache.GetOrCompute(ctx, key, compute)
		} else {
			cr, runErr = compute(ctx)
		}
	})

	if cr == nil {
		msg := "reasoning produced no result"
		if runErr != nil {
			msg = runErr.Error()
		}
		e.deterministicOnly(report)
		report.AddDegradation(schemas.Degradation{Stage: "orchestrator", Kind: schemas.DegradationReasoning, Message: msg})
		report.Status = schemas.StatusFailed
		report.OrchestratorState = "FAILED"
		return
	}
	if runErr != nil {
		e.logger.Warn("Reasoning stages failed, returning partial result",
			zap.String("run_id", report.RunID),
			zap.String("state", cr.State),
			zap.Error(runErr))
	}

	report.CacheHit = hit
	report.RankedVulnerabilities = cr.RankedVulns
	report.AttackChains = cr.AttackChains
	report.DroppedChains = cr.DroppedChains
	report.OverallRiskScore = cr.OverallRiskScore
	report.ExecutiveSummary = cr.ExecutiveSummary
	report.Remediation = cr.Remediation
	report.OrchestratorState = cr.State
	report.Transitions = cr.Transitions
	for _, d := range cr.Degradations {
		report.AddDegradation(d)
	}

	switch {
	case cr.State == "FAILED":
		report.Status = schemas.StatusFailed
	case report.Degraded || report.DroppedChains > 0:
		report.Status = schemas.StatusPartial
	default:
		report.Status = schemas.StatusComplete
	}
	e.logger.Info("Reasoning complete",
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Bool("cache_hit", hit),
		zap.Int("attack_chains", len(report.AttackChains)),
		zap.Float64("overall_risk", report.OverallRiskScore))
}

// deterministicOnly fills the ranking and narrative from the Scanner and the
// deterministic scoring helpers alone.
func (e *Engine) deterministicOnly(report *schemas.Report) {
	ranked := agent.Rank(report.Vulnerabilities, e.maxVulns)
	report.RankedVulnerabilities = ranked
	report.AttackChains = []schemas.AttackChain{}
	report.OverallRiskScore = agent.OverallRisk(nil, ranked)
	report.ExecutiveSummary = agent.FallbackSummary(nil, ranked)
	report.Remediation = agent.FallbackRemediation(nil, ranked)
	report.Status = schemas.StatusDeterministicOnly
}

// persist uses a detached context so results are saved even when the caller
// has already gone away.
func (e *Engine) persist(report *schemas.Report) {
	if e.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.persister.PersistReport(ctx, report); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			e.logger.Warn("Persisting report timed out", zap.String("run_id", report.RunID), zap.Duration("timeout", persistTimeout))
			return
		}
		e.logger.Error("Failed to persist report", zap.String("run_id", report.RunID), zap.Error(err))
		return
	}
	e.logger.Debug("Report persisted", zap.String("run_id", report.RunID))
}

// safely runs fn and converts a panic into a structural degradation.
func (e *Engine) safely(report *schemas.Report, stage string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic recovered in pipeline stage",
				zap.String("stage", stage),
				zap.Any("panic_value", r),
				zap.Stack("stack"),
			)
			report.AddDegradation(schemas.Degradation{
				Stage:   stage,
				Kind:    schemas.DegradationStructural,
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()
	fn()
}
