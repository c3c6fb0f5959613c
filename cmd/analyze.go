// File: cmd/analyze.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
	"github.com/xkilldash9x/scalpel-contract/internal/contract"
	"github.com/xkilldash9x/scalpel-contract/internal/observability"
	"github.com/xkilldash9x/scalpel-contract/internal/reporting"
	"github.com/xkilldash9x/scalpel-contract/internal/service"
)

// outputFlags are shared by every command that renders a report.
type outputFlags struct {
	format   string
	output   string
	noAI     bool
	cacheTTL time.Duration
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "f", reporting.FormatText, "Output format (json, sarif, text)")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Output file path (default stdout)")
	cmd.Flags().BoolVar(&o.noAI, "no-ai", false, "Skip the agent pipeline and produce a deterministic-only report")
	cmd.Flags().DurationVar(&o.cacheTTL, "cache-ttl", 0, "Override the attack chain cache TTL")
}

func (o *outputFlags) validate() error {
	switch o.format {
	case reporting.FormatJSON, reporting.FormatSARIF, reporting.FormatText:
		return nil
	default:
		return fmt.Errorf("invalid format %q (must be json, sarif or text)", o.format)
	}
}

// apply folds the flag overrides into the loaded configuration.
func (o *outputFlags) apply(cmd *cobra.Command, cfg config.Interface) {
	if o.noAI {
		cfg.SetReasoningEnabled(false)
	}
	if cmd.Flags().Changed("cache-ttl") {
		cfg.SetCacheTTL(o.cacheTTL)
	}
}

func newAnalyzeCmd(factory service.ComponentFactory) *cobra.Command {
	flags := &outputFlags{}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <contract>",
		Short: "Analyze an OpenAPI contract and derive attack chains",
		Long: `Parses an OpenAPI 3.x or Swagger 2.0 contract, runs the deterministic analyzers
(taint, authorization, schema similarity, zombie endpoints) and, when a reasoning
backend is configured, the Scanner, Threat Modeler and Reporter agents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)

			c, err := contract.Load(args[0])
			if err != nil {
				return err
			}

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			report := components.Engine.Analyze(ctx, c)
			report.Source = args[0]
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return writeReport(report, flags, logger)
		},
	}

	flags.register(analyzeCmd)
	return analyzeCmd
}

// writeReport renders one report to the configured destination.
func writeReport(report *schemas.Report, flags *outputFlags, logger *zap.Logger) error {
	output, err := expandPath(flags.output)
	if err != nil {
		return err
	}
	reporter, err := reporting.New(flags.format, output, Version, logger)
	if err != nil {
		return fmt.Errorf("failed to create reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	logger.Info("Analysis complete",
		zap.String("run_id", report.RunID),
		zap.String("status", string(report.Status)),
		zap.Bool("cache_hit", report.CacheHit),
		zap.Int("vulnerabilities", len(report.Vulnerabilities)),
		zap.Int("attack_chains", len(report.AttackChains)),
		zap.Float64("overall_risk_score", report.OverallRiskScore))
	if output != "" {
		logger.Info("Report written", zap.String("path", output), zap.String("format", flags.format))
	}
	return nil
}
