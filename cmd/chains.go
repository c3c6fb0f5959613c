// File: cmd/chains.go
package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/internal/observability"
	"github.com/xkilldash9x/scalpel-contract/internal/service"
)

func newChainsCmd(factory service.ComponentFactory) *cobra.Command {
	flags := &outputFlags{}

	chainsCmd := &cobra.Command{
		Use:   "chains <findings.json>",
		Short: "Derive attack chains from previously extracted findings",
		Long: `Runs the reasoning stages on findings produced by 'extract' or by another tool.
Vulnerabilities missing from the input are derived from the findings.`,
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

			path, err := homedir.Expand(args[0])
			if err != nil {
				return fmt.Errorf("failed to expand findings path: %w", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read findings %s: %w", path, err)
			}
			payload, err := readPayload(data)
			if err != nil {
				return err
			}
			logger.Debug("Loaded findings",
				zap.Int("findings", len(payload.Findings)),
				zap.Int("vulnerabilities", len(payload.Vulnerabilities)))

			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			report := components.Engine.AnalyzeFindings(ctx, payload.Findings, payload.Vulnerabilities)
			report.Source = payload.Source
			if report.Source == "" {
				report.Source = args[0]
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return writeReport(report, flags, logger)
		},
	}

	flags.register(chainsCmd)
	return chainsCmd
}
