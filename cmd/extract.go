// File: cmd/extract.go
package cmd

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/contract"
	"github.com/xkilldash9x/scalpel-contract/internal/observability"
	"github.com/xkilldash9x/scalpel-contract/internal/service"
)

// FindingsPayload is the reduced document written by extract and read by chains.
// It carries only what the reasoning stages consume.
type FindingsPayload struct {
	Source          string                  `json:"source,omitempty"`
	Signature       string                  `json:"signature"`
	Findings        []schemas.Finding       `json:"findings"`
	Vulnerabilities []schemas.Vulnerability `json:"vulnerabilities"`
}

func newExtractCmd(factory service.ComponentFactory) *cobra.Command {
	var output string

	extractCmd := &cobra.Command{
		Use:   "extract <contract>",
		Short: "Run only the deterministic stages and write findings as JSON",
		Long: `Extracts security findings and deterministic vulnerabilities from a contract.
The output can be fed back into 'chains' later, or to a different machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			// Extraction never reasons, so the backend is not initialized.
			cfg.SetReasoningEnabled(false)

			c, err := contract.Load(args[0])
			if err != nil {
				return err
			}
			components, err := factory.Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			report := components.Engine.Extract(ctx, c)
			for _, d := range report.Degradations {
				logger.Warn("Extraction stage degraded", zap.String("stage", d.Stage), zap.String("message", d.Message))
			}
			payload := FindingsPayload{
				Source:          args[0],
				Signature:       report.Signature,
				Findings:        report.Findings,
				Vulnerabilities: report.Vulnerabilities,
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				path, err := expandPath(output)
				if err != nil {
					return err
				}
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}
			if err := writePayload(w, payload); err != nil {
				return err
			}
			logger.Info("Extraction complete",
				zap.String("signature", payload.Signature),
				zap.Int("findings", len(payload.Findings)),
				zap.Int("vulnerabilities", len(payload.Vulnerabilities)))
			return nil
		},
	}

	extractCmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default stdout)")
	return extractCmd
}

func writePayload(w io.Writer, payload FindingsPayload) error {
	encoder := json.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to encode findings: %w", err)
	}
	return nil
}

// readPayload accepts either a FindingsPayload document or a bare JSON array of
// findings.
func readPayload(data []byte) (FindingsPayload, error) {
	var payload FindingsPayload
	api := json.ConfigCompatibleWithStandardLibrary
	switch json.Get(data).ValueType() {
	case json.ArrayValue:
		if err := api.Unmarshal(data, &payload.Findings); err != nil {
			return payload, fmt.Errorf("failed to decode findings array: %w", err)
		}
	case json.ObjectValue:
		if err := api.Unmarshal(data, &payload); err != nil {
			return payload, fmt.Errorf("failed to decode findings document: %w", err)
		}
	default:
		return payload, fmt.Errorf("findings input must be a JSON object or array")
	}
	return payload, nil
}
