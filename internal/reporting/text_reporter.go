// File: internal/reporting/text_reporter.go
package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// TextReporter renders a human-readable summary for terminals.
type TextReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
}

// NewTextReporter takes ownership of writer.
func NewTextReporter(writer io.WriteCloser, logger *zap.Logger) *TextReporter {
	return &TextReporter{writer: writer, logger: logger.Named("text_reporter")}
}

func (r *TextReporter) Write(report *schemas.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	renderText(&b, report)
	if _, err := io.WriteString(r.writer, b.String()); err != nil {
		r.logger.Error("Failed to write text report", zap.Error(err))
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}

func renderText(b *strings.Builder, report *schemas.Report) {
	title := "Contract analysis"
	if report.Source != "" {
		title += ": " + report.Source
	}
	fmt.Fprintf(b, "%s\n%s\n", title, strings.Repeat("=", len(title)))
	fmt.Fprintf(b, "Status: %s", report.Status)
	if report.CacheHit {
		b.WriteString(" (cached)")
	}
	fmt.Fprintf(b, "\nOverall risk: %.2f / 10\n", report.OverallRiskScore)
	fmt.Fprintf(b, "Findings: %d  Vulnerabilities: %d  Attack chains: %d\n\n",
		len(report.Findings), len(report.Vulnerabilities), len(report.AttackChains))

	if report.ExecutiveSummary != "" {
		fmt.Fprintf(b, "Summary\n-------\n%s\n\n", report.ExecutiveSummary)
	}

	vulns := report.RankedVulnerabilities
	if len(vulns) == 0 {
		vulns = report.Vulnerabilities
	}
	if len(vulns) > 0 {
		b.WriteString("Vulnerabilities\n---------------\n")
		tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SEVERITY\tCATEGORY\tCWE\tLOCATION\tTITLE")
		for _, v := range vulns {
			cwe := "-"
			if len(v.CWE) > 0 {
				cwe = v.CWE[0]
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", strings.ToUpper(string(v.Severity)), v.Category, cwe, v.Location, v.Title)
		}
		_ = tw.Flush()
		b.WriteString("\n")
	}

	if len(report.AttackChains) > 0 {
		b.WriteString("Attack chains\n-------------\n")
		for _, c := range report.AttackChains {
			fmt.Fprintf(b, "[%.2f] %s (%s severity, %s likelihood, %s complexity)\n",
				c.RiskScore, c.Name, c.Severity, c.Likelihood, c.Complexity)
			for _, s := range c.Steps {
				fmt.Fprintf(b, "  %d. %s [%s]\n", s.Order, s.Action, strings.Join(s.References, ", "))
			}
		}
		if report.DroppedChains > 0 {
			fmt.Fprintf(b, "(%d proposed chains were discarded during validation)\n", report.DroppedChains)
		}
		b.WriteString("\n")
	}

	if len(report.ZombieEndpoints) > 0 {
		b.WriteString("Zombie endpoints\n----------------\n")
		tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
		for _, z := range report.ZombieEndpoints {
			fmt.Fprintf(tw, "%s\t%s %s\t%s\n", z.Kind, z.Method, z.Path, z.Reason)
		}
		_ = tw.Flush()
		b.WriteString("\n")
	}

	if len(report.SimilarityClusters) > 0 {
		b.WriteString("Similar schemas\n---------------\n")
		for _, cl := range report.SimilarityClusters {
			fmt.Fprintf(b, "%s: %s (%.2f-%.2f)\n", cl.Strategy, strings.Join(cl.Members, ", "), cl.MinSimilarity, cl.MaxSimilarity)
		}
		b.WriteString("\n")
	}

	if len(report.Remediation) > 0 {
		b.WriteString("Remediation\n-----------\n")
		for i, step := range report.Remediation {
			fmt.Fprintf(b, "%d. %s\n", i+1, step)
		}
		b.WriteString("\n")
	}

	if len(report.Degradations) > 0 {
		b.WriteString("Degradations\n------------\n")
		for _, d := range report.Degradations {
			fmt.Fprintf(b, "- [%s] %s: %s\n", d.Kind, d.Stage, d.Message)
		}
		b.WriteString("\n")
	}
}
