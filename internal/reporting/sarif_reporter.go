// File: internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "Scalpel Contract"
	ToolInfoURI = "https://github.com/xkilldash9x/scalpel-contract"

	// AttackChainRuleID is the rule every attack chain result reports under.
	AttackChainRuleID = "SCALPEL-ATTACK-CHAIN"
	fingerprintKey    = "scalpel/v1"
)

// ruleIDSanitizer allows alphanumeric, underscore, and dot. Everything else is
// collapsed into a single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// SARIFReporter buffers reports into a single SARIF 2.1.0 run and writes it on
// Close. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	report *sarif.Report
	run    *sarif.Run
	mu     sync.Mutex
}

// NewSARIFReporter takes ownership of writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	// Only fails for unknown versions.
	report, _ := sarif.New(sarif.Version210)
	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)
	if toolVersion != "" {
		run.Tool.Driver.WithVersion(toolVersion)
	}
	report.AddRun(run)
	return &SARIFReporter{
		writer: writer,
		logger: logger.Named("sarif_reporter"),
		report: report,
		run:    run,
	}
}

// Write converts vulnerabilities and attack chains into SARIF results.
func (r *SARIFReporter) Write(report *schemas.Report) error {
	if report == nil {
		return nil
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	vulns := report.Vulnerabilities
	if len(vulns) == 0 {
		vulns = report.RankedVulnerabilities
	}
	for _, v := range vulns {
		r.addVulnerability(report.Source, v)
	}
	for _, c := range report.AttackChains {
		r.addChain(report.Source, c)
	}

	r.run.AddInvocation(report.Status != schemas.StatusFailed)
	props := sarif.NewPropertyBag()
	props.AddString("run_id", report.RunID)
	props.AddString("status", string(report.Status))
	props.AddBoolean("degraded", report.Degraded)
	props.Add("overall_risk_score", report.OverallRiskScore)
	if report.ExecutiveSummary != "" {
		props.AddString("executive_summary", report.ExecutiveSummary)
	}
	r.run.AttachPropertyBag(props)

	r.logger.Debug("Wrote report to SARIF buffer",
		zap.Int("vulnerabilities", len(vulns)),
		zap.Int("attack_chains", len(report.AttackChains)),
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// Close writes the SARIF log to the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(r.run.Results)),
		zap.Int("total_rules", len(r.run.Tool.Driver.Rules)),
	)

	encodeErr := r.report.PrettyWrite(r.writer)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func (r *SARIFReporter) addVulnerability(source string, v schemas.Vulnerability) {
	ruleID := "SCALPEL-" + sanitizeRuleName(v.Category)
	rule := r.run.AddRule(ruleID)
	if rule.ShortDescription == nil {
		rule.WithName(v.Category).
			WithDescription(v.Title).
			WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(severityToLevel(v.Severity)))
		if v.Recommendation != "" {
			rule.WithMarkdownHelp(fmt.Sprintf("**Category:** %s\n\n**Recommendation:**\n%s", v.Category, v.Recommendation))
		}
		tags := []string{"security", "api-contract", strings.ToLower(string(v.Classification))}
		props := sarif.Properties{
			"classification": string(v.Classification),
		}
		if len(v.CWE) > 0 {
			tags = append(tags, v.CWE...)
			props["cwe"] = v.CWE
		}
		props["tags"] = tags
		rule.WithProperties(props)
	}

	message := v.Title
	if v.Description != "" {
		message = v.Title + ": " + v.Description
	}
	name := v.Location
	if v.Operation != "" {
		name = v.Operation
	}

	props := sarif.NewPropertyBag()
	props.Add("confidence", v.Confidence)
	props.Add("finding_ids", v.FindingIDs)
	if len(v.Path) > 0 {
		props.Add("taint_path", v.Path)
	}

	result := sarif.NewRuleResult(ruleID).
		WithMessage(sarif.NewTextMessage(message)).
		WithLevel(severityToLevel(v.Severity)).
		WithLocations([]*sarif.Location{location(source, name, v.Location)})
	result.WithFingerPrints(map[string]interface{}{fingerprintKey: v.ID})
	result.AttachPropertyBag(props)
	r.run.AddResult(result)
}

func (r *SARIFReporter) addChain(source string, c schemas.AttackChain) {
	rule := r.run.AddRule(AttackChainRuleID)
	if rule.ShortDescription == nil {
		rule.WithName("Attack Chain").
			WithDescription("Multi-step attack scenario composed from deterministic findings.").
			WithProperties(sarif.Properties{"tags": []string{"security", "attack-chain"}})
	}

	var steps []string
	for _, s := range c.Steps {
		steps = append(steps, fmt.Sprintf("%d. %s [%s]", s.Order, s.Action, strings.Join(s.References, ", ")))
	}
	message := c.Name
	if c.Description != "" {
		message += ": " + c.Description
	}
	if len(steps) > 0 {
		message += "\n" + strings.Join(steps, "\n")
	}

	props := sarif.NewPropertyBag()
	props.Add("risk_score", c.RiskScore)
	props.AddString("likelihood", string(c.Likelihood))
	props.AddString("complexity", string(c.Complexity))
	props.Add("references", c.References())
	if len(c.RemediationSteps) > 0 {
		props.Add("remediation", c.RemediationSteps)
	}

	result := sarif.NewRuleResult(AttackChainRuleID).
		WithMessage(sarif.NewTextMessage(message)).
		WithLevel(severityToLevel(c.Severity)).
		WithLocations([]*sarif.Location{location(source, c.Name, "")})
	result.WithFingerPrints(map[string]interface{}{fingerprintKey: c.ID})
	result.AttachPropertyBag(props)
	r.run.AddResult(result)
}

// location points at the contract file physically and at the operation logically.
func location(source, name, qualified string) *sarif.Location {
	loc := sarif.NewLocation()
	if source != "" {
		loc.WithPhysicalLocation(sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(source)))
	}
	if name != "" {
		logical := sarif.NewLogicalLocation().WithName(name).WithKind("member")
		if qualified != "" {
			logical.WithFullyQualifiedName(qualified)
		}
		loc.WithLogicalLocations([]*sarif.LogicalLocation{logical})
	}
	return loc
}

// sanitizeRuleName creates a standardized base name for a rule ID.
func sanitizeRuleName(name string) string {
	if name == "" {
		return "UNCATEGORIZED"
	}
	sanitized := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(name), "-"), "-")
	if sanitized == "" {
		return "UNKNOWN"
	}
	return sanitized
}

func severityToLevel(severity schemas.Severity) string {
	switch severity {
	case schemas.SeverityCritical, schemas.SeverityHigh:
		return "error"
	case schemas.SeverityMedium:
		return "warning"
	case schemas.SeverityLow, schemas.SeverityInfo:
		return "note"
	default:
		return "none"
	}
}
