// File: cmd/cmd_test.go
package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

func TestVersionOutput(t *testing.T) {
	t.Run("flag", func(t *testing.T) {
		output, err := executeCommandNoPreRun(t, "--version")
		require.NoError(t, err)
		assert.Equal(t, Version+"\n", output)
	})

	t.Run("subcommand skips configuration", func(t *testing.T) {
		dir := isolateEnv(t)
		// A broken config file would fail PersistentPreRunE on any other command.
		writeFile(t, dir, "config.yaml", "orchestrator: {max_retries: 7}\n")

		output, err := executeCommand(t, &stubFactory{}, "version")
		require.NoError(t, err)
		assert.Equal(t, Version+"\n", output)
	})
}

func TestArgumentValidation(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"analyze without contract", []string{"analyze"}, "accepts 1 arg(s), received 0"},
		{"extract with two contracts", []string{"extract", "a.yaml", "b.yaml"}, "accepts 1 arg(s), received 2"},
		{"chains without input", []string{"chains"}, "accepts 1 arg(s), received 0"},
		{"watch without contract", []string{"watch"}, "accepts 1 arg(s), received 0"},
		{"unknown flag", []string{"analyze", "--bogus", "x.yaml"}, "unknown flag: --bogus"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := executeCommandNoPreRun(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestAnalyze_InvalidFormat(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)
	factory := &stubFactory{}

	_, err := executeCommand(t, factory, "analyze", path, "--format", "html")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "html"`)
	assert.Empty(t, factory.cfgs, "no components should be created for a bad format")
}

func TestAnalyze_MissingContract(t *testing.T) {
	dir := isolateEnv(t)
	_, err := executeCommand(t, &stubFactory{}, "analyze", filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read contract")
}

func TestAnalyze_FactoryError(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)

	_, err := executeCommand(t, &stubFactory{err: errors.New("database unreachable")}, "analyze", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize components: database unreachable")
}

func TestAnalyze_WritesEachFormat(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)

	t.Run("json", func(t *testing.T) {
		out := filepath.Join(dir, "report.json")
		_, err := executeCommand(t, nil, "analyze", path, "--format", "json", "--output", out)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		var report schemas.Report
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Equal(t, schemas.StatusDeterministicOnly, report.Status)
		assert.Equal(t, path, report.Source)
		assert.NotEmpty(t, report.Signature)
		assert.NotEmpty(t, report.Findings)
		assert.NotEmpty(t, report.Vulnerabilities)
		assert.Empty(t, report.AttackChains)
	})

	t.Run("sarif", func(t *testing.T) {
		out := filepath.Join(dir, "report.sarif")
		_, err := executeCommand(t, nil, "analyze", path, "-f", "sarif", "-o", out)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		content := string(data)
		assert.Contains(t, content, `"version": "2.1.0"`)
		assert.Contains(t, content, "Scalpel Contract")
		assert.Contains(t, content, "DETERMINISTIC_ONLY")
	})

	t.Run("text", func(t *testing.T) {
		out := filepath.Join(dir, "report.txt")
		_, err := executeCommand(t, nil, "analyze", path, "-o", out)
		require.NoError(t, err)

		data, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Vulnerabilities")
		assert.Contains(t, string(data), "/people/{id}")
	})
}

func TestAnalyze_WithReasoning(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)
	reasoner := &chainReasoner{}
	factory := &stubFactory{reasoner: reasoner}

	out := filepath.Join(dir, "report.json")
	_, err := executeCommand(t, factory, "analyze", path, "-f", "json", "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report schemas.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, schemas.StatusComplete, report.Status)
	require.Len(t, report.AttackChains, 1)
	assert.Equal(t, "Harvest identity numbers", report.AttackChains[0].Name)
	assert.InDelta(t, 8.1, report.OverallRiskScore, 0.001)
	assert.Equal(t, int32(1), reasoner.calls.Load())
}

func TestAnalyze_FlagOverrides(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)

	t.Run("no-ai disables reasoning", func(t *testing.T) {
		reasoner := &chainReasoner{}
		factory := &stubFactory{reasoner: reasoner}
		out := filepath.Join(dir, "noai.json")

		_, err := executeCommand(t, factory, "analyze", path, "--no-ai", "-f", "json", "-o", out)
		require.NoError(t, err)
		assert.False(t, factory.lastConfig(t).Orchestrator().Enabled)
		assert.Zero(t, reasoner.calls.Load())
	})

	t.Run("cache-ttl only applies when set", func(t *testing.T) {
		factory := &stubFactory{}
		_, err := executeCommand(t, factory, "analyze", path, "-o", filepath.Join(dir, "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, factory.lastConfig(t).Cache().TTL)

		_, err = executeCommand(t, factory, "analyze", path, "--cache-ttl", "5m", "-o", filepath.Join(dir, "b.txt"))
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, factory.lastConfig(t).Cache().TTL)
	})
}

func TestConfigFlagOverride(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)

	t.Run("values from the file are applied", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "custom.yaml", `
orchestrator:
  max_vulnerabilities: 7
cache:
  ttl: 1h
analysis:
  similarity:
    threshold: 0.7
`)
		factory := &stubFactory{}
		_, err := executeCommand(t, factory, "--config", cfgPath, "analyze", path, "-o", filepath.Join(dir, "out.txt"))
		require.NoError(t, err)

		cfg := factory.lastConfig(t)
		assert.Equal(t, 7, cfg.Orchestrator().MaxVulnerabilities)
		assert.Equal(t, time.Hour, cfg.Cache().TTL)
		assert.InDelta(t, 0.7, cfg.Analysis().Similarity.Threshold, 1e-9)
		// Untouched keys keep their defaults.
		assert.Equal(t, 1, cfg.Orchestrator().MaxRetries)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "env.yaml", "orchestrator:\n  max_vulnerabilities: 7\n")
		t.Setenv("SCALPEL_ORCHESTRATOR_MAX_VULNERABILITIES", "11")

		factory := &stubFactory{}
		_, err := executeCommand(t, factory, "-c", cfgPath, "analyze", path, "-o", filepath.Join(dir, "env.txt"))
		require.NoError(t, err)
		assert.Equal(t, 11, factory.lastConfig(t).Orchestrator().MaxVulnerabilities)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		cfgPath := writeFile(t, dir, "bad.yaml", "orchestrator:\n  max_retries: 3\n")
		factory := &stubFactory{}
		_, err := executeCommand(t, factory, "-c", cfgPath, "analyze", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_retries must be 0 or 1")
		assert.Empty(t, factory.cfgs)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := executeCommand(t, &stubFactory{}, "-c", filepath.Join(dir, "absent.yaml"), "analyze", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize configuration")
	})
}

func TestExtractThenChains(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)
	findingsPath := filepath.Join(dir, "findings.json")

	_, err := executeCommand(t, nil, "extract", path, "-o", findingsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(findingsPath)
	require.NoError(t, err)
	payload, err := readPayload(data)
	require.NoError(t, err)
	assert.Equal(t, path, payload.Source)
	assert.NotEmpty(t, payload.Signature)
	assert.NotEmpty(t, payload.Findings)
	assert.NotEmpty(t, payload.Vulnerabilities)

	reasoner := &chainReasoner{}
	factory := &stubFactory{reasoner: reasoner}
	reportPath := filepath.Join(dir, "chains.json")
	_, err = executeCommand(t, factory, "chains", findingsPath, "-f", "json", "-o", reportPath)
	require.NoError(t, err)

	data, err = os.ReadFile(reportPath)
	require.NoError(t, err)
	var report schemas.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, path, report.Source)
	assert.Equal(t, payload.Signature, report.Signature, "both entry points must agree on the findings signature")
	assert.Len(t, report.Vulnerabilities, len(payload.Vulnerabilities))
	require.Len(t, report.AttackChains, 1)
	assert.Equal(t, schemas.StatusComplete, report.Status)
}

func TestExtract_StdoutAndReasoningDisabled(t *testing.T) {
	dir := isolateEnv(t)
	path := writeFile(t, dir, "people.yaml", peopleContract)
	factory := &stubFactory{reasoner: &chainReasoner{}}

	output, err := executeCommand(t, factory, "extract", path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(output), "{"))
	assert.Contains(t, output, `"findings"`)
	assert.False(t, factory.lastConfig(t).Orchestrator().Enabled)
}

func TestChains_BareFindingsArray(t *testing.T) {
	dir := isolateEnv(t)
	findingsPath := writeFile(t, dir, "findings.json", `[
  {"id": "f-public", "kind": "PUBLIC_ENDPOINT", "location": "GET /people/{id}", "description": "public", "metadata": {"method": "GET", "path": "/people/{id}"}}
]`)
	out := filepath.Join(dir, "report.json")

	_, err := executeCommand(t, &stubFactory{}, "chains", findingsPath, "-f", "json", "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var report schemas.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, findingsPath, report.Source)
	require.Len(t, report.Findings, 1)
	assert.Equal(t, schemas.StatusDeterministicOnly, report.Status)
}

func TestReadPayload(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		p, err := readPayload([]byte(`{"signature": "abc", "findings": [{"id": "f1"}], "vulnerabilities": []}`))
		require.NoError(t, err)
		assert.Equal(t, "abc", p.Signature)
		assert.Len(t, p.Findings, 1)
		assert.NotNil(t, p.Vulnerabilities)
	})

	t.Run("array leaves vulnerabilities to be derived", func(t *testing.T) {
		p, err := readPayload([]byte(`  [{"id": "f1"}, {"id": "f2"}]`))
		require.NoError(t, err)
		assert.Len(t, p.Findings, 2)
		assert.Nil(t, p.Vulnerabilities)
	})

	t.Run("scalar", func(t *testing.T) {
		_, err := readPayload([]byte(`"findings"`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a JSON object or array")
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := readPayload([]byte(`{"findings": [`))
		require.Error(t, err)
	})
}

func TestGetConfigFromContext_Missing(t *testing.T) {
	_, err := getConfigFromContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration not found")
}
