// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/cache"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
	"github.com/xkilldash9x/scalpel-contract/internal/engine"
	"github.com/xkilldash9x/scalpel-contract/internal/service"
)

const peopleContract = `
openapi: 3.0.3
info:
  title: People
  version: "1.0"
components:
  securitySchemes:
    bearer: {type: http, scheme: bearer}
  schemas:
    Person:
      type: object
      properties:
        id: {type: string}
        name: {type: string}
        ssn: {type: string}
security:
  - bearer: []
paths:
  /people/{id}:
    get:
      security: []
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema: {$ref: '#/components/schemas/Person'}
  /people:
    post:
      requestBody:
        content:
          application/json:
            schema: {$ref: '#/components/schemas/Person'}
      responses:
        "201":
          description: created
`

// isolateEnv runs the test from an empty directory with every credential and
// override cleared, so neither a local config.yaml nor the developer's
// environment leaks in.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, key := range []string{"SCALPEL_DATABASE_URL", "SCALPEL_LLM_API_KEY", "GEMINI_API_KEY", "SCALPEL_CACHE_PERSISTENT", "SCALPEL_KNOWLEDGE_SOURCE"} {
		t.Setenv(key, "")
	}
	t.Setenv("SCALPEL_LOGGER_LEVEL", "error")
	return dir
}

// writeFile creates name under dir with content and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// executeCommand runs a fresh command tree, including PersistentPreRunE.
func executeCommand(t *testing.T, factory service.ComponentFactory, args ...string) (string, error) {
	t.Helper()
	if factory == nil {
		factory = service.NewComponentFactory()
	}
	rootCmd := newRootCmd(factory)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// executeCommandNoPreRun is for testing argument and flag validation without
// triggering configuration loading.
func executeCommandNoPreRun(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd(&stubFactory{})
	rootCmd.PersistentPreRunE = nil
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

// stubFactory builds an engine in process. With a reasoner it also wires an
// in-memory cache, mirroring the production layout without a backend.
type stubFactory struct {
	reasoner engine.Reasoner
	err      error

	mu   sync.Mutex
	cfgs []config.Interface
}

func (f *stubFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	f.mu.Lock()
	f.cfgs = append(f.cfgs, cfg)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	opts := engine.Options{MaxVulnerabilities: cfg.Orchestrator().MaxVulnerabilities}
	components := &service.Components{}
	if f.reasoner != nil && cfg.Orchestrator().Enabled {
		components.Cache = cache.New(cfg.Cache(), nil, logger)
		opts.Reasoner = f.reasoner
		opts.Cache = components.Cache
	}
	components.Engine = engine.New(logger, cfg.Analysis(), opts)
	return components, nil
}

func (f *stubFactory) lastConfig(t *testing.T) config.Interface {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.cfgs, "factory was never called")
	return f.cfgs[len(f.cfgs)-1]
}

// chainReasoner returns a single fixed chain citing the first vulnerability.
type chainReasoner struct {
	calls atomic.Int32
}

func (r *chainReasoner) Run(ctx context.Context, fs []schemas.Finding, vulns []schemas.Vulnerability) (*schemas.ChainReport, error) {
	r.calls.Add(1)
	refs := []string{}
	if len(vulns) > 0 {
		refs = append(refs, vulns[0].ID)
	}
	return &schemas.ChainReport{
		State:       "DONE",
		RankedVulns: vulns,
		AttackChains: []schemas.AttackChain{{
			ID:          "chain-1",
			Name:        "Harvest identity numbers",
			Description: "Enumerate people anonymously and collect their SSNs.",
			Steps: []schemas.AttackStep{
				{Order: 1, Action: "Call GET /people/{id} without credentials", References: refs},
			},
			Severity:   schemas.SeverityHigh,
			Likelihood: schemas.LikelihoodHigh,
			Complexity: schemas.ComplexityLow,
			RiskScore:  8.1,
		}},
		OverallRiskScore: 8.1,
		ExecutiveSummary: "Anonymous callers can read SSNs.",
		Remediation:      []string{"Require authentication on GET /people/{id}"},
	}, nil
}
