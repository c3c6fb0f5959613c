// File: internal/orchestrator/orchestrator.go
// Description: Drives the Scanner, Threat Modeler and Reporter agents through the
// attack path state machine with per-step timeouts and a bounded retry.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
	"github.com/xkilldash9x/scalpel-contract/internal/agent"
	"github.com/xkilldash9x/scalpel-contract/internal/config"
)

var (
	// ErrStepTimeout is returned when an agent step exceeds its timeout.
	ErrStepTimeout = errors.New("agent step timed out")
	// ErrCallerCancelled is returned when the caller's context ended while a step
	// was in flight. The step's result, if any, is discarded.
	ErrCallerCancelled = errors.New("caller cancelled the run")
	// ErrAgentPanic is returned when an agent panics during Execute.
	ErrAgentPanic = errors.New("agent panicked")
)

// Options controls step execution.
type Options struct {
	StepTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
}

// OptionsFromConfig maps the orchestrator configuration section onto Options.
func OptionsFromConfig(cfg config.OrchestratorConfig) Options {
	return Options{
		StepTimeout:    cfg.StepTimeout,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
}

// Orchestrator runs the three agents in sequence. It holds no per-run state, so a
// single instance serves concurrent runs.
type Orchestrator struct {
	scanner  agent.Agent
	modeler  agent.Agent
	reporter agent.Agent
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an Orchestrator. All three agents are required.
func New(scanner, modeler, reporter agent.Agent, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if scanner == nil || modeler == nil || reporter == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil agents")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 90 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	return &Orchestrator{
		scanner:  scanner,
		modeler:  modeler,
		reporter: reporter,
		opts:     opts,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}, nil
}

// Run executes one pass of the state machine. The returned report is never nil and
// always carries the Scanner ranking once SCANNING completed. The error is the
// cause of a FAILED run and is nil for DONE.
func (o *Orchestrator) Run(ctx context.Context, findings []schemas.Finding, vulns []schemas.Vulnerability) (*schemas.ChainReport, error) {
	m := newMachine(o.now)
	report := &schemas.ChainReport{}
	finish := func(state State, cause error) (*schemas.ChainReport, error) {
		if err := m.transition(state); err != nil {
			o.logger.Error("Illegal state transition", zap.Error(err))
		}
		report.State = string(m.state)
		report.Transitions = m.transitions
		return report, cause
	}

	_ = m.transition(StateScanning)
	scanned, err := o.step(ctx, o.scanner, agent.Input{Vulnerabilities: vulns, Findings: findings})
	if err != nil {
		return finish(StateFailed, fmt.Errorf("scanning: %w", err))
	}
	report.RankedVulns = scanned.Ranked
	if len(scanned.Ranked) == 0 {
		o.logger.Info("No vulnerabilities to chain")
		report.ExecutiveSummary = agent.FallbackSummary(nil, nil)
		return finish(StateDone, nil)
	}

	_ = m.transition(StateModeling)
	modeled, err := o.step(ctx, o.modeler, agent.Input{Ranked: scanned.Ranked, Findings: findings})
	if err != nil {
		o.fillDeterministic(report, nil)
		report.Degradations = append(report.Degradations, stepDegradation(agent.RoleThreatModeler, err))
		return finish(StateFailed, fmt.Errorf("modeling: %w", err))
	}
	report.DroppedChains = modeled.Dropped
	report.Degradations = append(report.Degradations, modeled.Degradations...)

	_ = m.transition(StateReporting)
	reported, err := o.step(ctx, o.reporter, agent.Input{Ranked: scanned.Ranked, Findings: findings, Chains: modeled.Chains})
	report.Degradations = append(report.Degradations, reported.Degradations...)
	if err != nil {
		if len(reported.Chains) > 0 || reported.Summary != "" {
			o.fill(report, reported)
		} else {
			o.fillDeterministic(report, modeled.Chains)
		}
		report.Degradations = append(report.Degradations, stepDegradation(agent.RoleReporter, err))
		return finish(StateFailed, fmt.Errorf("reporting: %w", err))
	}
	o.fill(report, reported)
	return finish(StateDone, nil)
}

func (o *Orchestrator) fill(report *schemas.ChainReport, out agent.Output) {
	report.AttackChains = out.Chains
	report.OverallRiskScore = out.OverallRisk
	report.ExecutiveSummary = out.Summary
	report.Remediation = out.Remediation
}

// fillDeterministic scores whatever chains exist without a reasoning call.
func (o *Orchestrator) fillDeterministic(report *schemas.ChainReport, chains []schemas.AttackChain) {
	scored := agent.ScoreChains(chains)
	report.AttackChains = scored
	report.OverallRiskScore = agent.OverallRisk(scored, report.RankedVulns)
	report.ExecutiveSummary = agent.FallbackSummary(scored, report.RankedVulns)
	report.Remediation = agent.FallbackRemediation(scored, report.RankedVulns)
}

func stepDegradation(role agent.Role, err error) schemas.Degradation {
	return schemas.Degradation{Stage: role.String(), Kind: schemas.DegradationReasoning, Message: err.Error()}
}

// step runs one agent with the retry budget. Only the reasoning roles are retried.
func (o *Orchestrator) step(ctx context.Context, a agent.Agent, in agent.Input) (agent.Output, error) {
	logger := o.logger.With(zap.String("role", a.Role().String()))
	if a.Role() == agent.RoleScanner {
		return o.execute(ctx, a, in)
	}

	var out agent.Output
	attempt := 0
	operation := func() error {
		attempt++
		res, err := o.execute(ctx, a, in)
		out = res
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCallerCancelled) || errors.Is(err, agent.ErrNoReasoningBackend) || errors.Is(err, ErrAgentPanic) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, d time.Duration) {
		logger.Warn("Agent step failed, retrying", zap.Int("attempt", attempt), zap.Error(err), zap.Duration("backoff", d))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.opts.MaxRetries)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCallerCancelled) {
			err = fmt.Errorf("%w: %v", ErrCallerCancelled, err)
		}
		logger.Error("Agent step failed", zap.Int("attempts", attempt), zap.Error(err))
		return out, err
	}
	logger.Debug("Agent step complete", zap.Int("attempts", attempt))
	return out, nil
}

type stepResult struct {
	out agent.Output
	err error
}

// execute runs a single attempt. The agent receives a context detached from the
// caller and bounded by the step timeout, so caller cancellation never aborts an
// in-flight reasoning call; its result is simply dropped.
func (o *Orchestrator) execute(ctx context.Context, a agent.Agent, in agent.Input) (agent.Output, error) {
	if err := ctx.Err(); err != nil {
		return agent.Output{}, fmt.Errorf("%w: %v", ErrCallerCancelled, err)
	}
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.StepTimeout)
	done := make(chan stepResult, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("Panic recovered in agent step",
					zap.String("role", a.Role().String()),
					zap.Any("panic_value", r),
					zap.Stack("stack"),
				)
				done <- stepResult{err: fmt.Errorf("%w: %s: %v", ErrAgentPanic, a.Role(), r)}
			}
		}()
		out, err := a.Execute(stepCtx, in)
		done <- stepResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return o.settle(ctx, stepCtx, a, res)
	case <-stepCtx.Done():
		select {
		case res := <-done:
			return o.settle(ctx, stepCtx, a, res)
		default:
		}
		return agent.Output{}, fmt.Errorf("%w: %s after %s", ErrStepTimeout, a.Role(), o.opts.StepTimeout)
	case <-ctx.Done():
		o.logger.Info("Caller cancelled during agent step, result will be discarded",
			zap.String("role", a.Role().String()))
		return agent.Output{}, fmt.Errorf("%w: %v", ErrCallerCancelled, ctx.Err())
	}
}

func (o *Orchestrator) settle(ctx, stepCtx context.Context, a agent.Agent, res stepResult) (agent.Output, error) {
	if ctx.Err() != nil {
		return agent.Output{}, fmt.Errorf("%w: %v", ErrCallerCancelled, ctx.Err())
	}
	if res.err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && errors.Is(res.err, context.DeadlineExceeded) {
		return res.out, fmt.Errorf("%w: %s after %s", ErrStepTimeout, a.Role(), o.opts.StepTimeout)
	}
	return res.out, res.err
}
