// File: internal/agent/agent.go
package agent

import (
	"context"
	"errors"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// Role identifies one of the three orchestration steps. The set is closed.
type Role int

const (
	RoleScanner Role = iota
	RoleThreatModeler
	RoleReporter
)

func (r Role) String() string {
	switch r {
	case RoleScanner:
		return "scanner"
	case RoleThreatModeler:
		return "threat_modeler"
	case RoleReporter:
		return "reporter"
	default:
		return "unknown"
	}
}

var (
	// ErrMalformedResponse is returned when a reasoning response cannot be decoded
	// into the expected JSON shape.
	ErrMalformedResponse = errors.New("malformed reasoning response")
	// ErrNoReasoningBackend is returned by reasoning roles built without an LLM client.
	ErrNoReasoningBackend = errors.New("no reasoning backend configured")
)

// Input is everything an agent step may read. Only the fields relevant to the
// role are consulted; the raw contract never reaches an agent.
type Input struct {
	Vulnerabilities []schemas.Vulnerability
	Findings        []schemas.Finding
	Ranked          []schemas.Vulnerability
	Chains          []schemas.AttackChain
}

// Output carries what a step produced. The orchestrator copies each field into
// the next step's Input.
type Output struct {
	Ranked       []schemas.Vulnerability
	Chains       []schemas.AttackChain
	Dropped      int
	DropReasons  []string
	OverallRisk  float64
	Summary      string
	Remediation  []string
	Degradations []schemas.Degradation
}

// Agent is the single capability shared by every role.
type Agent interface {
	Role() Role
	Execute(ctx context.Context, in Input) (Output, error)
}
