// File: internal/orchestrator/state.go
package orchestrator

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// State is a node of the attack path state machine.
type State string

const (
	StateIdle      State = "IDLE"
	StateScanning  State = "SCANNING"
	StateModeling  State = "MODELING"
	StateReporting State = "REPORTING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var allowed = map[State][]State{
	StateIdle:      {StateScanning},
	StateScanning:  {StateModeling, StateDone, StateFailed},
	StateModeling:  {StateReporting, StateFailed},
	StateReporting: {StateDone, StateFailed},
}

// machine tracks one run. It is confined to the goroutine executing Run.
type machine struct {
	state       State
	transitions []schemas.StateTransition
	now         func() time.Time
}

func newMachine(now func() time.Time) *machine {
	return &machine{state: StateIdle, now: now}
}

func (m *machine) transition(to State) error {
	for _, next := range allowed[m.state] {
		if next == to {
			m.transitions = append(m.transitions, schemas.StateTransition{From: string(m.state), To: string(to), At: m.now().UTC()})
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("transition %s -> %s not allowed", m.state, to)
}
