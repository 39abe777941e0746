// Package lifecycle implements the per-scenario state machine.
package lifecycle

import (
	"fmt"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Transition table: from -> allowed tos
var validTransitions = map[types.ScenarioState][]types.ScenarioState{
	types.ScenarioPending:        {types.ScenarioStageARunning, types.ScenarioConfigInvalid},
	types.ScenarioStageARunning:  {types.ScenarioNoTriggerDone, types.ScenarioStageAFailed, types.ScenarioTriggered},
	types.ScenarioTriggered:      {types.ScenarioHandoff},
	types.ScenarioHandoff:        {types.ScenarioHandoffInvalid, types.ScenarioHandoffOK},
	types.ScenarioHandoffOK:      {types.ScenarioStageBRunning},
	types.ScenarioStageBRunning:  {types.ScenarioStageBFailed, types.ScenarioCombined, types.ScenarioPersistFailed},
	types.ScenarioNoTriggerDone:  {},
	types.ScenarioStageAFailed:   {},
	types.ScenarioHandoffInvalid: {},
	types.ScenarioStageBFailed:   {},
	types.ScenarioCombined:       {},
	types.ScenarioPersistFailed:  {},
	types.ScenarioConfigInvalid:  {},
}

var outcomes = map[types.ScenarioState]types.Outcome{
	types.ScenarioNoTriggerDone:  types.OutcomeNoTrigger,
	types.ScenarioStageAFailed:   types.OutcomeStageAFailed,
	types.ScenarioHandoffInvalid: types.OutcomeHandoffInvalid,
	types.ScenarioStageBFailed:   types.OutcomeStageBFailed,
	types.ScenarioCombined:       types.OutcomeCombined,
	types.ScenarioPersistFailed:  types.OutcomePersistFailed,
	types.ScenarioConfigInvalid:  types.OutcomeConfigInvalid,
}

// CanTransition checks if moving a scenario from one state to another is valid.
func CanTransition(from, to types.ScenarioState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates a state change, returning an error if it is not allowed.
func Transition(from, to types.ScenarioState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal returns true if the state is a terminal (final) state.
func IsTerminal(state types.ScenarioState) bool {
	_, ok := outcomes[state]
	return ok
}

// OutcomeFor maps a terminal state to its manifest outcome.
func OutcomeFor(state types.ScenarioState) (types.Outcome, error) {
	o, ok := outcomes[state]
	if !ok {
		return "", fmt.Errorf("state %s is not terminal", state)
	}
	return o, nil
}

// Machine tracks one scenario through its states. It is not safe for
// concurrent use; each scenario owns its own Machine.
type Machine struct {
	state   types.ScenarioState
	history []types.ScenarioState
}

// NewMachine returns a machine in the pending state.
func NewMachine() *Machine {
	return &Machine{
		state:   types.ScenarioPending,
		history: []types.ScenarioState{types.ScenarioPending},
	}
}

// State returns the current state.
func (m *Machine) State() types.ScenarioState { return m.state }

// History returns every state visited, in order.
func (m *Machine) History() []types.ScenarioState {
	return append([]types.ScenarioState(nil), m.history...)
}

// Advance moves to the next state if the transition is allowed.
func (m *Machine) Advance(to types.ScenarioState) error {
	if err := Transition(m.state, to); err != nil {
		return err
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}

// Done reports whether the machine reached a terminal state.
func (m *Machine) Done() bool { return IsTerminal(m.state) }

// Outcome returns the manifest outcome for the current terminal state.
func (m *Machine) Outcome() (types.Outcome, error) { return OutcomeFor(m.state) }
