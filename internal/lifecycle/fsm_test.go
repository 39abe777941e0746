package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from  types.ScenarioState
		to    types.ScenarioState
		valid bool
	}{
		{types.ScenarioPending, types.ScenarioStageARunning, true},
		{types.ScenarioPending, types.ScenarioConfigInvalid, true},
		{types.ScenarioPending, types.ScenarioCombined, false},
		{types.ScenarioStageARunning, types.ScenarioNoTriggerDone, true},
		{types.ScenarioStageARunning, types.ScenarioStageAFailed, true},
		{types.ScenarioStageARunning, types.ScenarioTriggered, true},
		{types.ScenarioStageARunning, types.ScenarioStageBRunning, false},
		{types.ScenarioTriggered, types.ScenarioHandoff, true},
		{types.ScenarioTriggered, types.ScenarioStageBRunning, false},
		{types.ScenarioHandoff, types.ScenarioHandoffInvalid, true},
		{types.ScenarioHandoff, types.ScenarioHandoffOK, true},
		{types.ScenarioHandoffOK, types.ScenarioStageBRunning, true},
		{types.ScenarioStageBRunning, types.ScenarioCombined, true},
		{types.ScenarioStageBRunning, types.ScenarioStageBFailed, true},
		{types.ScenarioStageBRunning, types.ScenarioPersistFailed, true},
		{types.ScenarioCombined, types.ScenarioStageBRunning, false},
		{types.ScenarioHandoffInvalid, types.ScenarioStageBRunning, false},
		{types.ScenarioNoTriggerDone, types.ScenarioTriggered, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
			err := Transition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []types.ScenarioState{
		types.ScenarioNoTriggerDone,
		types.ScenarioStageAFailed,
		types.ScenarioHandoffInvalid,
		types.ScenarioStageBFailed,
		types.ScenarioCombined,
		types.ScenarioPersistFailed,
		types.ScenarioConfigInvalid,
	} {
		assert.True(t, IsTerminal(s), s)
		_, err := OutcomeFor(s)
		assert.NoError(t, err, s)
	}
	for _, s := range []types.ScenarioState{
		types.ScenarioPending,
		types.ScenarioStageARunning,
		types.ScenarioTriggered,
		types.ScenarioHandoff,
		types.ScenarioHandoffOK,
		types.ScenarioStageBRunning,
	} {
		assert.False(t, IsTerminal(s), s)
		_, err := OutcomeFor(s)
		assert.Error(t, err, s)
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine()
	for _, s := range []types.ScenarioState{
		types.ScenarioStageARunning,
		types.ScenarioTriggered,
		types.ScenarioHandoff,
		types.ScenarioHandoffOK,
		types.ScenarioStageBRunning,
		types.ScenarioCombined,
	} {
		require.NoError(t, m.Advance(s))
	}
	assert.True(t, m.Done())
	out, err := m.Outcome()
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeCombined, out)
	assert.Len(t, m.History(), 7)
}

func TestMachine_RejectsSkippedStage(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Advance(types.ScenarioStageARunning))
	err := m.Advance(types.ScenarioStageBRunning)
	assert.Error(t, err)
	assert.Equal(t, types.ScenarioStageARunning, m.State())
	assert.False(t, m.Done())
}
