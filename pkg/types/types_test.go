package types

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeries_NonFiniteAsNull(t *testing.T) {
	s := Series{1.5, math.NaN(), math.Inf(1), 2}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null, null, 2]`, string(data))

	var back Series
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 4)
	assert.Equal(t, 1.5, back[0])
	assert.True(t, math.IsNaN(back[1]))
	assert.True(t, math.IsNaN(back[2]))
	assert.Equal(t, 2.0, back[3])
}

func TestStateSnapshot_CloneIsDeep(t *testing.T) {
	s := StateSnapshot{
		Time:     0.1,
		Scalars:  map[string]float64{"ip": 1},
		Profiles: map[string][]float64{"te": {3, 2, 1}},
	}
	c := s.Clone()
	c.Scalars["ip"] = 9
	c.Profiles["te"][0] = 9

	assert.Equal(t, 1.0, s.Scalars["ip"])
	assert.Equal(t, 3.0, s.Profiles["te"][0])
	assert.Equal(t, []string{"ip"}, c.ScalarNames())
	assert.Equal(t, []string{"te"}, c.ProfileNames())
}

func TestScenarioConfig_Accessors(t *testing.T) {
	sc := ScenarioConfig{
		ID:     "s1",
		Params: map[string]float64{"disrupt_at": 0.4},
		StageB: StageConfig{Timeout: "90s", Params: map[string]float64{"dt": 0.001}},
	}
	assert.Equal(t, 0.4, sc.Param("disrupt_at", 0))
	assert.Equal(t, 7.0, sc.Param("missing", 7))
	assert.Equal(t, 90*time.Second, sc.Stage(StageB).TimeoutDuration(time.Minute))
	assert.Equal(t, time.Minute, sc.Stage(StageA).TimeoutDuration(time.Minute))
	assert.Equal(t, 0.001, sc.Stage(StageB).Param("dt", 0.01))

	bad := StageConfig{Timeout: "soon"}
	assert.Equal(t, time.Minute, bad.TimeoutDuration(time.Minute))
}

func TestFieldMapping_EffectiveScale(t *testing.T) {
	assert.Equal(t, 1.0, FieldMapping{}.EffectiveScale())
	assert.Equal(t, 1e-6, FieldMapping{Scale: 1e-6}.EffectiveScale())
}

func TestBatchSummary_Failures(t *testing.T) {
	s := BatchSummary{ByOutcome: map[Outcome]int{
		OutcomeCombined:       5,
		OutcomeNoTrigger:      2,
		OutcomeStageBFailed:   1,
		OutcomeHandoffInvalid: 2,
	}}
	assert.Equal(t, 3, s.Failures())
	assert.Len(t, AllOutcomes, 7)
}
