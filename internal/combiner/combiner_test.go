package combiner

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func ptr(v float64) *float64 { return &v }

func series(stage types.StageName, times []float64, build func(i int) types.StateSnapshot) types.StageResult {
	res := types.StageResult{Stage: stage, Status: types.StageSuccess}
	for i, t := range times {
		s := build(i)
		s.Time = t
		res.Series = append(res.Series, s)
	}
	return res
}

// stageA: ip falls through 0.5 at t=3; wth and the ne profile exist only here.
func stageA() types.StageResult {
	ip := []float64{1.0, 0.9, 0.7, 0.45, 0.3}
	return series(types.StageA, []float64{0, 1, 2, 3, 4}, func(i int) types.StateSnapshot {
		return types.StateSnapshot{
			Scalars:  map[string]float64{"I_p": ip[i], "W_th": 10 - float64(i)},
			Profiles: map[string][]float64{"ne": {3, 2, 1}, "te": {float64(5 - i), 1}},
		}
	})
}

// stageB: own clock from zero; i_re exists only here.
func stageB() types.StageResult {
	ip := []float64{0.45, 0.2, 0.1}
	return series(types.StageB, []float64{0, 1, 2}, func(i int) types.StateSnapshot {
		return types.StateSnapshot{
			Scalars:  map[string]float64{"I_p": ip[i], "I_re": 0.01 * float64(i+1)},
			Profiles: map[string][]float64{"te": {0.5, 0.1, 0.05}},
		}
	})
}

func trigger(a types.StageResult, idx int) types.TriggerEvent {
	return types.TriggerEvent{Time: a.Series[idx].Time, Index: idx, Snapshot: a.Series[idx].Clone()}
}

func TestCombine_EndToEndTimeline(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, u.Times)
	assert.Equal(t, 6, u.Len())
	assert.Equal(t, 3, u.HandoffIndex)
	assert.Equal(t, 3.0, u.HandoffTime)
	// seam: the Stage B sample replaces the Stage A trigger sample
	assert.Equal(t, types.Series{1.0, 0.9, 0.7, 0.45, 0.2, 0.1}, u.Scalars["I_p"])
}

func TestCombine_ChannelOrderAndSources(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)

	var names []string
	for _, c := range u.Channels {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"I_p", "I_re", "W_th", "ne", "te"}, names)

	ip, _ := u.Channel("I_p")
	assert.Equal(t, types.SourceBoth, ip.Source)
	ire, _ := u.Channel("I_re")
	assert.Equal(t, types.SourceStageB, ire.Source)
	assert.Equal(t, types.FillHoldLast, ire.Fill)
	ne, _ := u.Channel("ne")
	assert.Equal(t, types.SourceStageA, ne.Source)
	assert.Equal(t, types.FillOmitAndFlag, ne.Fill)
	assert.Equal(t, types.KindProfile, ne.Kind)
}

func TestCombine_HoldLastUsesTriggerValue(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)

	// W_th at the trigger (t=3) is 7, even though that Stage A sample is dropped.
	assert.Equal(t, types.Series{10, 9, 8, 7, 7, 7}, u.Scalars["W_th"])
	assert.Equal(t, []bool{true, true, true, false, false, false}, u.Present["W_th"])
}

func TestCombine_HoldLastBackwardForStageBOnlyChannel(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)
	assert.Equal(t, types.Series{0.01, 0.01, 0.01, 0.01, 0.02, 0.03}, u.Scalars["I_re"])
}

func TestCombine_OmitAndFlagProfiles(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)

	ne := u.Profiles["ne"]
	require.Len(t, ne, 6)
	assert.Equal(t, types.Series{3, 2, 1}, ne[0])
	assert.Empty(t, ne[3])
	assert.Equal(t, []bool{true, true, true, false, false, false}, u.Present["ne"])

	require.Len(t, u.Flags, 1)
	assert.Equal(t, types.SignalFlag{
		Kind: types.FlagOmitted, Channel: "ne", From: 3, To: 5, Message: "ne not produced by stage B",
	}, u.Flags[0])

	_, ok := u.Present["te"]
	assert.False(t, ok, "channel present everywhere has no mask")
	assert.Equal(t, types.Series{0.5, 0.1, 0.05}, u.Profiles["te"][3])
}

func TestCombine_SentinelPolicy(t *testing.T) {
	a, b := stageA(), stageB()
	spec := types.CombinerSpec{
		ScalarFill: types.FillSentinel,
		Sentinel:   ptr(-1),
		Channels: map[string]types.ChannelFill{
			"ne":   {Fill: types.FillSentinel, Sentinel: ptr(0)},
			"I_re": {Fill: types.FillSentinel},
		},
	}
	u, err := Combine("s-1", a, trigger(a, 3), b, spec)
	require.NoError(t, err)

	assert.Equal(t, types.Series{10, 9, 8, -1, -1, -1}, u.Scalars["W_th"])
	assert.Equal(t, types.Series{0, 0, 0}, u.Profiles["ne"][4])
	assert.Equal(t, -1.0, u.Scalars["I_re"][0])
	assert.Empty(t, u.Flags)
}

func TestCombine_DefaultSentinelIsNaNAndEncodesAsNull(t *testing.T) {
	a, b := stageA(), stageB()
	spec := types.CombinerSpec{Channels: map[string]types.ChannelFill{"W_th": {Fill: types.FillSentinel}}}
	u, err := Combine("s-1", a, trigger(a, 3), b, spec)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(u.Scalars["W_th"][4]))

	out, err := json.Marshal(u.Scalars["W_th"])
	require.NoError(t, err)
	assert.JSONEq(t, `[10,9,8,null,null,null]`, string(out))
}

func TestCombine_Idempotent(t *testing.T) {
	a, b := stageA(), stageB()
	u1, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{MaxSampleInterval: 0.5})
	require.NoError(t, err)
	u2, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{MaxSampleInterval: 0.5})
	require.NoError(t, err)

	j1, err := json.Marshal(u1)
	require.NoError(t, err)
	j2, err := json.Marshal(u2)
	require.NoError(t, err)
	assert.Equal(t, string(j1), string(j2))
}

func TestCombine_DoesNotAliasInputs(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{})
	require.NoError(t, err)

	a.Series[0].Profiles["te"][0] = -99
	b.Series[0].Profiles["te"][0] = -99
	assert.Equal(t, 5.0, u.Profiles["te"][0][0])
	assert.Equal(t, 0.5, u.Profiles["te"][3][0])
}

func TestCombine_GapFlags(t *testing.T) {
	a := series(types.StageA, []float64{0, 0.1, 0.2, 1.0}, func(int) types.StateSnapshot {
		return types.StateSnapshot{Scalars: map[string]float64{"x": 1}}
	})
	b := series(types.StageB, []float64{0, 0.1}, func(int) types.StateSnapshot {
		return types.StateSnapshot{Scalars: map[string]float64{"x": 2}}
	})
	u, err := Combine("s-1", a, trigger(a, 3), b, types.CombinerSpec{MaxSampleInterval: 0.5})
	require.NoError(t, err)

	require.Len(t, u.Flags, 1)
	assert.Equal(t, types.FlagGap, u.Flags[0].Kind)
	assert.Equal(t, 2, u.Flags[0].From)
	assert.Equal(t, 3, u.Flags[0].To)
	assert.InDelta(t, 0.8, u.Flags[0].Span, 1e-12)
}

func TestCombine_StrictlyIncreasingForShiftedClock(t *testing.T) {
	a := stageA()
	b := series(types.StageB, []float64{10, 10.5, 11}, func(int) types.StateSnapshot {
		return types.StateSnapshot{Scalars: map[string]float64{"I_p": 0.1}}
	})
	u, err := Combine("s-1", a, trigger(a, 1), b, types.CombinerSpec{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 1.5, 2}, u.Times)
	assert.NoError(t, Validate(u))
}

func TestCombine_TriggerAtFirstSample(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, trigger(a, 0), b, types.CombinerSpec{})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, u.Times)
	assert.Equal(t, 0, u.HandoffIndex)
	// only the seam carries W_th
	assert.Equal(t, types.Series{10, 10, 10}, u.Scalars["W_th"])
}

func TestCombine_ContractViolations(t *testing.T) {
	good := stageA()
	tests := []struct {
		name string
		a    types.StageResult
		trig types.TriggerEvent
		b    types.StageResult
	}{
		{
			name: "non-monotonic A",
			a: series(types.StageA, []float64{0, 2, 1}, func(int) types.StateSnapshot {
				return types.StateSnapshot{Scalars: map[string]float64{"x": 1}}
			}),
			trig: types.TriggerEvent{Time: 1, Index: 2},
			b:    stageB(),
		},
		{
			name: "duplicate time in B",
			a:    good,
			trig: trigger(good, 3),
			b: series(types.StageB, []float64{0, 1, 1}, func(int) types.StateSnapshot {
				return types.StateSnapshot{Scalars: map[string]float64{"x": 1}}
			}),
		},
		{
			name: "empty B",
			a:    good,
			trig: trigger(good, 3),
			b:    types.StageResult{Stage: types.StageB},
		},
		{
			name: "trigger not in A",
			a:    good,
			trig: types.TriggerEvent{Time: 2.5, Index: 2},
			b:    stageB(),
		},
		{
			name: "kind mismatch",
			a:    good,
			trig: trigger(good, 3),
			b: series(types.StageB, []float64{0}, func(int) types.StateSnapshot {
				return types.StateSnapshot{Profiles: map[string][]float64{"W_th": {1}}}
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Combine("s-1", tt.a, tt.trig, tt.b, types.CombinerSpec{})
			assert.ErrorIs(t, err, ErrContractViolation)
		})
	}
}

func TestCombine_TriggerIndexMismatchFallsBackToTime(t *testing.T) {
	a, b := stageA(), stageB()
	u, err := Combine("s-1", a, types.TriggerEvent{Time: 3, Index: 0}, b, types.CombinerSpec{})
	require.NoError(t, err)
	assert.Equal(t, 3, u.HandoffIndex)
}

func TestValidate(t *testing.T) {
	ok := types.UnifiedSignal{
		Times:    []float64{0, 1},
		Channels: []types.ChannelInfo{{Name: "x", Kind: types.KindScalar}},
		Scalars:  map[string]types.Series{"x": {1, 2}},
	}
	require.NoError(t, Validate(ok))

	bad := ok
	bad.Times = []float64{0, 0}
	assert.ErrorIs(t, Validate(bad), ErrContractViolation)

	bad = ok
	bad.Scalars = map[string]types.Series{"x": {1}}
	assert.ErrorIs(t, Validate(bad), ErrContractViolation)

	bad = ok
	bad.HandoffIndex = 2
	assert.ErrorIs(t, Validate(bad), ErrContractViolation)

	assert.ErrorIs(t, Validate(types.UnifiedSignal{}), ErrContractViolation)
}
