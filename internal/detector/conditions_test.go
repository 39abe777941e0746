package detector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func windowOf(snaps ...types.StateSnapshot) *Window {
	w := NewWindow(len(snaps))
	for _, s := range snaps {
		w.Push(s)
	}
	return w
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := NewWindow(2)
	for i := 0; i < 5; i++ {
		w.Push(types.StateSnapshot{Time: float64(i)})
	}
	assert.Equal(t, 2, w.Len())
	cur, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, 4.0, cur.Time)
	prev, ok := w.At(1)
	require.True(t, ok)
	assert.Equal(t, 3.0, prev.Time)
	_, ok = w.At(2)
	assert.False(t, ok)
}

func TestRateCondition(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindRateBelow, Channel: "I_p", Threshold: -1, Window: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, c.History())

	w := windowOf(series("I_p", 10, 9.5, 6)...)
	m, ok := c.Evaluate(w)
	require.True(t, ok)
	assert.InDelta(t, -2.0, m.Value, 1e-12)

	w = windowOf(series("I_p", 10, 9.5)...)
	_, ok = c.Evaluate(w)
	assert.False(t, ok, "not enough history")
}

func TestAbsRateCondition(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindAbsRateAbove, Channel: "W_th", Threshold: 3})
	require.NoError(t, err)

	_, ok := c.Evaluate(windowOf(series("W_th", 10, 8)...))
	assert.False(t, ok)
	m, ok := c.Evaluate(windowOf(series("W_th", 10, 5)...))
	require.True(t, ok)
	assert.Equal(t, -5.0, m.Value)
}

func TestRateCondition_NonIncreasingTime(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindRateAbove, Channel: "x", Threshold: 0})
	require.NoError(t, err)
	w := windowOf(
		types.StateSnapshot{Time: 1, Scalars: map[string]float64{"x": 0}},
		types.StateSnapshot{Time: 1, Scalars: map[string]float64{"x": 5}},
	)
	_, ok := c.Evaluate(w)
	assert.False(t, ok)
}

func TestDropFractionCondition(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindDropFraction, Channel: "W_th", Threshold: 0.5, Window: 3})
	require.NoError(t, err)

	_, ok := c.Evaluate(windowOf(series("W_th", 4, 3, 2.5, 2.1)...))
	assert.False(t, ok)
	m, ok := c.Evaluate(windowOf(series("W_th", 4, 3, 2.5, 1.9)...))
	require.True(t, ok)
	assert.InDelta(t, 0.525, m.Value, 1e-12)
}

func TestProfileReduce(t *testing.T) {
	snap := types.StateSnapshot{Profiles: map[string][]float64{"T_e": {5, 3, 1}}}
	tests := []struct {
		reduce string
		want   float64
	}{
		{"", 3},
		{"mean", 3},
		{"min", 1},
		{"max", 5},
		{"core", 5},
		{"edge", 1},
	}
	for _, tt := range tests {
		t.Run(tt.reduce, func(t *testing.T) {
			v, ok := channelValue(snap, "T_e", tt.reduce)
			require.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestNonFiniteValuesDoNotHold(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindBelow, Channel: "I_p", Threshold: 1})
	require.NoError(t, err)
	_, ok := c.Evaluate(windowOf(types.StateSnapshot{Scalars: map[string]float64{"I_p": math.NaN()}}))
	assert.False(t, ok)
	_, ok = c.Evaluate(windowOf(types.StateSnapshot{Scalars: map[string]float64{"I_p": math.Inf(-1)}}))
	assert.False(t, ok)
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{
		KindAbove, KindAbsRateAbove, KindBelow, KindDropFraction, KindRateAbove, KindRateBelow,
	}, Kinds())
}

func TestDefaultConditionName(t *testing.T) {
	c, err := Build(types.ConditionSpec{Kind: KindAbove, Channel: "q95", Threshold: 1})
	require.NoError(t, err)
	assert.Equal(t, "above:q95", c.Name())
}
