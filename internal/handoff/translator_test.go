package handoff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/internal/physics"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func ptr(v float64) *float64 { return &v }

func testSpec() types.HandoffSpec {
	return types.HandoffSpec{
		SourceGrid:       "rho",
		TargetGridPoints: 3,
		Fields: []types.FieldMapping{
			{Target: "Ip0", Source: "I_p", Scale: 1e6, Min: ptr(0), Max: ptr(20e6)},
			{Target: "n_e0", Source: "n_e", Min: ptr(0)},
			{Target: "T_e", Source: "T_e", Kind: types.KindProfile, Scale: 1000, Min: ptr(0)},
		},
	}
}

func trigSnapshot() types.StateSnapshot {
	return types.StateSnapshot{
		Time:    3,
		Scalars: map[string]float64{"I_p": 0.4, "n_e": 5e19},
		Profiles: map[string][]float64{
			"rho": {0, 0.25, 0.5, 1},
			"T_e": {4, 3, 2, 0},
		},
	}
}

func TestTranslate_Accepted(t *testing.T) {
	rec := Translate("s-1", trigSnapshot(), testSpec(), physics.Defaults())
	require.True(t, rec.Accepted, rec.Violations)
	assert.Equal(t, "s-1", rec.ScenarioID)
	assert.Equal(t, 3.0, rec.Time)
	assert.InDelta(t, 0.4e6, rec.Scalars["Ip0"], 1e-6)
	assert.Equal(t, 5e19, rec.Scalars["n_e0"])
	assert.Equal(t, []float64{0, 0.5, 1}, rec.Grid)
	require.Len(t, rec.Profiles["T_e"], 3)
	assert.InDeltaSlice(t, []float64{4000, 2000, 0}, rec.Profiles["T_e"], 1e-9)
}

func TestTranslate_NegativeDensityRejected(t *testing.T) {
	snap := trigSnapshot()
	snap.Scalars["n_e"] = -1

	rec := Translate("s-1", snap, testSpec(), physics.Defaults())
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"n_e0"}, rec.ViolatedFields())
	assert.Equal(t, ReasonBelowMin, rec.Violations[0].Reason)
	assert.Equal(t, -1.0, rec.Violations[0].Value)
}

func TestTranslate_AllViolationsListedInOrder(t *testing.T) {
	snap := trigSnapshot()
	snap.Scalars["I_p"] = 25
	delete(snap.Scalars, "n_e")
	snap.Profiles["T_e"] = []float64{1, 1, -2, 1}

	rec := Translate("s-1", snap, testSpec(), physics.Defaults())
	assert.False(t, rec.Accepted)
	assert.Equal(t, []string{"Ip0", "n_e0", "T_e"}, rec.ViolatedFields())
	assert.Equal(t, ReasonAboveMax, rec.Violations[0].Reason)
	assert.Equal(t, ReasonMissing, rec.Violations[1].Reason)
	assert.Contains(t, rec.Violations[2].Reason, ReasonBelowMin)
}

func TestTranslate_OptionalFieldMayBeAbsent(t *testing.T) {
	spec := testSpec()
	spec.Fields = append(spec.Fields, types.FieldMapping{Target: "Z_eff", Source: "zeff", Optional: true})
	rec := Translate("s-1", trigSnapshot(), spec, physics.Defaults())
	assert.True(t, rec.Accepted)
	_, ok := rec.Scalars["Z_eff"]
	assert.False(t, ok)
}

func TestTranslate_NonFinite(t *testing.T) {
	snap := trigSnapshot()
	snap.Scalars["n_e"] = math.Inf(1)
	rec := Translate("s-1", snap, testSpec(), physics.Defaults())
	assert.False(t, rec.Accepted)
	assert.Equal(t, ReasonNotFinite, rec.Violations[0].Reason)
	assert.Equal(t, 0.0, rec.Violations[0].Value)
}

func TestTranslate_GridMismatch(t *testing.T) {
	snap := trigSnapshot()
	snap.Profiles["rho"] = []float64{0, 1}
	rec := Translate("s-1", snap, testSpec(), physics.Defaults())
	assert.False(t, rec.Accepted)
	assert.Contains(t, rec.Violations[0].Reason, ReasonBadGrid)
}

func TestTranslate_DoesNotAliasSnapshot(t *testing.T) {
	spec := testSpec()
	spec.SourceGrid = ""
	spec.TargetGridPoints = 4
	snap := trigSnapshot()

	rec := Translate("s-1", snap, spec, physics.Defaults())
	require.True(t, rec.Accepted)
	snap.Profiles["T_e"][0] = -100
	snap.Scalars["I_p"] = 100
	assert.Equal(t, 4000.0, rec.Profiles["T_e"][0])
	assert.InDelta(t, 0.4e6, rec.Scalars["Ip0"], 1e-6)
}

func TestTranslate_Pure(t *testing.T) {
	a := Translate("s-1", trigSnapshot(), testSpec(), physics.Defaults())
	b := Translate("s-1", trigSnapshot(), testSpec(), physics.Defaults())
	assert.Equal(t, a, b)
}

func TestValidateSpec(t *testing.T) {
	require.NoError(t, ValidateSpec(testSpec()))

	tests := []struct {
		name string
		edit func(*types.HandoffSpec)
	}{
		{"no fields", func(s *types.HandoffSpec) { s.Fields = nil }},
		{"missing source", func(s *types.HandoffSpec) { s.Fields[0].Source = "" }},
		{"duplicate target", func(s *types.HandoffSpec) { s.Fields[1].Target = "Ip0" }},
		{"bad kind", func(s *types.HandoffSpec) { s.Fields[0].Kind = "tensor" }},
		{"bad resample", func(s *types.HandoffSpec) { s.Fields[2].Resample = "cubic" }},
		{"min above max", func(s *types.HandoffSpec) { s.Fields[0].Min = ptr(5); s.Fields[0].Max = ptr(1) }},
		{"bad grid", func(s *types.HandoffSpec) { s.TargetGrid = []float64{0, 0.5, 0.5} }},
		{"one grid point", func(s *types.HandoffSpec) { s.TargetGridPoints = 1 }},
		{"unknown limit", func(s *types.HandoffSpec) { s.Fields[1].MaxLimit = "density_max" }},
		{"negative limit fraction", func(s *types.HandoffSpec) { s.Fields[1].MaxLimit = physics.LimitGreenwald; s.Fields[1].LimitFraction = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSpec()
			tt.edit(&s)
			assert.ErrorIs(t, ValidateSpec(s), ErrInvalidSpec)
		})
	}
}

func TestTranslate_GreenwaldMaxLimit(t *testing.T) {
	spec := types.HandoffSpec{Fields: []types.FieldMapping{
		{Target: "ne0", Source: "ne", Min: ptr(0), MaxLimit: physics.LimitGreenwald},
	}}
	require.NoError(t, ValidateSpec(spec))
	lim := physics.Defaults()
	ng := lim.Device.GreenwaldDensity(lim.PlasmaCurrent)

	below := types.StateSnapshot{Scalars: map[string]float64{"ne": ng * 0.9}}
	rec := Translate("s-1", below, spec, lim)
	require.True(t, rec.Accepted, rec.Violations)

	above := types.StateSnapshot{Scalars: map[string]float64{"ne": ng * 1.1}}
	rec = Translate("s-1", above, spec, lim)
	require.False(t, rec.Accepted)
	require.Len(t, rec.Violations, 1)
	assert.Equal(t, ReasonAboveMax, rec.Violations[0].Reason)
	require.NotNil(t, rec.Violations[0].Max)
	assert.InDelta(t, ng, *rec.Violations[0].Max, 1e-12)

	// A higher current raises the density limit.
	lim.PlasmaCurrent = 2
	rec = Translate("s-1", above, spec, lim)
	assert.True(t, rec.Accepted, rec.Violations)
}

func TestTranslate_LimitFractionAndTighterBound(t *testing.T) {
	lim := physics.Defaults()
	ng := lim.Device.GreenwaldDensity(lim.PlasmaCurrent)
	snap := types.StateSnapshot{Scalars: map[string]float64{"ne": ng * 0.7, "q95": 1.5}}

	spec := types.HandoffSpec{Fields: []types.FieldMapping{
		{Target: "ne0", Source: "ne", MaxLimit: physics.LimitGreenwald, LimitFraction: 0.8},
		{Target: "q95", Source: "q95", MinLimit: physics.LimitQ95Floor},
	}}
	rec := Translate("s-1", snap, spec, lim)
	require.False(t, rec.Accepted)
	require.Len(t, rec.Violations, 1)
	assert.Equal(t, "q95", rec.Violations[0].Field)
	assert.Equal(t, ReasonBelowMin, rec.Violations[0].Reason)

	// An explicit max tighter than the named limit still applies.
	spec.Fields[0].Max = ptr(ng * 0.5)
	spec.Fields[1].MinLimit = ""
	rec = Translate("s-1", snap, spec, lim)
	require.False(t, rec.Accepted)
	assert.Equal(t, "ne0", rec.Violations[0].Field)
	assert.InDelta(t, ng*0.5, *rec.Violations[0].Max, 1e-12)
}
