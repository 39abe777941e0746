// Package combiner stitches the pre-trigger Stage A series and the Stage B
// series into one unified signal on a single time axis.
package combiner

import (
	"errors"
	"fmt"
	"math"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// ErrContractViolation reports input that no valid stage pair can produce:
// non-monotonic series, an empty Stage B result or a trigger that is not in
// the Stage A series. It signals a bug upstream, never a physical outcome.
var ErrContractViolation = errors.New("combiner contract violation")

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// Combine merges a and b around the trigger. Stage A contributes its samples
// up to and including the trigger snapshot; Stage B is shifted so its first
// sample lands on the trigger time, and at that seam the Stage B sample wins.
// Channels present in only one stage are filled over the other stage's range
// according to spec. The result shares no memory with its inputs.
func Combine(scenarioID string, a types.StageResult, trig types.TriggerEvent, b types.StageResult, spec types.CombinerSpec) (types.UnifiedSignal, error) {
	if err := checkSeries(types.StageA, a.Series); err != nil {
		return types.UnifiedSignal{}, err
	}
	if err := checkSeries(types.StageB, b.Series); err != nil {
		return types.UnifiedSignal{}, err
	}
	if len(b.Series) == 0 {
		return types.UnifiedSignal{}, violation("stage B series is empty")
	}
	k, ok := triggerIndex(a.Series, trig)
	if !ok {
		return types.UnifiedSignal{}, violation("trigger time %g is not a stage A sample", trig.Time)
	}

	// The trigger snapshot is the seam duplicate of Stage B's first sample,
	// so only the samples before it are kept.
	preA := a.Series[:k]
	seam := a.Series[k]

	n := len(preA) + len(b.Series)
	samples := make([]types.StateSnapshot, 0, n)
	times := make([]float64, 0, n)
	for _, s := range preA {
		samples = append(samples, s)
		times = append(times, s.Time)
	}
	b0 := b.Series[0].Time
	for i, s := range b.Series {
		samples = append(samples, s)
		if i == 0 {
			times = append(times, trig.Time)
			continue
		}
		times = append(times, trig.Time+(s.Time-b0))
	}

	scalarsA, profilesA := channelNames(append([]types.StateSnapshot{seam}, preA...))
	scalarsB, profilesB := channelNames(b.Series)
	for name := range profilesA {
		if scalarsB[name] {
			return types.UnifiedSignal{}, violation("channel %q is a profile in stage A and a scalar in stage B", name)
		}
	}
	for name := range scalarsA {
		if profilesB[name] {
			return types.UnifiedSignal{}, violation("channel %q is a scalar in stage A and a profile in stage B", name)
		}
	}

	u := types.UnifiedSignal{
		ScenarioID:   scenarioID,
		Times:        times,
		HandoffIndex: len(preA),
		HandoffTime:  trig.Time,
		Scalars:      make(map[string]types.Series),
		Profiles:     make(map[string][]types.Series),
	}
	handoff := len(preA)

	for _, name := range union(scalarsA, scalarsB) {
		sentinel := sentinelFor(spec, name)
		c := &column[float64]{
			policy:   fillPolicy(spec, name, types.KindScalar),
			clone:    func(v float64) float64 { return v },
			sentinel: func(float64) float64 { return sentinel },
			absent:   math.NaN,
		}
		c.collect(samples, seam, func(s types.StateSnapshot) (float64, bool) { return s.Scalar(name) })
		c.fill(handoff)
		u.Scalars[name] = types.Series(c.values)
		addChannel(&u, types.ChannelInfo{
			Name:   name,
			Kind:   types.KindScalar,
			Source: source(scalarsA[name], scalarsB[name]),
			Fill:   c.policy,
		}, c)
	}

	for _, name := range union(profilesA, profilesB) {
		sentinel := sentinelFor(spec, name)
		c := &column[[]float64]{
			policy:   fillPolicy(spec, name, types.KindProfile),
			clone:    func(v []float64) []float64 { return append([]float64(nil), v...) },
			sentinel: func(shape []float64) []float64 { return constant(len(shape), sentinel) },
			absent:   func() []float64 { return nil },
		}
		c.collect(samples, seam, func(s types.StateSnapshot) ([]float64, bool) { return s.Profile(name) })
		c.fill(handoff)
		col := make([]types.Series, len(c.values))
		for i, v := range c.values {
			col[i] = types.Series(v)
		}
		u.Profiles[name] = col
		addChannel(&u, types.ChannelInfo{
			Name:   name,
			Kind:   types.KindProfile,
			Source: source(profilesA[name], profilesB[name]),
			Fill:   c.policy,
		}, c)
	}

	u.Flags = append(u.Flags, gapFlags(times, spec.MaxSampleInterval)...)

	if err := Validate(u); err != nil {
		return types.UnifiedSignal{}, err
	}
	return u, nil
}

// addChannel records a channel descriptor, its presence mask when any sample
// was filled, and one omitted flag per contiguous run of absent samples.
func addChannel[T any](u *types.UnifiedSignal, info types.ChannelInfo, c *column[T]) {
	u.Channels = append(u.Channels, info)
	if c.missing == 0 {
		return
	}
	if u.Present == nil {
		u.Present = make(map[string][]bool)
	}
	u.Present[info.Name] = c.present
	if info.Fill != types.FillOmitAndFlag {
		return
	}
	for from := 0; from < len(c.present); from++ {
		if c.present[from] {
			continue
		}
		to := from
		for to+1 < len(c.present) && !c.present[to+1] {
			to++
		}
		u.Flags = append(u.Flags, types.SignalFlag{
			Kind:    types.FlagOmitted,
			Channel: info.Name,
			From:    from,
			To:      to,
			Message: omittedMessage(info),
		})
		from = to
	}
}

func omittedMessage(info types.ChannelInfo) string {
	switch info.Source {
	case types.SourceStageA:
		return info.Name + " not produced by stage B"
	case types.SourceStageB:
		return info.Name + " not produced by stage A"
	}
	return info.Name + " missing from some samples"
}

// gapFlags marks consecutive samples further apart than maxInterval.
func gapFlags(times []float64, maxInterval float64) []types.SignalFlag {
	if maxInterval <= 0 {
		return nil
	}
	var flags []types.SignalFlag
	for i := 1; i < len(times); i++ {
		if span := times[i] - times[i-1]; span > maxInterval {
			flags = append(flags, types.SignalFlag{
				Kind:    types.FlagGap,
				From:    i - 1,
				To:      i,
				Span:    span,
				Message: fmt.Sprintf("sample interval %g exceeds %g", span, maxInterval),
			})
		}
	}
	return flags
}

// Validate checks the structural invariants of a unified signal: finite,
// strictly increasing times and one value per sample in every column.
func Validate(u types.UnifiedSignal) error {
	n := len(u.Times)
	if n == 0 {
		return violation("unified signal has no samples")
	}
	for i, t := range u.Times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return violation("time %d is not finite", i)
		}
		if i > 0 && t <= u.Times[i-1] {
			return violation("times not strictly increasing at index %d (%g after %g)", i, t, u.Times[i-1])
		}
	}
	if u.HandoffIndex < 0 || u.HandoffIndex >= n {
		return violation("handoff index %d out of range", u.HandoffIndex)
	}
	if len(u.Channels) != len(u.Scalars)+len(u.Profiles) {
		return violation("%d channel descriptors for %d columns", len(u.Channels), len(u.Scalars)+len(u.Profiles))
	}
	for _, c := range u.Channels {
		var got int
		switch c.Kind {
		case types.KindScalar:
			col, ok := u.Scalars[c.Name]
			if !ok {
				return violation("scalar channel %q has no column", c.Name)
			}
			got = len(col)
		case types.KindProfile:
			col, ok := u.Profiles[c.Name]
			if !ok {
				return violation("profile channel %q has no column", c.Name)
			}
			got = len(col)
		default:
			return violation("channel %q has unknown kind %q", c.Name, c.Kind)
		}
		if got != n {
			return violation("channel %q has %d samples, want %d", c.Name, got, n)
		}
		if p, ok := u.Present[c.Name]; ok && len(p) != n {
			return violation("channel %q presence mask has %d entries, want %d", c.Name, len(p), n)
		}
	}
	return nil
}

func checkSeries(stage types.StageName, series []types.StateSnapshot) error {
	for i, s := range series {
		if math.IsNaN(s.Time) || math.IsInf(s.Time, 0) {
			return violation("%s sample %d has non-finite time", stage, i)
		}
		if i > 0 && s.Time <= series[i-1].Time {
			return violation("%s series not strictly increasing at sample %d", stage, i)
		}
	}
	return nil
}

// triggerIndex locates the trigger snapshot, trusting the event's index when
// it agrees with the event's time.
func triggerIndex(series []types.StateSnapshot, trig types.TriggerEvent) (int, bool) {
	if trig.Index >= 0 && trig.Index < len(series) && series[trig.Index].Time == trig.Time {
		return trig.Index, true
	}
	for i, s := range series {
		if s.Time == trig.Time {
			return i, true
		}
	}
	return 0, false
}

func source(inA, inB bool) types.ChannelSource {
	switch {
	case inA && inB:
		return types.SourceBoth
	case inA:
		return types.SourceStageA
	default:
		return types.SourceStageB
	}
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
