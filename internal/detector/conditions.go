package detector

import (
	"fmt"
	"math"
	"sort"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Condition is a pure predicate over the current snapshot and its history.
type Condition interface {
	Name() string
	// History is the number of past snapshots the condition needs besides the current one.
	History() int
	Evaluate(w *Window) (types.ConditionMatch, bool)
}

// Factory builds a condition from its configuration.
type Factory func(spec types.ConditionSpec) (Condition, error)

// Condition kinds.
const (
	KindBelow        = "below"
	KindAbove        = "above"
	KindRateBelow    = "rate-below"
	KindRateAbove    = "rate-above"
	KindAbsRateAbove = "abs-rate-above"
	KindDropFraction = "drop-fraction"
)

const defaultDropWindow = 5

var builtins = map[string]Factory{
	KindBelow:        newLevel(func(v, th float64) bool { return v < th }),
	KindAbove:        newLevel(func(v, th float64) bool { return v > th }),
	KindRateBelow:    newRate(func(r, th float64) bool { return r < th }),
	KindRateAbove:    newRate(func(r, th float64) bool { return r > th }),
	KindAbsRateAbove: newRate(func(r, th float64) bool { return math.Abs(r) > th }),
	KindDropFraction: newDropFraction,
}

// Kinds returns the registered condition kinds in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs a condition from spec using the builtin registry.
func Build(spec types.ConditionSpec) (Condition, error) {
	if spec.Channel == "" {
		return nil, fmt.Errorf("condition %q: channel is required", spec.Name)
	}
	f, ok := builtins[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("condition %q: unknown kind %q", spec.Name, spec.Kind)
	}
	if spec.Window < 0 {
		return nil, fmt.Errorf("condition %q: window must be non-negative", spec.Name)
	}
	switch spec.Reduce {
	case "", "min", "max", "mean", "core", "edge":
	default:
		return nil, fmt.Errorf("condition %q: unknown reduce %q", spec.Name, spec.Reduce)
	}
	if math.IsNaN(spec.Threshold) || math.IsInf(spec.Threshold, 0) {
		return nil, fmt.Errorf("condition %q: threshold must be finite", spec.Name)
	}
	return f(spec)
}

type base struct {
	types.ConditionSpec
}

func (s base) Name() string {
	if s.ConditionSpec.Name != "" {
		return s.ConditionSpec.Name
	}
	return s.Kind + ":" + s.Channel
}

func (s base) match(v float64) types.ConditionMatch {
	return types.ConditionMatch{
		Name:      s.Name(),
		Kind:      s.Kind,
		Channel:   s.Channel,
		Value:     v,
		Threshold: s.Threshold,
	}
}

// levelCondition compares the current channel value against a threshold.
type levelCondition struct {
	base
	cmp func(v, th float64) bool
}

func newLevel(cmp func(v, th float64) bool) Factory {
	return func(s types.ConditionSpec) (Condition, error) {
		return &levelCondition{base: base{s}, cmp: cmp}, nil
	}
}

func (c *levelCondition) History() int { return 0 }

func (c *levelCondition) Evaluate(w *Window) (types.ConditionMatch, bool) {
	cur, ok := w.Current()
	if !ok {
		return types.ConditionMatch{}, false
	}
	v, ok := channelValue(cur, c.Channel, c.Reduce)
	if !ok || !c.cmp(v, c.Threshold) {
		return types.ConditionMatch{}, false
	}
	return c.match(v), true
}

// rateCondition compares the finite-difference rate of change over Window
// samples: (x[n] - x[n-w]) / (t[n] - t[n-w]).
type rateCondition struct {
	base
	cmp func(r, th float64) bool
}

func newRate(cmp func(r, th float64) bool) Factory {
	return func(s types.ConditionSpec) (Condition, error) {
		if s.Window == 0 {
			s.Window = 1
		}
		return &rateCondition{base: base{s}, cmp: cmp}, nil
	}
}

func (c *rateCondition) History() int { return c.Window }

func (c *rateCondition) Evaluate(w *Window) (types.ConditionMatch, bool) {
	cur, ok := w.Current()
	if !ok {
		return types.ConditionMatch{}, false
	}
	past, ok := w.At(c.Window)
	if !ok {
		return types.ConditionMatch{}, false
	}
	v1, ok1 := channelValue(cur, c.Channel, c.Reduce)
	v0, ok0 := channelValue(past, c.Channel, c.Reduce)
	dt := cur.Time - past.Time
	if !ok1 || !ok0 || dt <= 0 {
		return types.ConditionMatch{}, false
	}
	rate := (v1 - v0) / dt
	if !c.cmp(rate, c.Threshold) {
		return types.ConditionMatch{}, false
	}
	return c.match(rate), true
}

// dropFractionCondition holds when the channel has fallen by at least
// Threshold (a fraction) from its maximum over the window.
type dropFractionCondition struct {
	base
}

func newDropFraction(s types.ConditionSpec) (Condition, error) {
	if s.Threshold <= 0 || s.Threshold > 1 {
		return nil, fmt.Errorf("condition %q: drop-fraction threshold must be in (0, 1]", s.Name)
	}
	if s.Window == 0 {
		s.Window = defaultDropWindow
	}
	return &dropFractionCondition{base: base{s}}, nil
}

func (c *dropFractionCondition) History() int { return c.Window }

func (c *dropFractionCondition) Evaluate(w *Window) (types.ConditionMatch, bool) {
	cur, ok := w.Current()
	if !ok {
		return types.ConditionMatch{}, false
	}
	v, ok := channelValue(cur, c.Channel, c.Reduce)
	if !ok {
		return types.ConditionMatch{}, false
	}
	peak := v
	for k := 1; k <= c.Window; k++ {
		s, ok := w.At(k)
		if !ok {
			break
		}
		if pv, ok := channelValue(s, c.Channel, c.Reduce); ok && pv > peak {
			peak = pv
		}
	}
	if peak <= 0 {
		return types.ConditionMatch{}, false
	}
	drop := (peak - v) / peak
	if drop < c.Threshold {
		return types.ConditionMatch{}, false
	}
	return c.match(drop), true
}

// channelValue resolves a channel to a finite scalar. Profiles are reduced;
// the default reduction is the mean.
func channelValue(s types.StateSnapshot, channel, reduce string) (float64, bool) {
	if v, ok := s.Scalar(channel); ok {
		return v, isFinite(v)
	}
	p, ok := s.Profile(channel)
	if !ok || len(p) == 0 {
		return 0, false
	}
	var v float64
	switch reduce {
	case "min":
		v = p[0]
		for _, x := range p[1:] {
			v = math.Min(v, x)
		}
	case "max":
		v = p[0]
		for _, x := range p[1:] {
			v = math.Max(v, x)
		}
	case "core":
		v = p[0]
	case "edge":
		v = p[len(p)-1]
	default:
		for _, x := range p {
			v += x
		}
		v /= float64(len(p))
	}
	return v, isFinite(v)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
