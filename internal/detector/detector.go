// Package detector scans a Stage A snapshot stream for the disruption trigger.
package detector

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/dwsmith1983/tokamaksim/internal/physics"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// ErrInvalidSpec is returned for malformed trigger configuration.
var ErrInvalidSpec = errors.New("invalid trigger spec")

// Detector evaluates an ordered list of conditions against each snapshot.
// A Detector holds no per-run state and is safe for concurrent use.
type Detector struct {
	conditions []Condition
	policy     types.TriggerPolicy
	minTime    float64
	history    int
}

// Option configures a Detector.
type Option func(*options)

type options struct {
	limits physics.Limits
}

// WithLimits resolves limit-referencing conditions against lim instead of
// the default device limits.
func WithLimits(lim physics.Limits) Option {
	return func(o *options) { o.limits = lim }
}

// New builds a detector from spec. Conditions keep their declared order,
// which is also their priority order.
func New(spec types.TriggerSpec, opts ...Option) (*Detector, error) {
	o := options{limits: physics.Defaults()}
	for _, opt := range opts {
		opt(&o)
	}
	if len(spec.Conditions) == 0 {
		return nil, fmt.Errorf("%w: at least one condition is required", ErrInvalidSpec)
	}
	policy := spec.Policy
	switch policy {
	case "":
		policy = types.PolicyFirst
	case types.PolicyFirst, types.PolicyAll:
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidSpec, spec.Policy)
	}

	d := &Detector{policy: policy, minTime: spec.MinTime}
	seen := make(map[string]bool, len(spec.Conditions))
	for _, cs := range spec.Conditions {
		cs, err := resolveLimit(cs, o.limits)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		c, err := Build(cs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		if seen[c.Name()] {
			return nil, fmt.Errorf("%w: duplicate condition name %q", ErrInvalidSpec, c.Name())
		}
		seen[c.Name()] = true
		d.conditions = append(d.conditions, c)
		d.history = max(d.history, c.History())
	}
	return d, nil
}

// resolveLimit sets the threshold of a limit-referencing level condition to
// Fraction (default 1) times the named limit.
func resolveLimit(cs types.ConditionSpec, lim physics.Limits) (types.ConditionSpec, error) {
	if cs.Limit == "" {
		return cs, nil
	}
	if cs.Kind != KindAbove && cs.Kind != KindBelow {
		return cs, fmt.Errorf("condition %q: limit is only valid for %s and %s", cs.Name, KindAbove, KindBelow)
	}
	v, ok := lim.Value(cs.Limit)
	if !ok {
		return cs, fmt.Errorf("condition %q: unknown limit %q (known: %v)", cs.Name, cs.Limit, physics.Names())
	}
	frac := cs.Fraction
	if frac == 0 {
		frac = 1
	}
	if frac < 0 || math.IsNaN(frac) || math.IsInf(frac, 0) {
		return cs, fmt.Errorf("condition %q: fraction must be positive and finite", cs.Name)
	}
	cs.Threshold = frac * v
	return cs, nil
}

// Policy returns the effective combination policy.
func (d *Detector) Policy() types.TriggerPolicy { return d.policy }

// Detect consumes seq until the trigger fires or the sequence ends. It stops
// pulling from seq as soon as the trigger fires. A sequence that ends without
// a trigger yields Triggered=false.
func (d *Detector) Detect(seq iter.Seq[types.StateSnapshot]) types.DetectionResult {
	st := d.NewStream()
	for snap := range seq {
		if st.Push(snap) {
			break
		}
	}
	return st.Result()
}

// Stream is the incremental form of Detect for snapshots that arrive one at
// a time. It is not safe for concurrent use.
type Stream struct {
	d      *Detector
	w      *Window
	n      int
	result types.DetectionResult
}

// NewStream starts an empty detection stream.
func (d *Detector) NewStream() *Stream {
	return &Stream{d: d, w: NewWindow(d.history + 1)}
}

// Push feeds one snapshot and reports whether the trigger has fired.
// Snapshots pushed after the trigger are ignored.
func (s *Stream) Push(snap types.StateSnapshot) bool {
	if s.result.Triggered {
		return true
	}
	s.w.Push(snap)
	s.n++
	if snap.Time < s.d.minTime {
		return false
	}
	matches, ok := s.d.evaluate(s.w)
	if !ok {
		return false
	}
	s.result = types.DetectionResult{
		Triggered: true,
		Consumed:  s.n,
		Event: &types.TriggerEvent{
			Time:       snap.Time,
			Index:      s.n - 1,
			Snapshot:   snap.Clone(),
			Conditions: matches,
		},
	}
	return true
}

// Result returns the detection result so far.
func (s *Stream) Result() types.DetectionResult {
	if s.result.Triggered {
		return s.result
	}
	return types.DetectionResult{Consumed: s.n}
}

// DetectSeries is Detect over a captured series.
func (d *Detector) DetectSeries(series []types.StateSnapshot) types.DetectionResult {
	return d.Detect(slices.Values(series))
}

func (d *Detector) evaluate(w *Window) ([]types.ConditionMatch, bool) {
	if d.policy == types.PolicyAll {
		matches := make([]types.ConditionMatch, 0, len(d.conditions))
		for _, c := range d.conditions {
			m, ok := c.Evaluate(w)
			if !ok {
				return nil, false
			}
			matches = append(matches, m)
		}
		return matches, true
	}
	for _, c := range d.conditions {
		if m, ok := c.Evaluate(w); ok {
			return []types.ConditionMatch{m}, true
		}
	}
	return nil, false
}
