// Package handoff translates a Stage A trigger snapshot into Stage B initial conditions.
package handoff

import (
	"errors"
	"fmt"
	"math"

	"github.com/dwsmith1983/tokamaksim/internal/physics"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// ErrInvalidSpec is returned for malformed channel-mapping configuration.
var ErrInvalidSpec = errors.New("invalid handoff spec")

// Violation reasons.
const (
	ReasonMissing   = "missing"
	ReasonNotFinite = "not finite"
	ReasonBelowMin  = "below minimum"
	ReasonAboveMax  = "above maximum"
	ReasonBadGrid   = "grid mismatch"
)

const defaultGridPoints = 51

// ValidateSpec checks a mapping spec before any stage is launched.
func ValidateSpec(spec types.HandoffSpec) error {
	if len(spec.Fields) == 0 {
		return fmt.Errorf("%w: at least one field mapping is required", ErrInvalidSpec)
	}
	targets := make(map[string]bool, len(spec.Fields))
	for i, f := range spec.Fields {
		if f.Target == "" || f.Source == "" {
			return fmt.Errorf("%w: field %d: target and source are required", ErrInvalidSpec, i)
		}
		if targets[f.Target] {
			return fmt.Errorf("%w: duplicate target %q", ErrInvalidSpec, f.Target)
		}
		targets[f.Target] = true
		switch f.Kind {
		case "", types.KindScalar, types.KindProfile:
		default:
			return fmt.Errorf("%w: field %q: unknown kind %q", ErrInvalidSpec, f.Target, f.Kind)
		}
		switch f.Resample {
		case "", types.ResampleLinear, types.ResampleNearest:
		default:
			return fmt.Errorf("%w: field %q: unknown resample %q", ErrInvalidSpec, f.Target, f.Resample)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return fmt.Errorf("%w: field %q: min %g exceeds max %g", ErrInvalidSpec, f.Target, *f.Min, *f.Max)
		}
		for _, name := range []string{f.MinLimit, f.MaxLimit} {
			if name != "" && !physics.Known(name) {
				return fmt.Errorf("%w: field %q: unknown limit %q (known: %v)", ErrInvalidSpec, f.Target, name, physics.Names())
			}
		}
		if f.LimitFraction < 0 || math.IsNaN(f.LimitFraction) || math.IsInf(f.LimitFraction, 0) {
			return fmt.Errorf("%w: field %q: limitFraction must be non-negative and finite", ErrInvalidSpec, f.Target)
		}
	}
	if len(spec.TargetGrid) > 0 {
		if err := checkGrid(spec.TargetGrid); err != nil {
			return fmt.Errorf("%w: targetGrid: %v", ErrInvalidSpec, err)
		}
	}
	if spec.TargetGridPoints < 0 || spec.TargetGridPoints == 1 {
		return fmt.Errorf("%w: targetGridPoints must be 0 or at least 2", ErrInvalidSpec)
	}
	return nil
}

// Translate maps snap onto Stage B initial fields. Named limits in field
// bounds are resolved against lim. It is a pure function: the returned
// record owns all of its data, and a bad snapshot yields a rejected record
// rather than an error or panic.
func Translate(scenarioID string, snap types.StateSnapshot, spec types.HandoffSpec, lim physics.Limits) types.HandoffRecord {
	rec := types.HandoffRecord{
		ScenarioID: scenarioID,
		Time:       snap.Time,
		Scalars:    make(map[string]float64),
		Profiles:   make(map[string][]float64),
	}

	var targetGrid []float64
	for _, f := range spec.Fields {
		f = resolveBounds(f, lim)
		if f.Kind != types.KindProfile {
			v, ok := snap.Scalar(f.Source)
			if !ok {
				if !f.Optional {
					rec.Violations = append(rec.Violations, violation(f, 0, ReasonMissing))
				}
				continue
			}
			conv := v*f.EffectiveScale() + f.Offset
			if reason := checkValue(f, conv); reason != "" {
				rec.Violations = append(rec.Violations, violation(f, conv, reason))
				continue
			}
			rec.Scalars[f.Target] = conv
			continue
		}

		p, ok := snap.Profile(f.Source)
		if !ok || len(p) == 0 {
			if !f.Optional {
				rec.Violations = append(rec.Violations, violation(f, 0, ReasonMissing))
			}
			continue
		}
		src, err := sourceGrid(snap, spec.SourceGrid, len(p))
		if err != nil {
			rec.Violations = append(rec.Violations, types.FieldViolation{
				Field: f.Target, Source: f.Source, Value: float64(len(p)), Reason: ReasonBadGrid + ": " + err.Error(),
			})
			continue
		}
		if targetGrid == nil {
			targetGrid = TargetGrid(spec)
		}
		resampled := Resample(src, p, targetGrid, f.Resample)
		bad := false
		for i := range resampled {
			resampled[i] = resampled[i]*f.EffectiveScale() + f.Offset
			if reason := checkValue(f, resampled[i]); reason != "" {
				rec.Violations = append(rec.Violations, violation(f, resampled[i], fmt.Sprintf("%s at grid point %d", reason, i)))
				bad = true
				break
			}
		}
		if !bad {
			rec.Profiles[f.Target] = resampled
		}
	}

	if targetGrid != nil {
		rec.Grid = append([]float64(nil), targetGrid...)
	}
	rec.Accepted = len(rec.Violations) == 0
	return rec
}

// TargetGrid returns the Stage B radial grid: the explicit grid when given,
// else a uniform grid on [0, 1].
func TargetGrid(spec types.HandoffSpec) []float64 {
	if len(spec.TargetGrid) > 0 {
		return append([]float64(nil), spec.TargetGrid...)
	}
	n := spec.TargetGridPoints
	if n == 0 {
		n = defaultGridPoints
	}
	return UniformGrid(n)
}

// UniformGrid returns n evenly spaced points on [0, 1].
func UniformGrid(n int) []float64 {
	if n < 2 {
		return []float64{0}
	}
	g := make([]float64, n)
	for i := range g {
		g[i] = float64(i) / float64(n-1)
	}
	return g
}

func sourceGrid(snap types.StateSnapshot, name string, n int) ([]float64, error) {
	if name == "" {
		return UniformGrid(n), nil
	}
	g, ok := snap.Profile(name)
	if !ok {
		return UniformGrid(n), nil
	}
	if len(g) != n {
		return nil, fmt.Errorf("grid %q has %d points, profile has %d", name, len(g), n)
	}
	if err := checkGrid(g); err != nil {
		return nil, err
	}
	return g, nil
}

func checkGrid(g []float64) error {
	for i := range g {
		if math.IsNaN(g[i]) || math.IsInf(g[i], 0) {
			return fmt.Errorf("point %d is not finite", i)
		}
		if i > 0 && g[i] <= g[i-1] {
			return fmt.Errorf("not strictly increasing at point %d", i)
		}
	}
	return nil
}

// resolveBounds folds the named limits of f into its Min and Max. An unknown
// name leaves the bound unchanged; ValidateSpec rejects those up front.
func resolveBounds(f types.FieldMapping, lim physics.Limits) types.FieldMapping {
	if v, ok := lim.Value(f.MinLimit); ok {
		v *= f.EffectiveLimitFraction()
		if f.Min == nil || v > *f.Min {
			f.Min = &v
		}
	}
	if v, ok := lim.Value(f.MaxLimit); ok {
		v *= f.EffectiveLimitFraction()
		if f.Max == nil || v < *f.Max {
			f.Max = &v
		}
	}
	return f
}

func checkValue(f types.FieldMapping, v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return ReasonNotFinite
	case f.Min != nil && v < *f.Min:
		return ReasonBelowMin
	case f.Max != nil && v > *f.Max:
		return ReasonAboveMax
	}
	return ""
}

func violation(f types.FieldMapping, v float64, reason string) types.FieldViolation {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return types.FieldViolation{
		Field:  f.Target,
		Source: f.Source,
		Value:  v,
		Min:    f.Min,
		Max:    f.Max,
		Reason: reason,
	}
}
