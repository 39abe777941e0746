// Package physics holds physical constants and the operational limits of a
// tokamak discharge, derived from a scenario's device and plasma parameters.
package physics

import (
	"fmt"
	"math"
	"sort"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Physical constants in SI units.
const (
	Mu0              = 4e-7 * math.Pi         // vacuum permeability [H/m]
	ElementaryCharge = 1.602176634e-19        // [C]
	ElectronMass     = 9.1093837015e-31       // [kg]
	SpeedOfLight     = 2.99792458e8           // [m/s]
	KeV              = 1e3 * ElementaryCharge // [J]
)

// Operational constants.
const (
	// Q95Floor is the edge safety factor below which the external kink makes
	// the discharge unstable.
	Q95Floor = 2.0
	// TroyonCoefficient bounds normalized beta [% m T / MA].
	TroyonCoefficient = 2.8
)

// Device defaults, used when a scenario does not set the parameter.
const (
	DefaultMajorRadius   = 1.65 // [m]
	DefaultMinorRadius   = 0.5  // [m]
	DefaultToroidalField = 2.5  // [T]
	DefaultElongation    = 1.7
	DefaultPlasmaCurrent = 1.0 // [MA]
)

// Scenario parameter names read by ForScenario.
const (
	ParamMajorRadius   = "major_radius"
	ParamMinorRadius   = "minor_radius"
	ParamToroidalField = "bt"
	ParamElongation    = "elongation"
	ParamPlasmaCurrent = "ip0"
)

// Limit names usable from handoff field bounds and trigger conditions.
const (
	LimitGreenwald = "greenwald"   // Greenwald density [1e19 m^-3]
	LimitQ95Floor  = "q95_floor"   // minimum edge safety factor
	LimitCurrent   = "ip_limit"    // plasma current at the q95 floor [MA]
	LimitTroyon    = "troyon_beta" // Troyon beta limit [%]
)

// Device is the machine geometry and field.
type Device struct {
	MajorRadius   float64 // R [m]
	MinorRadius   float64 // a [m]
	ToroidalField float64 // B_t [T]
	Elongation    float64 // kappa
}

// DefaultDevice returns the device used when a scenario sets no geometry.
func DefaultDevice() Device {
	return Device{
		MajorRadius:   DefaultMajorRadius,
		MinorRadius:   DefaultMinorRadius,
		ToroidalField: DefaultToroidalField,
		Elongation:    DefaultElongation,
	}
}

// Validate rejects non-physical geometry.
func (d Device) Validate() error {
	for _, p := range []struct {
		name string
		v    float64
	}{
		{ParamMajorRadius, d.MajorRadius},
		{ParamMinorRadius, d.MinorRadius},
		{ParamToroidalField, d.ToroidalField},
		{ParamElongation, d.Elongation},
	} {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return fmt.Errorf("%s must be positive and finite, got %g", p.name, p.v)
		}
	}
	if d.MinorRadius >= d.MajorRadius {
		return fmt.Errorf("minor radius %g must be below major radius %g", d.MinorRadius, d.MajorRadius)
	}
	return nil
}

// GreenwaldDensity returns n_G = Ip / (pi a^2) in units of 1e19 m^-3 for a
// plasma current in MA.
func (d Device) GreenwaldDensity(ipMA float64) float64 {
	return 10 * ipMA / (math.Pi * d.MinorRadius * d.MinorRadius)
}

// CylindricalQ returns the cylindrical edge safety factor for ipMA, with the
// elongation correction (1 + kappa^2) / 2.
func (d Device) CylindricalQ(ipMA float64) float64 {
	if ipMA <= 0 {
		return math.Inf(1)
	}
	shape := (1 + d.Elongation*d.Elongation) / 2
	return 5 * d.MinorRadius * d.MinorRadius * d.ToroidalField * shape / (d.MajorRadius * ipMA)
}

// CurrentLimit returns the plasma current [MA] at which the cylindrical q
// reaches Q95Floor.
func (d Device) CurrentLimit() float64 {
	shape := (1 + d.Elongation*d.Elongation) / 2
	return 5 * d.MinorRadius * d.MinorRadius * d.ToroidalField * shape / (d.MajorRadius * Q95Floor)
}

// TroyonBeta returns the Troyon beta limit [%] for ipMA.
func (d Device) TroyonBeta(ipMA float64) float64 {
	return TroyonCoefficient * ipMA / (d.MinorRadius * d.ToroidalField)
}

// Limits are the operational limits of one scenario.
type Limits struct {
	Device        Device
	PlasmaCurrent float64 // [MA]
}

// Defaults returns the limits of the default device at the default current.
func Defaults() Limits {
	return Limits{Device: DefaultDevice(), PlasmaCurrent: DefaultPlasmaCurrent}
}

// ForScenario derives limits from the scenario's geometry and current.
func ForScenario(sc types.ScenarioConfig) (Limits, error) {
	l := Limits{
		Device: Device{
			MajorRadius:   sc.Param(ParamMajorRadius, DefaultMajorRadius),
			MinorRadius:   sc.Param(ParamMinorRadius, DefaultMinorRadius),
			ToroidalField: sc.Param(ParamToroidalField, DefaultToroidalField),
			Elongation:    sc.Param(ParamElongation, DefaultElongation),
		},
		PlasmaCurrent: sc.Param(ParamPlasmaCurrent, DefaultPlasmaCurrent),
	}
	if err := l.Device.Validate(); err != nil {
		return Limits{}, err
	}
	if !(l.PlasmaCurrent > 0) || math.IsInf(l.PlasmaCurrent, 0) {
		return Limits{}, fmt.Errorf("%s must be positive and finite, got %g", ParamPlasmaCurrent, l.PlasmaCurrent)
	}
	return l, nil
}

var limitFuncs = map[string]func(Limits) float64{
	LimitGreenwald: func(l Limits) float64 { return l.Device.GreenwaldDensity(l.PlasmaCurrent) },
	LimitQ95Floor:  func(Limits) float64 { return Q95Floor },
	LimitCurrent:   func(l Limits) float64 { return l.Device.CurrentLimit() },
	LimitTroyon:    func(l Limits) float64 { return l.Device.TroyonBeta(l.PlasmaCurrent) },
}

// Value returns the named limit.
func (l Limits) Value(name string) (float64, bool) {
	f, ok := limitFuncs[name]
	if !ok {
		return 0, false
	}
	return f(l), true
}

// Known reports whether name is a limit.
func Known(name string) bool {
	_, ok := limitFuncs[name]
	return ok
}

// Names returns the limit names in sorted order.
func Names() []string {
	out := make([]string, 0, len(limitFuncs))
	for k := range limitFuncs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
