// Package phenom provides built-in phenomenological solvers for both stages,
// so a batch can run end to end without external codes installed.
//
// Stage A models a flat-top plasma that may lose confinement at disrupt_at:
// current and stored energy decay, q95 rises and the internal inductance
// climbs. Stage B models the fast phase from the handoff state: an
// exponential thermal quench, an exponential ohmic current quench and a
// logistic runaway-electron current that plateaus at a fraction of the
// pre-disruption current.
//
// Both models are deterministic.
package phenom

import (
	"errors"
	"fmt"
	"math"

	"github.com/dwsmith1983/tokamaksim/internal/stage"
)

// Builtin model names.
const (
	ModelStageA = "phenom-a"
	ModelStageB = "phenom-b"
)

// Channel names emitted by the models.
const (
	ChanIP     = "ip"      // plasma current [MA]
	ChanIRE    = "i_re"    // runaway current [MA]
	ChanWth    = "wth"     // thermal energy [MJ]
	ChanLi     = "li"      // internal inductance
	ChanQ95    = "q95"     // edge safety factor
	ChanNe     = "ne"      // line-averaged density [1e19 m^-3]
	ChanTe0    = "te0"     // core electron temperature [keV]
	ChanGrid   = "grid"    // normalized minor radius
	ChanTe     = "te"      // electron temperature profile [keV]
	ChanNeProf = "ne_prof" // density profile [1e19 m^-3]
)

// errNoHandoff is returned by Stage B when run without an accepted handoff.
var errNoHandoff = errors.New("phenom-b requires an accepted handoff record")

// Options returns factory options registering both builtin models.
func Options() []stage.FactoryOption {
	return []stage.FactoryOption{
		stage.WithBuiltin(ModelStageA, StageA()),
		stage.WithBuiltin(ModelStageB, StageB()),
	}
}

// StageA returns the pre-disruption model.
func StageA() stage.Backend {
	return stage.FuncBackend{BackendName: ModelStageA, Fn: runStageA}
}

// StageB returns the post-trigger model.
func StageB() stage.Backend {
	return stage.FuncBackend{BackendName: ModelStageB, Fn: runStageB}
}

// steps returns the number of samples on [0, tEnd] with spacing dt.
func steps(tEnd, dt float64) (int, error) {
	if !(dt > 0) || !(tEnd > 0) || math.IsInf(tEnd, 0) {
		return 0, fmt.Errorf("invalid time stepping: t_end=%g dt=%g", tEnd, dt)
	}
	return int(math.Floor(tEnd/dt+1e-9)) + 1, nil
}

func grid(n int) []float64 {
	if n < 2 {
		n = 2
	}
	g := make([]float64, n)
	for i := range g {
		g[i] = float64(i) / float64(n-1)
	}
	return g
}

// peaked returns core*(1-rho^2)^alpha + edge on the grid.
func peaked(g []float64, core, edge, alpha float64) []float64 {
	out := make([]float64, len(g))
	for i, r := range g {
		out[i] = core*math.Pow(1-r*r, alpha) + edge
	}
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
