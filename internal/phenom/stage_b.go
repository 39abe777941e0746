package phenom

import (
	"context"
	"fmt"
	"math"

	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const teFloor = 0.005 // keV

func errInvalidParams(id string) error {
	return fmt.Errorf("scenario %s: non-positive plasma parameters", id)
}

func runStageB(ctx context.Context, req stage.Request, emit func(types.StateSnapshot)) error {
	h := req.Handoff
	if h == nil || !h.Accepted {
		return stage.Permanent(errNoHandoff)
	}
	sc := req.Scenario
	cfg := sc.StageB

	ip0, ok := h.Scalars[ChanIP]
	if !ok {
		ip0 = sc.Param("ip0", 1.0)
	}
	g := h.Grid
	te0, ok := h.Profiles[ChanTe]
	if !ok || len(te0) != len(g) {
		g = grid(int(cfg.Param("grid_points", 21)))
		te0 = peaked(g, sc.Param("te0", 3.0), 0.01, 1.5)
	}

	tEnd := cfg.Param("t_end", 0.02)
	dt := cfg.Param("dt", 0.0005)
	tauTQ := cfg.Param("tau_tq", 0.001)
	tauCQ := cfg.Param("tau_cq", 0.005)
	tauAv := cfg.Param("tau_av", 0.002)
	fRE := sc.Param("re_fraction", 0.3)
	seed := cfg.Param("re_seed", 1e-6)
	n, err := steps(tEnd, dt)
	if err != nil {
		return stage.Permanent(err)
	}
	if ip0 <= 0 || tauTQ <= 0 || tauCQ <= 0 || tauAv <= 0 || seed <= 0 {
		return stage.Permanent(errInvalidParams(sc.ID))
	}

	plateau := math.Max(fRE, 0) * ip0
	for i := 0; i < n; i++ {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		t := float64(i) * dt

		tq := math.Exp(-t / tauTQ)
		te := make([]float64, len(te0))
		for k, v := range te0 {
			te[k] = v*tq + teFloor
		}

		ire := 0.0
		if plateau > seed {
			ire = plateau / (1 + (plateau/seed-1)*math.Exp(-t/tauAv))
		}
		ohmic := (ip0 - ire) * math.Exp(-t/tauCQ)
		if ohmic < 0 {
			ohmic = 0
		}

		emit(types.StateSnapshot{
			Time: t,
			Scalars: map[string]float64{
				ChanIP:  ohmic + ire,
				ChanIRE: ire,
				ChanTe0: te[0],
			},
			Profiles: map[string][]float64{
				ChanGrid: g,
				ChanTe:   te,
			},
		})
	}
	return nil
}
