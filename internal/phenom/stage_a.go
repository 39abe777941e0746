package phenom

import (
	"context"
	"math"

	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const checkEvery = 64

func runStageA(ctx context.Context, req stage.Request, emit func(types.StateSnapshot)) error {
	sc := req.Scenario
	cfg := sc.StageA

	ip0 := sc.Param("ip0", 1.0)
	ne0 := sc.Param("ne0", 5.0)
	te0 := sc.Param("te0", 3.0)
	q0 := sc.Param("q95", 3.5)
	li0 := sc.Param("li", 0.9)
	disruptAt := sc.Param("disrupt_at", 0)

	tEnd := cfg.Param("t_end", 1.0)
	dt := cfg.Param("dt", 0.01)
	tau := cfg.Param("tau_pre", 0.05)
	n, err := steps(tEnd, dt)
	if err != nil {
		return stage.Permanent(err)
	}
	if ip0 <= 0 || ne0 <= 0 || te0 <= 0 || tau <= 0 {
		return stage.Permanent(errInvalidParams(sc.ID))
	}

	g := grid(int(cfg.Param("grid_points", 21)))
	wth0 := 0.05 * ne0 * te0

	for i := 0; i < n; i++ {
		if i%checkEvery == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		t := float64(i) * dt

		// Confinement loss after disrupt_at: energy leaves four times faster
		// than current, which peaks the current profile.
		ipFrac, wFrac := 1.0, 1.0
		if disruptAt > 0 && t > disruptAt {
			x := (t - disruptAt) / tau
			ipFrac = math.Exp(-x)
			wFrac = math.Exp(-4 * x)
		}
		ip := ip0 * ipFrac
		wth := wth0 * wFrac
		core := te0 * math.Sqrt(wFrac)
		ne := ne0 * (0.5 + 0.5*math.Sqrt(wFrac))

		te := peaked(g, core, 0.01, 1.5)
		neProf := peaked(g, ne, 0.05*ne0, 0.5)

		emit(types.StateSnapshot{
			Time: t,
			Scalars: map[string]float64{
				ChanIP:  ip,
				ChanWth: wth,
				ChanLi:  li0 * (1 + 0.5*(1-wFrac)),
				ChanQ95: q0 / ipFrac,
				ChanNe:  mean(neProf),
				ChanTe0: te[0],
			},
			Profiles: map[string][]float64{
				ChanGrid:   g,
				ChanTe:     te,
				ChanNeProf: neProf,
			},
		})
	}
	return nil
}
