package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tokamaksim/internal/detector"
	"github.com/dwsmith1983/tokamaksim/internal/handoff"
	"github.com/dwsmith1983/tokamaksim/internal/phenom"
	"github.com/dwsmith1983/tokamaksim/internal/physics"
	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// NewDetectCmd creates the detect command.
func NewDetectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "detect [scenario-id]",
		Short: "Run Stage A for one scenario and report where the trigger fires",
		Long: `Runs only the pre-disruption stage of a scenario, scans its series with the
configured trigger conditions and previews the handoff. Nothing is written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runDetect(ctx, g, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runDetect(ctx context.Context, g *globals, id string, w, errOut io.Writer) error {
	logger, err := g.logger(errOut)
	if err != nil {
		return err
	}
	cfg, scenarios, err := loadProject(g.configDir)
	if err != nil {
		return err
	}
	sc, err := findScenario(scenarios, id)
	if err != nil {
		return err
	}
	lim, err := physics.ForScenario(sc)
	if err != nil {
		return fmt.Errorf("scenario %s operational limits: %w", sc.ID, err)
	}
	det, err := detector.New(cfg.Pipeline.Trigger, detector.WithLimits(lim))
	if err != nil {
		return err
	}

	backend, err := newResolver(stage.NewFactory(phenom.Options()...))(ctx, sc, types.StageA)
	if err != nil {
		return fmt.Errorf("resolving stage A backend: %w", err)
	}
	stream := det.NewStream()
	res := stage.NewRunner(stage.WithLogger(logger)).Run(ctx, backend,
		stage.Request{Stage: types.StageA, Scenario: sc, StopWhen: stream.Push})

	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Scenario %s\n", sc.ID)
	fmt.Fprintf(w, "  Backend:    %s\n", res.Backend)
	fmt.Fprintf(w, "  Snapshots:  %d\n", len(res.Series))

	// A trigger found before a failure is still a trigger.
	result := stream.Result()
	if !res.Succeeded() && !result.Triggered {
		color.New(color.FgRed).Fprintf(w, "  Stage A %s: %s (%s)\n", res.Status, res.Message, res.FailureCategory)
		return fmt.Errorf("stage A failed for %s", sc.ID)
	}
	if !result.Triggered {
		color.New(color.FgCyan).Fprintln(w, "  No trigger: Stage A stayed in its validity regime")
		return nil
	}

	ev := result.Event
	color.New(color.FgGreen).Fprintf(w, "  Trigger at t=%g (snapshot %d)\n", ev.Time, ev.Index)
	for _, m := range ev.Conditions {
		fmt.Fprintf(w, "    %-20s %s %s=%g threshold=%g\n", m.Name, m.Kind, m.Channel, m.Value, m.Threshold)
	}

	fmt.Fprintf(w, "  Limits:     greenwald=%.3g q95_floor=%g ip_limit=%.3g\n",
		lim.Device.GreenwaldDensity(lim.PlasmaCurrent), physics.Q95Floor, lim.Device.CurrentLimit())

	rec := handoff.Translate(sc.ID, ev.Snapshot, cfg.Pipeline.Handoff, lim)
	if !rec.Accepted {
		color.New(color.FgYellow).Fprintln(w, "  Handoff would be rejected:")
		for _, v := range rec.Violations {
			fmt.Fprintf(w, "    %-20s %s (value %g)\n", v.Field, v.Reason, v.Value)
		}
		return nil
	}
	fmt.Fprintf(w, "  Handoff accepted: %d scalars, %d profiles\n", len(rec.Scalars), len(rec.Profiles))
	return nil
}
