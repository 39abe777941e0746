package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/tokamaksim/internal/alert"
	"github.com/dwsmith1983/tokamaksim/internal/generator"
	"github.com/dwsmith1983/tokamaksim/internal/phenom"
	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/internal/telemetry"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

const shutdownTimeout = 10 * time.Second

type generateOptions struct {
	workers int
	batchID string
}

// NewGenerateCmd creates the generate command.
func NewGenerateCmd(g *globals) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run every scenario of the project as one batch",
		Long: `Runs the sweep and explicit scenarios through both stages with a bounded
worker pool. Interrupting the command stops dispatch; in-flight scenarios are
drained when drainOnStop is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd.Context(), g, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "override the configured worker count")
	cmd.Flags().StringVar(&opts.batchID, "batch-id", "", "use this batch id instead of a generated one")
	return cmd
}

func runGenerate(ctx context.Context, g *globals, opts generateOptions, out, errOut io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := g.logger(errOut)
	if err != nil {
		return err
	}
	cfg, scenarios, err := loadProject(g.configDir)
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	alerts, err := alert.NewDispatcher(cfg.Alerts, alert.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating alert dispatcher: %w", err)
	}
	defer func() { _ = alerts.Close() }()

	manifest, err := openManifest(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening manifest: %w", err)
	}
	defer func() {
		if err := manifest.Close(); err != nil {
			logger.Warn("closing manifest failed", "error", err)
		}
	}()

	runner := stage.NewRunner(
		stage.WithLogger(logger),
		stage.WithBreaker(stage.NewBreakers(stage.DefaultBreakerConfig(), logger)),
	)
	workers := cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	gen := generator.New(generator.Config{
		Pipeline:    cfg.Pipeline,
		Workers:     workers,
		Retry:       cfg.Retry,
		DrainOnStop: cfg.DrainOnStop == nil || *cfg.DrainOnStop,
		BatchID:     opts.batchID,
	}, generator.Deps{
		Backends: newResolver(stage.NewFactory(phenom.Options()...)),
		Signals:  store.NewFSSignalStore(cfg.Output.Dir),
		Manifest: manifest,
		Runner:   runner,
		Logger:   logger,
		Alerts:   alerts.AlertFunc(),
		Metrics:  tel.Instruments(),
	})

	summary, runErr := gen.Run(ctx, scenarios)
	if summary.BatchID != "" {
		printSummary(out, summary, manifestPath(cfg))
	}
	return runErr
}

func printSummary(w io.Writer, s types.BatchSummary, manifest string) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Batch %s\n", s.BatchID)
	fmt.Fprintf(w, "  Scenarios:  %d dispatched of %d\n", s.Dispatched, s.Total)
	fmt.Fprintf(w, "  Duration:   %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Manifest:   %s\n", manifest)
	fmt.Fprintln(w)

	printOutcomes(w, s.ByOutcome)

	fmt.Fprintln(w)
	switch {
	case s.Stopped:
		color.New(color.FgYellow).Fprintf(w, "Stopped early: %d scenarios not dispatched\n", s.Total-s.Dispatched)
	case s.Failures() > 0:
		color.New(color.FgRed).Fprintf(w, "%d scenarios failed\n", s.Failures())
	default:
		color.New(color.FgGreen).Fprintln(w, "All scenarios completed")
	}
}

// printOutcomes prints one line per outcome in a stable order.
func printOutcomes(w io.Writer, counts map[types.Outcome]int) {
	for _, o := range types.AllOutcomes {
		if n := counts[o]; n > 0 {
			fmt.Fprintf(w, "  %s %d\n", outcomeString(o), n)
		}
	}
}

func outcomeString(o types.Outcome) string {
	s := fmt.Sprintf("%-16s", o)
	switch o {
	case types.OutcomeCombined:
		return color.GreenString(s)
	case types.OutcomeNoTrigger:
		return color.CyanString(s)
	case types.OutcomeConfigInvalid, types.OutcomeHandoffInvalid:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
