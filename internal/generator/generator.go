// Package generator drives every scenario of a batch through Stage A,
// trigger detection, handoff, Stage B and signal combination, and records
// one manifest entry per dispatched scenario.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/tokamaksim/internal/detector"
	"github.com/dwsmith1983/tokamaksim/internal/handoff"
	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/internal/telemetry"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// DefaultWorkers is used when Config.Workers is unset.
const DefaultWorkers = 4

// Config holds batch-wide settings. Pipeline is shared read-only by every
// scenario.
type Config struct {
	Pipeline types.PipelineSpec
	Workers  int
	Retry    types.RetryPolicy
	// DrainOnStop lets in-flight scenarios run to completion (or their stage
	// timeout) after the batch context is cancelled.
	DrainOnStop bool
	// BatchID overrides the generated ULID.
	BatchID string
}

// BackendResolver picks the backend for one stage of one scenario.
type BackendResolver interface {
	Backend(ctx context.Context, sc types.ScenarioConfig, name types.StageName) (stage.Backend, error)
}

// ResolverFunc adapts a function to BackendResolver.
type ResolverFunc func(ctx context.Context, sc types.ScenarioConfig, name types.StageName) (stage.Backend, error)

// Backend implements BackendResolver.
func (f ResolverFunc) Backend(ctx context.Context, sc types.ScenarioConfig, name types.StageName) (stage.Backend, error) {
	return f(ctx, sc, name)
}

// Deps are the collaborators of a Generator. StageA and StageB are used
// unless Backends is set.
type Deps struct {
	StageA   stage.Backend
	StageB   stage.Backend
	Backends BackendResolver
	Signals  store.SignalStore
	Manifest store.ManifestSink
	Runner   *stage.Runner
	Logger   *slog.Logger
	Alerts   func(types.Alert)
	Metrics  *telemetry.Instruments
}

// Generator runs dataset-generation batches.
type Generator struct {
	cfg  Config
	deps Deps
	det  *detector.Detector
}

// New creates a generator.
func New(cfg Config, deps Deps) *Generator {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if deps.Runner == nil {
		deps.Runner = stage.NewRunner()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Alerts == nil {
		deps.Alerts = func(types.Alert) {}
	}
	return &Generator{cfg: cfg, deps: deps}
}

// completion is what a worker hands to the manifest writer.
type completion struct {
	entry types.ManifestEntry
}

// Run processes scenarios with a bounded worker pool. Expected outcomes,
// including stage failures and invalid handoffs, are recorded in the
// manifest and never returned as errors. Run returns an error only for
// invalid batch input, a manifest write failure or a combiner contract
// violation; in the latter two cases dispatch stops and in-flight scenarios
// are drained before returning.
func (g *Generator) Run(ctx context.Context, scenarios []types.ScenarioConfig) (types.BatchSummary, error) {
	if err := g.prepare(scenarios); err != nil {
		return types.BatchSummary{}, err
	}

	batchID := g.cfg.BatchID
	if batchID == "" {
		batchID = ulid.Make().String()
	}
	summary := types.BatchSummary{
		BatchID:   batchID,
		Total:     len(scenarios),
		ByOutcome: make(map[types.Outcome]int),
		StartedAt: time.Now().UTC(),
	}
	logger := g.deps.Logger.With("batch", batchID)
	logger.Info("batch started", "scenarios", len(scenarios), "workers", g.cfg.Workers)

	dispatchCtx, stopDispatch := context.WithCancelCause(ctx)
	defer stopDispatch(nil)

	// Stage work outlives dispatch when draining.
	var drainCtx context.Context
	if g.cfg.DrainOnStop {
		drainCtx = context.WithoutCancel(ctx)
	}

	results := make(chan completion)
	var appendErr error
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeCtx := context.WithoutCancel(ctx)
		for c := range results {
			if appendErr != nil {
				continue
			}
			if err := g.deps.Manifest.Append(writeCtx, c.entry); err != nil {
				appendErr = fmt.Errorf("appending manifest entry %s: %w", c.entry.ScenarioID, err)
				stopDispatch(appendErr)
				continue
			}
			summary.ByOutcome[c.entry.Outcome]++
		}
	}()

	var dispatched atomic.Int64
	eg, egCtx := errgroup.WithContext(dispatchCtx)
	eg.SetLimit(g.cfg.Workers)
	for _, sc := range scenarios {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			// The limit may have blocked Go past a stop.
			if egCtx.Err() != nil {
				return nil
			}
			dispatched.Add(1)
			scenarioCtx := egCtx
			if drainCtx != nil {
				scenarioCtx = drainCtx
			}
			entry, err := g.runScenario(scenarioCtx, egCtx, batchID, sc)
			if err != nil {
				return err
			}
			results <- completion{entry: entry}
			return nil
		})
	}
	runErr := eg.Wait()
	close(results)
	<-writerDone

	summary.Dispatched = int(dispatched.Load())
	summary.Stopped = summary.Dispatched < summary.Total
	summary.Duration = time.Since(summary.StartedAt)

	err := errors.Join(runErr, appendErr)
	g.finish(logger, summary, err)
	return summary, err
}

// prepare validates batch-wide input before any stage is launched.
func (g *Generator) prepare(scenarios []types.ScenarioConfig) error {
	if g.deps.Manifest == nil || g.deps.Signals == nil {
		return errors.New("generator: signal store and manifest are required")
	}
	if g.deps.Backends == nil && (g.deps.StageA == nil || g.deps.StageB == nil) {
		return errors.New("generator: stage backends are required")
	}
	det, err := detector.New(g.cfg.Pipeline.Trigger)
	if err != nil {
		return fmt.Errorf("trigger spec: %w", err)
	}
	if err := handoff.ValidateSpec(g.cfg.Pipeline.Handoff); err != nil {
		return fmt.Errorf("handoff spec: %w", err)
	}
	seen := make(map[string]bool, len(scenarios))
	for i, sc := range scenarios {
		if sc.ID == "" {
			return fmt.Errorf("scenario %d: id is required", i)
		}
		if seen[sc.ID] {
			return fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
	}
	g.det = det
	return nil
}

func (g *Generator) finish(logger *slog.Logger, s types.BatchSummary, err error) {
	attrs := []any{
		"dispatched", s.Dispatched,
		"total", s.Total,
		"failures", s.Failures(),
		"duration", s.Duration,
	}
	for _, o := range types.AllOutcomes {
		if n := s.ByOutcome[o]; n > 0 {
			attrs = append(attrs, string(o), n)
		}
	}

	switch {
	case err != nil:
		logger.Error("batch aborted", append(attrs, "error", err)...)
		g.deps.Alerts(types.Alert{
			Level:    types.AlertLevelError,
			Category: "batch_aborted",
			BatchID:  s.BatchID,
			Message:  err.Error(),
		})
	case s.Failures() > 0:
		logger.Warn("batch finished with failures", attrs...)
		g.deps.Alerts(types.Alert{
			Level:    types.AlertLevelWarning,
			Category: "batch_failures",
			BatchID:  s.BatchID,
			Message:  fmt.Sprintf("%d of %d scenarios failed", s.Failures(), s.Dispatched),
			Details:  outcomeDetails(s.ByOutcome),
		})
	default:
		logger.Info("batch finished", attrs...)
	}
}

func outcomeDetails(m map[types.Outcome]int) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for o, n := range m {
		out[string(o)] = n
	}
	return out
}
