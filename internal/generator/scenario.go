package generator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dwsmith1983/tokamaksim/internal/combiner"
	"github.com/dwsmith1983/tokamaksim/internal/detector"
	"github.com/dwsmith1983/tokamaksim/internal/handoff"
	"github.com/dwsmith1983/tokamaksim/internal/lifecycle"
	"github.com/dwsmith1983/tokamaksim/internal/physics"
	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// scenarioRun carries one scenario through its lifecycle.
type scenarioRun struct {
	g       *Generator
	sc      types.ScenarioConfig
	batchID string
	m       *lifecycle.Machine
	entry   types.ManifestEntry
	limits  physics.Limits
	det     *detector.Detector
}

// runScenario executes the full state machine for sc. ctx bounds stage work;
// stop reports whether the batch was asked to stop, which suppresses retries.
// The only error returned is a combiner contract violation.
func (g *Generator) runScenario(ctx, stop context.Context, batchID string, sc types.ScenarioConfig) (types.ManifestEntry, error) {
	ctx, span := g.deps.Metrics.Start(ctx, "scenario",
		attribute.String("batch", batchID),
		attribute.String("scenario", sc.ID),
	)
	defer span.End()

	r := &scenarioRun{
		g:       g,
		sc:      sc,
		batchID: batchID,
		m:       lifecycle.NewMachine(),
		entry:   types.ManifestEntry{BatchID: batchID, ScenarioID: sc.ID},
	}
	if err := r.run(ctx, stop); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.ManifestEntry{}, err
	}

	outcome, err := r.m.Outcome()
	if err != nil {
		// Every path through run ends in a terminal state.
		return types.ManifestEntry{}, fmt.Errorf("scenario %s: %w", sc.ID, err)
	}
	r.entry.Outcome = outcome
	r.entry.RecordedAt = time.Now().UTC()
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	g.deps.Metrics.ScenarioFinished(ctx, outcome)

	g.deps.Logger.Info("scenario finished",
		"batch", batchID,
		"scenario", sc.ID,
		"outcome", string(outcome),
		"attempts", r.entry.Attempts,
		"path", strings.Join(stateNames(r.m.History()), ">"),
	)
	return r.entry, nil
}

func (r *scenarioRun) run(ctx, stop context.Context) error {
	g := r.g
	backendA, backendB, err := r.resolve(ctx)
	if err != nil {
		r.entry.Message = err.Error()
		return r.advance(types.ScenarioConfigInvalid)
	}

	if err := r.advance(types.ScenarioStageARunning); err != nil {
		return err
	}
	var det types.DetectionResult
	resA, attempts := r.runStage(ctx, stop, backendA, stage.Request{Stage: types.StageA, Scenario: r.sc},
		func(res types.StageResult) bool {
			// A trigger seen before a failure is still a valid handoff point.
			det = r.det.DetectSeries(res.Series)
			return res.Succeeded() || det.Triggered
		})
	r.entry.Attempts += attempts

	if !det.Triggered {
		if !resA.Succeeded() {
			r.failed(resA)
			return r.advance(types.ScenarioStageAFailed)
		}
		return r.advance(types.ScenarioNoTriggerDone)
	}

	trig := *det.Event
	r.entry.TriggerTime = &trig.Time
	r.entry.Conditions = conditionNames(trig.Conditions)
	if err := r.advance(types.ScenarioTriggered); err != nil {
		return err
	}
	if err := r.advance(types.ScenarioHandoff); err != nil {
		return err
	}

	rec := handoff.Translate(r.sc.ID, trig.Snapshot, g.cfg.Pipeline.Handoff, r.limits)
	if !rec.Accepted {
		g.deps.Metrics.HandoffRejected(ctx)
		r.entry.Violations = rec.ViolatedFields()
		r.entry.Message = violationSummary(rec.Violations)
		return r.advance(types.ScenarioHandoffInvalid)
	}
	if err := r.advance(types.ScenarioHandoffOK); err != nil {
		return err
	}

	if err := r.advance(types.ScenarioStageBRunning); err != nil {
		return err
	}
	resB, attempts := r.runStage(ctx, stop, backendB,
		stage.Request{Stage: types.StageB, Scenario: r.sc, Handoff: &rec},
		types.StageResult.Succeeded)
	r.entry.Attempts += attempts
	if !resB.Succeeded() {
		r.failed(resB)
		return r.advance(types.ScenarioStageBFailed)
	}

	sig, err := combiner.Combine(r.sc.ID, resA, trig, resB, g.cfg.Pipeline.Combiner)
	if err != nil {
		g.deps.Alerts(types.Alert{
			Level:      types.AlertLevelError,
			Category:   "contract_violation",
			BatchID:    r.batchID,
			ScenarioID: r.sc.ID,
			Message:    err.Error(),
		})
		return fmt.Errorf("scenario %s: %w", r.sc.ID, err)
	}

	// A finished signal is persisted even when the batch is stopping.
	path, err := g.deps.Signals.SaveSignal(context.WithoutCancel(ctx), r.batchID, sig)
	if err != nil {
		r.entry.Message = err.Error()
		g.deps.Logger.Error("signal persist failed", "batch", r.batchID, "scenario", r.sc.ID, "error", err)
		g.deps.Alerts(types.Alert{
			Level:      types.AlertLevelError,
			Category:   "persist_failed",
			BatchID:    r.batchID,
			ScenarioID: r.sc.ID,
			Message:    err.Error(),
		})
		return r.advance(types.ScenarioPersistFailed)
	}
	r.entry.SignalPath = path
	r.entry.Samples = sig.Len()
	return r.advance(types.ScenarioCombined)
}

// resolve validates the scenario and picks its backends. Any error is a
// configuration error for this scenario only.
func (r *scenarioRun) resolve(ctx context.Context) (stage.Backend, stage.Backend, error) {
	for k, v := range r.sc.Params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("param %s is not finite", k)
		}
	}
	for _, name := range []types.StageName{types.StageA, types.StageB} {
		if t := r.sc.Stage(name).Timeout; t != "" {
			if d, err := time.ParseDuration(t); err != nil || d <= 0 {
				return nil, nil, fmt.Errorf("%s timeout %q is not a positive duration", name, t)
			}
		}
	}
	if err := r.bindLimits(); err != nil {
		return nil, nil, err
	}

	deps := r.g.deps
	if deps.Backends == nil {
		return deps.StageA, deps.StageB, nil
	}
	a, err := deps.Backends.Backend(ctx, r.sc, types.StageA)
	if err != nil {
		return nil, nil, fmt.Errorf("%s backend: %w", types.StageA, err)
	}
	b, err := deps.Backends.Backend(ctx, r.sc, types.StageB)
	if err != nil {
		return nil, nil, fmt.Errorf("%s backend: %w", types.StageB, err)
	}
	return a, b, nil
}

// bindLimits derives the scenario's operational limits and, when trigger
// conditions reference them, a detector bound to those limits.
func (r *scenarioRun) bindLimits() error {
	pipeline := r.g.cfg.Pipeline
	r.limits, r.det = physics.Defaults(), r.g.det
	if !pipeline.Trigger.UsesLimits() && !pipeline.Handoff.UsesLimits() {
		return nil
	}
	lim, err := physics.ForScenario(r.sc)
	if err != nil {
		return fmt.Errorf("operational limits: %w", err)
	}
	r.limits = lim
	if pipeline.Trigger.UsesLimits() {
		det, err := detector.New(pipeline.Trigger, detector.WithLimits(lim))
		if err != nil {
			return fmt.Errorf("trigger spec: %w", err)
		}
		r.det = det
	}
	return nil
}

// runStage runs one stage, re-running it under the retry policy until done
// reports true, attempts are exhausted or the failure is not retryable.
func (r *scenarioRun) runStage(ctx, stop context.Context, b stage.Backend, req stage.Request, done func(types.StageResult) bool) (types.StageResult, int) {
	g := r.g
	policy := g.cfg.Retry
	limit := maxAttempts(policy)

	for attempt := 1; ; attempt++ {
		if req.Stage == types.StageA {
			// Stage A is cut short at the trigger; each attempt detects afresh.
			req.StopWhen = r.det.NewStream().Push
		}
		sctx, span := g.deps.Metrics.Start(ctx, string(req.Stage),
			attribute.String("backend", b.Name()),
			attribute.Int("attempt", attempt),
		)
		res := g.deps.Runner.Run(sctx, b, req)
		span.SetAttributes(
			attribute.String("status", string(res.Status)),
			attribute.Int("snapshots", len(res.Series)),
		)
		if !res.Succeeded() {
			span.SetStatus(codes.Error, res.Message)
		}
		span.End()
		g.deps.Metrics.StageFinished(ctx, res)

		if res.Message == stage.ErrCircuitOpen.Error() {
			g.deps.Alerts(types.Alert{
				Level:      types.AlertLevelWarning,
				Category:   "circuit_open",
				BatchID:    r.batchID,
				ScenarioID: r.sc.ID,
				Message:    fmt.Sprintf("%s backend %s is failing fast", req.Stage, b.Name()),
			})
		}

		if done(res) || attempt >= limit || !IsRetryable(policy, res.FailureCategory) || stop.Err() != nil {
			return res, attempt
		}

		wait := CalculateBackoff(policy, attempt)
		g.deps.Metrics.Retry(ctx, req.Stage, res.FailureCategory)
		g.deps.Logger.Warn("retrying stage",
			"batch", r.batchID,
			"scenario", r.sc.ID,
			"stage", string(req.Stage),
			"attempt", attempt,
			"category", string(res.FailureCategory),
			"backoff", wait,
		)
		if !sleep(stop, wait) {
			return res, attempt
		}
	}
}

func (r *scenarioRun) advance(to types.ScenarioState) error {
	if err := r.m.Advance(to); err != nil {
		return fmt.Errorf("scenario %s: %w", r.sc.ID, err)
	}
	return nil
}

func (r *scenarioRun) failed(res types.StageResult) {
	r.entry.FailureCategory = res.FailureCategory
	r.entry.Message = res.Message
}

// sleep waits for d, returning false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func conditionNames(ms []types.ConditionMatch) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

func violationSummary(vs []types.FieldViolation) string {
	parts := make([]string, 0, len(vs))
	for _, v := range vs {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Reason))
	}
	return "handoff rejected: " + strings.Join(parts, "; ")
}

func stateNames(states []types.ScenarioState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// IsContractViolation reports whether err came from a combiner invariant break.
func IsContractViolation(err error) bool {
	return errors.Is(err, combiner.ErrContractViolation)
}
