package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// DefaultTimeout bounds a stage run whose config sets no timeout.
const DefaultTimeout = 10 * time.Minute

// errStopped is the cancellation cause when StopWhen ends a run.
var errStopped = errors.New("stop condition reached")

// cancelGrace is how long a cancelled backend may take to clean up before
// it is abandoned.
const cancelGrace = 2 * time.Second

// Runner executes backends under a wall-clock deadline and turns every way a
// run can end into a StageResult.
type Runner struct {
	timeout  time.Duration
	logger   *slog.Logger
	breakers *Breakers
	grace    time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout sets the fallback timeout for stages without a configured one.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBreaker routes every run through per-backend circuit breakers.
func WithBreaker(b *Breakers) Option {
	return func(r *Runner) { r.breakers = b }
}

// NewRunner creates a Runner with the given options.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		grace:   cancelGrace,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes one stage. It never returns an error: backend errors, panics,
// timeouts and contract violations are all reported through the result.
// The result's series holds copies of the emitted snapshots in arrival order.
func (r *Runner) Run(ctx context.Context, b Backend, req Request) types.StageResult {
	timeout := req.Scenario.Stage(req.Stage).TimeoutDuration(r.timeout)
	logger := r.logger.With("scenario", req.Scenario.ID, "stage", string(req.Stage), "backend", b.Name())

	res := types.StageResult{
		Stage:     req.Stage,
		Backend:   b.Name(),
		StartedAt: time.Now(),
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx, stop := context.WithCancelCause(deadlineCtx)
	defer stop(nil)

	c := &collector{stopWhen: req.StopWhen, stop: func() { stop(errStopped) }}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Permanent(fmt.Errorf("backend panic: %v", p))
			}
		}()
		done <- r.call(runCtx, b, req, c.emit)
	}()

	var err error
	timedOut := false
	select {
	case err = <-done:
	case <-runCtx.Done():
		timedOut = errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		grace := time.NewTimer(r.grace)
		select {
		case err = <-done:
		case <-grace.C:
			// The backend ignored cancellation; abandon it.
			err = runCtx.Err()
		}
		grace.Stop()
	}
	series, stopped, contractErr := c.close()

	res.Series = series
	res.Duration = time.Since(res.StartedAt)
	switch {
	case contractErr != nil:
		res.Status = types.StageFailure
		res.FailureCategory = types.FailurePermanent
		res.Message = contractErr.Error()
	case stopped:
		res.Status = types.StageSuccess
		res.Stopped = true
	case timedOut, err != nil && errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Status = types.StageTimeout
		res.FailureCategory = types.FailureTimeout
		res.Message = fmt.Sprintf("stage exceeded timeout of %s", timeout)
	case errors.Is(err, ErrCircuitOpen):
		res.Status = types.StageFailure
		res.FailureCategory = types.FailureTransient
		res.Message = ErrCircuitOpen.Error()
	case err != nil:
		res.Status = types.StageFailure
		res.FailureCategory = categoryOf(err)
		res.Message = err.Error()
	case ctx.Err() != nil:
		res.Status = types.StageFailure
		res.FailureCategory = types.FailureTransient
		res.Message = fmt.Sprintf("stage cancelled: %v", ctx.Err())
	default:
		res.Status = types.StageSuccess
	}

	if res.Status == types.StageSuccess {
		logger.Debug("stage completed", "snapshots", len(res.Series), "duration", res.Duration, "stopped", res.Stopped)
	} else {
		logger.Warn("stage did not complete",
			"status", string(res.Status),
			"category", string(res.FailureCategory),
			"snapshots", len(res.Series),
			"error", res.Message,
		)
	}
	return res
}

func (r *Runner) call(ctx context.Context, b Backend, req Request, emit func(types.StateSnapshot)) error {
	run := func() error {
		err := b.Run(ctx, req, emit)
		// A backend cut short by the stop condition did not fail.
		if err != nil && errors.Is(context.Cause(ctx), errStopped) {
			return nil
		}
		return err
	}
	if r.breakers == nil {
		return run()
	}
	return r.breakers.Execute(b.Name(), run)
}

// collector accumulates emitted snapshots. Emits after close or after the
// stop condition are dropped, which covers backends that keep running after
// their deadline.
type collector struct {
	mu       sync.Mutex
	series   []types.StateSnapshot
	err      error
	closed   bool
	stopped  bool
	stopWhen func(types.StateSnapshot) bool
	stop     func()
}

func (c *collector) emit(s types.StateSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stopped || c.err != nil {
		return
	}
	n := len(c.series)
	if math.IsNaN(s.Time) || math.IsInf(s.Time, 0) {
		c.err = fmt.Errorf("snapshot %d: time is not finite", n)
		return
	}
	if n > 0 && s.Time <= c.series[n-1].Time {
		c.err = fmt.Errorf("snapshot %d: time %g does not advance past %g", n, s.Time, c.series[n-1].Time)
		return
	}
	snap := s.Clone()
	c.series = append(c.series, snap)
	if c.stopWhen != nil && c.stopWhen(snap) {
		c.stopped = true
		c.stop()
	}
}

func (c *collector) close() ([]types.StateSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.series, c.stopped, c.err
}
