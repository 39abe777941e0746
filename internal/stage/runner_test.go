package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func snap(t float64, ip float64) types.StateSnapshot {
	return types.StateSnapshot{Time: t, Scalars: map[string]float64{"ip": ip}}
}

func emitting(name string, snaps ...types.StateSnapshot) FuncBackend {
	return FuncBackend{BackendName: name, Fn: func(_ context.Context, _ Request, emit func(types.StateSnapshot)) error {
		for _, s := range snaps {
			emit(s)
		}
		return nil
	}}
}

func reqA(id string) Request {
	return Request{Stage: types.StageA, Scenario: types.ScenarioConfig{ID: id}}
}

func TestRunner_Success(t *testing.T) {
	r := NewRunner()
	res := r.Run(context.Background(), emitting("fake", snap(0, 1), snap(1, 0.8), snap(2, 0.4)), reqA("s-1"))

	assert.Equal(t, types.StageSuccess, res.Status)
	assert.Equal(t, types.StageA, res.Stage)
	assert.Equal(t, "fake", res.Backend)
	require.Len(t, res.Series, 3)
	assert.Equal(t, []float64{0, 1, 2}, []float64{res.Series[0].Time, res.Series[1].Time, res.Series[2].Time})
	assert.Empty(t, res.Message)
	assert.False(t, res.StartedAt.IsZero())
}

func TestRunner_ClonesSnapshots(t *testing.T) {
	s := types.StateSnapshot{Time: 0, Profiles: map[string][]float64{"te": {1, 2}}}
	r := NewRunner()
	res := r.Run(context.Background(), emitting("fake", s), reqA("s-1"))
	require.True(t, res.Succeeded())

	s.Profiles["te"][0] = 99
	assert.Equal(t, 1.0, res.Series[0].Profiles["te"][0])
}

func TestRunner_BackendError(t *testing.T) {
	b := FuncBackend{BackendName: "fake", Fn: func(_ context.Context, _ Request, emit func(types.StateSnapshot)) error {
		emit(snap(0, 1))
		return Permanent(errors.New("solver diverged"))
	}}
	res := NewRunner().Run(context.Background(), b, reqA("s-1"))

	assert.Equal(t, types.StageFailure, res.Status)
	assert.Equal(t, types.FailurePermanent, res.FailureCategory)
	assert.Contains(t, res.Message, "solver diverged")
	assert.Len(t, res.Series, 1, "partial series is kept")
}

func TestRunner_UncategorizedErrorIsTransient(t *testing.T) {
	b := FuncBackend{BackendName: "fake", Fn: func(context.Context, Request, func(types.StateSnapshot)) error {
		return errors.New("connection reset")
	}}
	res := NewRunner().Run(context.Background(), b, reqA("s-1"))
	assert.Equal(t, types.FailureTransient, res.FailureCategory)
}

func TestRunner_Panic(t *testing.T) {
	b := FuncBackend{BackendName: "fake", Fn: func(context.Context, Request, func(types.StateSnapshot)) error {
		panic("index out of range")
	}}
	res := NewRunner().Run(context.Background(), b, reqA("s-1"))
	assert.Equal(t, types.StageFailure, res.Status)
	assert.Contains(t, res.Message, "backend panic")
}

func TestRunner_Timeout(t *testing.T) {
	b := FuncBackend{BackendName: "slow", Fn: func(ctx context.Context, _ Request, emit func(types.StateSnapshot)) error {
		emit(snap(0, 1))
		<-ctx.Done()
		return ctx.Err()
	}}
	res := NewRunner(WithTimeout(50*time.Millisecond)).Run(context.Background(), b, reqA("s-1"))

	assert.Equal(t, types.StageTimeout, res.Status)
	assert.Equal(t, types.FailureTimeout, res.FailureCategory)
	assert.Len(t, res.Series, 1)
}

func TestRunner_ScenarioTimeoutOverridesDefault(t *testing.T) {
	b := FuncBackend{BackendName: "slow", Fn: func(ctx context.Context, _ Request, _ func(types.StateSnapshot)) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	req := reqA("s-1")
	req.Scenario.StageA.Timeout = "30ms"

	start := time.Now()
	res := NewRunner(WithTimeout(time.Hour)).Run(context.Background(), b, req)
	assert.Equal(t, types.StageTimeout, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_AbandonsBackendIgnoringCancellation(t *testing.T) {
	b := FuncBackend{BackendName: "stuck", Fn: func(_ context.Context, _ Request, emit func(types.StateSnapshot)) error {
		time.Sleep(150 * time.Millisecond)
		emit(snap(5, 1))
		return nil
	}}
	r := NewRunner(WithTimeout(20 * time.Millisecond))
	r.grace = 10 * time.Millisecond
	res := r.Run(context.Background(), b, reqA("s-1"))
	assert.Equal(t, types.StageTimeout, res.Status)
	assert.Empty(t, res.Series)

	// let the abandoned goroutine finish before the leak check
	time.Sleep(200 * time.Millisecond)
}

func TestRunner_WaitsForCleanupAfterTimeout(t *testing.T) {
	b := FuncBackend{BackendName: "tidy", Fn: func(ctx context.Context, _ Request, emit func(types.StateSnapshot)) error {
		<-ctx.Done()
		time.Sleep(30 * time.Millisecond)
		emit(snap(0, 1))
		return nil
	}}
	res := NewRunner(WithTimeout(20*time.Millisecond)).Run(context.Background(), b, reqA("s-1"))
	assert.Equal(t, types.StageTimeout, res.Status)
	assert.Len(t, res.Series, 1)
}

func TestRunner_TimeGoingBackwardsFails(t *testing.T) {
	res := NewRunner().Run(context.Background(), emitting("fake", snap(0, 1), snap(2, 1), snap(1, 1)), reqA("s-1"))
	assert.Equal(t, types.StageFailure, res.Status)
	assert.Equal(t, types.FailurePermanent, res.FailureCategory)
	assert.Contains(t, res.Message, "does not advance")
	assert.Len(t, res.Series, 2)
}

func TestRunner_DuplicateTimeFails(t *testing.T) {
	res := NewRunner().Run(context.Background(), emitting("fake", snap(0, 1), snap(0, 1)), reqA("s-1"))
	assert.Equal(t, types.StageFailure, res.Status)
}

func TestRunner_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := FuncBackend{BackendName: "fake", Fn: func(ctx context.Context, _ Request, _ func(types.StateSnapshot)) error {
		return ctx.Err()
	}}
	res := NewRunner().Run(ctx, b, reqA("s-1"))
	assert.Equal(t, types.StageFailure, res.Status)
	assert.Equal(t, types.FailureTransient, res.FailureCategory)
}

func TestRunner_CircuitBreakerOpens(t *testing.T) {
	calls := 0
	b := FuncBackend{BackendName: "flaky", Fn: func(context.Context, Request, func(types.StateSnapshot)) error {
		calls++
		return errors.New("crash")
	}}
	r := NewRunner(WithBreaker(NewBreakers(BreakerConfig{FailThreshold: 2, Cooldown: time.Hour}, nil)))

	for i := 0; i < 2; i++ {
		res := r.Run(context.Background(), b, reqA("s-1"))
		assert.Contains(t, res.Message, "crash")
	}
	res := r.Run(context.Background(), b, reqA("s-2"))
	assert.Equal(t, types.StageFailure, res.Status)
	assert.Equal(t, types.FailureTransient, res.FailureCategory)
	assert.Equal(t, "circuit breaker open", res.Message)
	assert.Equal(t, 2, calls)
}

func TestBreakers_PerBackend(t *testing.T) {
	br := NewBreakers(BreakerConfig{FailThreshold: 1, Cooldown: time.Hour}, nil)
	_ = br.Execute("a", func() error { return errors.New("boom") })

	assert.ErrorIs(t, br.Execute("a", func() error { return nil }), ErrCircuitOpen)
	assert.NoError(t, br.Execute("b", func() error { return nil }))
}

func TestFuncBackend_NilFunc(t *testing.T) {
	res := NewRunner().Run(context.Background(), FuncBackend{BackendName: "empty"}, reqA("s-1"))
	assert.Equal(t, types.FailurePermanent, res.FailureCategory)
}

// untilCancelled emits a falling current every millisecond until ctx ends.
func untilCancelled(name string) FuncBackend {
	return FuncBackend{BackendName: name, Fn: func(ctx context.Context, _ Request, emit func(types.StateSnapshot)) error {
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
			emit(snap(float64(i), 1-0.1*float64(i)))
		}
	}}
}

func TestRunner_StopWhenCancelsBackend(t *testing.T) {
	req := reqA("s-1")
	req.StopWhen = func(s types.StateSnapshot) bool { return s.Scalars["ip"] < 0.65 }

	r := NewRunner(WithTimeout(5 * time.Second))
	res := r.Run(context.Background(), untilCancelled("solver"), req)

	assert.Equal(t, types.StageSuccess, res.Status)
	assert.True(t, res.Stopped)
	assert.Empty(t, res.FailureCategory)
	require.Len(t, res.Series, 5)
	assert.Equal(t, 4.0, res.Series[4].Time)
	assert.Less(t, res.Duration, time.Second)
}

func TestRunner_StopWhenDropsLaterEmits(t *testing.T) {
	req := reqA("s-1")
	req.StopWhen = func(s types.StateSnapshot) bool { return s.Time >= 1 }

	// The backend ignores cancellation and emits its whole series.
	res := NewRunner().Run(context.Background(),
		emitting("fake", snap(0, 1), snap(1, 0.8), snap(2, 0.4), snap(3, 0.1)), req)

	assert.Equal(t, types.StageSuccess, res.Status)
	assert.True(t, res.Stopped)
	require.Len(t, res.Series, 2)
}

func TestRunner_StopWhenNeverTrueRunsToCompletion(t *testing.T) {
	req := reqA("s-1")
	req.StopWhen = func(types.StateSnapshot) bool { return false }

	res := NewRunner().Run(context.Background(), emitting("fake", snap(0, 1), snap(1, 0.8)), req)
	assert.Equal(t, types.StageSuccess, res.Status)
	assert.False(t, res.Stopped)
	assert.Len(t, res.Series, 2)
}

func TestRunner_StoppedRunIsNotABreakerFailure(t *testing.T) {
	br := NewBreakers(BreakerConfig{FailThreshold: 1, Cooldown: time.Hour}, nil)
	r := NewRunner(WithBreaker(br))
	req := reqA("s-1")
	req.StopWhen = func(s types.StateSnapshot) bool { return s.Time >= 1 }

	for range 3 {
		res := r.Run(context.Background(), untilCancelled("solver"), req)
		require.True(t, res.Stopped, res.Message)
	}
	assert.Equal(t, gobreaker.StateClosed, br.State("solver"))
}
