package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Snapshots builds a series at the given times.
func Snapshots(times []float64, build func(i int) types.StateSnapshot) []types.StateSnapshot {
	out := make([]types.StateSnapshot, len(times))
	for i, t := range times {
		out[i] = build(i)
		out[i].Time = t
	}
	return out
}

// ScalarSeries builds a single-channel scalar series.
func ScalarSeries(channel string, times, values []float64) []types.StateSnapshot {
	return Snapshots(times, func(i int) types.StateSnapshot {
		return types.StateSnapshot{Scalars: map[string]float64{channel: values[i]}}
	})
}

// Script decides what a ScriptedBackend does for one call.
type Script struct {
	Series []types.StateSnapshot
	// Err is returned after Series has been emitted.
	Err error
	// Block holds the backend until its context is done.
	Block bool
	// Delay is slept between snapshots.
	Delay time.Duration
}

// ScriptedBackend is a stage backend driven by per-scenario scripts.
type ScriptedBackend struct {
	name string

	mu       sync.Mutex
	scripts  map[string][]Script
	fallback Script
	requests []stage.Request

	calls   atomic.Int64
	running atomic.Int64
	peak    atomic.Int64
}

var _ stage.Backend = (*ScriptedBackend)(nil)

// NewScriptedBackend creates a backend that plays fallback unless a
// scenario has its own scripts.
func NewScriptedBackend(name string, fallback Script) *ScriptedBackend {
	return &ScriptedBackend{name: name, fallback: fallback, scripts: make(map[string][]Script)}
}

// On queues scripts for a scenario; each call consumes one, and the last is
// repeated.
func (b *ScriptedBackend) On(scenarioID string, scripts ...Script) *ScriptedBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[scenarioID] = append(b.scripts[scenarioID], scripts...)
	return b
}

// Name implements stage.Backend.
func (b *ScriptedBackend) Name() string { return b.name }

// Run implements stage.Backend.
func (b *ScriptedBackend) Run(ctx context.Context, req stage.Request, emit func(types.StateSnapshot)) error {
	b.calls.Add(1)
	n := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s := b.next(req)
	for _, snap := range s.Series {
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emit(snap)
	}
	if s.Block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Err
}

func (b *ScriptedBackend) next(req stage.Request) Script {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	q := b.scripts[req.Scenario.ID]
	switch len(q) {
	case 0:
		return b.fallback
	case 1:
		return q[0]
	default:
		b.scripts[req.Scenario.ID] = q[1:]
		return q[0]
	}
}

// Calls returns the number of Run invocations.
func (b *ScriptedBackend) Calls() int { return int(b.calls.Load()) }

// PeakConcurrency returns the most Run calls observed in flight at once.
func (b *ScriptedBackend) PeakConcurrency() int { return int(b.peak.Load()) }

// Requests returns a copy of the received requests.
func (b *ScriptedBackend) Requests() []stage.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stage.Request(nil), b.requests...)
}
