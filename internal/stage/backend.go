// Package stage runs one solver stage under a deadline and captures the
// state snapshots it emits.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Request is what a backend receives for one stage run. It is also the JSON
// document written to external solvers.
type Request struct {
	Stage    types.StageName      `json:"stage"`
	Scenario types.ScenarioConfig `json:"scenario"`
	Handoff  *types.HandoffRecord `json:"handoff,omitempty"`

	// StopWhen, when set, sees each accepted snapshot in order. Once it
	// returns true the runner cancels the backend and reports success with
	// the series up to and including that snapshot.
	StopWhen func(types.StateSnapshot) bool `json:"-"`
}

// Backend produces the state series of one stage. Run calls emit once per
// snapshot in simulation-time order and returns when the stage has finished.
// Run must return promptly once ctx is done.
type Backend interface {
	Name() string
	Run(ctx context.Context, req Request, emit func(types.StateSnapshot)) error
}

// FuncBackend adapts an in-process function to the Backend interface.
type FuncBackend struct {
	BackendName string
	Fn          func(ctx context.Context, req Request, emit func(types.StateSnapshot)) error
}

// Name implements Backend.
func (f FuncBackend) Name() string { return f.BackendName }

// Run implements Backend.
func (f FuncBackend) Run(ctx context.Context, req Request, emit func(types.StateSnapshot)) error {
	if f.Fn == nil {
		return Permanent(fmt.Errorf("backend %q has no function", f.BackendName))
	}
	return f.Fn(ctx, req, emit)
}

// Error attaches a failure category to a backend error.
type Error struct {
	Category types.FailureCategory
	Err      error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return &Error{Category: types.FailurePermanent, Err: err}
}

// categoryOf returns the failure category carried by err, TRANSIENT when none.
func categoryOf(err error) types.FailureCategory {
	var se *Error
	if errors.As(err, &se) && se.Category != "" {
		return se.Category
	}
	return types.FailureTransient
}

// snapshotPayload is the response document of remote backends.
type snapshotPayload struct {
	Snapshots []types.StateSnapshot `json:"snapshots"`
}

func emitPayload(data []byte, emit func(types.StateSnapshot)) error {
	var p snapshotPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Permanent(fmt.Errorf("decoding snapshots: %w", err))
	}
	for _, s := range p.Snapshots {
		emit(s)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
