// Package store persists unified signals and the append-only run manifest.
package store

import (
	"context"
	"errors"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// ErrDuplicateEntry is returned when a scenario already has a manifest entry
// in the batch.
var ErrDuplicateEntry = errors.New("manifest entry already recorded")

// SignalStore durably saves unified signals. SaveSignal returns only after
// the signal is on stable storage and reports where it was written.
type SignalStore interface {
	SaveSignal(ctx context.Context, batchID string, sig types.UnifiedSignal) (string, error)
}

// ManifestSink is the append-only run manifest. Entries are never modified.
type ManifestSink interface {
	Append(ctx context.Context, entry types.ManifestEntry) error
	Close() error
}

func entryKey(e types.ManifestEntry) string {
	return e.BatchID + "/" + e.ScenarioID
}
