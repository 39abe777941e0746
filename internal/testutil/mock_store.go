// Package testutil provides shared test utilities for tokamaksim.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// Compile-time interface satisfaction checks.
var (
	_ store.SignalStore  = (*MemSignalStore)(nil)
	_ store.ManifestSink = (*MemManifest)(nil)
)

// Journal records persistence events across stores in the order they happen.
type Journal struct {
	mu     sync.Mutex
	events []string
}

func (j *Journal) add(ev string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.events = append(j.events, ev)
	j.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// MemSignalStore is an in-memory SignalStore.
type MemSignalStore struct {
	mu      sync.Mutex
	signals map[string]types.UnifiedSignal
	journal *Journal

	// Err, when set, fails every save.
	Err error
}

// NewMemSignalStore creates an empty store that logs saves to j (may be nil).
func NewMemSignalStore(j *Journal) *MemSignalStore {
	return &MemSignalStore{signals: make(map[string]types.UnifiedSignal), journal: j}
}

// SaveSignal implements store.SignalStore.
func (s *MemSignalStore) SaveSignal(_ context.Context, batchID string, sig types.UnifiedSignal) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	path := fmt.Sprintf("mem://%s/%s", batchID, sig.ScenarioID)
	s.mu.Lock()
	s.signals[path] = sig
	s.mu.Unlock()
	s.journal.add("save:" + sig.ScenarioID)
	return path, nil
}

// Signal returns a saved signal by path.
func (s *MemSignalStore) Signal(path string) (types.UnifiedSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[path]
	return sig, ok
}

// Len returns the number of saved signals.
func (s *MemSignalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

// MemManifest is an in-memory ManifestSink that rejects duplicates and
// detects concurrent appends.
type MemManifest struct {
	mu      sync.Mutex
	entries []types.ManifestEntry
	seen    map[string]bool
	journal *Journal
	closed  bool

	active     atomic.Bool
	concurrent atomic.Bool

	// FailOn fails the append of the named scenario.
	FailOn string
}

// NewMemManifest creates an empty manifest that logs appends to j (may be nil).
func NewMemManifest(j *Journal) *MemManifest {
	return &MemManifest{seen: make(map[string]bool), journal: j}
}

// Append implements store.ManifestSink.
func (m *MemManifest) Append(_ context.Context, e types.ManifestEntry) error {
	if !m.active.CompareAndSwap(false, true) {
		m.concurrent.Store(true)
	} else {
		defer m.active.Store(false)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("manifest closed")
	}
	if e.ScenarioID == m.FailOn {
		return fmt.Errorf("manifest unavailable")
	}
	key := e.BatchID + "/" + e.ScenarioID
	if m.seen[key] {
		return fmt.Errorf("%w: %s", store.ErrDuplicateEntry, key)
	}
	m.seen[key] = true
	m.entries = append(m.entries, e)
	m.journal.add("append:" + e.ScenarioID)
	return nil
}

// Close implements store.ManifestSink.
func (m *MemManifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Concurrent reports whether two appends ever overlapped.
func (m *MemManifest) Concurrent() bool { return m.concurrent.Load() }

// Entries returns a copy of the appended entries in order.
func (m *MemManifest) Entries() []types.ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ManifestEntry(nil), m.entries...)
}

// ByScenario indexes the entries by scenario id.
func (m *MemManifest) ByScenario() map[string]types.ManifestEntry {
	out := make(map[string]types.ManifestEntry)
	for _, e := range m.Entries() {
		out[e.ScenarioID] = e
	}
	return out
}

// ScenarioIDs returns the recorded scenario ids, sorted.
func (m *MemManifest) ScenarioIDs() []string {
	var ids []string
	for _, e := range m.Entries() {
		ids = append(ids, e.ScenarioID)
	}
	sort.Strings(ids)
	return ids
}
