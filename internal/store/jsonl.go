package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// JSONLManifest appends one JSON line per entry and syncs after each append.
type JSONLManifest struct {
	mu   sync.Mutex
	w    *JSONLWriter
	seen map[string]bool
}

// OpenJSONLManifest opens (creating if needed) a manifest file for appending.
func OpenJSONLManifest(path string) (*JSONLManifest, error) {
	w, err := OpenJSONLWriter(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest: %w", err)
	}
	m := &JSONLManifest{w: w, seen: make(map[string]bool)}

	existing, err := ReadManifest(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	for _, e := range existing {
		m.seen[entryKey(e)] = true
	}
	return m, nil
}

// Path returns the manifest file path.
func (m *JSONLManifest) Path() string { return m.w.Path() }

// Append implements ManifestSink.
func (m *JSONLManifest) Append(_ context.Context, entry types.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := entryKey(entry)
	if m.seen[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, key)
	}
	if err := m.w.Append(entry); err != nil {
		return fmt.Errorf("appending manifest entry: %w", err)
	}
	m.seen[key] = true
	return nil
}

// Close implements ManifestSink.
func (m *JSONLManifest) Close() error { return m.w.Close() }

// ReadManifest reads every entry of a JSONL manifest in append order. A torn
// final line left by a crash mid-append is ignored; a missing file is empty.
func ReadManifest(path string) ([]types.ManifestEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var entries []types.ManifestEntry
	lines := bytes.Split(data, []byte{'\n'})
	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e types.ManifestEntry
		if err := json.Unmarshal(line, &e); err != nil {
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("manifest line %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
