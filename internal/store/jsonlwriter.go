package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends JSON records one per line and syncs after each write,
// so a record that Append returned for survives a crash.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenJSONLWriter opens path for appending, creating it and its directory as
// needed. A partial last line left by an interrupted append is repaired
// first so the next record starts on a line of its own.
func OpenJSONLWriter(path string) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := repairTail(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &JSONLWriter{path: path, f: f}, nil
}

// Path returns the file path.
func (w *JSONLWriter) Path() string { return w.path }

// Append writes v as one line. It returns os.ErrClosed after Close.
func (w *JSONLWriter) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	return nil
}

// Close closes the file. It is safe to call more than once.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// repairTail makes sure the file ends in a newline before appending. A
// complete final record missing only its newline is terminated; a torn one
// is truncated away.
func repairTail(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	keep := bytes.LastIndexByte(data, '\n') + 1
	if json.Valid(bytes.TrimSpace(data[keep:])) {
		_, err = f.Write([]byte{'\n'})
	} else {
		err = f.Truncate(int64(keep))
	}
	if err != nil {
		return fmt.Errorf("repairing tail of %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	return nil
}
