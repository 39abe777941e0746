package alert

import (
	"context"
	"fmt"

	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// FileSink appends alerts as JSON lines next to the run manifest, with the
// same crash behavior: each alert is synced before Send returns and a torn
// last line is repaired on open.
type FileSink struct {
	w *store.JSONLWriter
}

// NewFileSink opens path for appending, creating it as needed.
func NewFileSink(path string) (*FileSink, error) {
	w, err := store.OpenJSONLWriter(path)
	if err != nil {
		return nil, fmt.Errorf("opening alert file: %w", err)
	}
	return &FileSink{w: w}, nil
}

// Name returns the sink identifier.
func (s *FileSink) Name() string { return "file" }

// Send appends the alert as one line.
func (s *FileSink) Send(_ context.Context, alert types.Alert) error {
	return s.w.Append(alert)
}

// Close releases the file.
func (s *FileSink) Close() error { return s.w.Close() }
