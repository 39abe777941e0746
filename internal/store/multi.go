package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// MultiManifest fans entries out to several sinks. The primary sink is
// authoritative: its error is returned. Mirror errors are logged only.
type MultiManifest struct {
	primary ManifestSink
	mirrors []ManifestSink
	logger  *slog.Logger
}

// NewMultiManifest creates a fan-out manifest.
func NewMultiManifest(logger *slog.Logger, primary ManifestSink, mirrors ...ManifestSink) *MultiManifest {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiManifest{primary: primary, mirrors: mirrors, logger: logger}
}

// Append implements ManifestSink.
func (m *MultiManifest) Append(ctx context.Context, e types.ManifestEntry) error {
	if err := m.primary.Append(ctx, e); err != nil {
		return err
	}
	for _, s := range m.mirrors {
		if err := s.Append(ctx, e); err != nil {
			m.logger.Warn("manifest mirror append failed",
				"batch", e.BatchID, "scenario", e.ScenarioID, "error", err)
		}
	}
	return nil
}

// Close implements ManifestSink.
func (m *MultiManifest) Close() error {
	errs := []error{m.primary.Close()}
	for _, s := range m.mirrors {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
