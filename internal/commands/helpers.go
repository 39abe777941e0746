// Package commands implements the CLI subcommands for the tokamaksim binary.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dwsmith1983/tokamaksim/internal/config"
	"github.com/dwsmith1983/tokamaksim/internal/generator"
	"github.com/dwsmith1983/tokamaksim/internal/stage"
	"github.com/dwsmith1983/tokamaksim/internal/store"
	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// ManifestFile is the JSONL manifest written under the output dir.
const ManifestFile = "manifest.jsonl"

// newLogger builds the CLI logger writing to w.
func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// loadProject loads the config in dir and expands its scenarios.
func loadProject(dir string) (*types.ProjectConfig, []types.ScenarioConfig, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	scenarios, err := config.Scenarios(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("expanding scenarios: %w", err)
	}
	return cfg, scenarios, nil
}

func findScenario(scenarios []types.ScenarioConfig, id string) (types.ScenarioConfig, error) {
	for _, sc := range scenarios {
		if sc.ID == id {
			return sc, nil
		}
	}
	return types.ScenarioConfig{}, fmt.Errorf("scenario %q not found", id)
}

// manifestPath returns where the JSONL manifest of a project lives.
func manifestPath(cfg *types.ProjectConfig) string {
	return filepath.Join(cfg.Output.Dir, ManifestFile)
}

// openManifest opens the JSONL manifest as the authoritative sink and
// mirrors it to SQLite and DynamoDB when configured.
func openManifest(ctx context.Context, cfg *types.ProjectConfig, logger *slog.Logger) (store.ManifestSink, error) {
	primary, err := store.OpenJSONLManifest(manifestPath(cfg))
	if err != nil {
		return nil, err
	}

	var mirrors []store.ManifestSink
	closeAll := func() {
		for _, m := range mirrors {
			_ = m.Close()
		}
		_ = primary.Close()
	}
	if cfg.Output.SQLite != "" {
		s, err := store.OpenSQLiteManifest(cfg.Output.SQLite)
		if err != nil {
			closeAll()
			return nil, err
		}
		mirrors = append(mirrors, s)
	}
	if cfg.Output.DynamoDB != nil {
		d, err := store.NewDynamoDBManifest(ctx, *cfg.Output.DynamoDB)
		if err != nil {
			closeAll()
			return nil, err
		}
		mirrors = append(mirrors, d)
	}
	if len(mirrors) == 0 {
		return primary, nil
	}
	return store.NewMultiManifest(logger, primary, mirrors...), nil
}

// newResolver picks each stage's backend from the scenario's stage config.
func newResolver(f *stage.Factory) generator.ResolverFunc {
	return func(ctx context.Context, sc types.ScenarioConfig, name types.StageName) (stage.Backend, error) {
		return f.FromConfig(ctx, sc.Stage(name).Backend, name)
	}
}
