package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// FSSignalStore writes one JSON document per scenario under
// <Root>/<batch>/signals/<scenario>.json.
type FSSignalStore struct {
	Root string
}

// NewFSSignalStore creates a filesystem signal store rooted at root.
func NewFSSignalStore(root string) *FSSignalStore {
	return &FSSignalStore{Root: root}
}

// SignalPath returns where the signal of a scenario is stored.
func (s *FSSignalStore) SignalPath(batchID, scenarioID string) string {
	return filepath.Join(s.Root, batchID, "signals", scenarioID+".json")
}

// SaveSignal writes the signal to a temp file, syncs it, renames it into
// place and syncs the directory, so a crash never leaves a partial signal
// under its final name.
func (s *FSSignalStore) SaveSignal(ctx context.Context, batchID string, sig types.UnifiedSignal) (string, error) {
	if err := checkName("batch id", batchID); err != nil {
		return "", err
	}
	if err := checkName("scenario id", sig.ScenarioID); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("encoding signal %s: %w", sig.ScenarioID, err)
	}

	path := s.SignalPath(batchID, sig.ScenarioID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating signal dir: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing signal %s: %w", sig.ScenarioID, err)
	}
	return path, nil
}

// LoadSignal reads a signal written by SaveSignal.
func LoadSignal(path string) (types.UnifiedSignal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.UnifiedSignal{}, err
	}
	var sig types.UnifiedSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return types.UnifiedSignal{}, fmt.Errorf("decoding signal %s: %w", path, err)
	}
	return sig, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func checkName(what, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s %q", what, name)
	}
	return nil
}
