package testutil

import (
	"testing"
	"time"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// CountOutcomes tallies manifest entries by outcome.
func CountOutcomes(entries []types.ManifestEntry) map[types.Outcome]int {
	out := make(map[types.Outcome]int)
	for _, e := range entries {
		out[e.Outcome]++
	}
	return out
}

// AssertOutcome fails the test unless the entry for scenarioID has outcome want.
func AssertOutcome(t *testing.T, entries []types.ManifestEntry, scenarioID string, want types.Outcome) types.ManifestEntry {
	t.Helper()
	for _, e := range entries {
		if e.ScenarioID == scenarioID {
			if e.Outcome != want {
				t.Errorf("scenario %s: outcome %s, want %s (message %q)", scenarioID, e.Outcome, want, e.Message)
			}
			return e
		}
	}
	t.Fatalf("scenario %s: no manifest entry", scenarioID)
	return types.ManifestEntry{}
}
