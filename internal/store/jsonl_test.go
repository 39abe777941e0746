package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func TestJSONLManifest_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "manifest.jsonl")
	m, err := OpenJSONLManifest(path)
	require.NoError(t, err)

	ctx := context.Background()
	trig := 0.42
	e1 := entry("b1", "s1", types.OutcomeCombined)
	e1.TriggerTime = &trig
	e1.SignalPath = "/tmp/s1.json"
	e1.Conditions = []string{"ip_drop"}
	require.NoError(t, m.Append(ctx, e1))
	require.NoError(t, m.Append(ctx, entry("b1", "s2", types.OutcomeNoTrigger)))
	require.NoError(t, m.Close())

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ScenarioID)
	require.NotNil(t, got[0].TriggerTime)
	assert.Equal(t, 0.42, *got[0].TriggerTime)
	assert.Equal(t, []string{"ip_drop"}, got[0].Conditions)
	assert.Equal(t, types.OutcomeNoTrigger, got[1].Outcome)
	assert.Nil(t, got[1].TriggerTime)
}

func TestJSONLManifest_Duplicate(t *testing.T) {
	m, err := OpenJSONLManifest(filepath.Join(t.TempDir(), "manifest.jsonl"))
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	require.NoError(t, m.Append(ctx, entry("b1", "s1", types.OutcomeCombined)))
	err = m.Append(ctx, entry("b1", "s1", types.OutcomeStageBFailed))
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	// Same scenario in another batch is fine.
	assert.NoError(t, m.Append(ctx, entry("b2", "s1", types.OutcomeCombined)))
}

func TestJSONLManifest_ReopenKeepsDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	m, err := OpenJSONLManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.Append(context.Background(), entry("b1", "s1", types.OutcomeCombined)))
	require.NoError(t, m.Close())

	m, err = OpenJSONLManifest(path)
	require.NoError(t, err)
	defer m.Close()
	err = m.Append(context.Background(), entry("b1", "s1", types.OutcomeCombined))
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	require.NoError(t, m.Append(context.Background(), entry("b1", "s2", types.OutcomeCombined)))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestJSONLManifest_AppendAfterClose(t *testing.T) {
	m, err := OpenJSONLManifest(filepath.Join(t.TempDir(), "manifest.jsonl"))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err = m.Append(context.Background(), entry("b1", "s1", types.OutcomeCombined))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestReadManifest_TornLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	content := `{"batchId":"b1","scenarioId":"s1","outcome":"combined","attempts":1,"recordedAt":"2026-03-01T12:00:00Z"}` + "\n" +
		`{"batchId":"b1","scenarioId":"s2","outc`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ScenarioID)
}

func TestReadManifest_CorruptMiddleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	content := "not json\n" +
		`{"batchId":"b1","scenarioId":"s1","outcome":"combined","attempts":1,"recordedAt":"2026-03-01T12:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := ReadManifest(path)
	assert.ErrorContains(t, err, "manifest line 1")
}

func TestReadManifest_Missing(t *testing.T) {
	got, err := ReadManifest(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestJSONLManifest_ReopenAfterTornAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	ctx := context.Background()

	m, err := OpenJSONLManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, entry("b1", "s1", types.OutcomeCombined)))
	require.NoError(t, m.Close())

	// Crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"batchId":"b1","scenarioId":"s2","outc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, err = OpenJSONLManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.Append(ctx, entry("b1", "s3", types.OutcomeNoTrigger)))
	require.NoError(t, m.Append(ctx, entry("b1", "s4", types.OutcomeStageAFailed)))
	require.NoError(t, m.Close())

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "s1", got[0].ScenarioID)
	assert.Equal(t, "s3", got[1].ScenarioID)
	assert.Equal(t, "s4", got[2].ScenarioID)

	// The torn scenario was never recorded, so it may be appended again.
	m, err = OpenJSONLManifest(path)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Append(ctx, entry("b1", "s2", types.OutcomeCombined)))
}

func TestJSONLManifest_ReopenTerminatesCompleteTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.jsonl")
	content := `{"batchId":"b1","scenarioId":"s1","outcome":"combined","attempts":1,"recordedAt":"2026-03-01T12:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := OpenJSONLManifest(path)
	require.NoError(t, err)
	require.NoError(t, m.Append(context.Background(), entry("b1", "s2", types.OutcomeNoTrigger)))
	require.NoError(t, m.Close())

	got, err := ReadManifest(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ScenarioID)
	assert.Equal(t, "s2", got[1].ScenarioID)
}
