package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tokamaksim/pkg/types"
)

func openTestSQLite(t *testing.T) *SQLiteManifest {
	t.Helper()
	s, err := OpenSQLiteManifest(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteManifest_AppendAndEntries(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	trig := 1.5
	e := entry("b1", "s1", types.OutcomeCombined)
	e.TriggerTime = &trig
	e.Samples = 120
	require.NoError(t, s.Append(ctx, e))
	require.NoError(t, s.Append(ctx, entry("b1", "s2", types.OutcomeHandoffInvalid)))
	require.NoError(t, s.Append(ctx, entry("b2", "s1", types.OutcomeCombined)))

	got, err := s.Entries(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].ScenarioID)
	assert.Equal(t, 120, got[0].Samples)
	require.NotNil(t, got[0].TriggerTime)
	assert.Equal(t, 1.5, *got[0].TriggerTime)
	assert.Equal(t, types.OutcomeHandoffInvalid, got[1].Outcome)
}

func TestSQLiteManifest_Duplicate(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("b1", "s1", types.OutcomeCombined)))
	err := s.Append(ctx, entry("b1", "s1", types.OutcomeCombined))
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestSQLiteManifest_CountByOutcome(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("b1", "s1", types.OutcomeCombined)))
	require.NoError(t, s.Append(ctx, entry("b1", "s2", types.OutcomeCombined)))
	require.NoError(t, s.Append(ctx, entry("b1", "s3", types.OutcomeStageAFailed)))

	counts, err := s.CountByOutcome(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, map[types.Outcome]int{
		types.OutcomeCombined:     2,
		types.OutcomeStageAFailed: 1,
	}, counts)
}

func TestSQLiteManifest_Batches(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("b1", "s1", types.OutcomeCombined)))
	require.NoError(t, s.Append(ctx, entry("b2", "s1", types.OutcomeCombined)))

	batches, err := s.Batches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b2", "b1"}, batches)
}

func TestSQLiteManifest_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	s, err := OpenSQLiteManifest(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), entry("b1", "s1", types.OutcomeCombined)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteManifest(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Entries(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
