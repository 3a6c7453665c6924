package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/models"
)

func sampleOutcomes(marker string) []models.TaskOutcome {
	return []models.TaskOutcome{
		{
			Input:   models.TaskInput{ID: "task-1", Priority: "high"},
			Success: true,
			Payload: json.RawMessage(`"` + marker + `"`),
		},
		{
			Input:   models.TaskInput{ID: "task-2", Priority: "low"},
			Success: false,
			Error:   "non-retryable error: invalid item schema",
		},
		{
			Input:   models.TaskInput{ID: "task-3"},
			Success: false,
			Error:   "retries exhausted after 3 attempts: connection reset by peer",
			Retries: 2,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	outcomes := sampleOutcomes("run-1")
	recordID, err := s.Save(ctx, outcomes)
	require.NoError(t, err)
	require.NotEmpty(t, recordID)

	rec, err := s.Load(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Total)
	assert.Equal(t, 1, rec.Succeeded)
	assert.Equal(t, 2, rec.Failed)
	assert.Equal(t, outcomes, rec.Results)

	latest, latestID, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, recordID, latestID)
	assert.Equal(t, outcomes, latest.Results)
}

func TestFileStoreSameSecondSavesNeverOverwrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Two back-to-back saves land within the same timestamp second.
	first, err := s.Save(ctx, sampleOutcomes("run-1"))
	require.NoError(t, err)
	second, err := s.Save(ctx, sampleOutcomes("run-2"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "a save must never silently overwrite a prior record")

	rec1, err := s.Load(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"run-1"`), rec1.Results[0].Payload)

	latest, latestID, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latestID, "latest must be the most recent save")
	assert.Equal(t, json.RawMessage(`"run-2"`), latest.Results[0].Payload)
}

func TestFileStoreLoadFailedFromLatestIdempotent(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Save(ctx, sampleOutcomes("run-1"))
	require.NoError(t, err)

	failed1, id1, err := s.LoadFailedFromLatest(ctx)
	require.NoError(t, err)
	failed2, id2, err := s.LoadFailedFromLatest(ctx)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, failed1, failed2)
	require.Len(t, failed1, 2)
	for _, o := range failed1 {
		assert.False(t, o.Success)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = s.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = s.LoadFailedFromLatest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load(ctx, "batch_19990101_000000.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Save(ctx, sampleOutcomes("run-1"))
	require.NoError(t, err)

	// A damaged record that sorts as the latest save.
	corrupt := "batch_99991231_235959.json"
	require.NoError(t, os.WriteFile(filepath.Join(dir, corrupt), []byte("{not json"), 0o644))

	_, err = s.Load(ctx, corrupt)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.NotErrorIs(t, err, ErrNotFound, "decode errors must be distinct from not-found")

	_, _, err = s.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrCorrupt)
}
