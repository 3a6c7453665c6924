package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "conductor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	outcomes := sampleOutcomes("run-1")
	recordID, err := s.Save(ctx, outcomes)
	require.NoError(t, err)
	assert.Equal(t, "1", recordID)

	rec, err := s.Load(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Total)
	assert.Equal(t, 1, rec.Succeeded)
	assert.Equal(t, 2, rec.Failed)
	assert.Equal(t, outcomes, rec.Results)
}

func TestSQLiteStoreLatestSupersedes(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, sampleOutcomes("run-1"))
	require.NoError(t, err)
	second, err := s.Save(ctx, sampleOutcomes("run-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	latest, latestID, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, latestID)
	assert.Equal(t, json.RawMessage(`"run-2"`), latest.Results[0].Payload)

	// Earlier records remain loadable; nothing was overwritten.
	rec1, err := s.Load(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"run-1"`), rec1.Results[0].Payload)
}

func TestSQLiteStoreFailedFilter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleOutcomes("run-1"))
	require.NoError(t, err)

	failed, _, err := s.LoadFailedFromLatest(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	for _, o := range failed {
		assert.False(t, o.Success)
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, _, err := s.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load(ctx, "42")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load(ctx, "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)
}
