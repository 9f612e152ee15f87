package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestUpsertAndAll(t *testing.T) {
	c, _ := openTestCatalog(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Record{
		ID:             "/data/recordings/recording_20260301_100000_000001.wav",
		Origin:         "recorded",
		CreatedAt:      created,
		LastAccessedAt: created,
		SizeBytes:      44,
	}
	require.NoError(t, c.Upsert(ctx, r))

	r.LastAccessedAt = created.Add(time.Hour)
	r.HasTranscription = true
	r.TranscriptionPath = "/data/recordings/recording_20260301_100000_000001.txt"
	r.SizeBytes = 64044
	require.NoError(t, c.Upsert(ctx, r))

	records, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "recorded", got.Origin)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.LastAccessedAt.Equal(created.Add(time.Hour)))
	assert.Equal(t, int64(64044), got.SizeBytes)
	assert.True(t, got.HasTranscription)
	assert.Equal(t, r.TranscriptionPath, got.TranscriptionPath)
}

func TestDelete(t *testing.T) {
	c, _ := openTestCatalog(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, c.Upsert(ctx, Record{ID: "a", Origin: "recorded", CreatedAt: now, LastAccessedAt: now}))
	require.NoError(t, c.Upsert(ctx, Record{ID: "b", Origin: "imported", CreatedAt: now.Add(time.Second), LastAccessedAt: now}))

	require.NoError(t, c.Delete(ctx, "a"))
	require.NoError(t, c.Delete(ctx, "missing"))

	records, err := c.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].ID)
}

func TestReopenKeepsRecords(t *testing.T) {
	c, path := openTestCatalog(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, c.Upsert(ctx, Record{ID: "a", Origin: "recorded", CreatedAt: now, LastAccessedAt: now}))
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	records, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}
