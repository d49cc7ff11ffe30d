package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_Cache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "tiles", "osm/15/16383/10896", []byte("png bytes"), time.Hour))

	data, ok, err := st.Get(ctx, "tiles", "osm/15/16383/10896")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "png bytes", string(data))
}

func TestSQLite_Cache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	data, ok, err := st.Get(context.Background(), "tiles", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestSQLite_Cache_NamespacesIsolated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "census", "k", []byte("a"), time.Hour))

	_, ok, err := st.Get(ctx, "tiles", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Cache_Overwrite(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, "census", "k", []byte("old"), time.Hour))
	require.NoError(t, st.Set(ctx, "census", "k", []byte("new"), time.Hour))

	data, ok, err := st.Get(ctx, "census", "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", string(data))
}

func TestSQLite_Cache_Expiry(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	require.NoError(t, st.Set(ctx, "tiles", "a", []byte("1"), time.Minute))
	require.NoError(t, st.Set(ctx, "tiles", "b", []byte("2"), time.Hour))

	st.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, ok, err := st.Get(ctx, "tiles", "a")
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := st.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, [2]int{1, 1}, stats["tiles"])

	n, err := st.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err = st.Get(ctx, "tiles", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return base }
	_, err := st.CreateRun(ctx, "run-1", "snow")
	require.NoError(t, err)

	st.now = func() time.Time { return base.Add(time.Minute) }
	_, err = st.CreateRun(ctx, "run-2", "census")
	require.NoError(t, err)

	require.NoError(t, st.FinishRun(ctx, "run-1", []string{"out/snow.png"}, nil))
	require.NoError(t, st.FinishRun(ctx, "run-2", nil, errors.New("census: invalid key")))

	r1, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusComplete, r1.Status)
	assert.Equal(t, []string{"out/snow.png"}, r1.Outputs)
	assert.Equal(t, base, r1.CreatedAt)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Equal(t, "census: invalid key", runs[0].Error)
}

func TestSQLite_FinishRun_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.FinishRun(context.Background(), "ghost", nil, nil)
	assert.Error(t, err)

	_, err = st.GetRun(context.Background(), "ghost")
	assert.Error(t, err)
}
