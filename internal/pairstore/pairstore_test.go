package pairstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"idevicekit/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return &Store{systemDir: t.TempDir(), cacheDir: t.TempDir()}
}

// TestWriteCacheThenReadCacheRoundTrips is spec.md §8 invariant 8:
// write_home_file(x); read_home_file() == x.
func TestWriteCacheThenReadCacheRoundTrips(t *testing.T) {
	store := newTestStore(t)
	want := []byte("bplist00-fake-pair-record-bytes")

	assert.NoError(t, store.WriteCache("deadbeef", want))

	got, err := store.ReadCache("deadbeef")
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadMissingFileIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	data, err := store.ReadSystem("not-there")
	assert.NoError(t, err)
	assert.Nil(t, data)

	data, err = store.ReadCache("not-there")
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestWriteSystemIsIndependentOfCache(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.WriteSystem("abc123", []byte("system-copy")))

	fromCache, err := store.ReadCache("abc123")
	assert.NoError(t, err)
	assert.Nil(t, fromCache)

	fromSystem, err := store.ReadSystem("abc123")
	assert.NoError(t, err)
	assert.Equal(t, []byte("system-copy"), fromSystem)
}

func TestNewDerivesDirectoriesFromConfig(t *testing.T) {
	cfg := &config.HostConfig{CacheDir: t.TempDir()}
	store := New(cfg)
	assert.Equal(t, cfg.CacheDir, store.cacheDir)
	assert.NotEmpty(t, store.systemDir)
}
