package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "snap/0001", []byte("hello world")))

	blob, err := store.Open(ctx, "snap/0001")
	require.NoError(t, err)
	defer blob.Close()

	assert.Equal(t, int64(11), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))
}

func TestLocalStoreOpenMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreCreateAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	w, err := store.Create(ctx, "snap/0002")
	require.NoError(t, err)

	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Not visible until Close renames the temp file into place.
	_, err = store.Open(ctx, "snap/0002")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "snap/0002")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(7), blob.Size())

	_, err = os.Stat(filepath.Join(dir, "snap", "0002"))
	require.NoError(t, err)
}

func TestLocalStoreMappable(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "m", []byte("mapped")))

	blob, err := store.Open(ctx, "m")
	require.NoError(t, err)
	defer blob.Close()

	m, ok := blob.(Mappable)
	require.True(t, ok)

	data, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(data))
}

func TestLocalStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "snap/0002", []byte("b")))
	require.NoError(t, store.Put(ctx, "snap/0001", []byte("a")))
	require.NoError(t, store.Put(ctx, "wal/0001", []byte("c")))

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/0001", "snap/0002"}, names)

	require.NoError(t, store.Delete(ctx, "snap/0001"))
	require.NoError(t, store.Delete(ctx, "snap/0001"))

	names, err = store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/0002"}, names)
}

func TestLocalStoreListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "snap/0001", []byte("a")))

	// Simulate a crash mid-write.
	w, err := store.Create(ctx, "snap/0002")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/0001"}, names)
}
