package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
)

func testRecord(chunk uint32) CommitRecord {
	return CommitRecord{
		JobID:          uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		ChunkIndex:     chunk,
		NewOffset:      uint64(chunk+1) * 100,
		AtomsProcessed: uint64(chunk+1) * 3,
		RootAtomID:     core.AtomID(7),
		AtomIDs:        []core.AtomID{core.AtomID(chunk*10 + 1), core.AtomID(chunk*10 + 2)},
	}
}

func TestAppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.wal")

	w, err := Open(path)
	require.NoError(t, err)

	for i := uint32(0); i < 4; i++ {
		require.NoError(t, w.Append(testRecord(i)))
	}
	require.NoError(t, w.Close())

	// Reopen and replay.
	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	var got []CommitRecord
	require.NoError(t, w.Replay(func(rec CommitRecord) error {
		got = append(got, rec)
		return nil
	}))

	require.Len(t, got, 4)
	for i, rec := range got {
		assert.Equal(t, testRecord(uint32(i)), rec)
	}
}

func TestAppendAfterReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.wal")

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(testRecord(0)))

	n, err := w.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Replay must leave the write position at the end.
	require.NoError(t, w.Append(testRecord(1)))
	n, err = w.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCorruptTailTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.wal")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(testRecord(0)))
	require.NoError(t, w.Append(testRecord(1)))
	require.NoError(t, w.Close())

	// Simulate a torn write.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	var got []CommitRecord
	require.NoError(t, w.Replay(func(rec CommitRecord) error {
		got = append(got, rec)
		return nil
	}))
	assert.Len(t, got, 2)

	// The tail is gone; appends continue cleanly.
	require.NoError(t, w.Append(testRecord(2)))
	n, err := w.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCompressedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.wal")

	w, err := Open(path, func(o *Options) {
		o.Compress = true
	})
	require.NoError(t, err)

	rec := testRecord(0)
	// Enough repeated ids to give lz4 something to chew on.
	for i := 0; i < 500; i++ {
		rec.AtomIDs = append(rec.AtomIDs, core.AtomID(42))
	}
	require.NoError(t, w.Append(rec))
	require.NoError(t, w.Close())

	// Compression flag is read back from the header.
	w, err = Open(path)
	require.NoError(t, err)
	defer w.Close()

	var got []CommitRecord
	require.NoError(t, w.Replay(func(r CommitRecord) error {
		got = append(got, r)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commits.wal")

	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
