package atom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/provenance"
)

func TestInternDedup(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id1, err := s.Intern(ctx, []byte("hello"), core.ModalityText, 0)
	require.NoError(t, err)

	id2, err := s.Intern(ctx, []byte("hello"), core.ModalityText, 0)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, s.Count())

	refs, err := s.ReferenceCount(id1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refs)
}

func TestInternModalityDistinguishesContent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id1, err := s.Intern(ctx, []byte("abc"), core.ModalityText, 0)
	require.NoError(t, err)

	id2, err := s.Intern(ctx, []byte("abc"), core.ModalityAudio, 0)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	id3, err := s.Intern(ctx, []byte("abc"), core.ModalityText, 7)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestInternPayloadTooLarge(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.Intern(ctx, make([]byte, core.MaxPayloadSize+1), core.ModalityText, 0)

	var tooLarge *ErrPayloadTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, core.MaxPayloadSize+1, tooLarge.Size)
	// Rejected before mutation.
	assert.Equal(t, 0, s.Count())
}

func TestInternUnknownModality(t *testing.T) {
	s := NewStore()

	_, err := s.Intern(context.Background(), []byte("x"), core.ModalityUnknown, 0)
	require.ErrorIs(t, err, ErrUnknownModality)
}

func TestGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	id, err := s.Intern(ctx, payload, core.ModalityTensor, 3)
	require.NoError(t, err)

	a, err := s.Get(id)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, a.Payload))
	assert.Equal(t, core.ModalityTensor, a.Modality)
	assert.Equal(t, core.Subtype(3), a.Subtype)
	assert.Equal(t, int64(1), a.ReferenceCount)

	// Returned payload is a copy.
	a.Payload[0] = 0x00
	b, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, byte(0xde), b.Payload[0])
}

func TestConcurrentInternConverges(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	const goroutines = 32

	var wg sync.WaitGroup
	ids := make([]core.AtomID, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := s.Intern(ctx, []byte("shared"), core.ModalityText, 0)
			if err != nil {
				t.Error(err)
				return
			}
			ids[n] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		require.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, s.Count())

	refs, err := s.ReferenceCount(ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines), refs)
}

func TestReleaseTombstoneAndGC(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.Intern(ctx, []byte("ephemeral"), core.ModalityText, 0)
	require.NoError(t, err)

	require.NoError(t, s.Release(id))

	// Tombstoned but still readable.
	_, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.GetStats().Tombstones)

	// Releasing past zero is an error.
	require.ErrorIs(t, s.Release(id), ErrZeroRefCount)

	reclaimed, err := s.CollectGarbage(ctx)
	require.NoError(t, err)
	require.Equal(t, []core.AtomID{id}, reclaimed)

	_, err = s.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Count())
}

func TestReinternAfterTombstoneClearsTombstone(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.Intern(ctx, []byte("revived"), core.ModalityText, 0)
	require.NoError(t, err)
	require.NoError(t, s.Release(id))

	id2, err := s.Intern(ctx, []byte("revived"), core.ModalityText, 0)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	// GC must not reclaim the revived atom.
	reclaimed, err := s.CollectGarbage(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	_, err = s.Get(id)
	require.NoError(t, err)
}

func TestInternAfterGCCreatesNewAtom(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.Intern(ctx, []byte("gone"), core.ModalityText, 0)
	require.NoError(t, err)
	require.NoError(t, s.Release(id))

	_, err = s.CollectGarbage(ctx)
	require.NoError(t, err)

	id2, err := s.Intern(ctx, []byte("gone"), core.ModalityText, 0)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	id, err := s.Intern(ctx, []byte("findme"), core.ModalityText, 0)
	require.NoError(t, err)

	hash := core.HashContent([]byte("findme"), core.ModalityText, 0)
	got, ok := s.Resolve(hash)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = s.Resolve(core.HashContent([]byte("missing"), core.ModalityText, 0))
	assert.False(t, ok)
}

func TestProvenanceAtomCreated(t *testing.T) {
	ctx := context.Background()
	sink := provenance.NewChannelSink(8)
	s := NewStore(WithProvenanceSink(sink))

	id, err := s.Intern(ctx, []byte("audited"), core.ModalityImage, 0)
	require.NoError(t, err)

	// Dedup hit must not emit a second creation event.
	_, err = s.Intern(ctx, []byte("audited"), core.ModalityImage, 0)
	require.NoError(t, err)

	select {
	case ev := <-sink.Events():
		assert.Equal(t, provenance.EventAtomCreated, ev.Type)
		assert.Equal(t, id, ev.AtomID)
	default:
		t.Fatal("expected AtomCreated event")
	}

	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected second event: %v", ev.Type)
	default:
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewStore()

	for i := 0; i < 10; i++ {
		_, err := src.Intern(ctx, []byte(fmt.Sprintf("atom-%d", i)), core.ModalityText, 0)
		require.NoError(t, err)
	}

	var atoms []Atom
	src.Range(func(a Atom) bool {
		atoms = append(atoms, a)
		return true
	})

	dst := NewStore()
	require.NoError(t, dst.Restore(atoms))
	assert.Equal(t, 10, dst.Count())

	// The id allocator must not reuse restored ids.
	id, err := dst.Intern(ctx, []byte("new-after-restore"), core.ModalityText, 0)
	require.NoError(t, err)
	for _, a := range atoms {
		require.NotEqual(t, a.ID, id)
	}
}

func TestReleaseUnknownAtom(t *testing.T) {
	s := NewStore()
	err := s.Release(core.AtomID(42))
	require.True(t, errors.Is(err, ErrNotFound))
}
