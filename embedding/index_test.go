package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
)

func TestPutGet(t *testing.T) {
	ix := NewIndex()

	emb, replaced, err := ix.Put(1, []float32{0.5, -1.0, 2.0, 9.9})
	require.NoError(t, err)
	assert.False(t, replaced)
	assert.Equal(t, core.Point{X: 0.5, Y: -1.0, Z: 2.0}, emb.Projection)

	got, err := ix.Get(1)
	require.NoError(t, err)
	assert.Equal(t, emb, got)
	assert.Equal(t, 1, ix.Count())
}

func TestOneEmbeddingPerAtom(t *testing.T) {
	ix := NewIndex()

	_, _, err := ix.Put(1, []float32{1, 0, 0})
	require.NoError(t, err)

	emb2, replaced, err := ix.Put(1, []float32{0, 1, 0})
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, 1, ix.Count())

	got, err := ix.Get(1)
	require.NoError(t, err)
	assert.Equal(t, emb2.Vector, got.Vector)
}

func TestHilbertValueIsPureFunctionOfProjection(t *testing.T) {
	ix := NewIndex()

	// Different atoms, identical vectors: identical projection and
	// identical Hilbert value.
	a, _, err := ix.Put(1, []float32{3, 4, 5})
	require.NoError(t, err)
	b, _, err := ix.Put(2, []float32{3, 4, 5})
	require.NoError(t, err)

	assert.Equal(t, a.Projection, b.Projection)
	assert.Equal(t, a.HilbertValue, b.HilbertValue)
}

func TestPutEmptyVector(t *testing.T) {
	ix := NewIndex()
	_, _, err := ix.Put(1, nil)
	require.ErrorIs(t, err, ErrEmptyVector)
}

func TestRemove(t *testing.T) {
	ix := NewIndex()
	_, _, err := ix.Put(1, []float32{1})
	require.NoError(t, err)

	require.NoError(t, ix.Remove(1))
	require.ErrorIs(t, ix.Remove(1), ErrNotFound)
	_, err = ix.Get(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVectorCopied(t *testing.T) {
	ix := NewIndex()
	v := []float32{1, 2, 3}
	_, _, err := ix.Put(1, v)
	require.NoError(t, err)

	v[0] = 99
	got, err := ix.Get(1)
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Vector[0])
}

func TestLandmarkProjector(t *testing.T) {
	lp, err := NewLandmarkProjector(
		[]float32{0, 0},
		[]float32{1, 0},
		[]float32{0, 1},
	)
	require.NoError(t, err)

	p, err := lp.Project([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, p.X, 1e-9)

	_, err = lp.Project([]float32{1, 2, 3})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 2, dm.Expected)
	assert.Equal(t, 3, dm.Actual)
}

func TestBasisProjector(t *testing.T) {
	bp, err := NewBasisProjector(
		[]float32{1, 0},
		[]float32{0, 1},
		[]float32{1, 1},
	)
	require.NoError(t, err)

	p, err := bp.Project([]float32{2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, p.X, 1e-9)
	assert.InDelta(t, 3.0, p.Y, 1e-9)
	assert.InDelta(t, 5.0, p.Z, 1e-9)
}

func TestRangeAndRestore(t *testing.T) {
	ix := NewIndex()
	for i := 1; i <= 5; i++ {
		_, _, err := ix.Put(core.AtomID(i), []float32{float32(i)})
		require.NoError(t, err)
	}

	var embs []Embedding
	ix.Range(func(e Embedding) bool {
		embs = append(embs, e)
		return true
	})
	require.Len(t, embs, 5)

	ix2 := NewIndex()
	ix2.Restore(embs)
	assert.Equal(t, 5, ix2.Count())
}
