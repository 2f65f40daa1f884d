package generate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/spatial"
)

// lineIndex places atoms 1..n at x = 0..n-1.
func lineIndex(t *testing.T, n int) *spatial.Index {
	t.Helper()

	ix := spatial.NewIndex()
	for i := 1; i <= n; i++ {
		require.NoError(t, ix.Insert(core.AtomID(i), core.Point{X: float64(i - 1)}))
	}
	require.NoError(t, ix.Rebuild(context.Background()))
	return ix
}

func TestGeneratePathAlongLine(t *testing.T) {
	ix := lineIndex(t, 6)
	e := NewEngine(ix, WithBranchFactor(2))

	path, err := e.GeneratePath(context.Background(), 1, ConceptDomain{
		Centroid: core.Point{X: 5},
		Radius:   0.25,
	})
	require.NoError(t, err)

	require.NotEmpty(t, path)
	assert.Equal(t, core.AtomID(1), path[0])
	assert.Equal(t, core.AtomID(6), path[len(path)-1])

	// Every hop follows a neighbor edge and the total cost is the
	// straight-line optimum: forward-only hops summing to 5.
	var cost float64
	for i := 1; i < len(path); i++ {
		a, ok := ix.Point(path[i-1])
		require.True(t, ok)
		b, ok := ix.Point(path[i])
		require.True(t, ok)
		hop := a.DistanceTo(b)
		assert.LessOrEqual(t, hop, 2.0)
		cost += hop
	}
	assert.InDelta(t, 5.0, cost, 1e-9)
}

func TestGeneratePathPrefersShortRoute(t *testing.T) {
	ix := spatial.NewIndex()
	require.NoError(t, ix.Insert(1, core.Point{X: 0}))
	require.NoError(t, ix.Insert(2, core.Point{X: 1, Y: 0.8}))
	require.NoError(t, ix.Insert(3, core.Point{X: 2}))
	require.NoError(t, ix.Rebuild(context.Background()))

	e := NewEngine(ix)
	path, err := e.GeneratePath(context.Background(), 1, ConceptDomain{
		Centroid: core.Point{X: 2},
		Radius:   0.1,
	})
	require.NoError(t, err)

	// Going through atom 2 costs about 2.56; the direct hop costs 2.
	assert.Equal(t, []core.AtomID{1, 3}, path)
}

func TestGeneratePathStartInsideDomain(t *testing.T) {
	ix := lineIndex(t, 3)
	e := NewEngine(ix)

	path, err := e.GeneratePath(context.Background(), 2, ConceptDomain{
		Centroid: core.Point{X: 1},
		Radius:   0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, []core.AtomID{2}, path)
}

func TestGeneratePathUnreachable(t *testing.T) {
	ix := lineIndex(t, 4)
	e := NewEngine(ix)

	_, err := e.GeneratePath(context.Background(), 1, ConceptDomain{
		Centroid: core.Point{X: 100},
		Radius:   1,
	})
	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestGeneratePathStepBound(t *testing.T) {
	ix := lineIndex(t, 50)
	e := NewEngine(ix, WithBranchFactor(2), WithMaxSteps(3))

	_, err := e.GeneratePath(context.Background(), 1, ConceptDomain{
		Centroid: core.Point{X: 49},
		Radius:   0.25,
	})
	require.ErrorIs(t, err, ErrPathNotFound)
}

func TestGeneratePathStartNotIndexed(t *testing.T) {
	ix := lineIndex(t, 3)
	e := NewEngine(ix)

	_, err := e.GeneratePath(context.Background(), 99, ConceptDomain{
		Centroid: core.Point{X: 1},
		Radius:   0.5,
	})
	require.ErrorIs(t, err, ErrNotIndexed)
}

func TestGeneratePathCancelled(t *testing.T) {
	ix := lineIndex(t, 10)
	e := NewEngine(ix, WithBranchFactor(2))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.GeneratePath(ctx, 1, ConceptDomain{
		Centroid: core.Point{X: 9},
		Radius:   0.25,
	})
	require.ErrorIs(t, err, context.Canceled)
}
