package spatial

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
)

func randomPoints(n int, seed int64) map[core.AtomID]core.Point {
	rng := rand.New(rand.NewSource(seed))
	out := make(map[core.AtomID]core.Point, n)
	for i := 1; i <= n; i++ {
		out[core.AtomID(i)] = core.Point{
			X: rng.Float64()*200 - 100,
			Y: rng.Float64()*200 - 100,
			Z: rng.Float64()*200 - 100,
		}
	}
	return out
}

func bruteForceKNN(points map[core.AtomID]core.Point, q core.Point, k int) []Result {
	cands := make([]Result, 0, len(points))
	for id, p := range points {
		cands = append(cands, Result{AtomID: id, Distance: q.DistanceTo(p)})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Distance != cands[j].Distance {
			return cands[i].Distance < cands[j].Distance
		}
		return cands[i].AtomID < cands[j].AtomID
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	return cands
}

func TestQueryMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	points := randomPoints(500, 7)

	ix := NewIndex()
	for id, p := range points {
		require.NoError(t, ix.Insert(id, p))
	}
	require.NoError(t, ix.Rebuild(ctx))

	rng := rand.New(rand.NewSource(8))
	for trial := 0; trial < 50; trial++ {
		q := core.Point{
			X: rng.Float64()*200 - 100,
			Y: rng.Float64()*200 - 100,
			Z: rng.Float64()*200 - 100,
		}

		got, err := ix.Query(q, 10)
		require.NoError(t, err)
		want := bruteForceKNN(points, q, 10)

		require.Equal(t, len(want), len(got))
		for i := range want {
			assert.Equal(t, want[i].AtomID, got[i].AtomID, "trial %d rank %d", trial, i)
			assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-12)
		}
	}
}

func TestQueryTieBreakByAtomID(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	// Four points equidistant from the origin.
	require.NoError(t, ix.Insert(4, core.Point{X: 1}))
	require.NoError(t, ix.Insert(2, core.Point{X: -1}))
	require.NoError(t, ix.Insert(3, core.Point{Y: 1}))
	require.NoError(t, ix.Insert(1, core.Point{Y: -1}))
	require.NoError(t, ix.Rebuild(ctx))

	got, err := ix.Query(core.Point{}, 3)
	require.NoError(t, err)

	ids := []core.AtomID{got[0].AtomID, got[1].AtomID, got[2].AtomID}
	assert.Equal(t, []core.AtomID{1, 2, 3}, ids)
}

func TestQuerySeesUnbuiltDelta(t *testing.T) {
	ix := NewIndex()

	// No rebuild: everything sits in the delta.
	require.NoError(t, ix.Insert(1, core.Point{X: 5}))
	require.NoError(t, ix.Insert(2, core.Point{X: 1}))

	got, err := ix.Query(core.Point{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.AtomID(2), got[0].AtomID)
}

func TestRemoveHidesPoint(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.NoError(t, ix.Insert(2, core.Point{X: 2}))
	require.NoError(t, ix.Rebuild(ctx))

	require.NoError(t, ix.Remove(1))
	require.ErrorIs(t, ix.Remove(1), ErrNotFound)

	got, err := ix.Query(core.Point{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.AtomID(2), got[0].AtomID)

	// Still hidden after the tombstone is folded into a rebuild.
	require.NoError(t, ix.Rebuild(ctx))
	got, err = ix.Query(core.Point{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.AtomID(2), got[0].AtomID)
}

func TestReinsertSupersedesBuiltPoint(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.NoError(t, ix.Insert(2, core.Point{X: 50}))
	require.NoError(t, ix.Rebuild(ctx))

	// Move atom 1 far away. The built tree still holds the old position
	// until the next rebuild; queries must only see the new one.
	require.NoError(t, ix.Remove(1))
	require.NoError(t, ix.Insert(1, core.Point{X: 100}))

	got, err := ix.Query(core.Point{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.AtomID(2), got[0].AtomID)
	assert.Equal(t, core.AtomID(1), got[1].AtomID)
	assert.InDelta(t, 100.0, got[1].Distance, 1e-12)

	near, err := ix.QueryRadius(core.Point{}, 5)
	require.NoError(t, err)
	assert.Empty(t, near)

	// The fold into a rebuild keeps the new position authoritative.
	require.NoError(t, ix.Rebuild(ctx))
	got, err = ix.Query(core.Point{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.AtomID(2), got[0].AtomID)
	assert.InDelta(t, 100.0, got[1].Distance, 1e-12)
}

func TestReinsertInDeltaUsesLatestPoint(t *testing.T) {
	ix := NewIndex()

	// No rebuild: both positions sit in the delta; the later one wins.
	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.NoError(t, ix.Remove(1))
	require.NoError(t, ix.Insert(1, core.Point{X: 100}))

	got, err := ix.Query(core.Point{}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 100.0, got[0].Distance, 1e-12)
}

func TestQueryRadius(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.NoError(t, ix.Insert(2, core.Point{X: 2}))
	require.NoError(t, ix.Insert(3, core.Point{X: 10}))
	require.NoError(t, ix.Rebuild(ctx))

	got, err := ix.QueryRadius(core.Point{}, 2.5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.AtomID(1), got[0].AtomID)
	assert.Equal(t, core.AtomID(2), got[1].AtomID)
}

func TestInvalidK(t *testing.T) {
	ix := NewIndex()
	_, err := ix.Query(core.Point{}, 0)
	require.ErrorIs(t, err, ErrInvalidK)
}

func TestDuplicateInsert(t *testing.T) {
	ix := NewIndex()
	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.ErrorIs(t, ix.Insert(1, core.Point{X: 2}), ErrDuplicate)
}

func TestRebuildUnderConcurrentQueries(t *testing.T) {
	ctx := context.Background()
	points := randomPoints(300, 11)

	ix := NewIndex()
	for id, p := range points {
		require.NoError(t, ix.Insert(id, p))
	}
	require.NoError(t, ix.Rebuild(ctx))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := ix.Query(core.Point{}, 5)
				if err != nil {
					t.Error(err)
					return
				}
				// A query must never observe a partially built index.
				if len(res) != 5 {
					t.Errorf("expected 5 results, got %d", len(res))
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, ix.Rebuild(ctx))
	}
	close(stop)
	wg.Wait()
}

func TestHilbertRangeMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	points := randomPoints(200, 23)

	ix := NewIndex()
	for id, p := range points {
		require.NoError(t, ix.Insert(id, p))
	}
	require.NoError(t, ix.Rebuild(ctx))

	q := core.Point{X: 10, Y: -20, Z: 30}
	const window = uint64(1) << 40

	got := ix.HilbertRange(q, window)

	hq := ix.HilbertValue(q)
	var want []core.AtomID
	for id, p := range points {
		h := ix.HilbertValue(p)
		var diff uint64
		if h > hq {
			diff = h - hq
		} else {
			diff = hq - h
		}
		if diff <= window {
			want = append(want, id)
		}
	}

	assert.ElementsMatch(t, want, got)
}

func TestHilbertRangeExcludesRemoved(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	p := core.Point{X: 1, Y: 2, Z: 3}
	require.NoError(t, ix.Insert(1, p))
	require.NoError(t, ix.Rebuild(ctx))

	require.NoError(t, ix.Remove(1))
	ids := ix.HilbertRange(p, 100)
	assert.Empty(t, ids)
}

func TestCheckConsistency(t *testing.T) {
	ctx := context.Background()
	ix := NewIndex()

	require.NoError(t, ix.Insert(1, core.Point{X: 1}))
	require.NoError(t, ix.Insert(2, core.Point{X: 2}))
	require.NoError(t, ix.Rebuild(ctx))

	require.NoError(t, ix.CheckConsistency(func(core.AtomID) bool { return true }))

	err := ix.CheckConsistency(func(id core.AtomID) bool { return id != 2 })
	var inc *ErrInconsistent
	require.ErrorAs(t, err, &inc)
	assert.Equal(t, 1, inc.Missing)

	dropped := ix.DropMissing(func(id core.AtomID) bool { return id != 2 })
	assert.Equal(t, 1, dropped)
	require.NoError(t, ix.CheckConsistency(func(id core.AtomID) bool { return id != 2 }))
}
