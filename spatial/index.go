// Package spatial provides the locality-preserving geometric index over
// embedding projections: a balanced KD-tree for nearest-neighbor queries
// plus a precomputed Hilbert value per point for cheap 1-D range
// pre-filtering.
//
// The index follows a build-then-swap discipline: background rebuilds
// construct a fresh tree off to the side and atomically swap the active
// pointer, so in-flight queries never observe a partially built
// structure. Inserts land in an append delta that queries merge in until
// the next rebuild folds it into the tree.
package spatial

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/atomgo/core"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotFound is returned when removing an id that is not indexed.
	ErrNotFound = errors.New("point not found")

	// ErrDuplicate is returned when inserting an id that is already indexed.
	ErrDuplicate = errors.New("point already indexed")
)

// ErrInconsistent reports divergence between the index and the atom store.
type ErrInconsistent struct {
	Missing int
}

func (e *ErrInconsistent) Error() string {
	return fmt.Sprintf("spatial index inconsistent: %d indexed atoms missing from store", e.Missing)
}

// Result is one query hit, ordered by distance then ascending atom id.
type Result struct {
	AtomID   core.AtomID
	Distance float64
}

// snapshot is an immutable built view of the index.
type snapshot struct {
	root *kdNode
	size int

	// hilbert is sorted by value for range pre-filtering.
	hilbert []hilbertEntry
}

type hilbertEntry struct {
	value uint64
	id    core.AtomID
}

// Index is the spatial index.
type Index struct {
	curve Curve

	mu      sync.RWMutex
	points  map[core.AtomID]core.Point
	delta   []item
	removed *roaring64.Bitmap

	// superseded marks ids whose position in the built snapshot is stale
	// because they were removed and re-inserted at a new point. Queries
	// drop their snapshot hits and take the position from the delta.
	superseded *roaring64.Bitmap

	active atomic.Pointer[snapshot]

	rebuilds atomic.Uint64
}

// Option configures the Index.
type Option func(*Index)

// WithCurve sets the Hilbert curve used for locality values.
func WithCurve(c Curve) Option {
	return func(ix *Index) {
		ix.curve = c
	}
}

// NewIndex creates an empty spatial index.
func NewIndex(optFns ...Option) *Index {
	ix := &Index{
		curve:      DefaultCurve(),
		points:     make(map[core.AtomID]core.Point),
		removed:    roaring64.New(),
		superseded: roaring64.New(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(ix)
		}
	}
	ix.active.Store(&snapshot{})
	return ix
}

// Curve returns the configured Hilbert curve.
func (ix *Index) Curve() Curve { return ix.curve }

// Insert adds a point for an atom. Inserts are append-mostly: the point
// is visible to queries immediately via the delta and folded into the
// tree on the next rebuild.
func (ix *Index) Insert(id core.AtomID, p core.Point) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.points[id]; ok {
		return ErrDuplicate
	}
	if ix.removed.Contains(uint64(id)) {
		// The built tree may still hold the atom's previous position.
		ix.superseded.Add(uint64(id))
		ix.removed.Remove(uint64(id))
	}
	ix.points[id] = p
	ix.delta = append(ix.delta, item{id: id, point: p})
	return nil
}

// Remove drops an atom from the index. The removal is a tombstone that
// queries filter out; the next rebuild discards the point entirely.
func (ix *Index) Remove(id core.AtomID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.points[id]; !ok || ix.removed.Contains(uint64(id)) {
		return ErrNotFound
	}
	delete(ix.points, id)
	ix.removed.Add(uint64(id))
	return nil
}

// Point returns the indexed position of an atom.
func (ix *Index) Point(id core.AtomID) (core.Point, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	p, ok := ix.points[id]
	if !ok || ix.removed.Contains(uint64(id)) {
		return core.Point{}, false
	}
	return p, true
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.points)
}

// Query returns the k nearest neighbors of q in ascending distance order,
// ties broken by ascending atom id.
func (ix *Index) Query(q core.Point, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}

	snap, delta, removed, superseded := ix.view()

	notRemoved := func(id core.AtomID) bool {
		return !removed.Contains(uint64(id))
	}
	live := func(id core.AtomID) bool {
		return notRemoved(id) && !superseded.Contains(uint64(id))
	}

	best := make(worstHeap, 0, k)
	snap.root.knn(q, k, live, &best)

	cands := append([]candidate(nil), best...)
	for id, p := range latest(delta, notRemoved) {
		cands = append(cands, candidate{id: id, dist: q.DistanceTo(p)})
	}

	return finalize(cands, k), nil
}

// QueryRadius returns all points within radius of q, ordered by distance
// then ascending atom id.
func (ix *Index) QueryRadius(q core.Point, radius float64) ([]Result, error) {
	if radius < 0 {
		return nil, fmt.Errorf("radius must be non-negative, got %g", radius)
	}

	snap, delta, removed, superseded := ix.view()

	notRemoved := func(id core.AtomID) bool {
		return !removed.Contains(uint64(id))
	}
	live := func(id core.AtomID) bool {
		return notRemoved(id) && !superseded.Contains(uint64(id))
	}

	var cands []candidate
	snap.root.inRadius(q, radius, live, &cands)

	for id, p := range latest(delta, notRemoved) {
		if d := q.DistanceTo(p); d <= radius {
			cands = append(cands, candidate{id: id, dist: d})
		}
	}

	return finalize(cands, len(cands)), nil
}

// HilbertValue returns the Hilbert value of p under the index curve.
func (ix *Index) HilbertValue(p core.Point) uint64 {
	return ix.curve.Encode(p)
}

// HilbertRange returns the ids of built points whose Hilbert value lies
// within window of the value of q. This is a locality pre-filter: it
// preserves spatial proximity with high but not perfect fidelity, so
// callers must verify true distances on the survivors. Delta points not
// yet folded into a rebuild are not included.
func (ix *Index) HilbertRange(q core.Point, window uint64) []core.AtomID {
	h := ix.curve.Encode(q)

	lo := uint64(0)
	if h > window {
		lo = h - window
	}
	hi := h + window
	if hi < h {
		hi = ^uint64(0)
	}

	snap, _, removed, superseded := ix.view()

	entries := snap.hilbert
	start := sort.Search(len(entries), func(i int) bool { return entries[i].value >= lo })

	var out []core.AtomID
	for i := start; i < len(entries) && entries[i].value <= hi; i++ {
		if removed.Contains(uint64(entries[i].id)) || superseded.Contains(uint64(entries[i].id)) {
			continue
		}
		out = append(out, entries[i].id)
	}
	return out
}

// Rebuild constructs a fresh balanced tree from the authoritative point
// set and atomically swaps it in. Concurrent queries keep using the old
// snapshot until the swap.
func (ix *Index) Rebuild(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.mu.RLock()
	items := make([]item, 0, len(ix.points))
	for id, p := range ix.points {
		items = append(items, item{id: id, point: p})
	}
	deltaLen := len(ix.delta)
	ix.mu.RUnlock()

	// Build off to the side; no locks held.
	hilbert := make([]hilbertEntry, len(items))
	for i, it := range items {
		hilbert[i] = hilbertEntry{value: ix.curve.Encode(it.point), id: it.id}
	}
	sort.Slice(hilbert, func(i, j int) bool {
		if hilbert[i].value != hilbert[j].value {
			return hilbert[i].value < hilbert[j].value
		}
		return hilbert[i].id < hilbert[j].id
	})

	snap := &snapshot{
		root:    buildKDTree(items, 0),
		size:    len(items),
		hilbert: hilbert,
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	snapIDs := roaring64.New()
	for _, it := range items {
		snapIDs.Add(uint64(it.id))
	}

	// Swap, trim the delta entries the new snapshot covers, and drop
	// tombstones for points the snapshot no longer contains. Tombstones
	// for removals that raced the build are kept so queries keep
	// filtering them until the next rebuild. Superseded marks survive
	// only for ids whose fresher position is still in the delta.
	ix.mu.Lock()
	ix.active.Store(snap)
	ix.delta = append([]item(nil), ix.delta[deltaLen:]...)
	ix.removed.And(snapIDs)
	superseded := roaring64.New()
	for _, it := range ix.delta {
		if snapIDs.Contains(uint64(it.id)) {
			superseded.Add(uint64(it.id))
		}
	}
	ix.superseded = superseded
	ix.mu.Unlock()

	ix.rebuilds.Add(1)
	return nil
}

// Rebuilds returns the number of completed rebuilds.
func (ix *Index) Rebuilds() uint64 {
	return ix.rebuilds.Load()
}

// CheckConsistency verifies that every indexed atom still exists
// according to exists. Divergence is reported as *ErrInconsistent and is
// expected to trigger a rebuild by the caller; it is never silently
// ignored here.
func (ix *Index) CheckConsistency(exists func(core.AtomID) bool) error {
	ix.mu.RLock()
	ids := make([]core.AtomID, 0, len(ix.points))
	for id := range ix.points {
		ids = append(ids, id)
	}
	ix.mu.RUnlock()

	missing := 0
	for _, id := range ids {
		if !exists(id) {
			missing++
		}
	}
	if missing > 0 {
		return &ErrInconsistent{Missing: missing}
	}
	return nil
}

// DropMissing removes indexed atoms rejected by exists. Used to repair an
// inconsistency before rebuilding.
func (ix *Index) DropMissing(exists func(core.AtomID) bool) int {
	ix.mu.Lock()
	var victims []core.AtomID
	for id := range ix.points {
		if !exists(id) {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		delete(ix.points, id)
		ix.removed.Add(uint64(id))
	}
	ix.mu.Unlock()
	return len(victims)
}

// view captures a consistent read view: the active snapshot, the pending
// delta, the removal set and the superseded set.
func (ix *Index) view() (*snapshot, []item, *roaring64.Bitmap, *roaring64.Bitmap) {
	snap := ix.active.Load()
	ix.mu.RLock()
	delta := ix.delta
	removed := ix.removed.Clone()
	superseded := ix.superseded.Clone()
	ix.mu.RUnlock()
	return snap, delta, removed, superseded
}

// latest folds the delta into its freshest surviving position per id. A
// removed and re-inserted atom appears twice in the delta; only the
// later entry is current.
func latest(delta []item, keep func(core.AtomID) bool) map[core.AtomID]core.Point {
	out := make(map[core.AtomID]core.Point, len(delta))
	for _, it := range delta {
		if keep(it.id) {
			out[it.id] = it.point
		}
	}
	return out
}

// finalize sorts candidates deterministically, deduplicates ids and
// truncates to k.
func finalize(cands []candidate, k int) []Result {
	sort.Slice(cands, func(i, j int) bool { return cands[i].less(cands[j]) })

	out := make([]Result, 0, min(k, len(cands)))
	seen := make(map[core.AtomID]struct{}, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.id]; ok {
			continue
		}
		seen[c.id] = struct{}{}
		out = append(out, Result{AtomID: c.id, Distance: c.dist})
		if len(out) == k {
			break
		}
	}
	return out
}
