package spatial

import (
	"container/heap"
	"sort"

	"github.com/hupe1980/atomgo/core"
)

// item is a stored point with its atom id.
type item struct {
	id    core.AtomID
	point core.Point
}

// kdNode is a node of a balanced KD-tree over 3-D points.
type kdNode struct {
	item        item
	axis        int
	left, right *kdNode
}

func axisValue(p core.Point, axis int) float64 {
	switch axis {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

// buildKDTree builds a balanced tree by median split. The input slice is
// reordered in place.
func buildKDTree(items []item, depth int) *kdNode {
	if len(items) == 0 {
		return nil
	}

	axis := depth % 3
	sort.Slice(items, func(i, j int) bool {
		vi, vj := axisValue(items[i].point, axis), axisValue(items[j].point, axis)
		if vi != vj {
			return vi < vj
		}
		return items[i].id < items[j].id
	})

	mid := len(items) / 2
	return &kdNode{
		item:  items[mid],
		axis:  axis,
		left:  buildKDTree(items[:mid], depth+1),
		right: buildKDTree(items[mid+1:], depth+1),
	}
}

// candidate is a scored result during search.
type candidate struct {
	id   core.AtomID
	dist float64
}

// less orders candidates by distance, ties broken by ascending atom id so
// results are deterministic.
func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.id < o.id
}

// worstHeap is a max-heap of candidates: the top is the worst kept result.
type worstHeap []candidate

func (h worstHeap) Len() int           { return len(h) }
func (h worstHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h worstHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstHeap) Push(x any)        { *h = append(*h, x.(candidate)) }

func (h *worstHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

func (h worstHeap) worst() candidate { return h[0] }

// knn collects the k nearest items to q, skipping ids rejected by filter.
func (n *kdNode) knn(q core.Point, k int, filter func(core.AtomID) bool, best *worstHeap) {
	if n == nil {
		return
	}

	if filter == nil || filter(n.item.id) {
		c := candidate{id: n.item.id, dist: q.DistanceTo(n.item.point)}
		if best.Len() < k {
			heap.Push(best, c)
		} else if c.less(best.worst()) {
			heap.Pop(best)
			heap.Push(best, c)
		}
	}

	diff := axisValue(q, n.axis) - axisValue(n.item.point, n.axis)
	near, far := n.left, n.right
	if diff > 0 {
		near, far = far, near
	}

	near.knn(q, k, filter, best)

	// Prune the far side unless the splitting plane is closer than the
	// worst kept candidate.
	if best.Len() < k || diff*diff <= best.worst().dist*best.worst().dist {
		far.knn(q, k, filter, best)
	}
}

// inRadius collects all items within radius of q.
func (n *kdNode) inRadius(q core.Point, radius float64, filter func(core.AtomID) bool, out *[]candidate) {
	if n == nil {
		return
	}

	if filter == nil || filter(n.item.id) {
		if d := q.DistanceTo(n.item.point); d <= radius {
			*out = append(*out, candidate{id: n.item.id, dist: d})
		}
	}

	diff := axisValue(q, n.axis) - axisValue(n.item.point, n.axis)
	if diff <= radius {
		n.left.inRadius(q, radius, filter, out)
	}
	if -diff <= radius {
		n.right.inRadius(q, radius, filter, out)
	}
}
