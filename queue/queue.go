// Package queue provides the frontier priority queue used by path
// search.
package queue

import (
	"container/heap"

	"github.com/hupe1980/atomgo/core"
)

// Compile time check to ensure FrontierQueue satisfies the heap interface.
var _ heap.Interface = (*FrontierQueue)(nil)

// FrontierItem is one open node in a search frontier, ordered by total
// estimated cost.
type FrontierItem struct {
	AtomID    core.AtomID
	Cost      float64 // cost from the start node
	Heuristic float64 // estimated remaining cost
	Index     int     // maintained by heap.Interface methods
}

// Total returns the combined cost used for ordering.
func (it *FrontierItem) Total() float64 {
	return it.Cost + it.Heuristic
}

// FrontierQueue implements heap.Interface over FrontierItems. Ties on
// total cost break first on the smaller heuristic, then on the smaller
// atom id, so expansion order is deterministic.
type FrontierQueue struct {
	Items []*FrontierItem
}

// Len returns the number of elements in the queue.
func (q *FrontierQueue) Len() int { return len(q.Items) }

// Less reports whether the element with index i should sort before the element with index j.
func (q *FrontierQueue) Less(i, j int) bool {
	a, b := q.Items[i], q.Items[j]
	if a.Total() != b.Total() {
		return a.Total() < b.Total()
	}
	if a.Heuristic != b.Heuristic {
		return a.Heuristic < b.Heuristic
	}
	return a.AtomID < b.AtomID
}

// Swap swaps the elements with indexes i and j.
func (q *FrontierQueue) Swap(i, j int) {
	q.Items[i], q.Items[j] = q.Items[j], q.Items[i]
	q.Items[i].Index, q.Items[j].Index = i, j
}

// Push adds x to the queue.
func (q *FrontierQueue) Push(x any) {
	item, _ := x.(*FrontierItem)
	item.Index = len(q.Items)
	q.Items = append(q.Items, item)
}

// Pop removes and returns the cheapest element from the queue.
func (q *FrontierQueue) Pop() any {
	if len(q.Items) == 0 {
		return nil
	}

	old := q.Items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	q.Items = old[:n-1]

	return item
}

// Top returns the cheapest element without removing it.
func (q *FrontierQueue) Top() *FrontierItem {
	if len(q.Items) == 0 {
		return nil
	}
	return q.Items[0]
}
