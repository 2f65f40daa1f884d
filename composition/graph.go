// Package composition maintains the structural view over atoms: ordered
// parent/component mappings that reconstruct the original object
// bit-for-bit by concatenating component payloads in sequence order.
package composition

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/provenance"
)

var (
	// ErrNotFound is returned when a parent has no recorded composition.
	ErrNotFound = errors.New("composition not found")

	// ErrEmptyComposition is returned when linking zero components.
	ErrEmptyComposition = errors.New("composition has no components")

	// ErrAlreadyLinked is returned when a parent already has components.
	ErrAlreadyLinked = errors.New("parent already linked")

	// ErrCycleDetected is returned by Reconstruct when traversal revisits
	// a node. Composition graphs are acyclic by contract.
	ErrCycleDetected = errors.New("cycle detected in composition graph")
)

// ErrDuplicateSequence indicates two components sharing a sequence index.
type ErrDuplicateSequence struct {
	Parent        core.AtomID
	SequenceIndex uint64
}

func (e *ErrDuplicateSequence) Error() string {
	return fmt.Sprintf("duplicate sequence index %d for parent %d", e.SequenceIndex, e.Parent)
}

// SpatialKey is the structural position of a component within its parent:
// a pixel coordinate for images, a token index for text, a sample offset
// for audio. Unused axes are zero.
type SpatialKey struct {
	X, Y int64
}

// ComponentRef is one ordered component of a composition.
type ComponentRef struct {
	AtomID        core.AtomID
	SequenceIndex uint64
	SpatialKey    SpatialKey
}

// Graph is the composition graph. Parents map to components sorted by
// sequence index; a reverse index supports impact analysis.
type Graph struct {
	mu       sync.RWMutex
	children map[core.AtomID][]ComponentRef
	parents  map[core.AtomID][]core.AtomID

	store *atom.Store
	sink  provenance.Sink
}

// Option configures the Graph.
type Option func(*Graph)

// WithProvenanceSink sets the audit sink for CompositionLinked events.
func WithProvenanceSink(sink provenance.Sink) Option {
	return func(g *Graph) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// NewGraph creates a composition graph reading payloads from store.
func NewGraph(store *atom.Store, optFns ...Option) *Graph {
	g := &Graph{
		children: make(map[core.AtomID][]ComponentRef),
		parents:  make(map[core.AtomID][]core.AtomID),
		store:    store,
		sink:     provenance.NopSink{},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(g)
		}
	}
	return g
}

// Link records the ordered components of parent. Sequence indices must be
// unique; components are stored sorted so traversal is a linear walk.
// The component atoms' references are owned by the composition and are
// released by Unlink.
func (g *Graph) Link(parent core.AtomID, components []ComponentRef) error {
	if len(components) == 0 {
		return ErrEmptyComposition
	}

	sorted := append([]ComponentRef(nil), components...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceIndex < sorted[j].SequenceIndex
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].SequenceIndex == sorted[i-1].SequenceIndex {
			return &ErrDuplicateSequence{Parent: parent, SequenceIndex: sorted[i].SequenceIndex}
		}
	}

	g.mu.Lock()
	if _, ok := g.children[parent]; ok {
		g.mu.Unlock()
		return ErrAlreadyLinked
	}
	g.children[parent] = sorted
	for _, c := range sorted {
		g.parents[c.AtomID] = append(g.parents[c.AtomID], parent)
	}
	g.mu.Unlock()

	now := time.Now()
	for _, c := range sorted {
		g.sink.Emit(provenance.Event{
			Type:        provenance.EventCompositionLinked,
			Time:        now,
			AtomID:      parent,
			ComponentID: c.AtomID,
		})
	}

	return nil
}

// Append extends the composition of parent with further components, as
// produced by chunked ingestion. Sequence indices must not collide with
// already recorded ones. Appending to an unknown parent starts a new
// composition.
func (g *Graph) Append(parent core.AtomID, components []ComponentRef) error {
	if len(components) == 0 {
		return ErrEmptyComposition
	}

	sorted := append([]ComponentRef(nil), components...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SequenceIndex < sorted[j].SequenceIndex
	})

	g.mu.Lock()
	existing := g.children[parent]
	seen := make(map[uint64]struct{}, len(existing)+len(sorted))
	for _, c := range existing {
		seen[c.SequenceIndex] = struct{}{}
	}
	for _, c := range sorted {
		if _, dup := seen[c.SequenceIndex]; dup {
			g.mu.Unlock()
			return &ErrDuplicateSequence{Parent: parent, SequenceIndex: c.SequenceIndex}
		}
		seen[c.SequenceIndex] = struct{}{}
	}

	merged := append(append([]ComponentRef(nil), existing...), sorted...)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].SequenceIndex < merged[j].SequenceIndex
	})
	g.children[parent] = merged
	for _, c := range sorted {
		g.parents[c.AtomID] = append(g.parents[c.AtomID], parent)
	}
	g.mu.Unlock()

	now := time.Now()
	for _, c := range sorted {
		g.sink.Emit(provenance.Event{
			Type:        provenance.EventCompositionLinked,
			Time:        now,
			AtomID:      parent,
			ComponentID: c.AtomID,
		})
	}

	return nil
}

// Components returns the components of parent in sequence order.
func (g *Graph) Components(parent core.AtomID) ([]ComponentRef, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	refs, ok := g.children[parent]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]ComponentRef(nil), refs...), nil
}

// ParentsOf returns the parents referencing an atom as a component.
// Used for impact analysis before pruning.
func (g *Graph) ParentsOf(component core.AtomID) []core.AtomID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]core.AtomID(nil), g.parents[component]...)
}

// Reconstruct reproduces the original byte sequence of parent by
// traversing its components in sequence order and concatenating payloads.
// Components that are themselves composites are expanded in place.
//
// Traversal is iterative with an explicit stack and an on-path visited
// guard; a revisit on the current path fails with ErrCycleDetected.
func (g *Graph) Reconstruct(parent core.AtomID) ([]byte, error) {
	g.mu.RLock()
	_, ok := g.children[parent]
	g.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	type frame struct {
		id   core.AtomID
		next int
	}

	var out []byte
	onPath := map[core.AtomID]bool{parent: true}
	stack := []frame{{id: parent}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		g.mu.RLock()
		refs := g.children[top.id]
		g.mu.RUnlock()

		if top.next >= len(refs) {
			delete(onPath, top.id)
			stack = stack[:len(stack)-1]
			continue
		}

		child := refs[top.next].AtomID
		top.next++

		g.mu.RLock()
		_, composite := g.children[child]
		g.mu.RUnlock()

		if composite {
			if onPath[child] {
				return nil, ErrCycleDetected
			}
			onPath[child] = true
			stack = append(stack, frame{id: child})
			continue
		}

		a, err := g.store.Get(child)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", child, err)
		}
		out = append(out, a.Payload...)
	}

	return out, nil
}

// Unlink removes the composition of parent and releases the component
// references it owned.
func (g *Graph) Unlink(parent core.AtomID) error {
	g.mu.Lock()
	refs, ok := g.children[parent]
	if !ok {
		g.mu.Unlock()
		return ErrNotFound
	}
	delete(g.children, parent)
	for _, c := range refs {
		ps := g.parents[c.AtomID]
		for i, p := range ps {
			if p == parent {
				g.parents[c.AtomID] = append(ps[:i], ps[i+1:]...)
				break
			}
		}
		if len(g.parents[c.AtomID]) == 0 {
			delete(g.parents, c.AtomID)
		}
	}
	g.mu.Unlock()

	var firstErr error
	for _, c := range refs {
		if err := g.store.Release(c.AtomID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release component %d: %w", c.AtomID, err)
		}
	}
	return firstErr
}

// Len returns the number of recorded compositions.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.children)
}

// Export returns all compositions for snapshotting, keyed by parent.
func (g *Graph) Export() map[core.AtomID][]ComponentRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[core.AtomID][]ComponentRef, len(g.children))
	for parent, refs := range g.children {
		out[parent] = append([]ComponentRef(nil), refs...)
	}
	return out
}

// Restore loads compositions from a snapshot into an empty graph.
func (g *Graph) Restore(compositions map[core.AtomID][]ComponentRef) error {
	for parent, refs := range compositions {
		if err := g.Link(parent, refs); err != nil {
			return fmt.Errorf("restore parent %d: %w", parent, err)
		}
	}
	return nil
}
