// Package embedding maintains the semantic view over atoms: at most one
// embedding per atom, independent of any structural role. Vectors come
// from an external provider; the index only projects them into the 3-D
// spatial coordinate and derives the Hilbert locality value.
package embedding

import (
	"errors"
	"sync"

	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/spatial"
)

var (
	// ErrNotFound is returned when an atom has no embedding.
	ErrNotFound = errors.New("embedding not found")

	// ErrEmptyVector is returned when putting a zero-length vector.
	ErrEmptyVector = errors.New("empty vector")
)

// Embedding couples an atom with its semantic vector, the reduced 3-D
// projection, and the Hilbert value derived from that projection.
//
// The Hilbert value is a pure function of the projection at the index's
// fixed curve precision.
type Embedding struct {
	AtomID       core.AtomID
	Vector       []float32
	Projection   core.Point
	HilbertValue uint64
}

// Index is the embedding index.
type Index struct {
	mu     sync.RWMutex
	byAtom map[core.AtomID]Embedding

	projector Projector
	curve     spatial.Curve
}

// Option configures the Index.
type Option func(*Index)

// WithProjector sets the projection transform. Defaults to the neutral
// LeadingDimsProjector.
func WithProjector(p Projector) Option {
	return func(ix *Index) {
		if p != nil {
			ix.projector = p
		}
	}
}

// WithCurve sets the Hilbert curve. Must match the spatial index curve so
// locality values agree across components.
func WithCurve(c spatial.Curve) Option {
	return func(ix *Index) {
		ix.curve = c
	}
}

// NewIndex creates an empty embedding index.
func NewIndex(optFns ...Option) *Index {
	ix := &Index{
		byAtom:    make(map[core.AtomID]Embedding),
		projector: LeadingDimsProjector{},
		curve:     spatial.DefaultCurve(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(ix)
		}
	}
	return ix
}

// Put stores the embedding for an atom, projecting the vector and
// deriving the Hilbert value. A second Put for the same atom replaces the
// previous embedding, preserving the one-embedding-per-atom invariant.
// Returns the stored record and whether an existing one was replaced.
func (ix *Index) Put(atomID core.AtomID, vector []float32) (Embedding, bool, error) {
	if len(vector) == 0 {
		return Embedding{}, false, ErrEmptyVector
	}

	point, err := ix.projector.Project(vector)
	if err != nil {
		return Embedding{}, false, err
	}

	emb := Embedding{
		AtomID:       atomID,
		Vector:       append([]float32(nil), vector...),
		Projection:   point,
		HilbertValue: ix.curve.Encode(point),
	}

	ix.mu.Lock()
	_, replaced := ix.byAtom[atomID]
	ix.byAtom[atomID] = emb
	ix.mu.Unlock()

	return emb, replaced, nil
}

// Get returns the embedding of an atom.
func (ix *Index) Get(atomID core.AtomID) (Embedding, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	emb, ok := ix.byAtom[atomID]
	if !ok {
		return Embedding{}, ErrNotFound
	}
	return emb, nil
}

// Remove drops the embedding of an atom.
func (ix *Index) Remove(atomID core.AtomID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byAtom[atomID]; !ok {
		return ErrNotFound
	}
	delete(ix.byAtom, atomID)
	return nil
}

// Count returns the number of stored embeddings.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byAtom)
}

// Project exposes the index's projection for query vectors that are not
// tied to an atom.
func (ix *Index) Project(vector []float32) (core.Point, error) {
	if len(vector) == 0 {
		return core.Point{}, ErrEmptyVector
	}
	return ix.projector.Project(vector)
}

// Range calls fn for every embedding until fn returns false.
func (ix *Index) Range(fn func(Embedding) bool) {
	ix.mu.RLock()
	embs := make([]Embedding, 0, len(ix.byAtom))
	for _, e := range ix.byAtom {
		embs = append(embs, e)
	}
	ix.mu.RUnlock()

	for _, e := range embs {
		if !fn(e) {
			return
		}
	}
}

// Restore loads embeddings from a snapshot into an empty index.
func (ix *Index) Restore(embs []Embedding) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range embs {
		ix.byAtom[e.AtomID] = e
	}
}
