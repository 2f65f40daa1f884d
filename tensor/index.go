// Package tensor maintains the positional coefficient index for numeric
// tensor atoms. The layout is columnar (struct-of-arrays) so aggregation
// queries scan only the columns they need and never reconstruct a full
// tensor through the structural path.
package tensor

import (
	"errors"
	"math"
	"sync"

	"github.com/hupe1980/atomgo/core"
)

// ErrNoCoefficients is returned when an aggregation matches no rows.
var ErrNoCoefficients = errors.New("no coefficients match")

// Position is a coordinate within a tensor layer.
type Position struct {
	X, Y, Z uint32
}

// Coefficient is one positional tensor entry.
type Coefficient struct {
	TensorAtomID core.AtomID
	ModelID      core.ModelID
	LayerIndex   uint32
	Position     Position
	Value        float32
}

// Aggregate summarizes matching coefficient values.
type Aggregate struct {
	Count    int
	Mean     float64
	Variance float64
	Min      float32
	Max      float32
}

// Index stores coefficients column-wise.
type Index struct {
	mu     sync.RWMutex
	atoms  []core.AtomID
	models []core.ModelID
	layers []uint32
	xs     []uint32
	ys     []uint32
	zs     []uint32
	values []float32
}

// NewIndex creates an empty coefficient index.
func NewIndex() *Index {
	return &Index{}
}

// Add appends coefficients to the index.
func (ix *Index) Add(coeffs ...Coefficient) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, c := range coeffs {
		ix.atoms = append(ix.atoms, c.TensorAtomID)
		ix.models = append(ix.models, c.ModelID)
		ix.layers = append(ix.layers, c.LayerIndex)
		ix.xs = append(ix.xs, c.Position.X)
		ix.ys = append(ix.ys, c.Position.Y)
		ix.zs = append(ix.zs, c.Position.Z)
		ix.values = append(ix.values, c.Value)
	}
}

// Len returns the number of stored coefficients.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.values)
}

// AggregateAt computes mean and variance of the coefficient value at a
// fixed layer and position across all models.
func (ix *Index) AggregateAt(layer uint32, pos Position) (Aggregate, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.aggregate(func(i int) bool {
		return ix.layers[i] == layer && ix.xs[i] == pos.X && ix.ys[i] == pos.Y && ix.zs[i] == pos.Z
	})
}

// LayerStats computes aggregate statistics over a whole layer of one model.
func (ix *Index) LayerStats(model core.ModelID, layer uint32) (Aggregate, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.aggregate(func(i int) bool {
		return ix.models[i] == model && ix.layers[i] == layer
	})
}

// ModelStats computes aggregate statistics over every coefficient of one
// model.
func (ix *Index) ModelStats(model core.ModelID) (Aggregate, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.aggregate(func(i int) bool {
		return ix.models[i] == model
	})
}

// aggregate scans the value column once using Welford's algorithm.
// Caller holds at least a read lock.
func (ix *Index) aggregate(match func(i int) bool) (Aggregate, error) {
	var (
		count    int
		mean, m2 float64
		minV     = float32(math.Inf(1))
		maxV     = float32(math.Inf(-1))
	)

	for i := range ix.values {
		if !match(i) {
			continue
		}
		v := ix.values[i]
		count++
		delta := float64(v) - mean
		mean += delta / float64(count)
		m2 += delta * (float64(v) - mean)
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}

	if count == 0 {
		return Aggregate{}, ErrNoCoefficients
	}

	variance := 0.0
	if count > 1 {
		variance = m2 / float64(count)
	}

	return Aggregate{
		Count:    count,
		Mean:     mean,
		Variance: variance,
		Min:      minV,
		Max:      maxV,
	}, nil
}

// DropAtom removes all coefficients belonging to a reclaimed tensor atom.
// Returns the number of rows removed.
func (ix *Index) DropAtom(id core.AtomID) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := 0
	for i := 0; i < len(ix.atoms); {
		if ix.atoms[i] != id {
			i++
			continue
		}
		last := len(ix.atoms) - 1
		ix.atoms[i] = ix.atoms[last]
		ix.models[i] = ix.models[last]
		ix.layers[i] = ix.layers[last]
		ix.xs[i] = ix.xs[last]
		ix.ys[i] = ix.ys[last]
		ix.zs[i] = ix.zs[last]
		ix.values[i] = ix.values[last]

		ix.atoms = ix.atoms[:last]
		ix.models = ix.models[:last]
		ix.layers = ix.layers[:last]
		ix.xs = ix.xs[:last]
		ix.ys = ix.ys[:last]
		ix.zs = ix.zs[:last]
		ix.values = ix.values[:last]
		n++
	}
	return n
}

// Export returns all coefficients for snapshotting.
func (ix *Index) Export() []Coefficient {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]Coefficient, len(ix.values))
	for i := range ix.values {
		out[i] = Coefficient{
			TensorAtomID: ix.atoms[i],
			ModelID:      ix.models[i],
			LayerIndex:   ix.layers[i],
			Position:     Position{X: ix.xs[i], Y: ix.ys[i], Z: ix.zs[i]},
			Value:        ix.values[i],
		}
	}
	return out
}
