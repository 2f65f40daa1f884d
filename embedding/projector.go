package embedding

import (
	"fmt"
	"math"

	"github.com/hupe1980/atomgo/core"
)

// Projector reduces a high-dimensional vector to the 3-D spatial
// coordinate used for geometric indexing. The transform must be fixed
// and deterministic; its derivation (landmark selection, basis fitting)
// happens outside the core.
type Projector interface {
	Project(vector []float32) (core.Point, error)
}

// ErrDimensionMismatch indicates a vector whose dimensionality does not
// match the projector configuration.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// LeadingDimsProjector is the documented neutral default: it takes the
// first three vector components as coordinates, padding with zeros for
// shorter vectors. It applies no learned transform.
type LeadingDimsProjector struct{}

// Project implements Projector.
func (LeadingDimsProjector) Project(vector []float32) (core.Point, error) {
	var p core.Point
	if len(vector) > 0 {
		p.X = float64(vector[0])
	}
	if len(vector) > 1 {
		p.Y = float64(vector[1])
	}
	if len(vector) > 2 {
		p.Z = float64(vector[2])
	}
	return p, nil
}

// LandmarkProjector projects a vector to the Euclidean distances from
// three fixed landmark vectors. Landmarks are chosen by the embedding
// provider; the core only evaluates the fixed transform.
type LandmarkProjector struct {
	landmarks [3][]float32
	dim       int
}

// NewLandmarkProjector creates a projector from three landmark vectors of
// equal dimension.
func NewLandmarkProjector(a, b, c []float32) (*LandmarkProjector, error) {
	if len(a) == 0 || len(a) != len(b) || len(a) != len(c) {
		return nil, fmt.Errorf("landmarks must share a non-zero dimension: %d/%d/%d", len(a), len(b), len(c))
	}
	return &LandmarkProjector{
		landmarks: [3][]float32{
			append([]float32(nil), a...),
			append([]float32(nil), b...),
			append([]float32(nil), c...),
		},
		dim: len(a),
	}, nil
}

// Project implements Projector.
func (lp *LandmarkProjector) Project(vector []float32) (core.Point, error) {
	if len(vector) != lp.dim {
		return core.Point{}, &ErrDimensionMismatch{Expected: lp.dim, Actual: len(vector)}
	}
	return core.Point{
		X: euclidean(vector, lp.landmarks[0]),
		Y: euclidean(vector, lp.landmarks[1]),
		Z: euclidean(vector, lp.landmarks[2]),
	}, nil
}

// BasisProjector projects a vector onto three fixed basis vectors via dot
// products.
type BasisProjector struct {
	basis [3][]float32
	dim   int
}

// NewBasisProjector creates a projector from three basis vectors of equal
// dimension.
func NewBasisProjector(a, b, c []float32) (*BasisProjector, error) {
	if len(a) == 0 || len(a) != len(b) || len(a) != len(c) {
		return nil, fmt.Errorf("basis vectors must share a non-zero dimension: %d/%d/%d", len(a), len(b), len(c))
	}
	return &BasisProjector{
		basis: [3][]float32{
			append([]float32(nil), a...),
			append([]float32(nil), b...),
			append([]float32(nil), c...),
		},
		dim: len(a),
	}, nil
}

// Project implements Projector.
func (bp *BasisProjector) Project(vector []float32) (core.Point, error) {
	if len(vector) != bp.dim {
		return core.Point{}, &ErrDimensionMismatch{Expected: bp.dim, Actual: len(vector)}
	}
	return core.Point{
		X: dot(vector, bp.basis[0]),
		Y: dot(vector, bp.basis[1]),
		Z: dot(vector, bp.basis[2]),
	}, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
