package testutil

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/atomgo/core"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Payload returns n random bytes, capped at the payload limit.
func (r *RNG) Payload(n int) []byte {
	if n > core.MaxPayloadSize {
		n = core.MaxPayloadSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := make([]byte, n)
	r.rand.Read(p)
	return p
}

// Vector returns a vector of dim uniform values in [0, 1).
func (r *RNG) Vector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = r.rand.Float32()
	}
	return vec
}

// GaussianVector returns a vector of dim standard normal values.
func (r *RNG) GaussianVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(r.rand.NormFloat64())
	}
	return vec
}

// PointIn returns a uniform random point inside the cube [min, max)^3.
func (r *RNG) PointIn(min, max float64) core.Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	span := max - min
	return core.Point{
		X: min + r.rand.Float64()*span,
		Y: min + r.rand.Float64()*span,
		Z: min + r.rand.Float64()*span,
	}
}

// PointNear returns a point jittered around center by at most radius in
// each coordinate.
func (r *RNG) PointNear(center core.Point, radius float64) core.Point {
	r.mu.Lock()
	defer r.mu.Unlock()

	return core.Point{
		X: center.X + (r.rand.Float64()*2-1)*radius,
		Y: center.Y + (r.rand.Float64()*2-1)*radius,
		Z: center.Z + (r.rand.Float64()*2-1)*radius,
	}
}

// Shuffle shuffles ids in place.
func (r *RNG) Shuffle(ids []core.AtomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
}

// Neighbor pairs an atom id with its exact distance to a query point.
type Neighbor struct {
	AtomID   core.AtomID
	Distance float64
}

// ExactNearest computes the exact k nearest points to query by linear
// scan. Ties break toward the lower atom id.
func ExactNearest(query core.Point, points map[core.AtomID]core.Point, k int) []Neighbor {
	neighbors := make([]Neighbor, 0, len(points))
	for id, p := range points {
		neighbors = append(neighbors, Neighbor{AtomID: id, Distance: query.DistanceTo(p)})
	}

	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance != neighbors[j].Distance {
			return neighbors[i].Distance < neighbors[j].Distance
		}
		return neighbors[i].AtomID < neighbors[j].AtomID
	})

	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// Recall returns the fraction of exact ids present in got.
func Recall(got []core.AtomID, exact []Neighbor) float64 {
	if len(exact) == 0 {
		return 1
	}

	found := make(map[core.AtomID]struct{}, len(got))
	for _, id := range got {
		found[id] = struct{}{}
	}

	hits := 0
	for _, n := range exact {
		if _, ok := found[n.AtomID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(exact))
}
