// Package autonomy runs the self-maintenance loop: observe regional
// load on the semantic space, hypothesize maintenance work, queue it
// through an approval gate and execute it under resource limits, then
// feed outcomes back into the next cycle.
package autonomy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
)

const defaultPrefixBits = 9

// Region is a bucket of the semantic space identified by a Hilbert
// value prefix. Atoms whose Hilbert values share the prefix are spatial
// neighbors.
type Region struct {
	Prefix uint64 `json:"prefix"`
	Bits   uint8  `json:"bits"`
}

// String implements fmt.Stringer.
func (r Region) String() string {
	if r.Bits == 0 {
		return "global"
	}
	return fmt.Sprintf("%d/%d", r.Prefix, r.Bits)
}

// RegionMetrics is the observed state of one region.
type RegionMetrics struct {
	Region Region

	// Pressure is the atom count in the region.
	Pressure int

	// Velocity is the number of atom accesses in the region since the
	// previous observation.
	Velocity uint64

	Members []core.AtomID
}

// Observation is one full sweep of the semantic space.
type Observation struct {
	Regions []RegionMetrics

	// Tombstones is the store-wide count of reclaimable atoms.
	Tombstones uint64
}

// Observer buckets indexed atoms into Hilbert-prefix regions and tracks
// access deltas between sweeps.
type Observer struct {
	store      *atom.Store
	embeddings *embedding.Index
	prefixBits uint8

	mu         sync.Mutex
	lastAccess map[core.AtomID]uint64
}

// NewObserver creates an observer over the store and embedding index.
// prefixBits selects region granularity; zero uses the default of 9
// bits, three octree levels or 512 cells.
func NewObserver(store *atom.Store, embeddings *embedding.Index, prefixBits uint8) *Observer {
	if prefixBits == 0 || prefixBits > 63 {
		prefixBits = defaultPrefixBits
	}
	return &Observer{
		store:      store,
		embeddings: embeddings,
		prefixBits: prefixBits,
		lastAccess: make(map[core.AtomID]uint64),
	}
}

// Observe sweeps the embedding index and returns per-region metrics,
// ordered by descending pressure then ascending prefix.
func (o *Observer) Observe() Observation {
	buckets := make(map[uint64]*RegionMetrics)

	o.mu.Lock()
	defer o.mu.Unlock()

	seen := make(map[core.AtomID]uint64, len(o.lastAccess))

	o.embeddings.Range(func(e embedding.Embedding) bool {
		prefix := e.HilbertValue >> (63 - uint(o.prefixBits))

		m := buckets[prefix]
		if m == nil {
			m = &RegionMetrics{Region: Region{Prefix: prefix, Bits: o.prefixBits}}
			buckets[prefix] = m
		}
		m.Pressure++
		m.Members = append(m.Members, e.AtomID)

		count, _, err := o.store.AccessStats(e.AtomID)
		if err == nil {
			seen[e.AtomID] = count
			if prev, ok := o.lastAccess[e.AtomID]; ok && count > prev {
				m.Velocity += count - prev
			} else if !ok {
				m.Velocity += count
			}
		}
		return true
	})
	o.lastAccess = seen

	regions := make([]RegionMetrics, 0, len(buckets))
	for _, m := range buckets {
		sort.Slice(m.Members, func(i, j int) bool { return m.Members[i] < m.Members[j] })
		regions = append(regions, *m)
	}
	sort.Slice(regions, func(i, j int) bool {
		if regions[i].Pressure != regions[j].Pressure {
			return regions[i].Pressure > regions[j].Pressure
		}
		return regions[i].Region.Prefix < regions[j].Region.Prefix
	})

	return Observation{
		Regions:    regions,
		Tombstones: o.store.GetStats().Tombstones,
	}
}
