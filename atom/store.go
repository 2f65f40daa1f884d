// Package atom implements the content-addressable, deduplicating atom store.
//
// Atoms are immutable payloads of at most 64 bytes identified by a content
// hash over (payload, modality, subtype). Interning identical content from
// any number of goroutines converges on a single atom row; each logical
// intern increments the reference count by exactly one. Atoms whose count
// drops to zero are tombstoned and reclaimed lazily by garbage collection,
// never deleted in place, so concurrent readers holding an id are not
// invalidated mid-read.
package atom

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/provenance"
)

const (
	numShards = 16

	// maxInternRetries bounds the conflict-retry loop. A conflict only
	// occurs when an intern races a reclaim of the same hash, so more
	// than a couple of iterations is pathological.
	maxInternRetries = 16

	// refsCollected marks an entry that has been reclaimed. Any CAS
	// against it fails, forcing racing interns onto the create path.
	refsCollected = int64(math.MinInt64)
)

// Atom is a read-only view of a stored atom.
type Atom struct {
	ID             core.AtomID
	Hash           core.ContentHash
	Payload        []byte
	Modality       core.Modality
	Subtype        core.Subtype
	ReferenceCount int64
	CreatedAt      time.Time
}

type entry struct {
	id        core.AtomID
	hash      core.ContentHash
	payload   []byte
	modality  core.Modality
	subtype   core.Subtype
	createdAt time.Time

	refs       atomic.Int64
	accesses   atomic.Uint64
	lastAccess atomic.Int64 // unix nanos
}

// acquire increments the reference count unless the entry has been
// reclaimed. Returns false on a lost race with the garbage collector.
func (e *entry) acquire() bool {
	for {
		r := e.refs.Load()
		if r == refsCollected {
			return false
		}
		if e.refs.CompareAndSwap(r, r+1) {
			return true
		}
	}
}

func (e *entry) touch() {
	e.accesses.Add(1)
	e.lastAccess.Store(time.Now().UnixNano())
}

type shard struct {
	mu     sync.RWMutex
	byHash map[core.ContentHash]*entry
	byID   map[core.AtomID]*entry
}

// Stats is a snapshot of store counters.
type Stats struct {
	Atoms       int
	Tombstones  uint64
	Interns     uint64
	DedupHits   uint64
	Conflicts   uint64
	Reclaimed   uint64
	TotalBytes  uint64
}

// Store is the content-addressable atom store.
//
// The store is sharded by content hash; the only cross-shard state is the
// id allocator and the tombstone set. Dedup uses optimistic
// insert-or-increment: the common path takes a shard read lock, and
// losing a race with a concurrent reclaim retries transparently.
type Store struct {
	shards [numShards]shard
	nextID atomic.Uint64

	group singleflight.Group

	tombMu     sync.Mutex
	tombstones *roaring64.Bitmap

	sink provenance.Sink

	interns   atomic.Uint64
	dedupHits atomic.Uint64
	conflicts atomic.Uint64
	reclaimed atomic.Uint64
	bytes     atomic.Uint64
}

// Option configures the Store.
type Option func(*Store)

// WithProvenanceSink sets the audit sink for AtomCreated events.
// If unset, events are discarded.
func WithProvenanceSink(sink provenance.Sink) Option {
	return func(s *Store) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewStore creates an empty atom store.
func NewStore(optFns ...Option) *Store {
	s := &Store{
		tombstones: roaring64.New(),
		sink:       provenance.NopSink{},
	}
	for i := range s.shards {
		s.shards[i].byHash = make(map[core.ContentHash]*entry)
		s.shards[i].byID = make(map[core.AtomID]*entry)
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(s)
		}
	}
	return s
}

func (s *Store) hashShard(h core.ContentHash) *shard {
	return &s.shards[h[0]&(numShards-1)]
}

func (s *Store) idShard(id core.AtomID) *shard {
	return &s.shards[id&(numShards-1)]
}

// Intern stores a payload under its content identity and returns the atom
// id. If an atom with identical (payload, modality, subtype) already
// exists, its reference count is incremented and the existing id is
// returned; no duplicate row is ever created.
//
// Validation failures (oversized payload, unknown modality) are rejected
// before any mutation. Dedup races with concurrent reclaims are retried
// transparently and never surfaced.
func (s *Store) Intern(ctx context.Context, payload []byte, modality core.Modality, subtype core.Subtype) (core.AtomID, error) {
	if len(payload) > core.MaxPayloadSize {
		return core.ZeroAtomID, &ErrPayloadTooLarge{Size: len(payload)}
	}
	if modality == core.ModalityUnknown {
		return core.ZeroAtomID, ErrUnknownModality
	}
	if err := ctx.Err(); err != nil {
		return core.ZeroAtomID, err
	}

	hash := core.HashContent(payload, modality, subtype)
	s.interns.Add(1)

	for attempt := 0; attempt < maxInternRetries; attempt++ {
		// Fast path: the atom already exists.
		sh := s.hashShard(hash)
		sh.mu.RLock()
		e := sh.byHash[hash]
		sh.mu.RUnlock()

		if e != nil {
			if e.acquire() {
				s.dedupHits.Add(1)
				s.clearTombstone(e.id)
				return e.id, nil
			}
			// Lost the race against reclamation; retry from scratch.
			s.conflicts.Add(1)
			continue
		}

		// Slow path: create the row. Concurrent identical interns are
		// collapsed onto one creation; every caller still performs its
		// own acquire so each logical reference counts once.
		v, err, _ := s.group.Do(hash.String(), func() (any, error) {
			return s.createIfAbsent(hash, payload, modality, subtype), nil
		})
		if err != nil {
			return core.ZeroAtomID, err
		}

		e = v.(*entry)
		if e.acquire() {
			s.clearTombstone(e.id)
			return e.id, nil
		}
		s.conflicts.Add(1)
	}

	return core.ZeroAtomID, fmt.Errorf("intern retries exhausted: %w", ErrConflict)
}

// createIfAbsent inserts a zero-reference row for hash unless one exists.
func (s *Store) createIfAbsent(hash core.ContentHash, payload []byte, modality core.Modality, subtype core.Subtype) *entry {
	sh := s.hashShard(hash)
	sh.mu.Lock()
	if e, ok := sh.byHash[hash]; ok {
		sh.mu.Unlock()
		return e
	}

	e := &entry{
		id:        core.AtomID(s.nextID.Add(1)),
		hash:      hash,
		payload:   append([]byte(nil), payload...),
		modality:  modality,
		subtype:   subtype,
		createdAt: time.Now(),
	}
	sh.byHash[hash] = e
	sh.mu.Unlock()

	ish := s.idShard(e.id)
	ish.mu.Lock()
	ish.byID[e.id] = e
	ish.mu.Unlock()

	s.bytes.Add(uint64(len(e.payload)))

	s.sink.Emit(provenance.Event{
		Type:        provenance.EventAtomCreated,
		Time:        e.createdAt,
		AtomID:      e.id,
		ContentHash: hash,
		Detail:      modality.String(),
	})

	return e
}

// Get returns the payload and tags of an atom. Tombstoned atoms remain
// readable until reclaimed.
func (s *Store) Get(id core.AtomID) (Atom, error) {
	sh := s.idShard(id)
	sh.mu.RLock()
	e := sh.byID[id]
	sh.mu.RUnlock()

	if e == nil {
		return Atom{}, ErrNotFound
	}
	e.touch()

	return Atom{
		ID:             e.id,
		Hash:           e.hash,
		Payload:        append([]byte(nil), e.payload...),
		Modality:       e.modality,
		Subtype:        e.subtype,
		ReferenceCount: e.refs.Load(),
		CreatedAt:      e.createdAt,
	}, nil
}

// Resolve maps a content hash to its atom id, if present.
func (s *Store) Resolve(hash core.ContentHash) (core.AtomID, bool) {
	sh := s.hashShard(hash)
	sh.mu.RLock()
	e := sh.byHash[hash]
	sh.mu.RUnlock()

	if e == nil || e.refs.Load() == refsCollected {
		return core.ZeroAtomID, false
	}
	return e.id, true
}

// Release decrements the reference count of an atom. At zero the atom is
// tombstoned for lazy reclamation; the payload stays readable until the
// next garbage collection pass.
func (s *Store) Release(id core.AtomID) error {
	sh := s.idShard(id)
	sh.mu.RLock()
	e := sh.byID[id]
	sh.mu.RUnlock()

	if e == nil {
		return ErrNotFound
	}

	for {
		r := e.refs.Load()
		if r == refsCollected {
			return ErrNotFound
		}
		if r <= 0 {
			return ErrZeroRefCount
		}
		if e.refs.CompareAndSwap(r, r-1) {
			if r-1 == 0 {
				s.setTombstone(id)
			}
			return nil
		}
	}
}

// AccessStats reports the access counter and last-access time of an atom.
// Used by the autonomy loop to compute region velocity.
func (s *Store) AccessStats(id core.AtomID) (count uint64, last time.Time, err error) {
	sh := s.idShard(id)
	sh.mu.RLock()
	e := sh.byID[id]
	sh.mu.RUnlock()

	if e == nil {
		return 0, time.Time{}, ErrNotFound
	}
	nanos := e.lastAccess.Load()
	if nanos == 0 {
		return e.accesses.Load(), time.Time{}, nil
	}
	return e.accesses.Load(), time.Unix(0, nanos), nil
}

// ReferenceCount returns the current reference count of an atom.
func (s *Store) ReferenceCount(id core.AtomID) (int64, error) {
	sh := s.idShard(id)
	sh.mu.RLock()
	e := sh.byID[id]
	sh.mu.RUnlock()

	if e == nil {
		return 0, ErrNotFound
	}
	r := e.refs.Load()
	if r == refsCollected {
		return 0, ErrNotFound
	}
	return r, nil
}

// Range calls fn for every live atom until fn returns false.
// The order is unspecified. Tombstoned atoms are included; reclaimed
// atoms are not.
func (s *Store) Range(fn func(Atom) bool) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.byID))
		for _, e := range sh.byID {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			r := e.refs.Load()
			if r == refsCollected {
				continue
			}
			a := Atom{
				ID:             e.id,
				Hash:           e.hash,
				Payload:        append([]byte(nil), e.payload...),
				Modality:       e.modality,
				Subtype:        e.subtype,
				ReferenceCount: r,
				CreatedAt:      e.createdAt,
			}
			if !fn(a) {
				return
			}
		}
	}
}

// Restore loads atoms from a snapshot into an empty store.
// The id allocator is advanced past the highest restored id.
func (s *Store) Restore(atoms []Atom) error {
	var maxID uint64
	for _, a := range atoms {
		if len(a.Payload) > core.MaxPayloadSize {
			return &ErrPayloadTooLarge{Size: len(a.Payload)}
		}
		e := &entry{
			id:        a.ID,
			hash:      a.Hash,
			payload:   append([]byte(nil), a.Payload...),
			modality:  a.Modality,
			subtype:   a.Subtype,
			createdAt: a.CreatedAt,
		}
		e.refs.Store(a.ReferenceCount)

		hs := s.hashShard(a.Hash)
		hs.mu.Lock()
		hs.byHash[a.Hash] = e
		hs.mu.Unlock()

		is := s.idShard(a.ID)
		is.mu.Lock()
		is.byID[a.ID] = e
		is.mu.Unlock()

		if a.ReferenceCount == 0 {
			s.setTombstone(a.ID)
		}
		s.bytes.Add(uint64(len(a.Payload)))
		if uint64(a.ID) > maxID {
			maxID = uint64(a.ID)
		}
	}

	for {
		cur := s.nextID.Load()
		if cur >= maxID || s.nextID.CompareAndSwap(cur, maxID) {
			return nil
		}
	}
}

// Count returns the number of live (non-reclaimed) atoms.
func (s *Store) Count() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		n += len(sh.byID)
		sh.mu.RUnlock()
	}
	return n
}

// GetStats returns a snapshot of store counters.
func (s *Store) GetStats() Stats {
	s.tombMu.Lock()
	tombs := s.tombstones.GetCardinality()
	s.tombMu.Unlock()

	return Stats{
		Atoms:       s.Count(),
		Tombstones:  tombs,
		Interns:     s.interns.Load(),
		DedupHits:   s.dedupHits.Load(),
		Conflicts:   s.conflicts.Load(),
		Reclaimed:   s.reclaimed.Load(),
		TotalBytes:  s.bytes.Load(),
	}
}

func (s *Store) setTombstone(id core.AtomID) {
	s.tombMu.Lock()
	s.tombstones.Add(uint64(id))
	s.tombMu.Unlock()
}

func (s *Store) clearTombstone(id core.AtomID) {
	s.tombMu.Lock()
	if s.tombstones.Contains(uint64(id)) {
		s.tombstones.Remove(uint64(id))
	}
	s.tombMu.Unlock()
}
