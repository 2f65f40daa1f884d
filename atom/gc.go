package atom

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/atomgo/core"
)

// CollectGarbage reclaims tombstoned atoms whose reference count is still
// zero. Atoms re-acquired since tombstoning are skipped. Returns the ids
// of reclaimed atoms so dependent indexes can drop them.
//
// Reclamation is the only operation that removes rows; it marks each
// victim with a collected sentinel first so racing interns fall back to
// the create path instead of resurrecting a dead entry.
func (s *Store) CollectGarbage(ctx context.Context) ([]core.AtomID, error) {
	s.tombMu.Lock()
	candidates := s.tombstones.Clone()
	s.tombMu.Unlock()

	if candidates.IsEmpty() {
		return nil, nil
	}

	var reclaimed []core.AtomID
	cleared := roaring64.New()

	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			break
		}

		id := core.AtomID(it.Next())
		sh := s.idShard(id)

		sh.mu.Lock()
		e := sh.byID[id]
		if e == nil {
			sh.mu.Unlock()
			cleared.Add(uint64(id))
			continue
		}
		// Only a zero count may transition to collected; a concurrent
		// re-intern bumps the count and wins.
		if !e.refs.CompareAndSwap(0, refsCollected) {
			sh.mu.Unlock()
			cleared.Add(uint64(id))
			continue
		}
		delete(sh.byID, id)
		sh.mu.Unlock()

		hs := s.hashShard(e.hash)
		hs.mu.Lock()
		if cur, ok := hs.byHash[e.hash]; ok && cur == e {
			delete(hs.byHash, e.hash)
		}
		hs.mu.Unlock()

		s.reclaimed.Add(1)
		reclaimed = append(reclaimed, id)
		cleared.Add(uint64(id))
	}

	s.tombMu.Lock()
	s.tombstones.AndNot(cleared)
	s.tombMu.Unlock()

	return reclaimed, ctx.Err()
}
