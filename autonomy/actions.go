package autonomy

import (
	"context"
	"fmt"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/spatial"
)

// QuotaGovernor adjusts ingestion quotas. A factor below 1 tightens.
type QuotaGovernor interface {
	AdjustQuota(ctx context.Context, factor float64) error
}

// ConceptCandidate is a dense, active region proposed as a concept. The
// centroid and radius are derived from the member projections.
type ConceptCandidate struct {
	Region   Region
	Centroid core.Point
	Radius   float64
	Members  int
}

// HandlerDeps are the live components the standard handlers act on.
type HandlerDeps struct {
	Store      *atom.Store
	Embeddings *embedding.Index
	Space      *spatial.Index

	// Quota may be nil; quota adjustment then reports an error.
	Quota QuotaGovernor

	// OnConcept receives concept candidates. May be nil.
	OnConcept func(ConceptCandidate)
}

// StandardHandlers wires the built-in maintenance actions.
func StandardHandlers(deps HandlerDeps) map[HypothesisType]Handler {
	return map[HypothesisType]Handler{
		HypothesisIndexOptimization:  rebuildHandler(deps.Space),
		HypothesisCacheWarming:       warmHandler(deps.Store, deps.Embeddings),
		HypothesisPruneLowImportance: pruneHandler(deps.Store, deps.Space),
		HypothesisConceptDiscovery:   conceptHandler(deps.Embeddings, deps.OnConcept),
		HypothesisQuotaAdjustment:    quotaHandler(deps.Quota),
	}
}

func rebuildHandler(space *spatial.Index) Handler {
	return func(ctx context.Context, _ Action) error {
		return space.Rebuild(ctx)
	}
}

// warmHandler touches every atom of the region so access stats and any
// payload caches below Get are hot.
func warmHandler(store *atom.Store, embeddings *embedding.Index) Handler {
	return func(ctx context.Context, a Action) error {
		var err error
		forRegion(embeddings, a.Region, func(e embedding.Embedding) bool {
			if ctx.Err() != nil {
				err = ctx.Err()
				return false
			}
			_, getErr := store.Get(e.AtomID)
			if getErr != nil && err == nil {
				err = fmt.Errorf("warm atom %d: %w", e.AtomID, getErr)
			}
			return true
		})
		return err
	}
}

// pruneHandler reclaims tombstoned atoms and drops their spatial
// entries.
func pruneHandler(store *atom.Store, space *spatial.Index) Handler {
	return func(ctx context.Context, _ Action) error {
		reclaimed, err := store.CollectGarbage(ctx)
		if err != nil {
			return err
		}
		for _, id := range reclaimed {
			// Tensor-only atoms were never spatially indexed.
			_ = space.Remove(id)
		}
		return nil
	}
}

func conceptHandler(embeddings *embedding.Index, onConcept func(ConceptCandidate)) Handler {
	return func(ctx context.Context, a Action) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			sum   core.Point
			count int
		)
		forRegion(embeddings, a.Region, func(e embedding.Embedding) bool {
			sum.X += e.Projection.X
			sum.Y += e.Projection.Y
			sum.Z += e.Projection.Z
			count++
			return true
		})
		if count == 0 {
			return fmt.Errorf("region %s is empty", a.Region)
		}

		centroid := core.Point{
			X: sum.X / float64(count),
			Y: sum.Y / float64(count),
			Z: sum.Z / float64(count),
		}

		var radius float64
		forRegion(embeddings, a.Region, func(e embedding.Embedding) bool {
			if d := centroid.DistanceTo(e.Projection); d > radius {
				radius = d
			}
			return true
		})

		if onConcept != nil {
			onConcept(ConceptCandidate{
				Region:   a.Region,
				Centroid: centroid,
				Radius:   radius,
				Members:  count,
			})
		}
		return nil
	}
}

func quotaHandler(gov QuotaGovernor) Handler {
	return func(ctx context.Context, _ Action) error {
		if gov == nil {
			return fmt.Errorf("no quota governor configured")
		}
		return gov.AdjustQuota(ctx, 0.9)
	}
}

// forRegion visits every embedding whose Hilbert value falls in the
// region's prefix.
func forRegion(embeddings *embedding.Index, r Region, fn func(embedding.Embedding) bool) {
	embeddings.Range(func(e embedding.Embedding) bool {
		if r.Bits > 0 && e.HilbertValue>>(63-uint(r.Bits)) != r.Prefix {
			return true
		}
		return fn(e)
	})
}
