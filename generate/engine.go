// Package generate walks the semantic manifold: given a start atom and
// a target concept region, it searches the spatial index for a short
// chain of existing atoms whose projections lead into the region.
package generate

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/queue"
	"github.com/hupe1980/atomgo/spatial"
)

const (
	defaultMaxSteps     = 1024
	defaultBranchFactor = 8
)

var (
	// ErrPathNotFound is returned when no chain of atoms reaches the
	// target concept within the step bound.
	ErrPathNotFound = errors.New("no path to target concept")

	// ErrNotIndexed is returned when the start atom has no spatial
	// position.
	ErrNotIndexed = errors.New("start atom not indexed")
)

// ConceptDomain is a spherical region of the projection space that
// stands for a concept: a centroid with a containment radius.
type ConceptDomain struct {
	ID       core.ConceptID
	Centroid core.Point
	Radius   float64
}

// Contains reports whether a point lies inside the domain.
func (d ConceptDomain) Contains(p core.Point) bool {
	return p.DistanceTo(d.Centroid) <= d.Radius
}

// distance is the admissible remaining-cost estimate: straight-line
// distance to the domain surface, never past it.
func (d ConceptDomain) distance(p core.Point) float64 {
	return math.Max(0, p.DistanceTo(d.Centroid)-d.Radius)
}

// Engine searches paths over the spatial index.
type Engine struct {
	space    *spatial.Index
	maxSteps int
	branch   int
	logger   *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithMaxSteps bounds the number of node expansions per search.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithBranchFactor sets how many spatial neighbors each node expands to.
func WithBranchFactor(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.branch = k
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine searching over space.
func NewEngine(space *spatial.Index, optFns ...Option) *Engine {
	e := &Engine{
		space:    space,
		maxSteps: defaultMaxSteps,
		branch:   defaultBranchFactor,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(e)
		}
	}
	return e
}

// GeneratePath returns a chain of atom ids from start into the target
// domain, both endpoints included. The search is A* over the k-nearest-
// neighbor graph induced by the spatial index; edge cost is Euclidean
// distance between projections, the heuristic is distance to the domain
// surface. Expansion order is deterministic: total cost, then
// heuristic, then ascending atom id.
func (e *Engine) GeneratePath(ctx context.Context, start core.AtomID, target ConceptDomain) ([]core.AtomID, error) {
	startPoint, ok := e.space.Point(start)
	if !ok {
		return nil, fmt.Errorf("%w: atom %d", ErrNotIndexed, start)
	}
	if target.Contains(startPoint) {
		return []core.AtomID{start}, nil
	}

	open := &queue.FrontierQueue{}
	heap.Push(open, &queue.FrontierItem{
		AtomID:    start,
		Cost:      0,
		Heuristic: target.distance(startPoint),
	})

	gScore := map[core.AtomID]float64{start: 0}
	cameFrom := make(map[core.AtomID]core.AtomID)
	closed := make(map[core.AtomID]struct{})

	steps := 0
	for open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cur := heap.Pop(open).(*queue.FrontierItem)
		if _, done := closed[cur.AtomID]; done {
			continue
		}
		closed[cur.AtomID] = struct{}{}

		curPoint, ok := e.space.Point(cur.AtomID)
		if !ok {
			// Removed since it was queued.
			continue
		}
		if target.Contains(curPoint) {
			path := reconstructPath(cameFrom, cur.AtomID)
			e.logger.Debug("path found",
				"start", start,
				"concept", target.ID,
				"length", len(path),
				"steps", steps,
			)
			return path, nil
		}

		steps++
		if steps > e.maxSteps {
			return nil, fmt.Errorf("%w: step bound %d reached", ErrPathNotFound, e.maxSteps)
		}

		// One extra neighbor because the query returns the node itself.
		hits, err := e.space.Query(curPoint, e.branch+1)
		if err != nil {
			return nil, fmt.Errorf("expand %d: %w", cur.AtomID, err)
		}

		for _, hit := range hits {
			if hit.AtomID == cur.AtomID {
				continue
			}
			if _, done := closed[hit.AtomID]; done {
				continue
			}

			tentative := gScore[cur.AtomID] + hit.Distance
			if best, seen := gScore[hit.AtomID]; seen && tentative >= best {
				continue
			}
			gScore[hit.AtomID] = tentative
			cameFrom[hit.AtomID] = cur.AtomID

			hitPoint, ok := e.space.Point(hit.AtomID)
			if !ok {
				continue
			}
			heap.Push(open, &queue.FrontierItem{
				AtomID:    hit.AtomID,
				Cost:      tentative,
				Heuristic: target.distance(hitPoint),
			})
		}
	}

	return nil, fmt.Errorf("%w: frontier exhausted after %d steps", ErrPathNotFound, steps)
}

func reconstructPath(cameFrom map[core.AtomID]core.AtomID, goal core.AtomID) []core.AtomID {
	path := []core.AtomID{goal}
	for {
		prev, ok := cameFrom[path[len(path)-1]]
		if !ok {
			break
		}
		path = append(path, prev)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
