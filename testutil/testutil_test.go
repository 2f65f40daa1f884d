package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/core"
)

func TestRNGDeterministic(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	assert.Equal(t, a.Vector(8), b.Vector(8))
	assert.Equal(t, a.Payload(16), b.Payload(16))
	assert.Equal(t, a.PointIn(0, 100), b.PointIn(0, 100))
}

func TestRNGReset(t *testing.T) {
	rng := NewRNG(7)
	first := rng.Vector(4)

	rng.Reset()
	assert.Equal(t, first, rng.Vector(4))
}

func TestPayloadCapped(t *testing.T) {
	rng := NewRNG(1)
	assert.Len(t, rng.Payload(1024), core.MaxPayloadSize)
}

func TestExactNearest(t *testing.T) {
	points := map[core.AtomID]core.Point{
		1: {X: 0},
		2: {X: 5},
		3: {X: 1},
		4: {X: 10},
	}

	nearest := ExactNearest(core.Point{}, points, 2)
	require.Len(t, nearest, 2)
	assert.Equal(t, core.AtomID(1), nearest[0].AtomID)
	assert.Equal(t, core.AtomID(3), nearest[1].AtomID)
	assert.InDelta(t, 1.0, nearest[1].Distance, 1e-9)
}

func TestRecall(t *testing.T) {
	exact := []Neighbor{{AtomID: 1}, {AtomID: 2}, {AtomID: 3}, {AtomID: 4}}

	assert.Equal(t, 1.0, Recall([]core.AtomID{4, 3, 2, 1}, exact))
	assert.Equal(t, 0.5, Recall([]core.AtomID{1, 2, 9, 10}, exact))
	assert.Equal(t, 1.0, Recall(nil, nil))
}
