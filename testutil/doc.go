// Package testutil provides testing utilities.
//
// This package is intended for use in tests and benchmarks only. It
// provides a deterministic seeded RNG for generating payloads, vectors
// and points, plus exact nearest-neighbor helpers for verifying index
// results.
//
// # Deterministic Fixtures
//
//	rng := testutil.NewRNG(seed)
//	payload := rng.Payload(32)          // up to 64 bytes
//	vec := rng.Vector(8)                // uniform [0, 1)
//	pt := rng.PointIn(0, 1024)          // point inside a cube
//
// # Exact Search (Ground Truth)
//
//	nearest := testutil.ExactNearest(query, points, k)
package testutil
