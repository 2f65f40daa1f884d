package core

// AtomID is the dense, stable identifier for an atom within a store.
// IDs are allocated monotonically at intern time and never reused,
// so back-references held by compositions and indexes stay valid
// across tombstoning.
type AtomID uint64

// ZeroAtomID is the reserved invalid atom identifier.
const ZeroAtomID = AtomID(0)

// ConceptID identifies a concept domain in semantic space.
type ConceptID uint64

// ModelID identifies a source model for tensor coefficients.
type ModelID uint32
