package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// MaxPayloadSize is the hard upper bound for an atom payload in bytes.
// Payloads above this size are rejected before any mutation.
const MaxPayloadSize = 64

// Modality classifies the media family an atom was decomposed from.
type Modality uint8

const (
	// ModalityUnknown is the zero value; stores reject it.
	ModalityUnknown Modality = iota
	// ModalityTensor marks numeric model-weight fragments.
	ModalityTensor
	// ModalityText marks token/byte-run fragments of text.
	ModalityText
	// ModalityImage marks pixel-block fragments.
	ModalityImage
	// ModalityAudio marks sample-window fragments.
	ModalityAudio
)

// String returns a string representation of the Modality.
func (m Modality) String() string {
	switch m {
	case ModalityTensor:
		return "tensor"
	case ModalityText:
		return "text"
	case ModalityImage:
		return "image"
	case ModalityAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// Subtype refines a modality (e.g. float32 weights vs. quantized weights).
// Semantics are owned by the decomposer that produced the payload.
type Subtype uint16

// ContentHash is the identity of an atom: a SHA-256 digest over the
// payload bytes, modality and subtype. Two atoms with equal hashes are
// the same atom by contract.
type ContentHash [32]byte

// String returns the hex form of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// HashContent computes the content hash for a payload under a modality
// and subtype. The tags are folded into the digest so that identical
// bytes in different modalities remain distinct atoms.
func HashContent(payload []byte, modality Modality, subtype Subtype) ContentHash {
	var tag [4]byte
	tag[0] = byte(modality)
	binary.LittleEndian.PutUint16(tag[1:3], uint16(subtype))
	tag[3] = byte(len(payload))

	d := sha256.New()
	d.Write(tag[:])
	d.Write(payload)

	var h ContentHash
	copy(h[:], d.Sum(nil))
	return h
}

// Point is a coordinate in the reduced 3-D projection space used for
// geometric indexing.
type Point struct {
	X, Y, Z float64
}

// String returns a string representation of the Point.
func (p Point) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point) DistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// SquaredDistanceTo returns the squared Euclidean distance, avoiding the
// sqrt on hot comparison paths.
func (p Point) SquaredDistanceTo(q Point) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}
