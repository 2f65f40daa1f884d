package spatial

import (
	"math"

	"github.com/hupe1980/atomgo/core"
)

// DefaultBits is the per-dimension precision of the Hilbert encoding.
// 21 bits across 3 dimensions pack into a 63-bit integer.
const DefaultBits = 21

// Curve maps 3-D points onto a Hilbert curve at fixed precision.
//
// The mapping is a pure function of the point: equal points always yield
// equal Hilbert values, and nearby points tend to yield nearby values,
// which makes the value usable as a cheap 1-D locality pre-filter.
type Curve struct {
	bits     uint
	min, max float64
}

// NewCurve creates a Hilbert curve with the given per-dimension bit
// precision over the cube [min, max]^3. Coordinates outside the cube are
// clamped.
func NewCurve(bits uint, min, max float64) Curve {
	if bits == 0 || bits > DefaultBits {
		bits = DefaultBits
	}
	if max <= min {
		min, max = -1, 1
	}
	return Curve{bits: bits, min: min, max: max}
}

// DefaultCurve is the curve used when none is configured: 21 bits per
// dimension over [-512, 512]^3.
func DefaultCurve() Curve {
	return NewCurve(DefaultBits, -512, 512)
}

// Bits returns the per-dimension precision.
func (c Curve) Bits() uint { return c.bits }

// Encode returns the Hilbert value of p.
func (c Curve) Encode(p core.Point) uint64 {
	x := [3]uint32{c.quantize(p.X), c.quantize(p.Y), c.quantize(p.Z)}
	axesToTranspose(&x, c.bits)
	return interleave(x, c.bits)
}

// Decode returns the center point of the grid cell for a Hilbert value.
// Inverse of Encode up to quantization error.
func (c Curve) Decode(h uint64) core.Point {
	x := deinterleave(h, c.bits)
	transposeToAxes(&x, c.bits)
	return core.Point{
		X: c.dequantize(x[0]),
		Y: c.dequantize(x[1]),
		Z: c.dequantize(x[2]),
	}
}

func (c Curve) quantize(v float64) uint32 {
	if math.IsNaN(v) {
		return 0
	}
	if v < c.min {
		v = c.min
	}
	if v > c.max {
		v = c.max
	}
	cells := float64(uint64(1) << c.bits)
	scaled := (v - c.min) / (c.max - c.min) * cells
	if scaled >= cells {
		scaled = cells - 1
	}
	return uint32(scaled)
}

func (c Curve) dequantize(g uint32) float64 {
	cells := float64(uint64(1) << c.bits)
	return c.min + (float64(g)+0.5)/cells*(c.max-c.min)
}

// axesToTranspose converts grid coordinates into Skilling's transposed
// Hilbert representation in place.
func axesToTranspose(x *[3]uint32, bits uint) {
	var t uint32

	// Inverse undo excess work.
	for q := uint32(1) << (bits - 1); q > 1; q >>= 1 {
		p := q - 1
		for i := 0; i < 3; i++ {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t = (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	// Gray encode.
	for i := 1; i < 3; i++ {
		x[i] ^= x[i-1]
	}
	t = 0
	for q := uint32(2); q != uint32(1)<<bits; q <<= 1 {
		if x[2]&q != 0 {
			t ^= q - 1
		}
	}
	for i := 0; i < 3; i++ {
		x[i] ^= t
	}
}

// transposeToAxes is the inverse of axesToTranspose.
func transposeToAxes(x *[3]uint32, bits uint) {
	var t uint32

	// Gray decode by H ^ (H/2).
	t = x[2] >> 1
	for i := 2; i > 0; i-- {
		x[i] ^= x[i-1]
	}
	x[0] ^= t

	// Undo excess work.
	for q := uint32(2); q != uint32(1)<<bits; q <<= 1 {
		p := q - 1
		for i := 2; i >= 0; i-- {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t = (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}
}

// interleave packs the transposed representation into a single integer,
// most significant bit first: bit j of dimension i lands at position
// (bits-1-j)*3 + (2-i) of the result.
func interleave(x [3]uint32, bits uint) uint64 {
	var h uint64
	for j := int(bits) - 1; j >= 0; j-- {
		for i := 0; i < 3; i++ {
			h <<= 1
			h |= uint64((x[i] >> uint(j)) & 1)
		}
	}
	return h
}

func deinterleave(h uint64, bits uint) [3]uint32 {
	var x [3]uint32
	for j := 0; j < int(bits); j++ {
		for i := 2; i >= 0; i-- {
			x[i] |= uint32(h&1) << uint(j)
			h >>= 1
		}
	}
	return x
}
