package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/tensor"
)

// Source is the raw input of an ingestion job. Offsets are interpreted
// by the decomposer, so a source only needs random byte access.
type Source interface {
	io.ReaderAt
	Size() int64
}

// BytesSource adapts an in-memory byte slice to Source.
type BytesSource []byte

// ReadAt implements io.ReaderAt.
func (b BytesSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the source length in bytes.
func (b BytesSource) Size() int64 {
	return int64(len(b))
}

// TensorRef carries the positional coefficient row for a numeric tensor
// unit. Units of other modalities leave it nil.
type TensorRef struct {
	ModelID    core.ModelID
	LayerIndex uint32
	Position   tensor.Position
	Value      float32
}

// Unit is one atom-sized piece of decomposed source data together with
// its structural position inside the parent object.
type Unit struct {
	Payload    []byte
	Modality   core.Modality
	Subtype    core.Subtype
	SpatialKey composition.SpatialKey
	Tensor     *TensorRef
}

// Decomposer splits a source into atom-sized units. Offsets count units,
// not bytes, so the orchestrator can resume at any unit boundary.
// Decompose returns up to limit units starting at offset; an empty
// result means the source is exhausted.
type Decomposer interface {
	Decompose(ctx context.Context, src Source, offset uint64, limit int) ([]Unit, error)
}

// FixedSizeDecomposer cuts the source into consecutive payloads of a
// fixed byte size. The final unit may be shorter. The spatial key of a
// unit is its byte offset within the source.
type FixedSizeDecomposer struct {
	// PayloadSize is the unit size in bytes, at most core.MaxPayloadSize.
	// Zero defaults to core.MaxPayloadSize.
	PayloadSize int

	Modality core.Modality
	Subtype  core.Subtype
}

// Decompose implements Decomposer.
func (d *FixedSizeDecomposer) Decompose(ctx context.Context, src Source, offset uint64, limit int) ([]Unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := d.PayloadSize
	if size == 0 {
		size = core.MaxPayloadSize
	}
	if size < 1 || size > core.MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d out of range [1,%d]", size, core.MaxPayloadSize)
	}
	if limit <= 0 {
		return nil, errors.New("decompose limit must be positive")
	}

	total := uint64(src.Size()+int64(size)-1) / uint64(size)
	if offset >= total {
		return nil, nil
	}

	end := offset + uint64(limit)
	if end > total {
		end = total
	}

	units := make([]Unit, 0, end-offset)
	for i := offset; i < end; i++ {
		start := int64(i) * int64(size)
		length := int64(size)
		if start+length > src.Size() {
			length = src.Size() - start
		}

		payload := make([]byte, length)
		if _, err := src.ReadAt(payload, start); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read source at %d: %w", start, err)
		}

		units = append(units, Unit{
			Payload:    payload,
			Modality:   d.Modality,
			Subtype:    d.Subtype,
			SpatialKey: composition.SpatialKey{X: start},
		})
	}
	return units, nil
}
