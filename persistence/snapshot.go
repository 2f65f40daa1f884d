package persistence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/spatial"
	"github.com/hupe1980/atomgo/tensor"
)

// Snapshot is a point-in-time copy of the durable state: the atoms,
// the composition graph, the tensor coefficients, and the embeddings.
// The spatial index is not serialized; it is rebuilt from the
// embeddings on restore.
type Snapshot struct {
	Atoms        []atom.Atom
	Compositions map[core.AtomID][]composition.ComponentRef
	Coefficients []tensor.Coefficient
	Embeddings   []embedding.Embedding
}

// Capture copies the current state out of the given indexes. Tensor
// and embedding indexes may be nil.
func Capture(store *atom.Store, graph *composition.Graph, tensors *tensor.Index, embeddings *embedding.Index) *Snapshot {
	snap := &Snapshot{}

	store.Range(func(a atom.Atom) bool {
		snap.Atoms = append(snap.Atoms, a)
		return true
	})
	sort.Slice(snap.Atoms, func(i, j int) bool { return snap.Atoms[i].ID < snap.Atoms[j].ID })

	if graph != nil {
		snap.Compositions = graph.Export()
	}

	if tensors != nil {
		snap.Coefficients = tensors.Export()
	}

	if embeddings != nil {
		embeddings.Range(func(e embedding.Embedding) bool {
			snap.Embeddings = append(snap.Embeddings, e)
			return true
		})
		sort.Slice(snap.Embeddings, func(i, j int) bool { return snap.Embeddings[i].AtomID < snap.Embeddings[j].AtomID })
	}

	return snap
}

// Target names the indexes a snapshot is restored into. Tensors,
// Embeddings and Space may be nil to skip those sections.
type Target struct {
	Store      *atom.Store
	Graph      *composition.Graph
	Tensors    *tensor.Index
	Embeddings *embedding.Index
	Space      *spatial.Index
}

// Apply restores the snapshot into t. Atoms are restored first so the
// composition graph can resolve its references.
func (s *Snapshot) Apply(ctx context.Context, t Target) error {
	if t.Store == nil {
		return errors.New("apply: nil store")
	}

	if err := t.Store.Restore(s.Atoms); err != nil {
		return fmt.Errorf("restore atoms: %w", err)
	}

	if t.Graph != nil && len(s.Compositions) > 0 {
		if err := t.Graph.Restore(s.Compositions); err != nil {
			return fmt.Errorf("restore compositions: %w", err)
		}
	}

	if t.Tensors != nil && len(s.Coefficients) > 0 {
		t.Tensors.Add(s.Coefficients...)
	}

	if t.Embeddings != nil && len(s.Embeddings) > 0 {
		t.Embeddings.Restore(s.Embeddings)
	}

	if t.Space != nil {
		for _, e := range s.Embeddings {
			if err := t.Space.Insert(e.AtomID, e.Projection); err != nil && !errors.Is(err, spatial.ErrDuplicate) {
				return fmt.Errorf("restore spatial index: %w", err)
			}
		}
		if err := t.Space.Rebuild(ctx); err != nil {
			return fmt.Errorf("rebuild spatial index: %w", err)
		}
	}

	return nil
}

// encoder appends little-endian fields to a growing buffer.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }
func (e *encoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}
func (e *encoder) f64(v float64) {
	e.u64(math.Float64bits(v))
}
func (e *encoder) bytes(p []byte) { e.buf = append(e.buf, p...) }

// decoder reads little-endian fields from a buffer, tracking a sticky
// truncation error.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.buf) {
		d.err = ErrTruncated
		return nil
	}
	p := d.buf[d.off : d.off+n]
	d.off += n
	return p
}

func (d *decoder) u8() uint8 {
	p := d.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (d *decoder) u16() uint16 {
	p := d.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (d *decoder) u32() uint32 {
	p := d.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (d *decoder) u64() uint64 {
	p := d.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (d *decoder) i64() int64   { return int64(d.u64()) }
func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }
func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func encodeAtoms(atoms []atom.Atom) []byte {
	var e encoder
	e.u64(uint64(len(atoms)))
	for _, a := range atoms {
		e.u64(uint64(a.ID))
		e.bytes(a.Hash[:])
		e.u8(uint8(a.Modality))
		e.u16(uint16(a.Subtype))
		e.i64(a.ReferenceCount)
		e.i64(a.CreatedAt.UnixNano())
		e.u16(uint16(len(a.Payload)))
		e.bytes(a.Payload)
	}
	return e.buf
}

func decodeAtoms(buf []byte) ([]atom.Atom, error) {
	d := decoder{buf: buf}
	count := d.u64()
	if d.err != nil {
		return nil, d.err
	}

	atoms := make([]atom.Atom, 0, count)
	for i := uint64(0); i < count; i++ {
		var a atom.Atom
		a.ID = core.AtomID(d.u64())
		copy(a.Hash[:], d.take(len(a.Hash)))
		a.Modality = core.Modality(d.u8())
		a.Subtype = core.Subtype(d.u16())
		a.ReferenceCount = d.i64()
		a.CreatedAt = time.Unix(0, d.i64()).UTC()
		n := int(d.u16())
		if n > core.MaxPayloadSize {
			return nil, fmt.Errorf("atom %d: payload length %d exceeds limit", a.ID, n)
		}
		a.Payload = append([]byte(nil), d.take(n)...)
		if d.err != nil {
			return nil, d.err
		}
		atoms = append(atoms, a)
	}
	return atoms, nil
}

func encodeCompositions(comps map[core.AtomID][]composition.ComponentRef) []byte {
	parents := make([]core.AtomID, 0, len(comps))
	for parent := range comps {
		parents = append(parents, parent)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	var e encoder
	e.u64(uint64(len(parents)))
	for _, parent := range parents {
		refs := comps[parent]
		e.u64(uint64(parent))
		e.u32(uint32(len(refs)))
		for _, ref := range refs {
			e.u64(uint64(ref.AtomID))
			e.u64(ref.SequenceIndex)
			e.i64(ref.SpatialKey.X)
			e.i64(ref.SpatialKey.Y)
		}
	}
	return e.buf
}

func decodeCompositions(buf []byte) (map[core.AtomID][]composition.ComponentRef, error) {
	d := decoder{buf: buf}
	count := d.u64()
	if d.err != nil {
		return nil, d.err
	}

	comps := make(map[core.AtomID][]composition.ComponentRef, count)
	for i := uint64(0); i < count; i++ {
		parent := core.AtomID(d.u64())
		n := d.u32()
		if d.err != nil {
			return nil, d.err
		}
		refs := make([]composition.ComponentRef, 0, n)
		for j := uint32(0); j < n; j++ {
			var ref composition.ComponentRef
			ref.AtomID = core.AtomID(d.u64())
			ref.SequenceIndex = d.u64()
			ref.SpatialKey.X = d.i64()
			ref.SpatialKey.Y = d.i64()
			if d.err != nil {
				return nil, d.err
			}
			refs = append(refs, ref)
		}
		comps[parent] = refs
	}
	return comps, nil
}

func encodeCoefficients(coeffs []tensor.Coefficient) []byte {
	var e encoder
	e.u64(uint64(len(coeffs)))
	for _, c := range coeffs {
		e.u64(uint64(c.TensorAtomID))
		e.u32(uint32(c.ModelID))
		e.u32(c.LayerIndex)
		e.u32(c.Position.X)
		e.u32(c.Position.Y)
		e.u32(c.Position.Z)
		e.f32(c.Value)
	}
	return e.buf
}

func decodeCoefficients(buf []byte) ([]tensor.Coefficient, error) {
	d := decoder{buf: buf}
	count := d.u64()
	if d.err != nil {
		return nil, d.err
	}

	coeffs := make([]tensor.Coefficient, 0, count)
	for i := uint64(0); i < count; i++ {
		var c tensor.Coefficient
		c.TensorAtomID = core.AtomID(d.u64())
		c.ModelID = core.ModelID(d.u32())
		c.LayerIndex = d.u32()
		c.Position.X = d.u32()
		c.Position.Y = d.u32()
		c.Position.Z = d.u32()
		c.Value = d.f32()
		if d.err != nil {
			return nil, d.err
		}
		coeffs = append(coeffs, c)
	}
	return coeffs, nil
}

func encodeEmbeddings(embs []embedding.Embedding) []byte {
	var e encoder
	e.u64(uint64(len(embs)))
	for _, emb := range embs {
		e.u64(uint64(emb.AtomID))
		e.u64(emb.HilbertValue)
		e.f64(emb.Projection.X)
		e.f64(emb.Projection.Y)
		e.f64(emb.Projection.Z)
		e.u16(uint16(len(emb.Vector)))
		for _, v := range emb.Vector {
			e.f32(v)
		}
	}
	return e.buf
}

func decodeEmbeddings(buf []byte) ([]embedding.Embedding, error) {
	d := decoder{buf: buf}
	count := d.u64()
	if d.err != nil {
		return nil, d.err
	}

	embs := make([]embedding.Embedding, 0, count)
	for i := uint64(0); i < count; i++ {
		var emb embedding.Embedding
		emb.AtomID = core.AtomID(d.u64())
		emb.HilbertValue = d.u64()
		emb.Projection.X = d.f64()
		emb.Projection.Y = d.f64()
		emb.Projection.Z = d.f64()
		dim := int(d.u16())
		if d.err != nil {
			return nil, d.err
		}
		emb.Vector = make([]float32, dim)
		for j := range emb.Vector {
			emb.Vector[j] = d.f32()
		}
		if d.err != nil {
			return nil, d.err
		}
		embs = append(embs, emb)
	}
	return embs, nil
}
