// Package persistence serializes the durable state into versioned
// snapshot blobs. Each blob carries a fixed header followed by
// zstd-compressed sections, one per index, each guarded by a CRC32C
// checksum so storage corruption is detected on load.
package persistence

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/atomgo/blobstore"
)

// SnapshotPrefix is the blob name prefix for snapshots.
const SnapshotPrefix = "snapshots/"

// Manager saves and loads snapshots through a blobstore.
type Manager struct {
	blobs  blobstore.BlobStore
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a snapshot manager on top of blobs.
func NewManager(blobs blobstore.BlobStore, optFns ...ManagerOption) (*Manager, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	m := &Manager{
		blobs:  blobs,
		enc:    enc,
		dec:    dec,
		logger: slog.New(slog.DiscardHandler),
	}

	for _, fn := range optFns {
		fn(m)
	}

	return m, nil
}

// Close releases the compression codecs.
func (m *Manager) Close() error {
	m.enc.Close()
	m.dec.Close()
	return nil
}

// Save writes snap under SnapshotPrefix+name. The blob only becomes
// visible once fully written.
func (m *Manager) Save(ctx context.Context, name string, snap *Snapshot) error {
	sections := []struct {
		id  uint32
		raw []byte
	}{
		{SectionAtoms, encodeAtoms(snap.Atoms)},
		{SectionCompositions, encodeCompositions(snap.Compositions)},
		{SectionTensor, encodeCoefficients(snap.Coefficients)},
		{SectionEmbeddings, encodeEmbeddings(snap.Embeddings)},
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, fileHeader{
		Magic:    MagicNumber,
		Version:  Version,
		Sections: uint32(len(sections)),
	}); err != nil {
		return err
	}

	for _, sec := range sections {
		comp := m.enc.EncodeAll(sec.raw, nil)
		if err := binary.Write(&buf, binary.LittleEndian, sectionHeader{
			ID:       sec.id,
			RawLen:   uint64(len(sec.raw)),
			CompLen:  uint64(len(comp)),
			Checksum: crc32.Checksum(comp, crc32cTable),
		}); err != nil {
			return err
		}
		buf.Write(comp)
	}

	if err := m.blobs.Put(ctx, SnapshotPrefix+name, buf.Bytes()); err != nil {
		return fmt.Errorf("write snapshot %q: %w", name, err)
	}

	m.logger.DebugContext(ctx, "snapshot saved",
		slog.String("name", name),
		slog.Int("atoms", len(snap.Atoms)),
		slog.Int("bytes", buf.Len()),
	)

	return nil
}

// Load reads the snapshot under SnapshotPrefix+name and verifies every
// section checksum.
func (m *Manager) Load(ctx context.Context, name string) (*Snapshot, error) {
	blob, err := m.blobs.Open(ctx, SnapshotPrefix+name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	defer blob.Close()

	data, err := readAll(ctx, blob)
	if err != nil {
		return nil, err
	}

	r := bytes.NewReader(data)

	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, ErrTruncated
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}

	snap := &Snapshot{}
	for i := uint32(0); i < header.Sections; i++ {
		var sec sectionHeader
		if err := binary.Read(r, binary.LittleEndian, &sec); err != nil {
			return nil, ErrTruncated
		}

		comp := make([]byte, sec.CompLen)
		if _, err := io.ReadFull(r, comp); err != nil {
			return nil, ErrTruncated
		}

		if sum := crc32.Checksum(comp, crc32cTable); sum != sec.Checksum {
			return nil, &ChecksumMismatchError{Section: sec.ID, Expected: sec.Checksum, Actual: sum}
		}

		raw, err := m.dec.DecodeAll(comp, make([]byte, 0, sec.RawLen))
		if err != nil {
			return nil, fmt.Errorf("decompress section %d: %w", sec.ID, err)
		}
		if uint64(len(raw)) != sec.RawLen {
			return nil, fmt.Errorf("section %d: decompressed %d bytes, header says %d", sec.ID, len(raw), sec.RawLen)
		}

		switch sec.ID {
		case SectionAtoms:
			snap.Atoms, err = decodeAtoms(raw)
		case SectionCompositions:
			snap.Compositions, err = decodeCompositions(raw)
		case SectionTensor:
			snap.Coefficients, err = decodeCoefficients(raw)
		case SectionEmbeddings:
			snap.Embeddings, err = decodeEmbeddings(raw)
		default:
			// Skip unknown sections so older readers tolerate additive
			// format changes.
			m.logger.WarnContext(ctx, "skipping unknown snapshot section", slog.Any("id", sec.ID))
		}
		if err != nil {
			return nil, fmt.Errorf("decode section %d: %w", sec.ID, err)
		}
	}

	return snap, nil
}

// List returns the saved snapshot names, sorted.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.blobs.List(ctx, SnapshotPrefix)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		names[i] = name[len(SnapshotPrefix):]
	}
	return names, nil
}

// Latest returns the lexically last snapshot name, or ErrNoSnapshot.
// Callers that want Latest to mean newest should use sortable names,
// e.g. zero-padded sequence numbers.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	names, err := m.List(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoSnapshot
	}
	return names[len(names)-1], nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an
// error.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.blobs.Delete(ctx, SnapshotPrefix+name)
}

func readAll(ctx context.Context, blob blobstore.Blob) ([]byte, error) {
	if mb, ok := blob.(blobstore.Mappable); ok {
		return mb.Bytes()
	}

	data := make([]byte, blob.Size())
	if _, err := blob.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}
