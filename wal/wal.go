// Package wal implements the chunk-commit log that makes ingestion
// crash-safe and resumable.
//
// Each record marks one durably committed ingestion chunk: the job, the
// new source offset and the atoms the chunk produced. Offset advancement
// and atom commitment share this single record, so replay after a crash
// resumes exactly at the last committed offset with no double counting
// and no gaps. Records are CRC32C-framed; a torn tail is truncated on
// replay, never silently skipped over.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/atomgo/core"
)

const (
	magic   = uint32(0x41474C57) // "WLGA" little-endian
	version = uint16(1)

	flagCompressed = uint16(1 << 0)

	headerSize = 4 + 2 + 2 // magic + version + flags

	// maxRecordSize guards replay against a corrupt length prefix.
	maxRecordSize = 16 << 20
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt indicates an undecodable record inside the log body (not
// the tail). Tail corruption is handled by truncation instead.
var ErrCorrupt = errors.New("wal record corrupt")

// CommitRecord is one durably committed ingestion chunk.
type CommitRecord struct {
	JobID          uuid.UUID
	ChunkIndex     uint32
	NewOffset      uint64
	AtomsProcessed uint64
	RootAtomID     core.AtomID
	AtomIDs        []core.AtomID
}

// Options configures the WAL.
type Options struct {
	// Sync fsyncs after every append. Default true: a commit record is
	// the durability boundary for a chunk.
	Sync bool

	// Compress enables lz4 block compression of record payloads.
	Compress bool
}

// WAL is an append-only commit log backed by a single file.
type WAL struct {
	mu         sync.Mutex
	f          *os.File
	w          *bufio.Writer
	sync       bool
	compressed bool
	path       string
}

// Open opens or creates the commit log at path.
// An existing log's compression flag wins over the option.
func Open(path string, optFns ...func(*Options)) (*WAL, error) {
	opts := Options{Sync: true}
	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	w := &WAL{
		f:          f,
		sync:       opts.Sync,
		compressed: opts.Compress,
		path:       path,
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		flags, err := readHeader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		w.compressed = flags&flagCompressed != 0
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	w.w = bufio.NewWriter(f)

	return w, nil
}

func (w *WAL) writeHeader() error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	binary.LittleEndian.PutUint16(hdr[4:6], version)
	var flags uint16
	if w.compressed {
		flags |= flagCompressed
	}
	binary.LittleEndian.PutUint16(hdr[6:8], flags)

	if _, err := w.f.Write(hdr[:]); err != nil {
		return fmt.Errorf("write wal header: %w", err)
	}
	return w.f.Sync()
}

func readHeader(r io.Reader) (uint16, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("read wal header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return 0, errors.New("bad wal magic")
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != version {
		return 0, fmt.Errorf("unsupported wal version %d", v)
	}
	return binary.LittleEndian.Uint16(hdr[6:8]), nil
}

// Append writes a commit record and makes it durable.
func (w *WAL) Append(rec CommitRecord) error {
	payload := encodeRecord(rec)

	if w.compressed {
		compressed, err := compress(payload)
		if err != nil {
			return err
		}
		payload = compressed
	}

	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, crc32cTable))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return os.ErrClosed
	}
	if _, err := w.w.Write(frame[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Replay reads all committed records from the start of the log in append
// order. A torn or corrupt tail is truncated so subsequent appends start
// from the last good record.
func (w *WAL) Replay(fn func(CommitRecord) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return os.ErrClosed
	}
	if err := w.w.Flush(); err != nil {
		return err
	}

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.f)
	if _, err := readHeader(r); err != nil {
		return err
	}

	good := int64(headerSize)
	for {
		var frame [8]byte
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return w.truncateLocked(good)
		}

		length := binary.LittleEndian.Uint32(frame[0:4])
		sum := binary.LittleEndian.Uint32(frame[4:8])
		if length == 0 || length > maxRecordSize {
			return w.truncateLocked(good)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return w.truncateLocked(good)
		}
		if crc32.Checksum(payload, crc32cTable) != sum {
			return w.truncateLocked(good)
		}

		if w.compressed {
			decompressed, err := decompress(payload)
			if err != nil {
				return w.truncateLocked(good)
			}
			payload = decompressed
		}

		rec, err := decodeRecord(payload)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		good += 8 + int64(length)
	}

	_, err := w.f.Seek(0, io.SeekEnd)
	return err
}

// truncateLocked drops everything after the last good record.
func (w *WAL) truncateLocked(size int64) error {
	if err := w.f.Truncate(size); err != nil {
		return fmt.Errorf("truncate wal tail: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}

// Len returns the number of committed records.
func (w *WAL) Len() (int, error) {
	n := 0
	err := w.Replay(func(CommitRecord) error {
		n++
		return nil
	})
	return n, err
}

// Path returns the log file path.
func (w *WAL) Path() string {
	return w.path
}

// Close flushes and closes the log.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Format: [JobID:16][ChunkIndex:4][NewOffset:8][AtomsProcessed:8][RootAtomID:8][N:4][AtomIDs:N*8]
func encodeRecord(rec CommitRecord) []byte {
	buf := make([]byte, 0, 48+len(rec.AtomIDs)*8)
	buf = append(buf, rec.JobID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, rec.ChunkIndex)
	buf = binary.LittleEndian.AppendUint64(buf, rec.NewOffset)
	buf = binary.LittleEndian.AppendUint64(buf, rec.AtomsProcessed)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(rec.RootAtomID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(rec.AtomIDs)))
	for _, id := range rec.AtomIDs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

func decodeRecord(payload []byte) (CommitRecord, error) {
	var rec CommitRecord
	if len(payload) < 48 {
		return rec, fmt.Errorf("record too short: %d bytes", len(payload))
	}
	copy(rec.JobID[:], payload[0:16])
	rec.ChunkIndex = binary.LittleEndian.Uint32(payload[16:20])
	rec.NewOffset = binary.LittleEndian.Uint64(payload[20:28])
	rec.AtomsProcessed = binary.LittleEndian.Uint64(payload[28:36])
	rec.RootAtomID = core.AtomID(binary.LittleEndian.Uint64(payload[36:44]))
	n := binary.LittleEndian.Uint32(payload[44:48])
	if uint64(len(payload)) != 48+uint64(n)*8 {
		return rec, fmt.Errorf("record length mismatch: %d atoms, %d bytes", n, len(payload))
	}
	rec.AtomIDs = make([]core.AtomID, n)
	for i := uint32(0); i < n; i++ {
		rec.AtomIDs[i] = core.AtomID(binary.LittleEndian.Uint64(payload[48+i*8 : 56+i*8]))
	}
	return rec, nil
}

// compress prefixes the uncompressed length so decompress can size its
// output buffer. Incompressible payloads are stored raw with a zero
// marker.
func compress(payload []byte) ([]byte, error) {
	out := make([]byte, 4+lz4.CompressBlockBound(len(payload)))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(payload)))

	var c lz4.Compressor
	n, err := c.CompressBlock(payload, out[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		raw := make([]byte, 4+len(payload))
		copy(raw[4:], payload)
		return raw, nil
	}
	return out[:4+n], nil
}

func decompress(payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, errors.New("compressed record too short")
	}
	size := binary.LittleEndian.Uint32(payload[0:4])
	if size == 0 {
		return payload[4:], nil
	}
	if size > maxRecordSize {
		return nil, errors.New("compressed record size out of range")
	}
	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload[4:], out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out[:n], nil
}
