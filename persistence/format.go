package persistence

import (
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	// MagicNumber identifies snapshot blobs (ASCII: "ATMS").
	MagicNumber = 0x41544D53
	// Version is the current snapshot format version.
	Version = 0x00010000

	// Section identifiers.
	SectionAtoms        = 1
	SectionCompositions = 2
	SectionTensor       = 3
	SectionEmbeddings   = 4
)

var (
	ErrInvalidMagic   = errors.New("invalid magic number")
	ErrInvalidVersion = errors.New("unsupported version")
	ErrTruncated      = errors.New("truncated snapshot")
	ErrNoSnapshot     = errors.New("no snapshot found")
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// fileHeader precedes the sections in every snapshot blob.
type fileHeader struct {
	Magic    uint32
	Version  uint32
	Sections uint32
	Reserved uint32
}

// sectionHeader precedes each compressed section. The checksum covers
// the compressed bytes.
type sectionHeader struct {
	ID       uint32
	Reserved uint32
	RawLen   uint64
	CompLen  uint64
	Checksum uint32
	Padding  uint32
}

// ChecksumMismatchError is returned when a section fails verification.
type ChecksumMismatchError struct {
	Section  uint32
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("section %d checksum mismatch: expected 0x%08x, got 0x%08x", e.Section, e.Expected, e.Actual)
}

// IsChecksumMismatch returns true if err is a checksum mismatch.
func IsChecksumMismatch(err error) bool {
	var cme *ChecksumMismatchError
	return errors.As(err, &cme)
}
