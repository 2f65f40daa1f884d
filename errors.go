package atomgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/ingest"
	"github.com/hupe1980/atomgo/spatial"
)

var (
	// ErrNotFound is returned when an atom, composition, embedding or
	// job is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// ErrPayloadTooLarge indicates a payload above the fixed size bound.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrPayloadTooLarge struct {
	Size  int
	cause error
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("payload too large: %d bytes", e.Size)
}

func (e *ErrPayloadTooLarge) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, atom.ErrNotFound) ||
		errors.Is(err, composition.ErrNotFound) ||
		errors.Is(err, embedding.ErrNotFound) ||
		errors.Is(err, spatial.ErrNotFound) ||
		errors.Is(err, ingest.ErrUnknownJob) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var ptl *atom.ErrPayloadTooLarge
	if errors.As(err, &ptl) {
		return &ErrPayloadTooLarge{Size: ptl.Size, cause: err}
	}

	if errors.Is(err, spatial.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	return err
}
