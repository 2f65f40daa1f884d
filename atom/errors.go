package atom

import (
	"errors"
	"fmt"

	"github.com/hupe1980/atomgo/core"
)

var (
	// ErrNotFound is returned when an atom id or content hash is unknown.
	ErrNotFound = errors.New("atom not found")

	// ErrUnknownModality is returned when interning with the zero modality.
	ErrUnknownModality = errors.New("unknown modality")

	// ErrZeroRefCount is returned when releasing an atom whose reference
	// count is already zero.
	ErrZeroRefCount = errors.New("reference count already zero")

	// ErrConflict signals a dedup race with a concurrent reclaim.
	// It is retried inside Intern and never surfaced to callers.
	ErrConflict = errors.New("concurrent modification conflict")
)

// ErrPayloadTooLarge indicates a payload above the fixed size bound.
//
// The rejection happens before any mutation of the store.
type ErrPayloadTooLarge struct {
	Size int
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("payload too large: %d bytes (max %d)", e.Size, core.MaxPayloadSize)
}
