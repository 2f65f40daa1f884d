package ingest

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hupe1980/atomgo/core"
)

// ErrNoCheckpoint is returned when no committed progress exists for a
// job.
var ErrNoCheckpoint = errors.New("no checkpoint for job")

// ErrCheckpointExists is returned when a checkpoint for the same chunk
// was already committed, typically by a retried writer.
var ErrCheckpointExists = errors.New("checkpoint already committed")

// Checkpoint mirrors one chunk commit for remote durability.
type Checkpoint struct {
	JobID          uuid.UUID
	ChunkIndex     uint32
	NewOffset      uint64
	AtomsProcessed uint64
	RootAtomID     core.AtomID
}

// Checkpointer stores chunk commits outside the local commit log so a
// job can be resumed from another process or host. The local log stays
// the commit point; a checkpointer is a secondary copy.
type Checkpointer interface {
	// Save records a committed chunk. Saving an already committed chunk
	// returns ErrCheckpointExists.
	Save(ctx context.Context, cp Checkpoint) error

	// Latest returns the highest committed checkpoint for a job, or
	// ErrNoCheckpoint.
	Latest(ctx context.Context, jobID uuid.UUID) (Checkpoint, error)
}
