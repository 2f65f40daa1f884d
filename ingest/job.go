package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hupe1980/atomgo/core"
)

// Status is the lifecycle state of an ingestion job.
type Status uint8

const (
	// StatusPending means the job is registered but not yet running.
	StatusPending Status = iota
	// StatusProcessing means the chunk loop is active.
	StatusProcessing
	// StatusComplete means the source was fully ingested.
	StatusComplete
	// StatusFailed means the job stopped on an error; committed progress
	// is preserved.
	StatusFailed
	// StatusCancelled means the job stopped on request at a chunk
	// boundary.
	StatusCancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of a job's progress.
type Snapshot struct {
	ID                  uuid.UUID
	Status              Status
	RootAtomID          core.AtomID
	CurrentOffset       uint64
	TotalAtomsProcessed uint64
	ChunkCommits        uint32
	Err                 error
}

// Job tracks one ingestion run. Progress fields only advance when a
// chunk commit record has been made durable, so a snapshot never shows
// uncommitted work.
type Job struct {
	id   uuid.UUID
	spec Spec

	cancelled atomic.Bool

	mu           sync.Mutex
	status       Status
	err          error
	rootAtomID   core.AtomID
	offset       uint64
	totalAtoms   uint64
	chunkCommits uint32
}

// ID returns the job identifier.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// Cancel requests a cooperative stop. The running chunk finishes and
// commits; the loop exits before starting the next one.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
}

// Snapshot returns the current progress view.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:                  j.id,
		Status:              j.status,
		RootAtomID:          j.rootAtomID,
		CurrentOffset:       j.offset,
		TotalAtomsProcessed: j.totalAtoms,
		ChunkCommits:        j.chunkCommits,
		Err:                 j.err,
	}
}

func (j *Job) setStatus(s Status) {
	j.mu.Lock()
	j.status = s
	j.mu.Unlock()
}

func (j *Job) setRoot(id core.AtomID) {
	j.mu.Lock()
	j.rootAtomID = id
	j.mu.Unlock()
}

func (j *Job) root() core.AtomID {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rootAtomID
}

func (j *Job) progress() (offset, total uint64, chunk uint32) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.offset, j.totalAtoms, j.chunkCommits
}

// advance records a committed chunk.
func (j *Job) advance(newOffset, totalAtoms uint64) {
	j.mu.Lock()
	j.offset = newOffset
	j.totalAtoms = totalAtoms
	j.chunkCommits++
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.err = err
	j.mu.Unlock()
}
