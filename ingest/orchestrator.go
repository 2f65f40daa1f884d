// Package ingest runs crash-safe, quota-governed ingestion jobs.
//
// A job reads its source one chunk at a time: decompose the chunk into
// atom-sized units, intern the atoms, record structural rows, then
// durably commit offset advancement and the produced atom ids in a
// single commit record. A crash between commits loses at most the
// uncommitted chunk; resuming replays the commit log and continues at
// the last committed offset, so no unit is double counted and none is
// skipped.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/spatial"
	"github.com/hupe1980/atomgo/tensor"
	"github.com/hupe1980/atomgo/wal"
)

const defaultChunkSize = 64

var (
	// ErrQuotaExceeded is returned when the next chunk would push a job
	// past its atom quota. Progress committed so far is preserved.
	ErrQuotaExceeded = errors.New("atom quota exceeded")

	// ErrUnknownJob is returned when looking up a job id the
	// orchestrator does not track.
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobNotPending is returned when running a job that already ran.
	ErrJobNotPending = errors.New("job is not pending")
)

// Spec describes one ingestion job.
type Spec struct {
	Source     Source
	Decomposer Decomposer

	// ChunkSize is the number of units committed per chunk. Zero uses
	// the orchestrator default.
	ChunkSize int

	// AtomQuota caps the total atoms attributable to a job, the root
	// anchor included. Zero means unlimited. The first chunk that would
	// exceed the quota fails the job before any of its units are
	// interned.
	AtomQuota uint64

	// Modality and Subtype describe the root atom that anchors the
	// job's composition.
	Modality core.Modality
	Subtype  core.Subtype
}

// Embedder produces a semantic vector for an interned unit. Vector
// derivation is external; the orchestrator only records results.
type Embedder interface {
	Embed(ctx context.Context, payload []byte, modality core.Modality) ([]float32, error)
}

// Orchestrator runs ingestion jobs against the store and its indexes.
type Orchestrator struct {
	store *atom.Store
	graph *composition.Graph
	log   *wal.WAL

	tensors    *tensor.Index
	embedder   Embedder
	embeddings *embedding.Index
	space      *spatial.Index
	remote     Checkpointer

	chunkSize int
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithTensorIndex records positional coefficient rows for units that
// carry a TensorRef.
func WithTensorIndex(ix *tensor.Index) Option {
	return func(o *Orchestrator) {
		o.tensors = ix
	}
}

// WithEmbedder attaches a vector provider and the semantic indexes it
// feeds. Each interned unit is embedded, projected and inserted into
// the spatial index.
func WithEmbedder(e Embedder, embeddings *embedding.Index, space *spatial.Index) Option {
	return func(o *Orchestrator) {
		o.embedder = e
		o.embeddings = embeddings
		o.space = space
	}
}

// WithRemoteCheckpointer mirrors chunk commits to remote storage for
// cross-process resume. Remote failures are logged, never fatal.
func WithRemoteCheckpointer(cp Checkpointer) Option {
	return func(o *Orchestrator) {
		o.remote = cp
	}
}

// WithChunkSize sets the default units per chunk.
func WithChunkSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator committing to log.
func NewOrchestrator(store *atom.Store, graph *composition.Graph, log *wal.WAL, optFns ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		graph:     graph,
		log:       log,
		chunkSize: defaultChunkSize,
		logger:    slog.New(slog.DiscardHandler),
		jobs:      make(map[uuid.UUID]*Job),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(o)
		}
	}
	return o
}

// Submit registers a new pending job for spec.
func (o *Orchestrator) Submit(spec Spec) (*Job, error) {
	if err := o.validateSpec(&spec); err != nil {
		return nil, err
	}

	job := &Job{
		id:     uuid.New(),
		spec:   spec,
		status: StatusPending,
	}
	o.track(job)
	return job, nil
}

// Resume rebuilds a job's committed progress and registers it as
// pending; Run then continues at the committed offset. The local commit
// log is authoritative; the remote checkpointer is consulted when the
// local log has no record of the job.
func (o *Orchestrator) Resume(ctx context.Context, jobID uuid.UUID, spec Spec) (*Job, error) {
	if err := o.validateSpec(&spec); err != nil {
		return nil, err
	}

	var last *wal.CommitRecord
	err := o.log.Replay(func(rec wal.CommitRecord) error {
		if rec.JobID == jobID && (last == nil || rec.ChunkIndex >= last.ChunkIndex) {
			r := rec
			last = &r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay commit log: %w", err)
	}

	cp := Checkpoint{JobID: jobID}
	switch {
	case last != nil:
		cp.ChunkIndex = last.ChunkIndex
		cp.NewOffset = last.NewOffset
		cp.AtomsProcessed = last.AtomsProcessed
		cp.RootAtomID = last.RootAtomID
	case o.remote != nil:
		cp, err = o.remote.Latest(ctx, jobID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoCheckpoint
	}

	job := &Job{
		id:           jobID,
		spec:         spec,
		status:       StatusPending,
		rootAtomID:   cp.RootAtomID,
		offset:       cp.NewOffset,
		totalAtoms:   cp.AtomsProcessed,
		chunkCommits: cp.ChunkIndex + 1,
	}
	o.track(job)

	o.logger.Info("job resumed",
		"job_id", jobID,
		"offset", cp.NewOffset,
		"atoms_processed", cp.AtomsProcessed,
	)
	return job, nil
}

// Run executes a pending job to a terminal status. It returns the error
// that failed the job, or nil for Complete and Cancelled.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	job.mu.Lock()
	if job.status != StatusPending {
		job.mu.Unlock()
		return ErrJobNotPending
	}
	job.status = StatusProcessing
	job.mu.Unlock()

	if err := o.run(ctx, job); err != nil {
		job.fail(err)
		o.logger.Error("job failed",
			"job_id", job.id,
			"error", err,
		)
		return err
	}
	return nil
}

// RunConcurrent runs several pending jobs in parallel and returns the
// first failure.
func (o *Orchestrator) RunConcurrent(ctx context.Context, jobs ...*Job) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			return o.Run(ctx, job)
		})
	}
	return g.Wait()
}

// Job returns the progress snapshot for a tracked job.
func (o *Orchestrator) Job(jobID uuid.UUID) (Snapshot, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrUnknownJob
	}
	return job.Snapshot(), nil
}

// Jobs returns snapshots of all tracked jobs.
func (o *Orchestrator) Jobs() []Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Snapshot, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, job.Snapshot())
	}
	return out
}

func (o *Orchestrator) validateSpec(spec *Spec) error {
	if spec.Source == nil {
		return errors.New("spec needs a source")
	}
	if spec.Decomposer == nil {
		return errors.New("spec needs a decomposer")
	}
	if spec.ChunkSize <= 0 {
		spec.ChunkSize = o.chunkSize
	}
	return nil
}

func (o *Orchestrator) track(job *Job) {
	o.mu.Lock()
	o.jobs[job.id] = job
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, job *Job) error {
	spec := job.spec

	// A fresh job anchors its composition on a root atom derived from
	// the job id; a resumed job already has one.
	if job.root() == core.ZeroAtomID {
		root, err := o.store.Intern(ctx, job.id[:], spec.Modality, spec.Subtype)
		if err != nil {
			return fmt.Errorf("intern root atom: %w", err)
		}
		job.setRoot(root)
	}

	for {
		if err := ctx.Err(); err != nil {
			job.setStatus(StatusCancelled)
			o.logger.Info("job cancelled", "job_id", job.id, "reason", err)
			return nil
		}
		if job.cancelled.Load() {
			job.setStatus(StatusCancelled)
			o.logger.Info("job cancelled", "job_id", job.id)
			return nil
		}

		offset, total, chunk := job.progress()

		units, err := spec.Decomposer.Decompose(ctx, spec.Source, offset, spec.ChunkSize)
		if err != nil {
			return fmt.Errorf("decompose chunk %d: %w", chunk, err)
		}
		if len(units) == 0 {
			job.setStatus(StatusComplete)
			o.logger.Info("job complete",
				"job_id", job.id,
				"atoms_processed", total,
				"chunks", chunk,
			)
			return nil
		}

		// The root anchor counts against the quota too.
		if spec.AtomQuota > 0 && total+uint64(len(units))+1 > spec.AtomQuota {
			return fmt.Errorf("%w: %d processed plus root, chunk of %d over quota %d",
				ErrQuotaExceeded, total, len(units), spec.AtomQuota)
		}

		if err := o.commitChunk(ctx, job, units, offset, total, chunk); err != nil {
			return err
		}
	}
}

// commitChunk interns a chunk's units, records their structural and
// semantic rows, then writes the single commit record that makes the
// chunk durable.
func (o *Orchestrator) commitChunk(ctx context.Context, job *Job, units []Unit, offset, total uint64, chunk uint32) error {
	ids := make([]core.AtomID, 0, len(units))
	refs := make([]composition.ComponentRef, 0, len(units))
	var coeffs []tensor.Coefficient

	for i, u := range units {
		id, err := o.store.Intern(ctx, u.Payload, u.Modality, u.Subtype)
		if err != nil {
			return fmt.Errorf("intern unit %d of chunk %d: %w", i, chunk, err)
		}
		ids = append(ids, id)
		refs = append(refs, composition.ComponentRef{
			AtomID:        id,
			SequenceIndex: offset + uint64(i),
			SpatialKey:    u.SpatialKey,
		})

		if u.Tensor != nil && o.tensors != nil {
			coeffs = append(coeffs, tensor.Coefficient{
				TensorAtomID: id,
				ModelID:      u.Tensor.ModelID,
				LayerIndex:   u.Tensor.LayerIndex,
				Position:     u.Tensor.Position,
				Value:        u.Tensor.Value,
			})
		}

		if o.embedder != nil {
			if err := o.embedUnit(ctx, id, u); err != nil {
				return fmt.Errorf("embed unit %d of chunk %d: %w", i, chunk, err)
			}
		}
	}

	if len(coeffs) > 0 {
		o.tensors.Add(coeffs...)
	}
	if err := o.graph.Append(job.root(), refs); err != nil {
		return fmt.Errorf("link chunk %d: %w", chunk, err)
	}

	rec := wal.CommitRecord{
		JobID:          job.id,
		ChunkIndex:     chunk,
		NewOffset:      offset + uint64(len(units)),
		AtomsProcessed: total + uint64(len(units)),
		RootAtomID:     job.root(),
		AtomIDs:        ids,
	}
	if err := o.log.Append(rec); err != nil {
		return fmt.Errorf("commit chunk %d: %w", chunk, err)
	}

	if o.remote != nil {
		err := o.remote.Save(ctx, Checkpoint{
			JobID:          rec.JobID,
			ChunkIndex:     rec.ChunkIndex,
			NewOffset:      rec.NewOffset,
			AtomsProcessed: rec.AtomsProcessed,
			RootAtomID:     rec.RootAtomID,
		})
		if err != nil && !errors.Is(err, ErrCheckpointExists) {
			o.logger.Warn("remote checkpoint failed",
				"job_id", job.id,
				"chunk", chunk,
				"error", err,
			)
		}
	}

	job.advance(rec.NewOffset, rec.AtomsProcessed)

	o.logger.Debug("chunk committed",
		"job_id", job.id,
		"chunk", chunk,
		"units", len(units),
		"new_offset", rec.NewOffset,
	)
	return nil
}

// embedUnit records the semantic view of one interned unit. A dedup hit
// re-embeds to the same rows, so a duplicate spatial insert is fine.
func (o *Orchestrator) embedUnit(ctx context.Context, id core.AtomID, u Unit) error {
	vec, err := o.embedder.Embed(ctx, u.Payload, u.Modality)
	if err != nil {
		return err
	}

	emb, _, err := o.embeddings.Put(id, vec)
	if err != nil {
		return err
	}
	if err := o.space.Insert(id, emb.Projection); err != nil && !errors.Is(err, spatial.ErrDuplicate) {
		return err
	}
	return nil
}
