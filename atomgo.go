// Package atomgo provides an embedded content-addressable media store for Go.
//
// Media is decomposed into deduplicated atoms of at most 64 bytes, held
// under two parallel representations:
//
//   - Structural: a composition graph plus a positional tensor
//     coefficient index, supporting exact byte reconstruction.
//   - Semantic: per-atom embedding vectors projected into a 3-D space
//     and indexed by a Hilbert-curve/KD-tree spatial index for
//     similarity queries.
//
// On top of those sit a crash-safe quota-governed ingestion
// orchestrator with chunked WAL commits, an A* generation engine that
// walks the semantic manifold toward concept domains, and an optional
// observe-hypothesize-act maintenance loop.
//
// # Quick Start
//
//	ctx := context.Background()
//	ag, err := atomgo.Open(ctx,
//	    atomgo.WithDataDir("./data"),
//	    atomgo.WithEmbedder(myEmbedder),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer ag.Close()
//
//	job, err := ag.Ingest(ctx, ingest.Spec{
//	    Source:     ingest.BytesSource(doc),
//	    Decomposer: &ingest.FixedSizeDecomposer{PayloadSize: 32, Modality: core.ModalityText},
//	})
//
//	// ... later
//	status, _ := ag.JobStatus(job.ID())
//	payload, _ := ag.Reconstruct(status.RootAtomID)
//
// Similarity queries and generation need an embedder:
//
//	results, _ := ag.NearestNeighbors(queryVec, 10)
//	path, _ := ag.GeneratePath(ctx, results[0].AtomID, conceptDomain)
package atomgo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/autonomy"
	"github.com/hupe1980/atomgo/blobstore"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/generate"
	"github.com/hupe1980/atomgo/ingest"
	"github.com/hupe1980/atomgo/persistence"
	"github.com/hupe1980/atomgo/spatial"
	"github.com/hupe1980/atomgo/tensor"
	"github.com/hupe1980/atomgo/wal"
)

// SearchResult is one nearest-neighbor hit.
type SearchResult struct {
	AtomID   core.AtomID
	Distance float64
}

// Stats summarizes the store state.
type Stats struct {
	Atoms          int
	Tombstones     uint64
	Embeddings     int
	IndexedPoints  int
	Concepts       int
	SpatialRebuild uint64
}

// AtomGo is the embedded media store. All methods are safe for
// concurrent use.
type AtomGo struct {
	store      *atom.Store
	graph      *composition.Graph
	tensors    *tensor.Index
	embeddings *embedding.Index
	space      *spatial.Index
	log        *wal.WAL

	orchestrator *ingest.Orchestrator
	engine       *generate.Engine
	snapshots    *persistence.Manager

	loop    *autonomy.Loop
	actions *autonomy.Queue

	atomQuota atomic.Uint64
	chunkSize int

	conceptMu sync.RWMutex
	conceptID atomic.Uint64
	concepts  map[core.ConceptID]generate.ConceptDomain

	metrics MetricsCollector
	logger  *Logger

	dataDir   string
	ephemeral bool
	closed    atomic.Bool
}

// Open creates or reopens a store rooted at the configured data
// directory.
func Open(ctx context.Context, optFns ...Option) (*AtomGo, error) {
	opts := applyOptions(optFns)
	cfg := opts.config

	dataDir := cfg.DataDir
	ephemeral := dataDir == ""
	if ephemeral {
		dir, err := os.MkdirTemp("", "atomgo-*")
		if err != nil {
			return nil, fmt.Errorf("create ephemeral data dir: %w", err)
		}
		dataDir = dir
	} else if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := atom.NewStore(atom.WithProvenanceSink(opts.sink))
	graph := composition.NewGraph(store, composition.WithProvenanceSink(opts.sink))
	tensors := tensor.NewIndex()

	curve := spatial.NewCurve(uint(cfg.Spatial.Bits), cfg.Spatial.Min, cfg.Spatial.Max)
	space := spatial.NewIndex(spatial.WithCurve(curve))

	embOpts := []embedding.Option{embedding.WithCurve(curve)}
	if opts.projector != nil {
		embOpts = append(embOpts, embedding.WithProjector(opts.projector))
	}
	embeddings := embedding.NewIndex(embOpts...)

	commitLog, err := wal.Open(filepath.Join(dataDir, "ingest.wal"), func(o *wal.Options) {
		o.Compress = cfg.Ingest.CompressWAL
	})
	if err != nil {
		return nil, fmt.Errorf("open commit log: %w", err)
	}

	ingestOpts := []ingest.Option{
		ingest.WithTensorIndex(tensors),
		ingest.WithChunkSize(cfg.Ingest.ChunkSize),
		ingest.WithLogger(opts.logger.Logger),
	}
	if opts.embedder != nil {
		ingestOpts = append(ingestOpts, ingest.WithEmbedder(opts.embedder, embeddings, space))
	}
	if opts.remote != nil {
		ingestOpts = append(ingestOpts, ingest.WithRemoteCheckpointer(opts.remote))
	}
	orchestrator := ingest.NewOrchestrator(store, graph, commitLog, ingestOpts...)

	blobs := opts.blobs
	if blobs == nil {
		local, err := blobstore.NewLocalStore(filepath.Join(dataDir, "blobs"))
		if err != nil {
			commitLog.Close()
			return nil, err
		}
		blobs = local
	}

	snapshots, err := persistence.NewManager(blobs, persistence.WithLogger(opts.logger.Logger))
	if err != nil {
		commitLog.Close()
		return nil, err
	}

	ag := &AtomGo{
		store:        store,
		graph:        graph,
		tensors:      tensors,
		embeddings:   embeddings,
		space:        space,
		log:          commitLog,
		orchestrator: orchestrator,
		engine:       generate.NewEngine(space, generate.WithLogger(opts.logger.Logger)),
		snapshots:    snapshots,
		chunkSize:    cfg.Ingest.ChunkSize,
		concepts:     make(map[core.ConceptID]generate.ConceptDomain),
		metrics:      opts.metricsCollector,
		logger:       opts.logger,
		dataDir:      dataDir,
		ephemeral:    ephemeral,
	}
	ag.atomQuota.Store(cfg.Ingest.AtomQuota)

	if cfg.Autonomy.Enabled {
		if err := ag.startAutonomy(opts); err != nil {
			commitLog.Close()
			snapshots.Close()
			return nil, err
		}
	}

	return ag, nil
}

func (ag *AtomGo) startAutonomy(opts options) error {
	cfg := opts.config.Autonomy

	queue, err := autonomy.OpenQueue(filepath.Join(ag.dataDir, "actions"))
	if err != nil {
		return fmt.Errorf("open action queue: %w", err)
	}
	ag.actions = queue

	handlers := autonomy.StandardHandlers(autonomy.HandlerDeps{
		Store:      ag.store,
		Embeddings: ag.embeddings,
		Space:      ag.space,
		Quota:      ag,
		OnConcept:  ag.adoptConcept,
	})

	executor := autonomy.NewExecutor(queue, handlers, opts.executorConfig,
		autonomy.WithProvenanceSink(opts.sink),
		autonomy.WithExecutorLogger(opts.logger.Logger),
	)

	thresholds := autonomy.DefaultThresholds()
	if cfg.PressureHigh > 0 {
		thresholds.PressureHigh = cfg.PressureHigh
	}

	loopOpts := []autonomy.LoopOption{
		autonomy.WithLoopLogger(opts.logger.Logger),
	}
	if cfg.Interval > 0 {
		loopOpts = append(loopOpts, autonomy.WithInterval(cfg.Interval))
	}
	if cfg.Cooldown > 0 {
		loopOpts = append(loopOpts, autonomy.WithCooldown(cfg.Cooldown))
	}
	switch {
	case opts.policy != nil:
		loopOpts = append(loopOpts, autonomy.WithApprovalPolicy(opts.policy))
	case !cfg.AutoApprove:
		loopOpts = append(loopOpts, autonomy.WithApprovalPolicy(autonomy.ManualApproval{}))
	}

	ag.loop = autonomy.NewLoop(
		autonomy.NewObserver(ag.store, ag.embeddings, 0),
		autonomy.NewHypothesizer(thresholds),
		queue,
		executor,
		loopOpts...,
	)

	go ag.loop.Run(context.Background())
	return nil
}

// Intern stores a payload as an atom, deduplicating by content.
func (ag *AtomGo) Intern(ctx context.Context, payload []byte, modality core.Modality, subtype core.Subtype) (core.AtomID, error) {
	if ag.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	id, err := ag.store.Intern(ctx, payload, modality, subtype)
	err = translateError(err)

	ag.metrics.RecordIntern(time.Since(start), err)
	ag.logger.LogIntern(ctx, uint64(id), len(payload), err)

	return id, err
}

// Get returns the atom with the given id.
func (ag *AtomGo) Get(id core.AtomID) (atom.Atom, error) {
	a, err := ag.store.Get(id)
	return a, translateError(err)
}

// Release decrements an atom's reference count. At zero the atom is
// tombstoned and later reclaimed by garbage collection.
func (ag *AtomGo) Release(id core.AtomID) error {
	return translateError(ag.store.Release(id))
}

// Link records parent as the ordered composition of components.
func (ag *AtomGo) Link(parent core.AtomID, components []composition.ComponentRef) error {
	return translateError(ag.graph.Link(parent, components))
}

// Reconstruct returns the exact bytes of the composition rooted at id.
func (ag *AtomGo) Reconstruct(id core.AtomID) ([]byte, error) {
	start := time.Now()
	payload, err := ag.graph.Reconstruct(id)
	err = translateError(err)

	ag.metrics.RecordReconstruct(len(payload), time.Since(start), err)
	ag.logger.LogReconstruct(context.Background(), uint64(id), len(payload), err)

	return payload, err
}

// PutEmbedding indexes a semantic vector for an atom, replacing any
// previous embedding. Intended for callers that embed out of band;
// ingestion with an embedder does this automatically.
func (ag *AtomGo) PutEmbedding(atomID core.AtomID, vector []float32) error {
	if _, err := ag.store.Get(atomID); err != nil {
		return translateError(err)
	}

	emb, replaced, err := ag.embeddings.Put(atomID, vector)
	if err != nil {
		return translateError(err)
	}

	if replaced {
		if err := ag.space.Remove(atomID); err != nil && !errors.Is(err, spatial.ErrNotFound) {
			return translateError(err)
		}
	}
	if err := ag.space.Insert(atomID, emb.Projection); err != nil && !errors.Is(err, spatial.ErrDuplicate) {
		return translateError(err)
	}
	return nil
}

// NearestNeighbors projects the query vector and returns the k nearest
// indexed atoms, nearest first. Ties break toward the lower atom id.
func (ag *AtomGo) NearestNeighbors(query []float32, k int) ([]SearchResult, error) {
	start := time.Now()

	results, err := func() ([]SearchResult, error) {
		point, err := ag.embeddings.Project(query)
		if err != nil {
			return nil, translateError(err)
		}
		return ag.nearestToPoint(point, k)
	}()

	ag.metrics.RecordSearch(k, time.Since(start), err)
	ag.logger.LogSearch(context.Background(), k, len(results), err)

	return results, err
}

// NearestToPoint returns the k indexed atoms nearest to a projection
// point.
func (ag *AtomGo) NearestToPoint(point core.Point, k int) ([]SearchResult, error) {
	start := time.Now()
	results, err := ag.nearestToPoint(point, k)

	ag.metrics.RecordSearch(k, time.Since(start), err)
	ag.logger.LogSearch(context.Background(), k, len(results), err)

	return results, err
}

func (ag *AtomGo) nearestToPoint(point core.Point, k int) ([]SearchResult, error) {
	hits, err := ag.space.Query(point, k)
	if err != nil {
		return nil, translateError(err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{AtomID: h.AtomID, Distance: h.Distance})
	}
	return results, nil
}

// GeneratePath walks the semantic manifold from start to an atom whose
// projection lies inside target, returning the visited atom ids.
func (ag *AtomGo) GeneratePath(ctx context.Context, start core.AtomID, target generate.ConceptDomain) ([]core.AtomID, error) {
	began := time.Now()
	path, err := ag.engine.GeneratePath(ctx, start, target)
	err = translateError(err)

	ag.metrics.RecordPath(len(path), time.Since(began), err)
	ag.logger.LogPath(ctx, uint64(start), len(path), err)

	return path, err
}

// GeneratePathTo is GeneratePath against a registered concept domain.
func (ag *AtomGo) GeneratePathTo(ctx context.Context, start core.AtomID, conceptID core.ConceptID) ([]core.AtomID, error) {
	domain, ok := ag.Concept(conceptID)
	if !ok {
		return nil, fmt.Errorf("%w: concept %d", ErrNotFound, conceptID)
	}
	return ag.GeneratePath(ctx, start, domain)
}

// RegisterConcept registers a spherical concept domain and returns its
// id.
func (ag *AtomGo) RegisterConcept(centroid core.Point, radius float64) core.ConceptID {
	id := core.ConceptID(ag.conceptID.Add(1))

	ag.conceptMu.Lock()
	ag.concepts[id] = generate.ConceptDomain{ID: id, Centroid: centroid, Radius: radius}
	ag.conceptMu.Unlock()

	return id
}

// Concept returns a registered concept domain.
func (ag *AtomGo) Concept(id core.ConceptID) (generate.ConceptDomain, bool) {
	ag.conceptMu.RLock()
	defer ag.conceptMu.RUnlock()

	domain, ok := ag.concepts[id]
	return domain, ok
}

// Concepts returns all registered concept domains.
func (ag *AtomGo) Concepts() []generate.ConceptDomain {
	ag.conceptMu.RLock()
	defer ag.conceptMu.RUnlock()

	domains := make([]generate.ConceptDomain, 0, len(ag.concepts))
	for _, d := range ag.concepts {
		domains = append(domains, d)
	}
	return domains
}

// adoptConcept registers concept candidates discovered by the autonomy
// loop.
func (ag *AtomGo) adoptConcept(c autonomy.ConceptCandidate) {
	id := ag.RegisterConcept(c.Centroid, c.Radius)
	ag.logger.Info("concept discovered",
		"concept_id", uint64(id),
		"region", c.Region.String(),
		"members", c.Members,
	)
}

// AdjustQuota scales the default ingestion quota by factor. Invoked by
// the autonomy loop under global pressure.
func (ag *AtomGo) AdjustQuota(_ context.Context, factor float64) error {
	for {
		cur := ag.atomQuota.Load()
		if cur == 0 {
			return nil
		}
		next := uint64(float64(cur) * factor)
		if next == 0 {
			next = 1
		}
		if ag.atomQuota.CompareAndSwap(cur, next) {
			ag.logger.Info("ingestion quota adjusted", "from", cur, "to", next)
			return nil
		}
	}
}

// Ingest submits an ingestion job and processes it in the background.
// Track progress via JobStatus; a zero AtomQuota inherits the store
// default.
func (ag *AtomGo) Ingest(ctx context.Context, spec ingest.Spec) (*ingest.Job, error) {
	if ag.closed.Load() {
		return nil, ErrClosed
	}

	ag.fillSpec(&spec)

	job, err := ag.orchestrator.Submit(spec)
	if err != nil {
		return nil, translateError(err)
	}

	go ag.runJob(ctx, job)
	return job, nil
}

// ResumeIngest resumes a crashed or interrupted job from its last
// committed chunk and processes the remainder in the background. The
// spec must describe the same source.
func (ag *AtomGo) ResumeIngest(ctx context.Context, jobID uuid.UUID, spec ingest.Spec) (*ingest.Job, error) {
	if ag.closed.Load() {
		return nil, ErrClosed
	}

	ag.fillSpec(&spec)

	job, err := ag.orchestrator.Resume(ctx, jobID, spec)
	if err != nil {
		return nil, translateError(err)
	}

	go ag.runJob(ctx, job)
	return job, nil
}

func (ag *AtomGo) fillSpec(spec *ingest.Spec) {
	if spec.AtomQuota == 0 {
		spec.AtomQuota = ag.atomQuota.Load()
	}
	if spec.ChunkSize == 0 {
		spec.ChunkSize = ag.chunkSize
	}
}

func (ag *AtomGo) runJob(ctx context.Context, job *ingest.Job) {
	start := time.Now()
	err := ag.orchestrator.Run(ctx, job)

	snap := job.Snapshot()
	ag.metrics.RecordIngest(snap.TotalAtomsProcessed, time.Since(start), err)
	ag.logger.LogIngest(ctx, job.ID().String(), snap.TotalAtomsProcessed, err)

	if ag.loop != nil {
		ag.loop.Signal()
	}
}

// JobStatus returns a point-in-time snapshot of an ingestion job.
func (ag *AtomGo) JobStatus(jobID uuid.UUID) (ingest.Snapshot, error) {
	snap, err := ag.orchestrator.Job(jobID)
	return snap, translateError(err)
}

// Jobs returns snapshots of all known ingestion jobs.
func (ag *AtomGo) Jobs() []ingest.Snapshot {
	return ag.orchestrator.Jobs()
}

// Snapshot persists the current state as a blob and returns its name.
func (ag *AtomGo) Snapshot(ctx context.Context) (string, error) {
	if ag.closed.Load() {
		return "", ErrClosed
	}

	start := time.Now()
	name := fmt.Sprintf("%020d", start.UnixNano())

	snap := persistence.Capture(ag.store, ag.graph, ag.tensors, ag.embeddings)
	err := ag.snapshots.Save(ctx, name, snap)

	ag.metrics.RecordSnapshot(time.Since(start), err)
	ag.logger.LogSnapshot(ctx, name, err)

	if err != nil {
		return "", err
	}
	return name, nil
}

// Restore loads a snapshot into the store. Intended for a freshly
// opened store; restored atoms merge with existing ones.
func (ag *AtomGo) Restore(ctx context.Context, name string) error {
	snap, err := ag.snapshots.Load(ctx, name)
	if err != nil {
		ag.logger.LogRestore(ctx, name, 0, err)
		return err
	}

	err = snap.Apply(ctx, persistence.Target{
		Store:      ag.store,
		Graph:      ag.graph,
		Tensors:    ag.tensors,
		Embeddings: ag.embeddings,
		Space:      ag.space,
	})

	ag.logger.LogRestore(ctx, name, len(snap.Atoms), err)
	return err
}

// RestoreLatest restores the most recent snapshot.
func (ag *AtomGo) RestoreLatest(ctx context.Context) error {
	name, err := ag.snapshots.Latest(ctx)
	if err != nil {
		return err
	}
	return ag.Restore(ctx, name)
}

// Snapshots returns the saved snapshot names, sorted.
func (ag *AtomGo) Snapshots(ctx context.Context) ([]string, error) {
	return ag.snapshots.List(ctx)
}

// CollectGarbage reclaims tombstoned atoms and drops them from the
// spatial index. The autonomy loop runs this on its own when enabled.
func (ag *AtomGo) CollectGarbage(ctx context.Context) (int, error) {
	reclaimed, err := ag.store.CollectGarbage(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range reclaimed {
		if err := ag.embeddings.Remove(id); err == nil {
			_ = ag.space.Remove(id)
		}
	}
	return len(reclaimed), nil
}

// SignalAutonomy wakes the maintenance loop for an immediate cycle.
// No-op when autonomy is disabled.
func (ag *AtomGo) SignalAutonomy() {
	if ag.loop != nil {
		ag.loop.Signal()
	}
}

// ApproveAction approves a pending autonomy action under a manual
// approval policy.
func (ag *AtomGo) ApproveAction(id uuid.UUID) error {
	if ag.loop == nil {
		return errors.New("autonomy disabled")
	}
	return ag.loop.Approve(id)
}

// PendingActions lists autonomy actions awaiting approval.
func (ag *AtomGo) PendingActions() ([]autonomy.Action, error) {
	if ag.actions == nil {
		return nil, nil
	}
	return ag.actions.ListByStatus(autonomy.ActionPending)
}

// Stats returns a snapshot of store-level counters.
func (ag *AtomGo) Stats() Stats {
	storeStats := ag.store.GetStats()

	ag.conceptMu.RLock()
	concepts := len(ag.concepts)
	ag.conceptMu.RUnlock()

	return Stats{
		Atoms:          storeStats.Atoms,
		Tombstones:     storeStats.Tombstones,
		Embeddings:     ag.embeddings.Count(),
		IndexedPoints:  ag.space.Len(),
		Concepts:       concepts,
		SpatialRebuild: ag.space.Rebuilds(),
	}
}

// Close stops the autonomy loop and releases all resources. The store
// must not be used afterwards.
func (ag *AtomGo) Close() error {
	if !ag.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	var errs []error

	if ag.loop != nil {
		ag.loop.Stop()
	}
	if ag.actions != nil {
		if err := ag.actions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close action queue: %w", err))
		}
	}
	if err := ag.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close commit log: %w", err))
	}
	if err := ag.snapshots.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close snapshot manager: %w", err))
	}
	if ag.ephemeral {
		if err := os.RemoveAll(ag.dataDir); err != nil {
			errs = append(errs, fmt.Errorf("remove ephemeral data dir: %w", err))
		}
	}

	return errors.Join(errs...)
}
