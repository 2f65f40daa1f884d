package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/embedding"
	"github.com/hupe1980/atomgo/spatial"
	"github.com/hupe1980/atomgo/wal"
)

func testSource(n int) BytesSource {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	return BytesSource(data)
}

func testHarness(t *testing.T) (*atom.Store, *composition.Graph, *wal.WAL) {
	t.Helper()

	store := atom.NewStore()
	graph := composition.NewGraph(store)

	w, err := wal.Open(filepath.Join(t.TempDir(), "commits.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	return store, graph, w
}

func textSpec(src Source, chunkSize int, quota uint64) Spec {
	return Spec{
		Source:     src,
		Decomposer: &FixedSizeDecomposer{PayloadSize: 4, Modality: core.ModalityText},
		ChunkSize:  chunkSize,
		AtomQuota:  quota,
		Modality:   core.ModalityText,
	}
}

func TestIngestComplete(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	src := testSource(40) // 10 units of 4 bytes
	job, err := o.Submit(textSpec(src, 3, 100))
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), job))

	snap := job.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, uint64(10), snap.TotalAtomsProcessed)
	assert.Equal(t, uint64(10), snap.CurrentOffset)
	assert.Equal(t, uint32(4), snap.ChunkCommits)

	// Commit sizes follow the chunking: 3, 3, 3, 1.
	var sizes []int
	require.NoError(t, w.Replay(func(rec wal.CommitRecord) error {
		sizes = append(sizes, len(rec.AtomIDs))
		return nil
	}))
	assert.Equal(t, []int{3, 3, 3, 1}, sizes)

	// The composition reproduces the source byte for byte.
	out, err := graph.Reconstruct(snap.RootAtomID)
	require.NoError(t, err)
	assert.Equal(t, []byte(src), out)
}

func TestQuotaExceededPreservesProgress(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	job, err := o.Submit(textSpec(testSource(40), 3, 7))
	require.NoError(t, err)

	err = o.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// Root plus two chunks of 3 fit under the quota of 7; the third
	// chunk would reach 10.
	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.ErrorIs(t, snap.Err, ErrQuotaExceeded)
	assert.Equal(t, uint64(6), snap.TotalAtomsProcessed)
	assert.Equal(t, uint64(6), snap.CurrentOffset)
	assert.Equal(t, uint32(2), snap.ChunkCommits)

	n, err := w.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQuotaIncludesRootAtom(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	// Three units plus the root anchor is four atoms; a quota of three
	// fails before the first chunk commits.
	job, err := o.Submit(textSpec(testSource(12), 3, 3))
	require.NoError(t, err)
	require.ErrorIs(t, o.Run(context.Background(), job), ErrQuotaExceeded)
	assert.Equal(t, uint64(0), job.Snapshot().TotalAtomsProcessed)

	job, err = o.Submit(textSpec(testSource(12), 3, 4))
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), job))
	assert.Equal(t, StatusComplete, job.Snapshot().Status)
}

// flakyDecomposer fails every Decompose at or past failAt, simulating a
// source that dies mid-job.
type flakyDecomposer struct {
	inner  Decomposer
	failAt uint64
}

func (d *flakyDecomposer) Decompose(ctx context.Context, src Source, offset uint64, limit int) ([]Unit, error) {
	if offset >= d.failAt {
		return nil, errors.New("source connection lost")
	}
	return d.inner.Decompose(ctx, src, offset, limit)
}

func TestResumeAfterCrash(t *testing.T) {
	ctx := context.Background()
	store := atom.NewStore()
	graph := composition.NewGraph(store)
	path := filepath.Join(t.TempDir(), "commits.wal")

	src := testSource(40)
	good := textSpec(src, 3, 100)

	w1, err := wal.Open(path)
	require.NoError(t, err)

	bad := good
	bad.Decomposer = &flakyDecomposer{inner: good.Decomposer, failAt: 6}

	o1 := NewOrchestrator(store, graph, w1)
	job, err := o1.Submit(bad)
	require.NoError(t, err)
	require.Error(t, o1.Run(ctx, job))

	snap := job.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, uint64(6), snap.CurrentOffset)
	require.NoError(t, w1.Close())

	// New process: fresh orchestrator over the same log.
	w2, err := wal.Open(path)
	require.NoError(t, err)
	defer w2.Close()

	o2 := NewOrchestrator(store, graph, w2)
	resumed, err := o2.Resume(ctx, job.ID(), good)
	require.NoError(t, err)

	got := resumed.Snapshot()
	assert.Equal(t, uint64(6), got.CurrentOffset)
	assert.Equal(t, uint64(6), got.TotalAtomsProcessed)
	assert.Equal(t, snap.RootAtomID, got.RootAtomID)

	require.NoError(t, o2.Run(ctx, resumed))

	final := resumed.Snapshot()
	assert.Equal(t, StatusComplete, final.Status)
	assert.Equal(t, uint64(10), final.TotalAtomsProcessed)
	assert.Equal(t, uint32(4), final.ChunkCommits)

	// No gap, no double counting: the reconstruction is exact.
	out, err := graph.Reconstruct(final.RootAtomID)
	require.NoError(t, err)
	assert.Equal(t, []byte(src), out)
}

func TestResumeUnknownJob(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	job, err := o.Submit(textSpec(testSource(8), 2, 0))
	require.NoError(t, err)

	_, err = o.Resume(context.Background(), job.ID(), textSpec(testSource(8), 2, 0))
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

// cancellingDecomposer cancels the job while decomposing at cancelAt.
// The chunk it returns still commits; the loop stops before the next.
type cancellingDecomposer struct {
	inner    Decomposer
	cancelAt uint64
	job      *Job
}

func (d *cancellingDecomposer) Decompose(ctx context.Context, src Source, offset uint64, limit int) ([]Unit, error) {
	if offset >= d.cancelAt {
		d.job.Cancel()
	}
	return d.inner.Decompose(ctx, src, offset, limit)
}

func TestCancelBetweenChunks(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	spec := textSpec(testSource(40), 3, 0)
	cd := &cancellingDecomposer{inner: spec.Decomposer, cancelAt: 3}
	spec.Decomposer = cd

	job, err := o.Submit(spec)
	require.NoError(t, err)
	cd.job = job

	require.NoError(t, o.Run(context.Background(), job))

	// The chunk in flight when Cancel hit still committed.
	snap := job.Snapshot()
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.Equal(t, uint64(6), snap.CurrentOffset)
	assert.Equal(t, uint32(2), snap.ChunkCommits)
}

func TestRunTwice(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	job, err := o.Submit(textSpec(testSource(8), 2, 0))
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), job))
	require.ErrorIs(t, o.Run(context.Background(), job), ErrJobNotPending)
}

func TestConcurrentJobs(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	a := make([]byte, 24)
	b := make([]byte, 24)
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(100 + i)
	}

	jobA, err := o.Submit(textSpec(BytesSource(a), 2, 0))
	require.NoError(t, err)
	jobB, err := o.Submit(textSpec(BytesSource(b), 2, 0))
	require.NoError(t, err)

	require.NoError(t, o.RunConcurrent(context.Background(), jobA, jobB))

	outA, err := graph.Reconstruct(jobA.Snapshot().RootAtomID)
	require.NoError(t, err)
	assert.Equal(t, a, outA)

	outB, err := graph.Reconstruct(jobB.Snapshot().RootAtomID)
	require.NoError(t, err)
	assert.Equal(t, b, outB)

	assert.Len(t, o.Jobs(), 2)
}

// payloadEmbedder derives a vector directly from payload bytes.
type payloadEmbedder struct{}

func (payloadEmbedder) Embed(_ context.Context, payload []byte, _ core.Modality) ([]float32, error) {
	vec := make([]float32, 3)
	for i := 0; i < len(payload) && i < 3; i++ {
		vec[i] = float32(payload[i])
	}
	return vec, nil
}

func TestEmbedderWiring(t *testing.T) {
	store, graph, w := testHarness(t)

	embIx := embedding.NewIndex()
	space := spatial.NewIndex()
	o := NewOrchestrator(store, graph, w,
		WithEmbedder(payloadEmbedder{}, embIx, space),
	)

	job, err := o.Submit(textSpec(testSource(40), 3, 0))
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), job))

	assert.Equal(t, 10, embIx.Count())

	hits, err := space.Query(core.Point{X: 0, Y: 1, Z: 2}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestSubmitValidation(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	_, err := o.Submit(Spec{Decomposer: &FixedSizeDecomposer{Modality: core.ModalityText}})
	require.Error(t, err)

	_, err = o.Submit(Spec{Source: testSource(4)})
	require.Error(t, err)
}

func TestJobLookup(t *testing.T) {
	store, graph, w := testHarness(t)
	o := NewOrchestrator(store, graph, w)

	job, err := o.Submit(textSpec(testSource(4), 2, 0))
	require.NoError(t, err)

	snap, err := o.Job(job.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, snap.Status)

	_, err = o.Job([16]byte{0xde, 0xad})
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestFixedSizeDecomposer(t *testing.T) {
	ctx := context.Background()
	d := &FixedSizeDecomposer{PayloadSize: 4, Modality: core.ModalityText}
	src := testSource(10) // units: 4, 4, 2

	units, err := d.Decompose(ctx, src, 0, 2)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, []byte{0, 1, 2, 3}, units[0].Payload)
	assert.Equal(t, int64(4), units[1].SpatialKey.X)

	units, err = d.Decompose(ctx, src, 2, 10)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, []byte{8, 9}, units[0].Payload)

	units, err = d.Decompose(ctx, src, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, units)

	_, err = d.Decompose(ctx, src, 0, 0)
	require.Error(t, err)

	bad := &FixedSizeDecomposer{PayloadSize: core.MaxPayloadSize + 1}
	_, err = bad.Decompose(ctx, src, 0, 1)
	require.Error(t, err)
}
