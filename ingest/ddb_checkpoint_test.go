package ingest

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/atomgo/atom"
	"github.com/hupe1980/atomgo/composition"
	"github.com/hupe1980/atomgo/core"
	"github.com/hupe1980/atomgo/wal"
)

// fakeDDBClient implements DDBClient in memory with conditional-write
// semantics for the (job_id, chunk_index) key.
type fakeDDBClient struct {
	items map[string]map[uint64]map[string]types.AttributeValue
}

func newFakeDDBClient() *fakeDDBClient {
	return &fakeDDBClient{items: make(map[string]map[uint64]map[string]types.AttributeValue)}
}

func (c *fakeDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	job := params.Item["job_id"].(*types.AttributeValueMemberS).Value
	chunk, err := strconv.ParseUint(params.Item["chunk_index"].(*types.AttributeValueMemberN).Value, 10, 64)
	if err != nil {
		return nil, err
	}

	if c.items[job] == nil {
		c.items[job] = make(map[uint64]map[string]types.AttributeValue)
	}
	if _, exists := c.items[job][chunk]; exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	c.items[job][chunk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (c *fakeDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	job := params.ExpressionAttributeValues[":job"].(*types.AttributeValueMemberS).Value

	var (
		best    map[string]types.AttributeValue
		bestKey uint64
	)
	for chunk, item := range c.items[job] {
		if best == nil || chunk > bestKey {
			best, bestKey = item, chunk
		}
	}

	out := &dynamodb.QueryOutput{}
	if best != nil {
		out.Items = []map[string]types.AttributeValue{best}
	}
	return out, nil
}

func TestDDBCheckpointerSaveLatest(t *testing.T) {
	ctx := context.Background()
	cp := NewDDBCheckpointer(newFakeDDBClient(), "atomgo-checkpoints")
	jobID := uuid.New()

	_, err := cp.Latest(ctx, jobID)
	require.ErrorIs(t, err, ErrNoCheckpoint)

	first := Checkpoint{JobID: jobID, ChunkIndex: 0, NewOffset: 3, AtomsProcessed: 3, RootAtomID: core.AtomID(7)}
	require.NoError(t, cp.Save(ctx, first))
	require.NoError(t, cp.Save(ctx, Checkpoint{JobID: jobID, ChunkIndex: 1, NewOffset: 6, AtomsProcessed: 6, RootAtomID: core.AtomID(7)}))

	// A retried commit for the same chunk is rejected, not rewritten.
	require.ErrorIs(t, cp.Save(ctx, first), ErrCheckpointExists)

	got, err := cp.Latest(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got.ChunkIndex)
	assert.Equal(t, uint64(6), got.NewOffset)
	assert.Equal(t, uint64(6), got.AtomsProcessed)
	assert.Equal(t, core.AtomID(7), got.RootAtomID)
}

func TestResumeFromRemoteCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := atom.NewStore()
	graph := composition.NewGraph(store)
	remote := NewDDBCheckpointer(newFakeDDBClient(), "atomgo-checkpoints")

	src := testSource(40)
	spec := textSpec(src, 3, 0)

	w1, err := wal.Open(filepath.Join(t.TempDir(), "a.wal"))
	require.NoError(t, err)

	o1 := NewOrchestrator(store, graph, w1, WithRemoteCheckpointer(remote))

	bad := spec
	bad.Decomposer = &flakyDecomposer{inner: spec.Decomposer, failAt: 6}
	job, err := o1.Submit(bad)
	require.NoError(t, err)
	require.Error(t, o1.Run(ctx, job))
	require.NoError(t, w1.Close())

	// Another host: empty local log, progress comes from DynamoDB.
	w2, err := wal.Open(filepath.Join(t.TempDir(), "b.wal"))
	require.NoError(t, err)
	defer w2.Close()

	o2 := NewOrchestrator(store, graph, w2, WithRemoteCheckpointer(remote))
	resumed, err := o2.Resume(ctx, job.ID(), spec)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), resumed.Snapshot().CurrentOffset)

	require.NoError(t, o2.Run(ctx, resumed))

	out, err := graph.Reconstruct(resumed.Snapshot().RootAtomID)
	require.NoError(t, err)
	assert.Equal(t, []byte(src), out)
}
