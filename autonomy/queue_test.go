package autonomy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()

	q, err := OpenQueue("")
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestQueueEnqueueGet(t *testing.T) {
	q := testQueue(t)

	a := Action{Type: HypothesisIndexOptimization, Region: Region{Prefix: 3, Bits: 9}, Priority: 10}
	require.NoError(t, q.Enqueue(&a))
	require.NotEqual(t, uuid.Nil, a.ID)

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, HypothesisIndexOptimization, got.Type)
	assert.Equal(t, ActionPending, got.Status)
	assert.Equal(t, Region{Prefix: 3, Bits: 9}, got.Region)

	_, err = q.Get(uuid.New())
	require.ErrorIs(t, err, ErrActionNotFound)
}

func TestQueuePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	q, err := OpenQueue(dir)
	require.NoError(t, err)

	a := Action{Type: HypothesisCacheWarming, Priority: 5}
	require.NoError(t, q.Enqueue(&a))
	require.NoError(t, q.Close())

	q2, err := OpenQueue(dir)
	require.NoError(t, err)
	defer q2.Close()

	got, err := q2.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, HypothesisCacheWarming, got.Type)
}

func TestQueueListOrder(t *testing.T) {
	q := testQueue(t)

	low := Action{Type: HypothesisCacheWarming, Priority: 1}
	high := Action{Type: HypothesisIndexOptimization, Priority: 9}
	require.NoError(t, q.Enqueue(&low))
	require.NoError(t, q.Enqueue(&high))

	all, err := q.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, high.ID, all[0].ID)
	assert.Equal(t, low.ID, all[1].ID)
}

func TestQueueApprove(t *testing.T) {
	q := testQueue(t)

	a := Action{Type: HypothesisIndexOptimization}
	require.NoError(t, q.Enqueue(&a))
	require.NoError(t, q.Approve(a.ID))

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionApproved, got.Status)

	// Approving twice is rejected.
	require.Error(t, q.Approve(a.ID))
}

func TestQueueSetStatus(t *testing.T) {
	q := testQueue(t)

	a := Action{Type: HypothesisPruneLowImportance}
	require.NoError(t, q.Enqueue(&a))
	require.NoError(t, q.SetStatus(a.ID, ActionFailed, "gc timed out"))

	got, err := q.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionFailed, got.Status)
	assert.Equal(t, "gc timed out", got.Diagnostic)

	failed, err := q.ListByStatus(ActionFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestQueueCooldownExpires(t *testing.T) {
	q := testQueue(t)
	r := Region{Prefix: 1, Bits: 9}

	cooling, err := q.InCooldown(HypothesisIndexOptimization, r)
	require.NoError(t, err)
	assert.False(t, cooling)

	require.NoError(t, q.MarkCooldown(HypothesisIndexOptimization, r, 2*time.Second))

	cooling, err = q.InCooldown(HypothesisIndexOptimization, r)
	require.NoError(t, err)
	assert.True(t, cooling)

	// A different type in the same region is not deduplicated.
	cooling, err = q.InCooldown(HypothesisCacheWarming, r)
	require.NoError(t, err)
	assert.False(t, cooling)
}
