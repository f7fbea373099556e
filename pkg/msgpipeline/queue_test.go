package msgpipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
)

func queueItem(id string, priority int) domainMessage.QueueItem {
	return domainMessage.QueueItem{
		Envelope: domainMessage.Envelope{
			ID:        id,
			From:      "user@test",
			Timestamp: time.Now(),
		},
		AccountID:  "acc-1",
		EnqueuedAt: time.Now(),
		Priority:   priority,
	}
}

func TestPriorityQueueOrdersByPriority(t *testing.T) {
	q := newPriorityQueue(10)

	q.Push(queueItem("low", 5))
	q.Push(queueItem("high", 0))
	q.Push(queueItem("mid", 2))

	batch := q.PopBatch(3)
	require.Len(t, batch, 3)
	assert.Equal(t, "high", batch[0].Envelope.ID)
	assert.Equal(t, "mid", batch[1].Envelope.ID)
	assert.Equal(t, "low", batch[2].Envelope.ID)
}

func TestPriorityQueueStableWithinPriority(t *testing.T) {
	q := newPriorityQueue(10)

	for i := 0; i < 5; i++ {
		q.Push(queueItem(fmt.Sprintf("msg-%d", i), 1))
	}

	batch := q.PopBatch(5)
	require.Len(t, batch, 5)
	for i, item := range batch {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), item.Envelope.ID)
	}
}

func TestPriorityQueueDropsTailOnOverflow(t *testing.T) {
	q := newPriorityQueue(3)

	q.Push(queueItem("a", 1))
	q.Push(queueItem("b", 1))
	q.Push(queueItem("c", 1))

	evicted := q.Push(queueItem("d", 0))
	require.NotNil(t, evicted)
	assert.Equal(t, "c", evicted.Envelope.ID)

	batch := q.PopBatch(3)
	require.Len(t, batch, 3)
	assert.Equal(t, "d", batch[0].Envelope.ID)
	assert.Equal(t, "a", batch[1].Envelope.ID)
	assert.Equal(t, "b", batch[2].Envelope.ID)
}

func TestPriorityQueueOverflowNeverDropsNewestHighPriority(t *testing.T) {
	q := newPriorityQueue(2)

	q.Push(queueItem("old-1", 3))
	q.Push(queueItem("old-2", 3))

	evicted := q.Push(queueItem("urgent", 0))
	require.NotNil(t, evicted)
	assert.Equal(t, "old-2", evicted.Envelope.ID)
	assert.Equal(t, 2, q.Depth())
}

func TestPriorityQueueOverflowAtEqualPriorityEvictsNewest(t *testing.T) {
	q := newPriorityQueue(2)

	q.Push(queueItem("old-1", 3))
	q.Push(queueItem("old-2", 3))

	// Stable insertion puts the newcomer behind its equal-priority peers,
	// so at the lowest priority the newcomer is the one evicted.
	evicted := q.Push(queueItem("new", 3))
	require.NotNil(t, evicted)
	assert.Equal(t, "new", evicted.Envelope.ID)

	batch := q.PopBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "old-1", batch[0].Envelope.ID)
	assert.Equal(t, "old-2", batch[1].Envelope.ID)
}

func TestPriorityQueuePopBatchPartial(t *testing.T) {
	q := newPriorityQueue(10)
	q.Push(queueItem("only", 1))

	batch := q.PopBatch(5)
	require.Len(t, batch, 1)
	assert.Equal(t, 0, q.Depth())
	assert.Nil(t, q.PopBatch(5))
}

func TestPriorityQueueClear(t *testing.T) {
	q := newPriorityQueue(10)
	q.Push(queueItem("a", 1))
	q.Push(queueItem("b", 1))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Depth())
	assert.Equal(t, 0, q.Clear())
}

func TestPriorityQueueShrinkDropsExcess(t *testing.T) {
	q := newPriorityQueue(5)
	for i := 0; i < 5; i++ {
		q.Push(queueItem(fmt.Sprintf("msg-%d", i), 1))
	}

	dropped := q.SetMaxSize(3)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 3, q.Depth())
}
