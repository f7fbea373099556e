package msgpipeline

import (
	"sync"

	domainMessage "github.com/AzielCF/az-hub/domains/message"
)

// priorityQueue is the bounded, priority-ordered queue feeding the batch
// loop. Lower priority values are served first. Insertion is stable: a new
// item lands at the first position whose existing priority exceeds its own,
// so items of equal priority keep arrival order. On overflow the tail item
// is dropped.
type priorityQueue struct {
	mu      sync.Mutex
	items   []domainMessage.QueueItem
	maxSize int
}

func newPriorityQueue(maxSize int) *priorityQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &priorityQueue{maxSize: maxSize}
}

// Push inserts the item and returns the evicted tail item when the queue
// overflowed, or nil. The tail always holds the lowest-priority class, and
// within that class the newest arrival, so an overflowing push at the lowest
// priority evicts the pushed item itself.
func (q *priorityQueue) Push(item domainMessage.QueueItem) *domainMessage.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := len(q.items)
	for i := range q.items {
		if q.items[i].Priority > item.Priority {
			pos = i
			break
		}
	}

	q.items = append(q.items, domainMessage.QueueItem{})
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = item

	if len(q.items) > q.maxSize {
		dropped := q.items[len(q.items)-1]
		q.items = q.items[:len(q.items)-1]
		return &dropped
	}
	return nil
}

// PopBatch removes and returns up to n items, highest priority first.
func (q *priorityQueue) PopBatch(n int) []domainMessage.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.items) == 0 {
		return nil
	}
	if n > len(q.items) {
		n = len(q.items)
	}

	batch := make([]domainMessage.QueueItem, n)
	copy(batch, q.items[:n])
	q.items = append(q.items[:0], q.items[n:]...)
	return batch
}

func (q *priorityQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drains the queue and returns how many items were discarded.
func (q *priorityQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

// SetMaxSize adjusts capacity; excess tail items are dropped immediately.
func (q *priorityQueue) SetMaxSize(maxSize int) int {
	if maxSize <= 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxSize = maxSize
	dropped := 0
	for len(q.items) > q.maxSize {
		q.items = q.items[:len(q.items)-1]
		dropped++
	}
	return dropped
}
