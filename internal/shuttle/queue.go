package shuttle

import "container/heap"

// queuedItem is one entry in a shuttle's command queue: ordered by
// (priority, seq) per §4.4's ordering guarantee.
type queuedItem struct {
	priority int
	seq      uint64
	id       string
	cmd      Command
}

// commandQueue is a bounded min-heap on (priority, seq). The original
// source uses asyncio.PriorityQueue, which has no mid-queue removal API
// and so cancel() drains the whole queue into a scratch list and rebuilds
// it minus the target; container/heap exposes heap.Remove directly, so
// RemoveID does the equivalent in place. All methods assume the caller
// holds the owning Handle's lock.
type commandQueue struct {
	items   []*queuedItem
	maxSize int
}

func newCommandQueue(maxSize int) *commandQueue {
	return &commandQueue{maxSize: maxSize}
}

func (q *commandQueue) Len() int { return len(q.items) }

func (q *commandQueue) Less(i, j int) bool {
	if q.items[i].priority != q.items[j].priority {
		return q.items[i].priority < q.items[j].priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *commandQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *commandQueue) Push(x any) { q.items = append(q.items, x.(*queuedItem)) }

func (q *commandQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// TryPush enqueues an item, failing if the queue is already at capacity
// (backpressure, §5).
func (q *commandQueue) TryPush(item *queuedItem) bool {
	if len(q.items) >= q.maxSize {
		return false
	}
	heap.Push(q, item)
	return true
}

// PopNonBlocking removes and returns the head of the queue, if any.
func (q *commandQueue) PopNonBlocking() (*queuedItem, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(q).(*queuedItem), true
}

// RemoveID removes the item with the given command ID, if present.
func (q *commandQueue) RemoveID(id string) bool {
	for i, it := range q.items {
		if it.id == id {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}

func (q *commandQueue) Size() int { return len(q.items) }
