package alerts

import (
	"container/heap"
	"sync"
)

// alertHeap orders alerts by severity only. Equal-severity order is
// heap-dependent and deliberately unspecified.
type alertHeap []*Alert

func (h alertHeap) Len() int            { return len(h) }
func (h alertHeap) Less(i, j int) bool  { return h[i].Priority() > h[j].Priority() }
func (h alertHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *alertHeap) Push(x interface{}) { *h = append(*h, x.(*Alert)) }

func (h *alertHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// queue is a thread-safe severity-ordered alert queue
type queue struct {
	mu    sync.Mutex
	items alertHeap
}

func newQueue() *queue {
	q := &queue{}
	heap.Init(&q.items)
	return q
}

func (q *queue) push(a *Alert) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.items, a)
}

// pop removes the highest-severity pending alert
func (q *queue) pop() (*Alert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return heap.Pop(&q.items).(*Alert), true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain empties the queue and returns how many alerts were discarded
func (q *queue) drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = q.items[:0]
	return n
}
