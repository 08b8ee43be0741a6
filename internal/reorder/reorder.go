// Package reorder implements the presentation-timestamp queue that
// decouples decode order from display order. Timestamps are pushed as
// input is submitted and popped smallest-first as pictures come out of
// the decoder, which restores display order for codecs that reorder
// reference frames.
package reorder

import (
	"container/heap"
	"sync"
)

// Queue is a min-ordered multiset of timestamps. It is safe for concurrent
// use.
type Queue struct {
	mu sync.Mutex
	h  tsHeap
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push adds ts. Duplicates are kept.
func (q *Queue) Push(ts int64) {
	q.mu.Lock()
	heap.Push(&q.h, ts)
	q.mu.Unlock()
}

// Pop removes and returns the smallest pending timestamp, or reports false
// if none is pending.
func (q *Queue) Pop() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	return heap.Pop(&q.h).(int64), true
}

// Peek returns the smallest pending timestamp without removing it.
func (q *Queue) Peek() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0], true
}

// Len returns the number of pending timestamps.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Reset discards every pending timestamp.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.h = q.h[:0]
	q.mu.Unlock()
}

type tsHeap []int64

func (h tsHeap) Len() int           { return len(h) }
func (h tsHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h tsHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *tsHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *tsHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
