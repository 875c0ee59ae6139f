package dispatch

import "container/heap"

// ReadyQueue is a stable max-priority queue of ready operators: highest
// Priority first, ties broken by submission order. Grounded on the pack's
// block-STM executors and infblueocean's worker-pool priority queue, both
// of which wrap container/heap the same way.
type ReadyQueue struct {
	h oprHeap
}

// NewReadyQueue returns an empty ready queue.
func NewReadyQueue() *ReadyQueue {
	q := &ReadyQueue{}
	heap.Init(&q.h)
	return q
}

// Push adds a ready operator to the queue.
func (q *ReadyQueue) Push(op *Opr) {
	heap.Push(&q.h, op)
}

// Pop removes and returns the highest-priority (earliest-submitted on tie)
// operator, or nil if the queue is empty.
func (q *ReadyQueue) Pop() *Opr {
	if q.h.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Opr)
}

// Len reports the number of ready operators currently queued.
func (q *ReadyQueue) Len() int { return q.h.Len() }

type oprHeap []*Opr

func (h oprHeap) Len() int { return len(h) }

func (h oprHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority // higher priority first
	}
	return h[i].seq < h[j].seq // earlier submission first
}

func (h oprHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *oprHeap) Push(x any) {
	*h = append(*h, x.(*Opr))
}

func (h *oprHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
