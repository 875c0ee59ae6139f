package pool

import (
	"sync"

	"github.com/tinydl/engine/internal/dispatch"
)

// blockingQueue wraps dispatch.ReadyQueue with a mutex and condition
// variable so worker threads can block waiting for ready work instead of
// busy-polling, per the locking discipline: "Pool queue: mutex + condition
// variable; held briefly for push/pop."
type blockingQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  *dispatch.ReadyQueue
	closed bool
}

func newBlockingQueue() *blockingQueue {
	q := &blockingQueue{ready: dispatch.NewReadyQueue()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a ready operator and wakes one waiting worker.
func (q *blockingQueue) push(op *dispatch.Opr) {
	q.mu.Lock()
	q.ready.Push(op)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until an operator is ready or the queue is closed, in which
// case it returns (nil, false).
func (q *blockingQueue) pop() (*dispatch.Opr, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.ready.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.ready.Len() == 0 {
		return nil, false
	}
	return q.ready.Pop(), true
}

// depth returns the current number of ready operators, for metrics.
func (q *blockingQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len()
}

// close wakes every blocked worker; subsequent pops drain remaining work
// before returning false once empty.
func (q *blockingQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
