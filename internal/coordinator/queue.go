package coordinator

import "sync"

// taskQueue is an unbounded FIFO. push never blocks, so transport callbacks
// that fire synchronously inside a loop task (pion binds tracks while the
// remote description is applied) cannot deadlock the loop.
type taskQueue struct {
	mu     sync.Mutex
	items  []func()
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{signal: make(chan struct{}, 1)}
}

func (q *taskQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *taskQueue) drain() []func() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}
