// Package worker grades uploaded sheets in the background: a bounded queue
// of sheet IDs feeds a pool of workers that claim each sheet, run the
// pipeline, and persist the outcome.
package worker

import (
	"sync"

	"omr-grader/pkg/metrics"
)

// Queue is a bounded in-memory queue of sheet IDs. Enqueue never blocks; a
// full queue pushes back on the upload endpoint instead of buffering without
// limit.
type Queue struct {
	ids    chan string
	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding up to capacity pending sheets.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	metrics.UpdateQueueCapacity(capacity)
	metrics.UpdateQueueDepth(0)
	return &Queue{ids: make(chan string, capacity)}
}

// Enqueue adds a sheet ID. It reports false when the queue is full or closed.
func (q *Queue) Enqueue(id string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.ids <- id:
		metrics.UpdateQueueDepth(len(q.ids))
		return true
	default:
		return false
	}
}

// Dequeue exposes the receive side. The channel closes when the queue is
// closed and drained.
func (q *Queue) Dequeue() <-chan string {
	return q.ids
}

// Len returns the number of queued sheets.
func (q *Queue) Len() int {
	return len(q.ids)
}

// Close stops intake. Queued sheets remain receivable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		close(q.ids)
		q.closed = true
	}
}

// IsClosed reports whether intake has stopped.
func (q *Queue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
