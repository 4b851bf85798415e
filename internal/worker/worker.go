package worker

import (
	"context"
	"fmt"
	"runtime"

	"omr-grader/pkg/logger"
	"omr-grader/pkg/metrics"
)

// Processor handles one queued sheet end to end.
type Processor interface {
	Process(ctx context.Context, sheetID string) error
}

// Worker pulls sheet IDs off the queue until the queue closes or the context
// is cancelled. Processing errors are logged, not fatal: the sheet row
// carries its own failure state.
type Worker struct {
	name      string
	queue     *Queue
	processor Processor
	log       logger.Logger
	done      chan struct{}
}

// NewWorker creates a named worker reading from the queue.
func NewWorker(name string, queue *Queue, processor Processor) *Worker {
	return &Worker{
		name:      name,
		queue:     queue,
		processor: processor,
		log:       logger.Get().Named(name),
		done:      make(chan struct{}),
	}
}

// Run is the worker loop. It returns when the context is cancelled or the
// queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-w.queue.Dequeue():
			if !ok {
				return
			}
			metrics.UpdateQueueDepth(w.queue.Len())
			if err := w.processor.Process(ctx, id); err != nil {
				w.log.Error(ctx, "sheet processing failed",
					logger.String("sheet", id),
					logger.Err(err))
			}
		}
	}
}

// Pool runs a fixed set of workers over one queue.
type Pool struct {
	workers []*Worker
	queue   *Queue
	log     logger.Logger
}

// NewPool creates count workers; count below one defaults to the CPU count,
// since grading is compute-bound.
func NewPool(count int, queue *Queue, processor Processor) *Pool {
	if count < 1 {
		count = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*Worker, count),
		queue:   queue,
		log:     logger.Get().Named("worker-pool"),
	}
	for i := range pool.workers {
		pool.workers[i] = NewWorker(fmt.Sprintf("grader-%d", i), queue, processor)
	}
	return pool
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkersActive(len(p.workers))
	p.log.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Shutdown closes the queue and waits for the workers to drain it, or for
// the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()

	var err error
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.log.Warn(ctx, "worker shutdown timed out", logger.String("worker", w.name))
			err = fmt.Errorf("worker shutdown: %w", ctx.Err())
		}
	}
	metrics.UpdateWorkersActive(0)
	return err
}
