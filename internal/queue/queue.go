package queue

import (
	"context"
	"expvar"
	"fmt"
)

var (
	queueSize   = expvar.NewInt("gauge_worker_queue_size")
	activeJobs  = expvar.NewInt("gauge_worker_queue_active_jobs")
	skippedJobs = expvar.NewInt("counter_worker_queue_skipped_jobs")
)

// Priority is the priority of a job
type Priority int

const (
	// High is the priority of work that someone is waiting for
	High Priority = iota
	// Low is the priority of best-effort work, like prefetching
	Low
)

// Queue is a worker queue with a fixed amount of workers.
// Workers always pick high priority jobs before low priority jobs.
type Queue struct {
	ctx     context.Context
	workers int
	handler func(context.Context, interface{}) (interface{}, error)
	high    chan job
	low     chan job
}

type job struct {
	ctx    context.Context
	data   interface{}
	result chan jobResult
}

type jobResult struct {
	result interface{}
	err    error
}

// New creates a new Queue with the specified amount of workers, that shuts down when the context is canceled
func New(ctx context.Context, workers int, handler func(context.Context, interface{}) (interface{}, error)) *Queue {
	return &Queue{
		ctx:     ctx,
		workers: workers,
		handler: handler,
		high:    make(chan job),
		low:     make(chan job),
	}
}

// Run starts the workers and blocks until the queue is shut down
func (q *Queue) Run() {
	for i := 0; i < q.workers; i++ {
		go q.worker()
	}

	<-q.ctx.Done()
}

func (q *Queue) worker() {
	for {
		// Drain high priority jobs first
		select {
		case j := <-q.high:
			q.process(j)
			continue
		case <-q.ctx.Done():
			return
		default:
		}

		select {
		case j := <-q.high:
			q.process(j)
		case j := <-q.low:
			q.process(j)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(j job) {
	// The job was canceled while waiting for a worker
	if err := j.ctx.Err(); err != nil {
		skippedJobs.Add(1)
		j.result <- jobResult{err: err}
		return
	}

	activeJobs.Add(1)
	defer activeJobs.Add(-1)

	result, err := q.handler(j.ctx, j.data)
	j.result <- jobResult{
		result: result,
		err:    err,
	}
}

// Process adds a high priority job to the queue, waits for it to process, and returns the result
func (q *Queue) Process(ctx context.Context, data interface{}) (interface{}, error) {
	return q.ProcessWithPriority(ctx, High, data)
}

// ProcessWithPriority adds a job to the queue, waits for it to process, and returns the result.
// If the context is canceled before a worker picks up the job, the handler is never called.
func (q *Queue) ProcessWithPriority(ctx context.Context, priority Priority, data interface{}) (interface{}, error) {
	if q.ctx.Err() != nil {
		return nil, fmt.Errorf("queue has been shutdown")
	}

	queueSize.Add(1)
	defer queueSize.Add(-1)

	lane := q.high
	if priority == Low {
		lane = q.low
	}

	j := job{
		ctx:    ctx,
		data:   data,
		result: make(chan jobResult, 1),
	}

	select {
	case lane <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.ctx.Done():
		return nil, fmt.Errorf("queue has been shutdown")
	}

	select {
	case result := <-j.result:
		if result.err != nil {
			return nil, result.err
		}

		return result.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
