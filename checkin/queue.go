package checkin

import (
	"context"
	"sync"
)

// Queue is a bounded multi-producer multi-consumer job queue. Every Put
// counts one outstanding job until a consumer calls Done for it.
type Queue struct {
	jobs      chan Job
	pending   sync.WaitGroup
	shutdown  chan struct{}
	closeOnce sync.Once
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		jobs:     make(chan Job, size),
		shutdown: make(chan struct{}),
	}
}

// Put enqueues job, blocking while the queue is full.
func (q *Queue) Put(ctx context.Context, job Job) error {
	q.pending.Add(1)
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.pending.Done()
		return ctx.Err()
	case <-q.shutdown:
		q.pending.Done()
		return errQueueClosed
	}
}

// Requeue hands a job that is still outstanding back to the queue without
// blocking the caller.
func (q *Queue) Requeue(job Job) {
	select {
	case q.jobs <- job:
		return
	default:
	}

	go func() {
		select {
		case q.jobs <- job:
		case <-q.shutdown:
			q.pending.Done()
		}
	}()
}

// Get waits for the next job. ok is false once ctx is done or the queue is
// closed.
func (q *Queue) Get(ctx context.Context) (job Job, ok bool) {
	select {
	case job = <-q.jobs:
		return job, true
	case <-ctx.Done():
		return Job{}, false
	case <-q.shutdown:
		return Job{}, false
	}
}

// Done marks one job as finished.
func (q *Queue) Done() {
	q.pending.Done()
}

// Join waits until every job put on the queue is done.
func (q *Queue) Join(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases blocked producers and consumers.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.shutdown) })
}

func (q *Queue) Len() int {
	return len(q.jobs)
}
