// Package queue serialises lookup jobs through a single background
// worker. The queue is small and rejects immediately when full: a
// lookup takes minutes, so anything past a short backlog would only
// rot.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("queue: full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("queue: closed")
)

// Job is one queued lookup.
type Job struct {
	ID         uuid.UUID
	Query      string
	Requester  string
	EnqueuedAt time.Time
}

// Handler processes one job. It runs on the single worker goroutine.
type Handler func(ctx context.Context, job Job)

// Queue is the bounded lookup queue.
type Queue struct {
	jobs    chan Job
	handler Handler
	log     *slog.Logger

	wg sync.WaitGroup

	// mu orders Submit against Close: jobs is only closed once no
	// Submit can be inside its send.
	mu     sync.Mutex
	closed bool
}

// New creates a queue. Capacity defaults to 10.
func New(capacity int, handler Handler, log *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		jobs:    make(chan Job, capacity),
		handler: handler,
		log:     log,
	}
}

// Start launches the worker. ctx cancellation stops it after the job
// in flight finishes.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)
}

// Submit enqueues a lookup. It never blocks: when the backlog is at
// capacity it fails with ErrQueueFull right away so the caller can
// tell the requester to come back later. After Close it fails with
// ErrClosed.
func (q *Queue) Submit(query, requester string) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return uuid.Nil, ErrClosed
	}

	job := Job{
		ID:         uuid.New(),
		Query:      query,
		Requester:  requester,
		EnqueuedAt: time.Now().UTC(),
	}
	select {
	case q.jobs <- job:
		q.log.Info("job enqueued", "job_id", job.ID, "depth", len(q.jobs))
		return job.ID, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Len is the current backlog depth.
func (q *Queue) Len() int { return len(q.jobs) }

// Cap is the backlog capacity.
func (q *Queue) Cap() int { return cap(q.jobs) }

// Close stops accepting jobs, lets the worker drain the backlog, and
// waits for it to exit. Safe to call more than once; a Submit racing
// Close gets ErrClosed instead of a panic.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			start := time.Now()
			q.handler(ctx, job)
			q.log.Info("job finished",
				"job_id", job.ID,
				"waited", start.Sub(job.EnqueuedAt).Round(time.Millisecond),
				"took", time.Since(start).Round(time.Millisecond))
		}
	}
}
