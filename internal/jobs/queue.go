package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fjordops/growthd/internal/metrics"
)

// maxRetries bounds attempts beyond the first for transient failures.
const maxRetries = 3

// Job is one recompute request covering [Start, End] for an assignment.
type Job struct {
	ID           string
	AssignmentID string
	TriggerKind  string
	TriggerDate  time.Time
	Start        time.Time
	End          time.Time
	EnqueuedAt   time.Time
}

// Runner executes a job. Failures that retrying cannot fix must come
// back wrapped in backoff.Permanent.
type Runner func(Job) error

type Config struct {
	Workers   int
	QueueSize int
	DedupTTL  time.Duration

	// RetryInterval seeds the exponential backoff between attempts.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = DefaultDedupTTL
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500 * time.Millisecond
	}
	return c
}

// Queue feeds a fixed worker pool from a bounded channel. Enqueue never
// blocks the caller: duplicates and overflow are dropped.
type Queue struct {
	cfg   Config
	run   Runner
	dedup *Deduper

	mu     sync.RWMutex
	jobs   chan Job
	closed bool
	g      *errgroup.Group
}

func NewQueue(cfg Config, run Runner) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:   cfg,
		run:   run,
		dedup: NewDeduper(cfg.DedupTTL),
		jobs:  make(chan Job, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers drain the queue until Stop
// closes intake or the context is canceled.
func (q *Queue) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	q.g = g
	for i := 0; i < q.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-q.jobs:
					if !ok {
						return nil
					}
					q.execute(job)
				}
			}
		})
	}
	log.Printf("jobs: started %d workers, queue %d, dedup ttl %s",
		q.cfg.Workers, q.cfg.QueueSize, q.cfg.DedupTTL)
}

// Enqueue schedules a job and returns its ID, or "" when the job was
// suppressed as a duplicate or dropped on a full queue.
func (q *Queue) Enqueue(job Job) string {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now()

	if q.dedup.Seen(job.AssignmentID, job.TriggerDate) {
		metrics.JobsDeduped.Inc()
		return ""
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ""
	}
	select {
	case q.jobs <- job:
		metrics.JobsEnqueued.Inc()
		return job.ID
	default:
		metrics.JobsDropped.Inc()
		log.Printf("jobs: queue full, dropping %s for %s on %s",
			job.TriggerKind, job.AssignmentID, job.TriggerDate.Format("2006-01-02"))
		return ""
	}
}

// Stop closes intake and blocks until queued jobs finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	if q.g != nil {
		q.g.Wait()
	}
}

func (q *Queue) execute(job Job) {
	attempts := 0
	operation := func() error {
		attempts++
		if attempts > 1 {
			metrics.JobsRetries.Inc()
		}
		return q.run(job)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.RetryInterval
	if err := backoff.Retry(operation, backoff.WithMaxRetries(bo, maxRetries)); err != nil {
		log.Printf("jobs: %s for %s on %s failed after %d attempts: %v",
			job.TriggerKind, job.AssignmentID, job.TriggerDate.Format("2006-01-02"), attempts, err)
	}
}
