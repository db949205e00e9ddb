package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// Func is a job function.
type Func func(ctx context.Context) error

// Job is the runtime handle of a submitted job function. It is not persisted.
type Job struct {
	id      string
	fn      Func
	onStart func(*Job)
	onDone  func(*Job, error)

	// guarded by Queue.mu
	running   bool
	startedAt time.Time
}

// ID returns the key the job was added under.
func (j *Job) ID() string { return j.id }

// Snapshot is a point-in-time view of a tracked job.
type Snapshot struct {
	ID        string
	Running   bool
	StartedAt time.Time
}

// Counts reports the queue's accounting.
type Counts struct {
	Running     int
	Schedulable int
	Total       int
}

// Queue bounds concurrent execution of job functions.
type Queue struct {
	maxActive int
	capacity  int
	clock     clock.Clock
	logger    *slog.Logger
	baseCtx   context.Context

	mu       sync.Mutex
	jobs     map[string]*Job
	pending  []*Job
	running  int
	inflight int
	paused   bool
	idle     chan struct{}
}

// New creates a paused Queue. Call Start to begin dispatching.
func New(opts ...Option) *Queue {
	q := &Queue{
		maxActive: DefaultMaxActive,
		clock:     clock.C,
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		jobs:      make(map[string]*Job),
		paused:    true,
	}
	for _, opt := range opts {
		opt.apply(q)
	}
	if q.capacity == 0 {
		q.capacity = q.maxActive
	}
	return q
}

// MaxActive returns the concurrency bound.
func (q *Queue) MaxActive() int { return q.maxActive }

// Capacity returns the threshold IsFull compares against.
func (q *Queue) Capacity() int { return q.capacity }

// AddJob enqueues fn under key. The key must not belong to a job that is
// still tracked; reusing one returns core.ErrDuplicateKey.
func (q *Queue) AddJob(key string, fn Func, opts ...JobOption) (*Job, error) {
	job := &Job{id: key, fn: fn}
	for _, opt := range opts {
		opt(job)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[key]; ok {
		return nil, errors.Wrapf(core.ErrDuplicateKey, "queue: add %q", key)
	}
	q.jobs[key] = job
	q.pending = append(q.pending, job)
	q.dispatchLocked()
	return job, nil
}

// RemoveJob drops a job that has not started yet.
func (q *Queue) RemoveJob(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[key]
	if !ok {
		return errors.Wrapf(core.ErrJobNotFound, "queue: remove %q", key)
	}
	if job.running {
		return errors.Wrapf(core.ErrJobRunning, "queue: remove %q", key)
	}
	delete(q.jobs, key)
	for i, p := range q.pending {
		if p == job {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return nil
}

// Has reports whether a job with key is pending or running.
func (q *Queue) Has(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[key]
	return ok
}

// Start enables dispatching of pending jobs.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	q.dispatchLocked()
}

// Pause stops dispatching new jobs. Running jobs are unaffected.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
}

// Paused reports whether dispatching is disabled.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Clear drops all pending jobs and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	for _, job := range q.pending {
		delete(q.jobs, job.id)
	}
	q.pending = nil
	return n
}

// IsFull reports whether running plus pending jobs reached the capacity.
func (q *Queue) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running+len(q.pending) >= q.capacity
}

// Free returns how many more jobs fit before IsFull reports true.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	free := q.capacity - q.running - len(q.pending)
	if free < 0 {
		return 0
	}
	return free
}

// InvalidRunning reports whether at least minCount running jobs started
// before threshold. A minCount below one never matches.
func (q *Queue) InvalidRunning(threshold time.Time, minCount int) bool {
	if minCount < 1 {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, job := range q.jobs {
		if job.running && job.startedAt.Before(threshold) {
			n++
			if n >= minCount {
				return true
			}
		}
	}
	return false
}

// Jobs returns a snapshot of every tracked job, running jobs first.
func (q *Queue) Jobs() []Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Snapshot, 0, len(q.jobs))
	for _, job := range q.jobs {
		if job.running {
			out = append(out, Snapshot{ID: job.id, Running: true, StartedAt: job.startedAt})
		}
	}
	for _, job := range q.pending {
		out = append(out, Snapshot{ID: job.id})
	}
	return out
}

// Counts returns the current accounting.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Counts{
		Running:     q.running,
		Schedulable: len(q.pending),
		Total:       len(q.jobs),
	}
}

// Wait blocks until no job function or callback is executing, or ctx is done.
// Pending jobs of a paused queue are not waited for.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.inflight == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked starts pending jobs while there is room. q.mu must be held.
func (q *Queue) dispatchLocked() {
	for !q.paused && q.running < q.maxActive && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]

		job.running = true
		job.startedAt = q.clock.Now()
		q.running++
		q.inflight++

		q.logger.Debug("dispatching job", "job_id", job.id, "running", q.running)
		go q.execute(job)
	}
}

func (q *Queue) execute(job *Job) {
	if job.onStart != nil {
		job.onStart(job)
	}

	err := q.call(job)
	if err != nil {
		q.logger.Debug("job function failed", "job_id", job.id, "error", err)
	}

	q.mu.Lock()
	job.running = false
	q.running--
	if q.jobs[job.id] == job {
		delete(q.jobs, job.id)
	}
	q.mu.Unlock()

	if job.onDone != nil {
		job.onDone(job, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	q.dispatchLocked()
	if q.inflight == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}

func (q *Queue) call(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
			q.logger.Error("job function panicked", "job_id", job.id, "panic", r)
		}
	}()
	return job.fn(q.baseCtx)
}
