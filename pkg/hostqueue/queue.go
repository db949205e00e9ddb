// Package hostqueue throttles outbound requests per destination host.
//
// Each host gets its own FIFO Queue that runs one task at a time and pauses
// for a random delay between tasks. Queues for different hosts run fully in
// parallel. A Pool creates queues lazily and keeps them for its lifetime.
package hostqueue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const (
	// DefaultMaxDelay is the upper bound of the pause between two requests
	// to the same host.
	DefaultMaxDelay = time.Second

	// FastMaxDelay is used by pools for endpoints that tolerate more load.
	FastMaxDelay = 100 * time.Millisecond

	// MinDelay is the shortest pause ever taken between two requests.
	MinDelay = 10 * time.Millisecond
)

// Task is a unit of outbound work.
type Task func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type request struct {
	ctx  context.Context
	task Task
	done chan result
}

// DispatchFunc observes every executed task.
type DispatchFunc func(host string, took time.Duration, err error)

// Queue serializes tasks for one host.
type Queue struct {
	host       string
	maxDelay   time.Duration
	delay      func(max time.Duration) time.Duration
	limiter    *rate.Limiter
	onDispatch DispatchFunc
	logger     *slog.Logger

	mu          sync.Mutex
	pending     []*request
	dispatching bool
}

// NewQueue creates a queue for host. It is normally obtained from a Pool.
func NewQueue(host string, opts ...Option) *Queue {
	q := &Queue{
		host:     host,
		maxDelay: DefaultMaxDelay,
		delay:    RandomDelay,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Host returns the host the queue serves.
func (q *Queue) Host() string { return q.host }

// Len returns the number of tasks waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Push enqueues task and waits for its result. If ctx ends first, Push
// returns ctx.Err() and the task is skipped when its turn comes.
func (q *Queue) Push(ctx context.Context, task Task) (any, error) {
	req := &request{ctx: ctx, task: task, done: make(chan result, 1)}

	q.mu.Lock()
	q.pending = append(q.pending, req)
	if !q.dispatching {
		q.dispatching = true
		go q.drain()
	}
	q.mu.Unlock()

	select {
	case res := <-req.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do pushes fn onto q and returns its typed result.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	v, err := q.Push(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	// A nil interface result carries no dynamic type.
	t, _ := v.(T)
	return t, nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if req.ctx.Err() != nil {
			continue
		}

		q.run(req)
		time.Sleep(q.delay(q.maxDelay))
	}
}

func (q *Queue) run(req *request) {
	start := time.Now()
	var res result
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("host task panicked", "host", q.host, "panic", r)
			res.err = errors.Newf("hostqueue: task panicked: %v", r)
		}
		if q.onDispatch != nil {
			q.onDispatch(q.host, time.Since(start), res.err)
		}
		req.done <- res
	}()

	if q.limiter != nil {
		if err := q.limiter.Wait(req.ctx); err != nil {
			res.err = err
			return
		}
	}
	res.value, res.err = req.task(req.ctx)
}

// RandomDelay returns a uniformly random duration in [max/2, max], never
// shorter than MinDelay.
func RandomDelay(max time.Duration) time.Duration {
	lo := max / 2
	d := lo
	if span := max - lo; span > 0 {
		d += time.Duration(rand.Int64N(int64(span) + 1))
	}
	if d < MinDelay {
		d = MinDelay
	}
	return d
}
