package queue

import (
	"context"
	"log/slog"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/serial-jobs/pkg/security"
)

// DefaultMaxActive is the default bound on concurrently running jobs.
const DefaultMaxActive = 50

// Option configures a Queue.
type Option interface {
	apply(*Queue)
}

type optionFunc func(*Queue)

func (f optionFunc) apply(q *Queue) { f(q) }

// MaxActive sets how many jobs may run at once.
// Values are clamped to [1, security.MaxConcurrency].
func MaxActive(n int) Option {
	return optionFunc(func(q *Queue) {
		q.maxActive = security.ClampConcurrency(n)
	})
}

// Capacity sets the running plus pending count at which IsFull reports true.
// Defaults to MaxActive.
func Capacity(n int) Option {
	return optionFunc(func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	})
}

// WithClock sets the clock used to stamp job start times.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(q *Queue) {
		q.clock = c
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	})
}

// BaseContext sets the context job functions run under.
func BaseContext(ctx context.Context) Option {
	return optionFunc(func(q *Queue) {
		q.baseCtx = ctx
	})
}

// JobOption configures a single job before it becomes dispatchable.
type JobOption func(*Job)

// OnStart registers a callback run just before the job function.
func OnStart(fn func(*Job)) JobOption {
	return func(j *Job) {
		j.onStart = fn
	}
}

// OnDone registers a callback run after the job function settles. err is the
// function's error, or a wrapped panic.
func OnDone(fn func(j *Job, err error)) JobOption {
	return func(j *Job) {
		j.onDone = fn
	}
}
