package hostqueue

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Queue. Options given to a Pool apply to every queue it
// creates.
type Option func(*Queue)

// MaxDelay sets the upper bound of the pause between tasks.
func MaxDelay(d time.Duration) Option {
	return func(q *Queue) {
		q.maxDelay = d
	}
}

// WithDelayFunc replaces RandomDelay.
func WithDelayFunc(fn func(max time.Duration) time.Duration) Option {
	return func(q *Queue) {
		q.delay = fn
	}
}

// OnDispatch registers an observer called after every task.
func OnDispatch(fn DispatchFunc) Option {
	return func(q *Queue) {
		q.onDispatch = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// withLimiter shares one limiter between all queues of a pool.
func withLimiter(l *rate.Limiter) Option {
	return func(q *Queue) {
		q.limiter = l
	}
}
