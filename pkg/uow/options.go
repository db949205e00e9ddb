package uow

import (
	"log/slog"
	"time"

	"github.com/jdziat/serial-jobs/pkg/security"
)

// Option configures a Runner.
type Option interface {
	apply(*Runner)
}

type optionFunc func(*Runner)

func (f optionFunc) apply(r *Runner) { f(r) }

// MaxRetries sets how many times a transient failure is retried.
// The value is clamped to [0, security.MaxRetries].
func MaxRetries(n int) Option {
	return optionFunc(func(r *Runner) {
		r.maxRetries = security.ClampRetries(n)
	})
}

// RetryDelay sets the fixed pause between attempts.
func RetryDelay(d time.Duration) Option {
	return optionFunc(func(r *Runner) {
		r.delay = d
	})
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	})
}

// OnRetry registers a callback invoked before each retry.
func OnRetry(fn func(attempt int, err error)) Option {
	return optionFunc(func(r *Runner) {
		r.onRetry = fn
	})
}

type runConfig struct {
	transaction bool
}

// RunOption configures a single Run.
type RunOption func(*runConfig)

// WithoutTransaction runs the unit of work on the connection directly.
func WithoutTransaction() RunOption {
	return func(c *runConfig) {
		c.transaction = false
	}
}
