// Package jobctx provides job functions access to the job they run for.
package jobctx

import (
	"context"
	"log/slog"

	"github.com/jdziat/serial-jobs/pkg/core"
)

type jobContextKey struct{}

type jobContext struct {
	job    *core.JobItem
	logger *slog.Logger
}

// WithJob returns a context carrying job and a logger scoped to it.
func WithJob(ctx context.Context, job *core.JobItem, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	jc := &jobContext{job: job}
	if job != nil {
		logger = logger.With("job_id", job.ID, "type", job.Type)
	}
	jc.logger = logger
	return context.WithValue(ctx, jobContextKey{}, jc)
}

func get(ctx context.Context) *jobContext {
	if jc, ok := ctx.Value(jobContextKey{}).(*jobContext); ok {
		return jc
	}
	return nil
}

// JobFromContext returns the current JobItem from context, or nil if not in a job function.
func JobFromContext(ctx context.Context) *core.JobItem {
	jc := get(ctx)
	if jc == nil {
		return nil
	}
	return jc.job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job function.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// Logger returns the job-scoped logger, or slog.Default outside a job function.
func Logger(ctx context.Context) *slog.Logger {
	jc := get(ctx)
	if jc == nil {
		return slog.Default()
	}
	return jc.logger
}
