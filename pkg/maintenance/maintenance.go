// Package maintenance provides the built-in housekeeping job kinds and the
// requests that seed them.
package maintenance

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/jobctx"
	"github.com/jdziat/serial-jobs/pkg/kind"
)

const (
	// HistoryCleanupType is the type tag of the history cleanup kind.
	HistoryCleanupType = "maintenance.history-cleanup"

	// DefaultRetention is how long history rows are kept.
	DefaultRetention = 30 * 24 * time.Hour

	// CleanupInterval is how often the cleanup job runs.
	CleanupInterval = 24 * time.Hour
)

// HistoryCleanupArgs are the arguments of a history cleanup job.
type HistoryCleanupArgs struct {
	Retention time.Duration `json:"retention"`
}

// HistoryStore is the part of core.Store the cleanup kind needs.
type HistoryStore interface {
	CleanupHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// Option configures the maintenance kinds.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow sets the time source.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// HistoryCleanup returns the kind that deletes history rows older than the
// job's retention.
func HistoryCleanup(store HistoryStore, opts ...Option) kind.Kind {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	return kind.Task(HistoryCleanupType, func(ctx context.Context, args HistoryCleanupArgs) error {
		retention := args.Retention
		if retention <= 0 {
			retention = DefaultRetention
		}
		n, err := store.CleanupHistory(ctx, o.now().Add(-retention))
		if err != nil {
			return errors.Wrap(err, "cleanup history")
		}
		jobctx.Logger(ctx).Info("cleaned up job history", "deleted", n, "retention", retention)
		return nil
	})
}

// Kinds returns every maintenance kind.
func Kinds(store HistoryStore, opts ...Option) []kind.Kind {
	return []kind.Kind{HistoryCleanup(store, opts...)}
}

// Bootstrap returns the recurring maintenance requests. They are named, so
// seeding them again on restart is a no-op.
func Bootstrap(retention time.Duration) []*core.JobRequest {
	if retention <= 0 {
		retention = DefaultRetention
	}
	req, _ := core.NewRequest(HistoryCleanupType, HistoryCleanupArgs{Retention: retention})
	req.Name = HistoryCleanupType
	req.Interval = CleanupInterval
	return []*core.JobRequest{req}
}
