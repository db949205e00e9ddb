package core

import (
	"context"
	"time"
)

// Store defines the persistence layer for jobs.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Selection
	GetDueJobs(ctx context.Context, limit int) ([]*JobItem, error)
	GetJobsByID(ctx context.Context, ids ...string) ([]*JobItem, error)
	GetJobsByName(ctx context.Context, names ...string) ([]*JobItem, error)
	GetAfterJobs(ctx context.Context, id string) ([]*JobItem, error)
	GetJobsInState(ctx context.Context, state JobState) ([]*JobItem, error)

	// Mutation. A non-nil Finished appends one history row per item in the
	// same transaction.
	AddJobs(ctx context.Context, reqs []*JobRequest) ([]*JobItem, error)
	UpdateJobs(ctx context.Context, items []*JobItem, finished *Finished) error
	RemoveJobs(ctx context.Context, items []*JobItem, finished *Finished) error
	RemoveJob(ctx context.Context, idOrName string) error

	// StopJobs resets every RUNNING job to WAITING and returns how many changed.
	StopJobs(ctx context.Context) (int64, error)

	// History
	GetHistory(ctx context.Context, jobID string, limit int) ([]*JobHistory, error)
	CleanupHistory(ctx context.Context, olderThan time.Time) (int64, error)
}
