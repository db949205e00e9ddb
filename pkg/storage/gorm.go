package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/security"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

// GormStorage implements core.Store using GORM. Every operation runs as one
// unit of work through a uow.Runner, so lock contention is retried.
type GormStorage struct {
	runner      *uow.Runner
	clock       clock.Clock
	minInterval time.Duration
	logger      *slog.Logger
}

// Option configures a GormStorage.
type Option func(*GormStorage)

// WithClock sets the time source used for due-job selection and new items.
func WithClock(c clock.Clock) Option {
	return func(s *GormStorage) { s.clock = c }
}

// WithMinInterval sets the floor applied to the first run of recurring requests.
func WithMinInterval(d time.Duration) Option {
	return func(s *GormStorage) { s.minInterval = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *GormStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewGormStorage creates a new GORM-backed storage running through runner.
func NewGormStorage(runner *uow.Runner, opts ...Option) *GormStorage {
	s := &GormStorage{
		runner:      runner,
		clock:       clock.C,
		minInterval: core.MinInterval,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runner returns the unit-of-work runner the storage uses.
func (s *GormStorage) Runner() *uow.Runner {
	return s.runner
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.runner.DB().WithContext(ctx).AutoMigrate(&core.JobItem{}, &core.JobHistory{})
}

// GetDueJobs returns WAITING jobs whose nextRun has passed, oldest first.
// Jobs whose runAfter still points at an existing job are held back; they are
// submitted when their prerequisite finishes. One-shot jobs that already ran
// are dormant and never due.
func (s *GormStorage) GetDueJobs(ctx context.Context, limit int) ([]*core.JobItem, error) {
	now := s.clock.Now()
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) ([]*core.JobItem, error) {
		var jobList []*core.JobItem
		q := tx.
			Where("state = ?", core.StateWaiting).
			Where("(next_run IS NULL OR next_run <= ?)", now).
			Where("NOT (run_interval <= 0 AND last_run IS NOT NULL)").
			Where("(run_after IS NULL OR run_after NOT IN (?))", tx.Model(&core.JobItem{}).Select("id")).
			Order("next_run ASC, created_at ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		err := q.Find(&jobList).Error
		return jobList, err
	}, uow.WithoutTransaction())
}

// GetJobsByID returns the jobs with the given ids. Missing ids are skipped.
func (s *GormStorage) GetJobsByID(ctx context.Context, ids ...string) ([]*core.JobItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.find(ctx, "id IN ?", ids)
}

// GetJobsByName returns the jobs with the given names. Missing names are skipped.
func (s *GormStorage) GetJobsByName(ctx context.Context, names ...string) ([]*core.JobItem, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return s.find(ctx, "name IN ?", names)
}

// GetAfterJobs returns the jobs that declared runAfter = id.
func (s *GormStorage) GetAfterJobs(ctx context.Context, id string) ([]*core.JobItem, error) {
	return s.find(ctx, "run_after = ?", id)
}

// GetJobsInState returns every job in state.
func (s *GormStorage) GetJobsInState(ctx context.Context, state core.JobState) ([]*core.JobItem, error) {
	return s.find(ctx, "state = ?", state)
}

func (s *GormStorage) find(ctx context.Context, query string, args ...any) ([]*core.JobItem, error) {
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) ([]*core.JobItem, error) {
		var jobList []*core.JobItem
		err := tx.Where(query, args...).Order("created_at ASC").Find(&jobList).Error
		return jobList, err
	}, uow.WithoutTransaction())
}

// AddJobs persists new jobs. Requests whose name is already taken are not
// inserted; the existing job is returned in their place. RunAfter must
// already hold the id of a persisted job.
func (s *GormStorage) AddJobs(ctx context.Context, reqs []*core.JobRequest) ([]*core.JobItem, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	for _, req := range reqs {
		if err := security.ValidateRequest(req); err != nil {
			return nil, errors.Wrapf(err, "jobs: add %q", req.Type)
		}
	}

	now := s.clock.Now()
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) ([]*core.JobItem, error) {
		names := make([]string, 0, len(reqs))
		for _, req := range reqs {
			if req.Name != "" {
				names = append(names, req.Name)
			}
		}

		existing := make(map[string]*core.JobItem, len(names))
		if len(names) > 0 {
			var found []*core.JobItem
			if err := tx.Where("name IN ?", names).Find(&found).Error; err != nil {
				return nil, err
			}
			for _, job := range found {
				existing[*job.Name] = job
			}
		}

		items := make([]*core.JobItem, 0, len(reqs))
		for _, req := range reqs {
			if req.Name != "" {
				if job, ok := existing[req.Name]; ok {
					items = append(items, job)
					continue
				}
			}

			item := s.newItem(req, now)
			if err := tx.Create(item).Error; err != nil {
				return nil, errors.Wrapf(err, "jobs: insert %q", req.Type)
			}
			if item.Name != nil {
				existing[*item.Name] = item
			}
			items = append(items, item)
		}
		return items, nil
	})
}

func (s *GormStorage) newItem(req *core.JobRequest, now time.Time) *core.JobItem {
	item := &core.JobItem{
		ID:             uuid.New().String(),
		Type:           req.Type,
		State:          core.StateWaiting,
		Interval:       req.Interval,
		DeleteAfterRun: req.DeleteAfterRun,
		LastRun:        req.LastRun,
		NextRun:        req.FirstRun(now, s.minInterval),
		Arguments:      req.Arguments,
	}
	if req.Name != "" {
		name := req.Name
		item.Name = &name
	}
	if req.RunAfter != "" {
		runAfter := req.RunAfter
		item.RunAfter = &runAfter
	}
	return item
}

// UpdateJobs writes the given jobs back. Jobs deleted in the meantime are
// not recreated.
func (s *GormStorage) UpdateJobs(ctx context.Context, items []*core.JobItem, finished *core.Finished) error {
	if len(items) == 0 {
		return nil
	}
	return s.runner.Run(ctx, func(tx *gorm.DB) error {
		for _, item := range items {
			err := tx.Model(item).
				Select("*").
				Omit("id", "created_at").
				Updates(item).Error
			if err != nil {
				return errors.Wrapf(err, "jobs: update %s", item.ID)
			}
		}
		return appendHistory(tx, items, finished)
	})
}

// RemoveJobs deletes the given jobs.
func (s *GormStorage) RemoveJobs(ctx context.Context, items []*core.JobItem, finished *core.Finished) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return s.runner.Run(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id IN ?", ids).Delete(&core.JobItem{}).Error; err != nil {
			return errors.Wrap(err, "jobs: remove")
		}
		return appendHistory(tx, items, finished)
	})
}

// RemoveJob deletes the job with the given id or name.
func (s *GormStorage) RemoveJob(ctx context.Context, idOrName string) error {
	return s.runner.Run(ctx, func(tx *gorm.DB) error {
		result := tx.Where("id = ? OR name = ?", idOrName, idOrName).Delete(&core.JobItem{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errors.Wrapf(core.ErrJobNotFound, "jobs: remove %q", idOrName)
		}
		return nil
	})
}

// StopJobs resets every RUNNING job back to WAITING.
func (s *GormStorage) StopJobs(ctx context.Context) (int64, error) {
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) (int64, error) {
		result := tx.Model(&core.JobItem{}).
			Where("state = ?", core.StateRunning).
			Updates(map[string]any{
				"state":         core.StateWaiting,
				"running_since": nil,
			})
		return result.RowsAffected, result.Error
	})
}

// GetHistory returns the most recent runs of a job, newest first.
// An empty jobID returns runs of all jobs.
func (s *GormStorage) GetHistory(ctx context.Context, jobID string, limit int) ([]*core.JobHistory, error) {
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) ([]*core.JobHistory, error) {
		var rows []*core.JobHistory
		q := tx.Order("ended_at DESC, id DESC")
		if jobID != "" {
			q = q.Where("job_id = ?", jobID)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		err := q.Find(&rows).Error
		return rows, err
	}, uow.WithoutTransaction())
}

// CleanupHistory deletes history rows that ended before olderThan.
func (s *GormStorage) CleanupHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	return uow.Do(ctx, s.runner, func(tx *gorm.DB) (int64, error) {
		result := tx.Where("ended_at < ?", olderThan).Delete(&core.JobHistory{})
		return result.RowsAffected, result.Error
	})
}

func appendHistory(tx *gorm.DB, items []*core.JobItem, finished *core.Finished) error {
	if finished == nil {
		return nil
	}
	message := ""
	if finished.Err != nil {
		message = security.SanitizeErrorMessage(finished.Err.Error())
	}
	rows := make([]*core.JobHistory, len(items))
	for i, item := range items {
		rows[i] = &core.JobHistory{
			JobID:     item.ID,
			Type:      item.Type,
			Name:      item.NameOrEmpty(),
			Start:     finished.Start,
			End:       finished.End,
			Result:    finished.Result(),
			Message:   message,
			Arguments: item.Arguments,
		}
	}
	if err := tx.Create(&rows).Error; err != nil {
		return errors.Wrap(err, "jobs: append history")
	}
	return nil
}
