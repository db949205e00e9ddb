// Package jobs runs persistent, recurring jobs one process at a time.
//
// This is the package most users should import. It re-exports the public
// types of the pkg/ packages and wires them into a Scheduler.
//
// Basic usage:
//
//	db, _ := jobs.Open("sqlite", "jobs.db")
//	s, _ := jobs.New(db, []jobs.Kind{
//	    jobs.Task("send-report", func(ctx context.Context, args ReportArgs) error {
//	        return sendReport(ctx, args)
//	    }),
//	})
//
//	req, _ := jobs.NewRequest("send-report", ReportArgs{Team: "ops"})
//	req.Name = "daily-report"
//	req.Interval = 24 * time.Hour
//	s.Add(ctx, req)
//
//	s.Start(ctx)
//	defer s.Stop(ctx)
package jobs

import (
	"context"
	"log/slog"

	"github.com/WatchBeam/clock"
	"gorm.io/gorm"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/jobctx"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/orchestrator"
	"github.com/jdziat/serial-jobs/pkg/queue"
	"github.com/jdziat/serial-jobs/pkg/security"
	"github.com/jdziat/serial-jobs/pkg/storage"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

// Type aliases for the most used types.
type (
	// JobItem is the persisted record of a job.
	JobItem = core.JobItem

	// JobRequest describes a job to insert.
	JobRequest = core.JobRequest

	// JobState is the persisted state of a job.
	JobState = core.JobState

	// JobHistory is one recorded run.
	JobHistory = core.JobHistory

	// RunResult is the outcome recorded in the history.
	RunResult = core.RunResult

	// Store defines the persistence layer for jobs.
	Store = core.Store

	// FatalError reports jobs stuck beyond recovery.
	FatalError = core.FatalError

	// JobStarted is emitted when a job starts.
	JobStarted = core.JobStarted

	// JobFinished is emitted when a job finishes.
	JobFinished = core.JobFinished

	// Kind binds a job type to the function that runs it.
	Kind = kind.Kind

	// Registry maps job types to kinds.
	Registry = kind.Registry

	// Queue runs job functions with bounded concurrency.
	Queue = queue.Queue

	// Orchestrator drives jobs between storage and the queue.
	Orchestrator = orchestrator.Orchestrator

	// OrchestratorConfig holds the orchestrator's timing and thresholds.
	OrchestratorConfig = orchestrator.Config

	// AddResult reports which requests were stored and which were dropped.
	AddResult = orchestrator.AddResult

	// Bus delivers named events to subscribers.
	Bus = events.Bus

	// GormStorage implements Store using GORM.
	GormStorage = storage.GormStorage

	// Runner executes units of work with deadlock retry.
	Runner = uow.Runner
)

// Job states and results.
const (
	StateWaiting = core.StateWaiting
	StateRunning = core.StateRunning

	ResultSuccess   = core.ResultSuccess
	ResultFailed    = core.ResultFailed
	ResultAbandoned = core.ResultAbandoned
)

// Event names.
const (
	EventJobStarted  = core.EventJobStarted
	EventJobFinished = core.EventJobFinished
)

// Security limits
const (
	MaxJobTypeLength = security.MaxJobTypeLength
	MaxJobNameLength = security.MaxJobNameLength
	MaxJobArgsSize   = security.MaxJobArgsSize
)

// Error variables
var (
	ErrInvalidJobType     = core.ErrInvalidJobType
	ErrInvalidJobName     = core.ErrInvalidJobName
	ErrJobArgsTooLarge    = core.ErrJobArgsTooLarge
	ErrDuplicateKey       = core.ErrDuplicateKey
	ErrJobRunning         = core.ErrJobRunning
	ErrJobNotFound        = core.ErrJobNotFound
	ErrUnknownKind        = core.ErrUnknownKind
	ErrUnresolvedRunAfter = core.ErrUnresolvedRunAfter
	ErrTransient          = uow.ErrTransient
)

// Scheduler bundles storage, queue and orchestrator over one database.
type Scheduler struct {
	runner   *uow.Runner
	store    *storage.GormStorage
	registry *kind.Registry
	queue    *queue.Queue
	orch     *orchestrator.Orchestrator
}

type settings struct {
	logger     *slog.Logger
	clock      clock.Clock
	queueOpts  []queue.Option
	runnerOpts []uow.Option
	orchOpts   []orchestrator.Option
}

// Option configures a Scheduler.
type Option func(*settings)

// MaxActive sets how many jobs may run at once.
func MaxActive(n int) Option {
	return func(s *settings) { s.queueOpts = append(s.queueOpts, queue.MaxActive(n)) }
}

// Capacity bounds how many jobs the queue holds, running or not.
func Capacity(n int) Option {
	return func(s *settings) { s.queueOpts = append(s.queueOpts, queue.Capacity(n)) }
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithClock sets the time source for every component.
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithRunnerOptions passes options to the unit-of-work runner.
func WithRunnerOptions(opts ...uow.Option) Option {
	return func(s *settings) { s.runnerOpts = append(s.runnerOpts, opts...) }
}

// WithOrchestratorOptions passes options to the orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(s *settings) { s.orchOpts = append(s.orchOpts, opts...) }
}

// Open opens a "sqlite" or "mysql" database with a pool sized for the
// driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	return storage.Open(driver, dsn)
}

// New wires a Scheduler over db running the given kinds.
func New(db *gorm.DB, kinds []Kind, opts ...Option) (*Scheduler, error) {
	s := &settings{logger: slog.Default(), clock: clock.C}
	for _, opt := range opts {
		opt(s)
	}

	registry, err := kind.NewRegistry(kinds...)
	if err != nil {
		return nil, err
	}

	runner := uow.New(db, append([]uow.Option{uow.WithLogger(s.logger)}, s.runnerOpts...)...)
	store := storage.NewGormStorage(runner,
		storage.WithClock(s.clock),
		storage.WithLogger(s.logger),
	)
	q := queue.New(append([]queue.Option{
		queue.WithClock(s.clock),
		queue.WithLogger(s.logger),
	}, s.queueOpts...)...)

	orch := orchestrator.New(store, registry, q, append([]orchestrator.Option{
		orchestrator.WithClock(s.clock),
		orchestrator.WithLogger(s.logger),
	}, s.orchOpts...)...)

	return &Scheduler{
		runner:   runner,
		store:    store,
		registry: registry,
		queue:    q,
		orch:     orch,
	}, nil
}

// Store returns the job store.
func (s *Scheduler) Store() *GormStorage { return s.store }

// Runner returns the unit-of-work runner.
func (s *Scheduler) Runner() *Runner { return s.runner }

// Queue returns the job queue.
func (s *Scheduler) Queue() *Queue { return s.queue }

// Orchestrator returns the orchestrator.
func (s *Scheduler) Orchestrator() *Orchestrator { return s.orch }

// Kinds returns the registered job types.
func (s *Scheduler) Kinds() []string { return s.registry.Tags() }

// Bus returns the event bus.
func (s *Scheduler) Bus() *Bus { return s.orch.Bus() }

// Fatal delivers the first fatal error raised while running.
func (s *Scheduler) Fatal() <-chan error { return s.orch.Fatal() }

// Migrate creates the job tables.
func (s *Scheduler) Migrate(ctx context.Context) error {
	return s.store.Migrate(ctx)
}

// Start migrates, recovers jobs left running by a previous process and
// starts dispatching.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Migrate(ctx); err != nil {
		return err
	}
	if err := s.orch.Setup(ctx); err != nil {
		return err
	}
	s.orch.Start(ctx)
	return nil
}

// Stop stops dispatching and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.orch.Stop(ctx)
}

// Add stores jobs, resolving run-after references between them.
func (s *Scheduler) Add(ctx context.Context, reqs ...*JobRequest) (*AddResult, error) {
	return s.orch.AddJobs(ctx, reqs)
}

// RunNow submits a stored job immediately, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, idOrName string) error {
	return s.orch.RunNow(ctx, idOrName)
}

// Remove deletes a job, cancelling it if it is queued but not running.
func (s *Scheduler) Remove(ctx context.Context, idOrName string) error {
	return s.orch.RemoveDependant(ctx, idOrName)
}

// History returns the most recent runs of a job, newest first.
func (s *Scheduler) History(ctx context.Context, jobID string, limit int) ([]*JobHistory, error) {
	return s.store.GetHistory(ctx, jobID, limit)
}

// On subscribes fn to the named event.
func On[T any](s *Scheduler, name string, fn func(ctx context.Context, payload T)) (unsubscribe func()) {
	return events.Subscribe(s.Bus(), name, fn)
}

// NewRequest builds a request whose arguments are the JSON encoding of args.
func NewRequest(jobType string, args any) (*JobRequest, error) {
	return core.NewRequest(jobType, args)
}

// Task registers a job function that returns only an error.
func Task[A any](tag string, fn func(ctx context.Context, args A) error) Kind {
	return kind.Task(tag, fn)
}

// Spawn registers a job function whose results are stored as new jobs.
func Spawn[A any](tag string, fn func(ctx context.Context, args A) ([]*JobRequest, error)) Kind {
	return kind.Spawn(tag, fn)
}

// Emit registers a job function whose result is emitted as event.
func Emit[A, R any](tag, event string, fn func(ctx context.Context, args A) (R, error)) Kind {
	return kind.Emit(tag, event, fn)
}

// ErrorEvent returns the event a kind's failures are emitted on.
func ErrorEvent(event string) string {
	return core.ErrorEvent(event)
}

// JobFromContext returns the job running in ctx, or nil.
func JobFromContext(ctx context.Context) *JobItem {
	return jobctx.JobFromContext(ctx)
}

// Logger returns a logger annotated with the job running in ctx.
func Logger(ctx context.Context) *slog.Logger {
	return jobctx.Logger(ctx)
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	return core.IsFatal(err)
}
