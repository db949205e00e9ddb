// Package orchestrator bridges persisted jobs and the in-process queue.
//
// On every tick the orchestrator loads due jobs from the store, maps each to
// its registered kind and submits it to the queue. Lifecycle callbacks keep
// the store in step: a job is marked RUNNING when it starts, and on
// completion it is rescheduled or deleted and its dependants are submitted.
// Each tick also runs the watchdogs that detect jobs stranded in storage and
// jobs wedged in memory.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/netcheck"
	"github.com/jdziat/serial-jobs/pkg/queue"
)

// handle is the orchestrator's record of a job submitted to the queue.
type handle struct {
	job  *queue.Job
	name string
}

// Orchestrator owns recurring scheduling and crash recovery.
type Orchestrator struct {
	store    core.Store
	registry *kind.Registry
	queue    *queue.Queue
	bus      *events.Bus
	prober   netcheck.Prober
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
	cfg      Config
	onFatal  func(error)
	fatal    chan error

	ticking chan struct{} // held while a tick runs

	mu        sync.Mutex
	ctx       context.Context
	cron      *cron.Cron
	started   bool
	automatic bool
	handles   map[string]*handle  // job id -> handle
	names     map[string]string   // job name -> job id
	settling  map[string]struct{} // finished, state not yet persisted
	outages   []time.Time
}

// New creates an orchestrator. The queue should be created paused; Start
// starts it.
func New(store core.Store, registry *kind.Registry, q *queue.Queue, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		registry:  registry,
		queue:     q,
		clock:     clock.C,
		logger:    slog.Default(),
		observer:  nopObserver{},
		cfg:       DefaultConfig(),
		fatal:     make(chan error, 1),
		ticking:   make(chan struct{}, 1),
		ctx:       context.Background(),
		automatic: true,
		handles:   make(map[string]*handle),
		names:     make(map[string]string),
		settling:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt.apply(o)
	}
	if o.bus == nil {
		o.bus = events.New(events.WithLogger(o.logger))
	}
	return o
}

// Bus returns the event bus the orchestrator emits on.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Queue returns the underlying job queue.
func (o *Orchestrator) Queue() *queue.Queue { return o.queue }

// Config returns the active configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Fatal delivers fatal invariant violations. The owner is expected to stop
// the orchestrator and exit so that a supervisor can restart the process.
func (o *Orchestrator) Fatal() <-chan error { return o.fatal }

// Setup resets jobs left RUNNING by a previous process and seeds the
// bootstrap jobs.
func (o *Orchestrator) Setup(ctx context.Context) error {
	n, err := o.store.StopJobs(ctx)
	if err != nil {
		return errors.Wrap(err, "orchestrator: reset running jobs")
	}
	if n > 0 {
		o.logger.Info("reset jobs left running by previous process", "count", n)
	}

	if len(o.cfg.Bootstrap) == 0 {
		return nil
	}
	if _, err := o.AddJobs(ctx, o.cfg.Bootstrap); err != nil {
		return errors.Wrap(err, "orchestrator: seed bootstrap jobs")
	}
	return nil
}

// Start starts the queue and the periodic tick, and runs a first tick
// immediately. Callbacks and ticks run under ctx with its cancellation
// removed, so bookkeeping completes during shutdown.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.ctx = context.WithoutCancel(ctx)

	logger := cronLogger{o.logger}
	o.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	o.cron.Schedule(cron.Every(o.cfg.TickInterval), cron.FuncJob(func() {
		o.Tick(o.context())
	}))
	o.cron.Start()
	o.mu.Unlock()

	o.queue.Start()
	o.logger.Info("orchestrator started", "tick", o.cfg.TickInterval, "max_active", o.queue.MaxActive())

	go o.Tick(o.context())
}

// Pause stops the tick and the queue. Pending jobs stay queued and running
// jobs are not interrupted.
func (o *Orchestrator) Pause() {
	<-o.pause()
}

// pause stops the tick schedule and the queue. The returned channel closes
// once a tick started by the schedule has returned.
func (o *Orchestrator) pause() <-chan struct{} {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.started = false
	o.mu.Unlock()

	o.queue.Pause()
	if c == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.Stop().Done()
}

// Stop pauses, drops pending jobs and waits for an in-progress tick and the
// running jobs to finish, or ctx to end.
func (o *Orchestrator) Stop(ctx context.Context) error {
	cronDone := o.pause()

	select {
	case <-cronDone:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "orchestrator: wait for scheduled tick")
	}
	select {
	case o.ticking <- struct{}{}:
		<-o.ticking
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "orchestrator: wait for tick")
	}
	dropped := o.queue.Clear()

	o.mu.Lock()
	for id := range o.handles {
		if !o.queue.Has(id) {
			o.untrackLocked(id)
		}
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator stopping", "dropped", dropped)
	return o.queue.Wait(ctx)
}

// SetAutomatic enables or disables the work done on each tick.
func (o *Orchestrator) SetAutomatic(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.automatic = on
}

// Automatic reports whether ticks do work.
func (o *Orchestrator) Automatic() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.automatic
}

// Tick fetches due jobs and runs the watchdogs. Overlapping calls are skipped.
func (o *Orchestrator) Tick(ctx context.Context) {
	select {
	case o.ticking <- struct{}{}:
	default:
		return
	}
	defer func() { <-o.ticking }()

	o.mu.Lock()
	active := o.automatic && !o.queue.Paused()
	o.mu.Unlock()
	if !active {
		return
	}

	if _, err := o.FetchJobs(ctx); err != nil {
		o.logger.Error("fetching due jobs failed", "error", err)
	}
	if err := o.CheckRunningJobs(ctx); err != nil && !core.IsFatal(err) {
		o.logger.Error("checking running jobs failed", "error", err)
	}
	if _, err := o.CheckCurrentVsStorage(ctx); err != nil {
		o.logger.Error("reconciling running jobs failed", "error", err)
	}
	if err := o.CheckRunningStorageJobs(ctx); err != nil && !core.IsFatal(err) {
		o.logger.Error("checking stored running jobs failed", "error", err)
	}
}

// Tracked returns the ids of jobs submitted to the queue and not yet finished.
func (o *Orchestrator) Tracked() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.handles))
	for id := range o.handles {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) context() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

func (o *Orchestrator) raiseFatal(err *core.FatalError) error {
	o.logger.Error("fatal invariant violation", "reason", err.Reason, "jobs", err.Jobs)
	o.observer.Fatal()
	select {
	case o.fatal <- err:
	default:
	}
	if o.onFatal != nil {
		// The handler may call Stop, which waits for the tick raising err.
		go o.onFatal(err)
	}
	return err
}

// cronLogger adapts slog to cron.Logger. Cron's informational chatter is
// logged at debug level.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
