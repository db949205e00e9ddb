package orchestrator

import (
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/netcheck"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// TickInterval is how often due jobs are fetched and checks run.
	TickInterval time.Duration

	// MinInterval is the floor applied to recurring intervals.
	MinInterval time.Duration

	// FetchLimit caps how many due jobs one tick loads. Zero means as many
	// as the queue has room for.
	FetchLimit int

	// DependencyPasses bounds how many rounds AddJobs spends resolving
	// runAfter references.
	DependencyPasses int

	// Stuck-job watchdog: the process is declared wedged when at least
	// ShortStuckCount jobs run longer than ShortStuckAfter, or at least
	// LongStuckCount jobs run longer than LongStuckAfter.
	ShortStuckAfter time.Duration
	ShortStuckCount int
	LongStuckAfter  time.Duration
	LongStuckCount  int

	// StorageStuckAfter is how long a persisted RUNNING job may go before it
	// is reported as an anomaly.
	StorageStuckAfter time.Duration

	// Bootstrap requests are added by Setup. Named requests are added once.
	Bootstrap []*core.JobRequest
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:      time.Minute,
		MinInterval:       core.MinInterval,
		DependencyPasses:  10,
		ShortStuckAfter:   30 * time.Minute,
		ShortStuckCount:   5,
		LongStuckAfter:    2 * time.Hour,
		LongStuckCount:    1,
		StorageStuckAfter: 2 * time.Hour,
	}
}

// Observer receives orchestrator activity, typically to export metrics.
type Observer interface {
	JobStarted(jobType string)
	JobFinished(jobType string, result core.RunResult, took time.Duration)
	NetworkOutage()
	Fatal()
}

type nopObserver struct{}

func (nopObserver) JobStarted(string)                                 {}
func (nopObserver) JobFinished(string, core.RunResult, time.Duration) {}
func (nopObserver) NetworkOutage()                                    {}
func (nopObserver) Fatal()                                            {}

// Option configures an Orchestrator.
type Option interface {
	apply(*Orchestrator)
}

type optionFunc func(*Orchestrator)

func (f optionFunc) apply(o *Orchestrator) { f(o) }

// WithConfig replaces the configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return optionFunc(func(o *Orchestrator) {
		def := DefaultConfig()
		if cfg.TickInterval <= 0 {
			cfg.TickInterval = def.TickInterval
		}
		if cfg.MinInterval <= 0 {
			cfg.MinInterval = def.MinInterval
		}
		if cfg.DependencyPasses <= 0 {
			cfg.DependencyPasses = def.DependencyPasses
		}
		if cfg.ShortStuckAfter <= 0 {
			cfg.ShortStuckAfter = def.ShortStuckAfter
		}
		if cfg.ShortStuckCount == 0 {
			cfg.ShortStuckCount = def.ShortStuckCount
		}
		if cfg.LongStuckAfter <= 0 {
			cfg.LongStuckAfter = def.LongStuckAfter
		}
		if cfg.LongStuckCount == 0 {
			cfg.LongStuckCount = def.LongStuckCount
		}
		if cfg.StorageStuckAfter <= 0 {
			cfg.StorageStuckAfter = def.StorageStuckAfter
		}
		o.cfg = cfg
	})
}

// WithBootstrap sets the requests Setup seeds.
func WithBootstrap(reqs ...*core.JobRequest) Option {
	return optionFunc(func(o *Orchestrator) {
		o.cfg.Bootstrap = append(o.cfg.Bootstrap, reqs...)
	})
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(o *Orchestrator) {
		o.clock = c
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithBus sets the event bus results and lifecycle events are emitted on.
func WithBus(b *events.Bus) Option {
	return optionFunc(func(o *Orchestrator) {
		o.bus = b
	})
}

// WithProber sets the network probe used by the stuck-job watchdog.
func WithProber(p netcheck.Prober) Option {
	return optionFunc(func(o *Orchestrator) {
		o.prober = p
	})
}

// WithObserver registers an activity observer.
func WithObserver(obs Observer) Option {
	return optionFunc(func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	})
}

// OnFatal registers a handler called with every fatal error, in addition to
// the Fatal channel.
func OnFatal(fn func(error)) Option {
	return optionFunc(func(o *Orchestrator) {
		o.onFatal = fn
	})
}
