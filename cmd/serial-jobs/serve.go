package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/hostqueue"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/maintenance"
	"github.com/jdziat/serial-jobs/pkg/metrics"
	"github.com/jdziat/serial-jobs/pkg/netcheck"
	"github.com/jdziat/serial-jobs/pkg/orchestrator"
	"github.com/jdziat/serial-jobs/pkg/queue"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted or a fatal error occurs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New(prometheus.DefaultRegisterer)
			a, err := newApp(opts, uow.OnRetry(m.TransactionRetried))
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a, m)
		},
	}
}

func serve(ctx context.Context, a *app, m *metrics.Metrics) error {
	cfg := a.cfg

	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	client := newHTTPClient(a, m)

	registry, err := kind.NewRegistry(append(
		maintenance.Kinds(a.store),
		newsKind(client),
	)...)
	if err != nil {
		return err
	}

	bootstrap, err := newsBootstrap(cfg.Sources)
	if err != nil {
		return err
	}
	bootstrap = append(bootstrap, maintenance.Bootstrap(cfg.History.Retention)...)

	q := queue.New(
		queue.MaxActive(cfg.Scheduler.MaxActive),
		queue.Capacity(cfg.Scheduler.Capacity),
		queue.WithLogger(a.logger),
		queue.BaseContext(context.WithoutCancel(ctx)),
	)
	m.WatchQueue(q)

	bus := events.New(events.WithLogger(a.logger))
	logEvents(bus, a.logger)

	orch := orchestrator.New(a.store, registry, q,
		orchestrator.WithConfig(orchestrator.Config{
			TickInterval:      cfg.Scheduler.TickInterval,
			MinInterval:       cfg.Scheduler.MinInterval,
			FetchLimit:        cfg.Scheduler.FetchLimit,
			DependencyPasses:  cfg.Scheduler.DependencyPasses,
			ShortStuckAfter:   cfg.Scheduler.ShortStuckAfter,
			ShortStuckCount:   cfg.Scheduler.ShortStuckCount,
			LongStuckAfter:    cfg.Scheduler.LongStuckAfter,
			LongStuckCount:    cfg.Scheduler.LongStuckCount,
			StorageStuckAfter: cfg.Scheduler.StorageStuckAfter,
			Bootstrap:         bootstrap,
		}),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithBus(bus),
		orchestrator.WithProber(netcheck.NewDialProber(cfg.Network.ProbeTargets, cfg.Network.ProbeTimeout)),
		orchestrator.WithObserver(m),
	)

	if err := orch.Setup(ctx); err != nil {
		return err
	}
	orch.Start(ctx)
	a.logger.Info("scheduler running", "kinds", registry.Tags(), "sources", len(cfg.Sources))

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if srv != nil {
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", srv.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-orch.Fatal():
			return err
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()

		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
		if err := orch.Stop(shutdownCtx); err != nil {
			a.logger.Warn("jobs still running at shutdown", "error", err)
		}
		a.logger.Info("scheduler stopped")
		return nil
	})

	err = g.Wait()
	if core.IsFatal(err) {
		a.logger.Error("exiting after fatal error", "error", err)
	}
	return err
}

func newHTTPClient(a *app, m *metrics.Metrics) *hostqueue.Client {
	hosts := a.cfg.Hosts
	pool := func(name string, maxDelay time.Duration) *hostqueue.Pool {
		p := hostqueue.NewPool(name,
			hostqueue.WithQueueOptions(
				hostqueue.MaxDelay(maxDelay),
				hostqueue.OnDispatch(m.HostDispatch(name)),
				hostqueue.WithLogger(a.logger),
			),
			hostqueue.RateLimit(rate.Limit(hosts.RateLimit), hosts.RateBurst),
		)
		m.WatchPool(p)
		return p
	}

	client := hostqueue.NewClient(pool("standard", hosts.MaxDelay), pool("fast", hosts.FastMaxDelay))
	if hosts.UserAgent != "" {
		client.UserAgent = hosts.UserAgent
	}
	return client
}

// logEvents logs lifecycle and result events. Downstream processing would
// subscribe to the same names.
func logEvents(bus *events.Bus, logger *slog.Logger) {
	events.Subscribe(bus, core.EventJobFinished, func(_ context.Context, f *core.JobFinished) {
		logger.Debug("job finished",
			"job_id", f.Job.ID,
			"type", f.Job.Type,
			"took", f.Duration,
			"deleted", f.Deleted,
			"error", f.Error,
		)
	})
	events.Subscribe(bus, newsEvent, func(_ context.Context, p *newsPage) {
		logger.Info("fetched news page", "source", p.Source, "url", p.URL, "status", p.Status, "bytes", len(p.Body))
	})
	events.Subscribe(bus, core.ErrorEvent(newsEvent), func(_ context.Context, err error) {
		logger.Warn("news fetch failed", "error", err)
	})
}
