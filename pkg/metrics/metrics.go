// Package metrics exports scheduler activity as prometheus collectors.
//
// A Metrics value is an orchestrator.Observer and also provides the hooks the
// unit-of-work runner and the host queues call. Queue and pool depth are
// exported as gauge functions sampled at scrape time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/hostqueue"
	"github.com/jdziat/serial-jobs/pkg/queue"
)

const namespace = "serial_jobs"

// Metrics holds the scheduler's collectors.
type Metrics struct {
	reg prometheus.Registerer

	jobsStarted    *prometheus.CounterVec
	jobsFinished   *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	outages        prometheus.Counter
	fatals         prometheus.Counter
	txRetries      prometheus.Counter
	hostDispatches *prometheus.CounterVec
	hostDuration   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Collectors already
// registered by an earlier call are reused.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{reg: reg}

	m.jobsStarted = m.registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Jobs started, by type.",
		},
		[]string{"type"},
	)).(*prometheus.CounterVec)

	m.jobsFinished = m.registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs finished, by type and result.",
		},
		[]string{"type", "result"},
	)).(*prometheus.CounterVec)

	m.jobDuration = m.registerOrExisting(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job run time, by type.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800, 3600},
		},
		[]string{"type"},
	)).(*prometheus.HistogramVec)

	m.outages = m.registerOrExisting(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "network_outages_total",
		Help:      "Failed network probes of the stuck-job watchdog.",
	})).(prometheus.Counter)

	m.fatals = m.registerOrExisting(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fatal_errors_total",
		Help:      "Fatal invariant violations raised by the orchestrator.",
	})).(prometheus.Counter)

	m.txRetries = m.registerOrExisting(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "transaction_retries_total",
		Help:      "Units of work retried after a transient storage error.",
	})).(prometheus.Counter)

	m.hostDispatches = m.registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hosts",
			Name:      "requests_total",
			Help:      "Tasks dispatched through host queues, by pool and outcome.",
		},
		[]string{"pool", "outcome"},
	)).(*prometheus.CounterVec)

	m.hostDuration = m.registerOrExisting(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hosts",
			Name:      "request_duration_seconds",
			Help:      "Host queue task latency, by pool.",
		},
		[]string{"pool"},
	)).(*prometheus.HistogramVec)

	return m
}

func (m *Metrics) registerOrExisting(coll prometheus.Collector) prometheus.Collector {
	if err := m.reg.Register(coll); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return coll
}

// JobStarted implements orchestrator.Observer.
func (m *Metrics) JobStarted(jobType string) {
	m.jobsStarted.WithLabelValues(jobType).Inc()
}

// JobFinished implements orchestrator.Observer.
func (m *Metrics) JobFinished(jobType string, result core.RunResult, took time.Duration) {
	m.jobsFinished.WithLabelValues(jobType, string(result)).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(took.Seconds())
}

// NetworkOutage implements orchestrator.Observer.
func (m *Metrics) NetworkOutage() { m.outages.Inc() }

// Fatal implements orchestrator.Observer.
func (m *Metrics) Fatal() { m.fatals.Inc() }

// TransactionRetried counts a retried unit of work. Its signature matches
// uow.OnRetry.
func (m *Metrics) TransactionRetried(int, error) { m.txRetries.Inc() }

// HostDispatch returns a hostqueue.DispatchFunc that records into pool's
// series.
func (m *Metrics) HostDispatch(pool string) hostqueue.DispatchFunc {
	return func(_ string, took time.Duration, err error) {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		m.hostDispatches.WithLabelValues(pool, outcome).Inc()
		m.hostDuration.WithLabelValues(pool).Observe(took.Seconds())
	}
}

// WatchQueue exports the job queue's counts as gauges.
func (m *Metrics) WatchQueue(q *queue.Queue) {
	gauge := func(name, help string, value func(queue.Counts) int) {
		m.registerOrExisting(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      name,
				Help:      help,
			},
			func() float64 { return float64(value(q.Counts())) },
		))
	}
	gauge("running_jobs", "Jobs currently executing.", func(c queue.Counts) int { return c.Running })
	gauge("schedulable_jobs", "Jobs submitted and waiting for a slot.", func(c queue.Counts) int { return c.Schedulable })
	gauge("total_jobs", "Jobs tracked by the queue.", func(c queue.Counts) int { return c.Total })
}

// WatchPool exports the number of tasks waiting in a host pool.
func (m *Metrics) WatchPool(p *hostqueue.Pool) {
	m.registerOrExisting(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "hosts",
			Name:        "pending_requests",
			Help:        "Tasks waiting in host queues.",
			ConstLabels: prometheus.Labels{"pool": p.Name()},
		},
		func() float64 { return float64(p.Pending()) },
	))
}
