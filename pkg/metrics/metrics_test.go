package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/hostqueue"
	"github.com/jdziat/serial-jobs/pkg/orchestrator"
	"github.com/jdziat/serial-jobs/pkg/queue"
)

var _ orchestrator.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.JobStarted("news")
	m.JobStarted("news")
	m.JobFinished("news", core.ResultSuccess, time.Second)
	m.JobFinished("news", core.ResultFailed, 2*time.Second)
	m.NetworkOutage()
	m.Fatal()
	m.TransactionRetried(1, errors.New("deadlock"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsStarted.WithLabelValues("news")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("news", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("news", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fatals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txRetries))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestNew_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(reg)

	a.JobStarted("x")
	assert.Equal(t, 1.0, testutil.ToFloat64(b.jobsStarted.WithLabelValues("x")))
}

func TestHostDispatch(t *testing.T) {
	m := New(prometheus.NewRegistry())
	pool := hostqueue.NewPool("standard", hostqueue.WithQueueOptions(
		hostqueue.WithDelayFunc(func(time.Duration) time.Duration { return time.Millisecond }),
		hostqueue.OnDispatch(m.HostDispatch("standard")),
	))

	_, err := pool.Push(context.Background(), "example.com", func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	_, err = pool.Push(context.Background(), "example.com", func(context.Context) (any, error) { return nil, errors.New("503") })
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostDispatches.WithLabelValues("standard", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hostDispatches.WithLabelValues("standard", "error")))
}

func TestWatchQueueAndPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	q := queue.New()
	_, err := q.AddJob("a", func(context.Context) error { return nil })
	require.NoError(t, err)
	m.WatchQueue(q)
	m.WatchPool(hostqueue.NewPool("fast"))

	expected := `
# HELP serial_jobs_queue_schedulable_jobs Jobs submitted and waiting for a slot.
# TYPE serial_jobs_queue_schedulable_jobs gauge
serial_jobs_queue_schedulable_jobs 1
# HELP serial_jobs_queue_total_jobs Jobs tracked by the queue.
# TYPE serial_jobs_queue_total_jobs gauge
serial_jobs_queue_total_jobs 1
# HELP serial_jobs_hosts_pending_requests Tasks waiting in host queues.
# TYPE serial_jobs_hosts_pending_requests gauge
serial_jobs_hosts_pending_requests{pool="fast"} 0
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"serial_jobs_queue_schedulable_jobs",
		"serial_jobs_queue_total_jobs",
		"serial_jobs_hosts_pending_requests",
	)
	assert.NoError(t, err)
}
