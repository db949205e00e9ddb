package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/queue"
	"github.com/jdziat/serial-jobs/pkg/storage"
	"github.com/jdziat/serial-jobs/pkg/uow"
)

// spyStore records the batches passed to AddJobs.
type spyStore struct {
	core.Store

	mu   sync.Mutex
	adds [][]*core.JobRequest
}

func (s *spyStore) AddJobs(ctx context.Context, reqs []*core.JobRequest) ([]*core.JobItem, error) {
	s.mu.Lock()
	s.adds = append(s.adds, reqs)
	s.mu.Unlock()
	return s.Store.AddJobs(ctx, reqs)
}

func (s *spyStore) batches() [][]*core.JobRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*core.JobRequest(nil), s.adds...)
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clock.MockClock
	store *spyStore
	queue *queue.Queue
	orch  *Orchestrator

	finished chan *core.JobFinished
}

func newHarness(t *testing.T, kinds []kind.Kind, opts ...Option) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.WithConfig(storage.SQLitePoolConfig())))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mockClock := clock.NewMockClock()
	gs := storage.NewGormStorage(uow.New(db, uow.RetryDelay(time.Millisecond)), storage.WithClock(mockClock))
	require.NoError(t, gs.Migrate(context.Background()))

	registry, err := kind.NewRegistry(kinds...)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    mockClock,
		store:    &spyStore{Store: gs},
		queue:    queue.New(queue.MaxActive(8), queue.WithClock(mockClock)),
		finished: make(chan *core.JobFinished, 100),
	}
	opts = append([]Option{WithClock(mockClock)}, opts...)
	h.orch = New(h.store, registry, h.queue, opts...)
	events.Subscribe(h.orch.Bus(), core.EventJobFinished, func(_ context.Context, f *core.JobFinished) {
		h.finished <- f
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.orch.Stop(ctx)
	})
	return h
}

func (h *harness) add(req *core.JobRequest) *core.JobItem {
	h.t.Helper()
	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{req})
	require.NoError(h.t, err)
	require.Len(h.t, res.Added, 1)
	return res.Added[0]
}

func (h *harness) get(id string) *core.JobItem {
	h.t.Helper()
	items, err := h.store.GetJobsByID(h.ctx, id)
	require.NoError(h.t, err)
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

func (h *harness) waitFinished() *core.JobFinished {
	h.t.Helper()
	select {
	case f := <-h.finished:
		return f
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for a job to finish")
		return nil
	}
}

// noop is a task kind that does nothing.
func noop(tag string) kind.Kind {
	return kind.Task(tag, func(context.Context, struct{}) error { return nil })
}

// blocker is a task kind that signals when it starts and returns when
// released.
type blocker struct {
	started chan string
	release chan struct{}
}

func newBlocker() *blocker {
	return &blocker{started: make(chan string, 10), release: make(chan struct{})}
}

func (b *blocker) kind(tag string) kind.Kind {
	return kind.Task(tag, func(ctx context.Context, _ struct{}) error {
		b.started <- tag
		<-b.release
		return nil
	})
}

func (b *blocker) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the blocking job to start")
	}
}

// startBlocked stores n blocking jobs, runs them and waits until all started.
func (h *harness) startBlocked(b *blocker, tag string, n int) []string {
	h.t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, h.add(&core.JobRequest{Type: tag}).ID)
	}
	h.queue.Start()
	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(h.t, err)
	for i := 0; i < n; i++ {
		b.waitStarted(h.t)
	}
	return ids
}
