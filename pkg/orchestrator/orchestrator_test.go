package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/events"
	"github.com/jdziat/serial-jobs/pkg/jobctx"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/netcheck"
)

func TestAddJobs_PersistsDependantOnLaterPass(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("A"), noop("B")})

	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{
		{Type: "A", Name: "A"},
		{Type: "B", RunAfter: "A"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	assert.Empty(t, res.Dropped)

	batches := h.store.batches()
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "A", batches[0][0].Type)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "B", batches[1][0].Type)

	a, b := res.Added[0], res.Added[1]
	require.NotNil(t, b.RunAfter)
	assert.Equal(t, a.ID, *b.RunAfter, "runAfter is rewritten to the prerequisite id")
}

func TestAddJobs_ResolvesStoredPrerequisiteByIDOrName(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	pre := h.add(&core.JobRequest{Type: "t", Name: "pre"})

	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{
		{Type: "t", RunAfter: pre.ID},
		{Type: "t", RunAfter: "pre"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	for _, item := range res.Added {
		require.NotNil(t, item.RunAfter)
		assert.Equal(t, pre.ID, *item.RunAfter)
	}
}

func TestAddJobs_DropsUnresolvedRunAfter(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})

	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{
		{Type: "t", Name: "kept"},
		{Type: "t", Name: "orphan", RunAfter: "missing"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 1)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "orphan", res.Dropped[0].Name)

	items, err := h.store.GetJobsByName(h.ctx, "orphan")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAddJobs_ChainIsBoundedByPasses(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")}, WithConfig(Config{DependencyPasses: 2}))

	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{
		{Type: "t", Name: "c", RunAfter: "b"},
		{Type: "t", Name: "b", RunAfter: "a"},
		{Type: "t", Name: "a"},
	})
	require.NoError(t, err)
	assert.Len(t, res.Added, 2)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, "c", res.Dropped[0].Name)
}

func TestFetchJobs_RecurringJobIsRescheduled(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("tick")})
	item := h.add(&core.JobRequest{Type: "tick", Interval: 30 * time.Second, RunImmediately: true})
	h.queue.Start()

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f := h.waitFinished()
	assert.NoError(t, f.Error)
	assert.False(t, f.Deleted)

	got := h.get(item.ID)
	require.NotNil(t, got)
	assert.Equal(t, core.StateWaiting, got.State)
	assert.Nil(t, got.RunningSince)
	assert.Equal(t, core.MinInterval, got.Interval, "interval is floored")
	require.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.WithinDuration(t, got.LastRun.Add(core.MinInterval), *got.NextRun, time.Millisecond)
	assert.WithinDuration(t, h.clock.Now(), *got.LastRun, time.Millisecond)

	history, err := h.store.GetHistory(h.ctx, item.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ResultSuccess, history[0].Result)

	// Not due again until the interval elapses.
	n, err = h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFetchJobs_DeleteAfterRunRemovesRecord(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("once")})
	item := h.add(&core.JobRequest{Type: "once", DeleteAfterRun: true})
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)

	f := h.waitFinished()
	assert.True(t, f.Deleted)
	assert.Nil(t, h.get(item.ID))

	history, err := h.store.GetHistory(h.ctx, item.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestFetchJobs_FailingJobReturnsToWaiting(t *testing.T) {
	boom := errors.New("boom")
	var ranGood sync.WaitGroup
	ranGood.Add(1)
	h := newHarness(t, []kind.Kind{
		kind.Task("fail", func(context.Context, struct{}) error { return boom }),
		kind.Task("panic", func(context.Context, struct{}) error { panic("kaboom") }),
		kind.Task("good", func(context.Context, struct{}) error { ranGood.Done(); return nil }),
	})
	failing := h.add(&core.JobRequest{Type: "fail", Interval: time.Hour, RunImmediately: true})
	panicking := h.add(&core.JobRequest{Type: "panic"})
	good := h.add(&core.JobRequest{Type: "good"})
	h.queue.Start()

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results := map[string]error{}
	for i := 0; i < 3; i++ {
		f := h.waitFinished()
		results[f.Job.ID] = f.Error
	}
	ranGood.Wait()

	assert.ErrorIs(t, results[failing.ID], boom)
	require.Error(t, results[panicking.ID])
	assert.Contains(t, results[panicking.ID].Error(), "kaboom")
	assert.NoError(t, results[good.ID])

	for _, id := range []string{failing.ID, panicking.ID, good.ID} {
		got := h.get(id)
		require.NotNil(t, got)
		assert.Equal(t, core.StateWaiting, got.State)
		assert.Nil(t, got.RunningSince)
	}

	history, err := h.store.GetHistory(h.ctx, failing.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ResultFailed, history[0].Result)
	assert.Contains(t, history[0].Message, "boom")
}

func TestFetchJobs_SkipsUnknownKind(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("known")})
	unknown := h.add(&core.JobRequest{Type: "unknown"})
	h.queue.Start()

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.orch.Tracked())
	assert.Equal(t, core.StateWaiting, h.get(unknown.ID).State)
}

func TestFetchJobs_SkipsWhenQueueIsFull(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	for i := 0; i < 6; i++ {
		h.add(&core.JobRequest{Type: "t"})
	}

	// The queue is paused, so submitted jobs stay pending.
	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "capacity defaults to max active")
	assert.True(t, h.queue.IsFull())

	n, err = h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFetchJobs_DoesNotSubmitTrackedJobTwice(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	h.add(&core.JobRequest{Type: "t"})

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, h.orch.Tracked(), 1)
}

func TestFetchJobs_EmitsValueAndErrorEvents(t *testing.T) {
	type page struct {
		URL string `json:"url"`
	}
	h := newHarness(t, []kind.Kind{
		kind.Emit("scrape", "news", func(_ context.Context, p page) (string, error) {
			if p.URL == "" {
				return "", errors.New("no url")
			}
			return "scraped " + p.URL, nil
		}),
	})

	values := make(chan string, 1)
	failures := make(chan error, 1)
	events.Subscribe(h.orch.Bus(), "news", func(_ context.Context, v string) { values <- v })
	events.Subscribe(h.orch.Bus(), "news:error", func(_ context.Context, err error) { failures <- err })

	ok, err := core.NewRequest("scrape", page{URL: "https://example.com"})
	require.NoError(t, err)
	h.add(ok)
	h.add(&core.JobRequest{Type: "scrape", Arguments: []byte(`{}`)})
	h.queue.Start()

	_, err = h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	h.waitFinished()
	h.waitFinished()

	assert.Equal(t, "scraped https://example.com", <-values)
	assert.EqualError(t, <-failures, "no url")
}

func TestFetchJobs_FollowUpsAreAdded(t *testing.T) {
	h := newHarness(t, []kind.Kind{
		kind.Spawn("parent", func(ctx context.Context, _ struct{}) ([]*core.JobRequest, error) {
			parent := jobctx.JobFromContext(ctx)
			return []*core.JobRequest{{Type: "child", Name: "child-of-" + parent.ID}}, nil
		}),
		noop("child"),
	})
	parent := h.add(&core.JobRequest{Type: "parent", DeleteAfterRun: true})
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	h.waitFinished()

	items, err := h.store.GetJobsByName(h.ctx, "child-of-"+parent.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "child", items[0].Type)
}

func TestOnDone_SubmitsDependants(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(tag string) kind.Kind {
		return kind.Task(tag, func(context.Context, struct{}) error {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
			return nil
		})
	}
	h := newHarness(t, []kind.Kind{record("first"), record("second")})

	res, err := h.orch.AddJobs(h.ctx, []*core.JobRequest{
		{Type: "first", Name: "first", Interval: time.Hour, RunImmediately: true},
		{Type: "second", RunAfter: "first"},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	h.queue.Start()

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the dependant is not due while its prerequisite exists")

	h.waitFinished()
	h.waitFinished()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestOnStart_MarksRunningAndEmits(t *testing.T) {
	b := newBlocker()
	h := newHarness(t, []kind.Kind{b.kind("slow")})
	item := h.add(&core.JobRequest{Type: "slow"})

	started := make(chan *core.JobStarted, 1)
	events.Subscribe(h.orch.Bus(), core.EventJobStarted, func(_ context.Context, s *core.JobStarted) { started <- s })
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)

	s := <-started
	assert.Equal(t, item.ID, s.Job.ID)
	got := h.get(item.ID)
	assert.Equal(t, core.StateRunning, got.State)
	require.NotNil(t, got.RunningSince)
	assert.WithinDuration(t, h.clock.Now(), *got.RunningSince, time.Millisecond)

	close(b.release)
	h.waitFinished()
}

func TestCheckCurrentVsStorage_ReschedulesStaleRunningJob(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	item := h.add(&core.JobRequest{Type: "t", Interval: time.Hour})
	gone := h.add(&core.JobRequest{Type: "t", DeleteAfterRun: true})

	stale := h.clock.Now().Add(-3 * time.Hour)
	for _, it := range []*core.JobItem{item, gone} {
		it.Start(stale)
		require.NoError(t, h.store.UpdateJobs(h.ctx, []*core.JobItem{it}, nil))
	}

	n, err := h.orch.CheckCurrentVsStorage(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	now := h.clock.Now()
	got := h.get(item.ID)
	require.NotNil(t, got)
	assert.Equal(t, core.StateWaiting, got.State)
	assert.Nil(t, got.RunningSince)
	require.NotNil(t, got.NextRun)
	assert.WithinDuration(t, now.Add(time.Hour), *got.NextRun, time.Millisecond)

	assert.Nil(t, h.get(gone.ID))

	history, err := h.store.GetHistory(h.ctx, item.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, core.ResultAbandoned, history[0].Result)
}

func TestCheckCurrentVsStorage_LeavesLiveJobsAlone(t *testing.T) {
	b := newBlocker()
	h := newHarness(t, []kind.Kind{b.kind("slow")})
	item := h.add(&core.JobRequest{Type: "slow"})
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)
	h.clock.AddTime(3 * time.Hour)

	n, err := h.orch.CheckCurrentVsStorage(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, core.StateRunning, h.get(item.ID).State)

	close(b.release)
	h.waitFinished()
}

func TestCheckRunningJobs_LongStuckJobIsFatal(t *testing.T) {
	b := newBlocker()
	h := newHarness(t, []kind.Kind{b.kind("slow")})
	item := h.add(&core.JobRequest{Type: "slow"})
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)

	h.clock.AddTime(time.Hour)
	require.NoError(t, h.orch.CheckRunningJobs(h.ctx), "one job for an hour trips neither rule")

	h.clock.AddTime(90 * time.Minute)
	err = h.orch.CheckRunningJobs(h.ctx)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))

	var fe *core.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{item.ID}, fe.Jobs)

	select {
	case got := <-h.orch.Fatal():
		assert.Equal(t, err, got)
	default:
		t.Fatal("fatal error was not delivered")
	}

	close(b.release)
	h.waitFinished()
}

func TestCheckRunningJobs_ShortStuckRule(t *testing.T) {
	t.Run("five jobs over the short window", func(t *testing.T) {
		b := newBlocker()
		h := newHarness(t, []kind.Kind{b.kind("slow")})
		ids := h.startBlocked(b, "slow", 5)

		h.clock.AddTime(29 * time.Minute)
		require.NoError(t, h.orch.CheckRunningJobs(h.ctx))

		h.clock.AddTime(2 * time.Minute)
		err := h.orch.CheckRunningJobs(h.ctx)
		require.Error(t, err)
		assert.True(t, core.IsFatal(err))

		var fe *core.FatalError
		require.ErrorAs(t, err, &fe)
		assert.ElementsMatch(t, ids, fe.Jobs)
		assert.Contains(t, fe.Reason, "5 or more")

		close(b.release)
		for range ids {
			h.waitFinished()
		}
	})

	t.Run("four jobs stay below the count", func(t *testing.T) {
		b := newBlocker()
		h := newHarness(t, []kind.Kind{b.kind("slow")})
		ids := h.startBlocked(b, "slow", 4)

		h.clock.AddTime(31 * time.Minute)
		require.NoError(t, h.orch.CheckRunningJobs(h.ctx))

		select {
		case err := <-h.orch.Fatal():
			t.Fatalf("unexpected fatal error: %v", err)
		default:
		}

		close(b.release)
		for range ids {
			h.waitFinished()
		}
	})
}

func TestTick_FatalHandlerCanStop(t *testing.T) {
	b := newBlocker()
	stopped := make(chan error, 4)
	var h *harness
	h = newHarness(t, []kind.Kind{b.kind("slow")},
		OnFatal(func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			stopped <- h.orch.Stop(ctx)
		}),
	)
	h.startBlocked(b, "slow", 1)
	h.clock.AddTime(3 * time.Hour)

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		h.orch.Tick(h.ctx)
	}()

	select {
	case <-tickDone:
	case <-time.After(5 * time.Second):
		t.Fatal("tick did not return")
	}
	select {
	case err := <-stopped:
		// The blocked job outlives the stop deadline.
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		t.Fatal("stop called from the fatal handler did not return")
	}
	assert.True(t, h.queue.Paused())

	close(b.release)
}

func TestStop_HonoursContextWhileTickRuns(t *testing.T) {
	h := newHarness(t, nil)

	h.orch.ticking <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.orch.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-h.orch.ticking
	require.NoError(t, h.orch.Stop(context.Background()))
}

func TestCheckRunningJobs_OutageSuppressesJudgement(t *testing.T) {
	b := newBlocker()
	var reachable bool
	var mu sync.Mutex
	prober := netcheck.ProberFunc(func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if reachable {
			return nil
		}
		return core.ErrNetworkUnavailable
	})
	fatals := make(chan error, 4)
	h := newHarness(t, []kind.Kind{b.kind("slow")},
		WithProber(prober),
		OnFatal(func(err error) { fatals <- err }),
	)
	h.add(&core.JobRequest{Type: "slow"})
	h.queue.Start()

	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)

	h.clock.AddTime(3 * time.Hour)
	require.NoError(t, h.orch.CheckRunningJobs(h.ctx))
	assert.Len(t, h.orch.Outages(), 1)

	mu.Lock()
	reachable = true
	mu.Unlock()
	require.NoError(t, h.orch.CheckRunningJobs(h.ctx), "recent outage suppresses the check")

	h.clock.AddTime(2*time.Hour + time.Minute)
	err = h.orch.CheckRunningJobs(h.ctx)
	assert.True(t, core.IsFatal(err))
	assert.Empty(t, h.orch.Outages(), "outages outside every window are pruned")
	select {
	case got := <-fatals:
		assert.Equal(t, err, got)
	case <-time.After(5 * time.Second):
		t.Fatal("fatal handler was not called")
	}

	close(b.release)
	h.waitFinished()
}

func TestCheckRunningStorageJobs(t *testing.T) {
	b := newBlocker()
	h := newHarness(t, []kind.Kind{b.kind("slow"), noop("t")})

	// A RUNNING row without a start time is only an anomaly.
	odd := h.add(&core.JobRequest{Type: "t"})
	odd.State = core.StateRunning
	require.NoError(t, h.store.UpdateJobs(h.ctx, []*core.JobItem{odd}, nil))
	require.NoError(t, h.orch.CheckRunningStorageJobs(h.ctx))

	live := h.add(&core.JobRequest{Type: "slow"})
	h.queue.Start()
	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)

	h.clock.AddTime(time.Hour)
	require.NoError(t, h.orch.CheckRunningStorageJobs(h.ctx))

	h.clock.AddTime(90 * time.Minute)
	err = h.orch.CheckRunningStorageJobs(h.ctx)
	var fe *core.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{live.ID}, fe.Jobs)

	close(b.release)
	h.waitFinished()
}

func TestRunNow(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	later := h.clock.Now().Add(time.Hour)
	item := h.add(&core.JobRequest{Type: "t", Name: "later", NextRun: &later})

	n, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, h.orch.RunNow(h.ctx, "later"))
	assert.Equal(t, []string{item.ID}, h.orch.Tracked())

	err = h.orch.RunNow(h.ctx, item.ID)
	assert.ErrorIs(t, err, core.ErrDuplicateKey)

	err = h.orch.RunNow(h.ctx, "missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestRemoveDependant(t *testing.T) {
	b := newBlocker()
	h := newHarness(t, []kind.Kind{b.kind("slow"), noop("t")})
	pending := h.add(&core.JobRequest{Type: "t", Name: "pending"})

	// Paused queue: the job is submitted but not started.
	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	require.True(t, h.queue.Has(pending.ID))

	require.NoError(t, h.orch.RemoveDependant(h.ctx, "pending"))
	assert.False(t, h.queue.Has(pending.ID))
	assert.Empty(t, h.orch.Tracked())
	assert.Nil(t, h.get(pending.ID))

	running := h.add(&core.JobRequest{Type: "slow"})
	h.queue.Start()
	_, err = h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	b.waitStarted(t)

	err = h.orch.RemoveDependant(h.ctx, running.ID)
	assert.ErrorIs(t, err, core.ErrJobRunning)
	assert.NotNil(t, h.get(running.ID))

	close(b.release)
	h.waitFinished()

	err = h.orch.RemoveDependant(h.ctx, "missing")
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSetup_ResetsRunningAndSeedsOnce(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t"), noop("maint")},
		WithBootstrap(&core.JobRequest{Type: "maint", Name: "maint", Interval: 24 * time.Hour}),
	)
	stranded := h.add(&core.JobRequest{Type: "t"})
	stranded.Start(h.clock.Now())
	require.NoError(t, h.store.UpdateJobs(h.ctx, []*core.JobItem{stranded}, nil))

	require.NoError(t, h.orch.Setup(h.ctx))
	require.NoError(t, h.orch.Setup(h.ctx))

	assert.Equal(t, core.StateWaiting, h.get(stranded.ID).State)
	seeded, err := h.store.GetJobsByName(h.ctx, "maint")
	require.NoError(t, err)
	assert.Len(t, seeded, 1)
}

func TestTick_SkippedWhenNotAutomatic(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")})
	h.add(&core.JobRequest{Type: "t"})
	h.queue.Start()

	h.orch.SetAutomatic(false)
	assert.False(t, h.orch.Automatic())
	h.orch.Tick(h.ctx)
	assert.Empty(t, h.orch.Tracked())
	assert.Zero(t, h.queue.Counts().Total)

	h.orch.SetAutomatic(true)
	h.orch.Tick(h.ctx)
	h.waitFinished()
}

func TestStartPauseStop(t *testing.T) {
	h := newHarness(t, []kind.Kind{noop("t")}, WithConfig(Config{TickInterval: time.Hour}))
	item := h.add(&core.JobRequest{Type: "t", DeleteAfterRun: true})

	h.orch.Start(h.ctx)
	f := h.waitFinished()
	assert.Equal(t, item.ID, f.Job.ID)
	assert.False(t, h.queue.Paused())

	h.orch.Pause()
	assert.True(t, h.queue.Paused())

	h.add(&core.JobRequest{Type: "t", Name: "left"})
	_, err := h.orch.FetchJobs(h.ctx)
	require.NoError(t, err)
	assert.Len(t, h.orch.Tracked(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Stop(ctx))
	assert.Empty(t, h.orch.Tracked())
	assert.Zero(t, h.queue.Counts().Total)
}
