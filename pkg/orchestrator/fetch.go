package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/jobctx"
	"github.com/jdziat/serial-jobs/pkg/kind"
	"github.com/jdziat/serial-jobs/pkg/queue"
)

// FetchJobs loads due jobs and submits them to the queue. It returns how many
// were submitted. Nothing is loaded while the queue is full.
func (o *Orchestrator) FetchJobs(ctx context.Context) (int, error) {
	if o.queue.IsFull() {
		o.logger.Debug("queue full, skipping fetch")
		return 0, nil
	}

	limit := o.queue.Free()
	if o.cfg.FetchLimit > 0 && limit > o.cfg.FetchLimit {
		limit = o.cfg.FetchLimit
	}

	// Submitted jobs stay WAITING in storage until they start, so they can be
	// selected again. Fetch enough to fill the free slots anyway.
	o.mu.Lock()
	tracked := len(o.handles)
	o.mu.Unlock()

	items, err := o.store.GetDueJobs(ctx, limit+tracked)
	if err != nil {
		return 0, errors.Wrap(err, "orchestrator: load due jobs")
	}

	submitted := 0
	for _, item := range items {
		if submitted >= limit {
			break
		}
		ok, err := o.submit(item)
		switch {
		case errors.Is(err, core.ErrUnknownKind):
			o.logger.Warn("skipping job of unknown type", "job_id", item.ID, "type", item.Type)
		case err != nil:
			o.logger.Error("submitting job failed", "job_id", item.ID, "error", err)
		case ok:
			submitted++
		}
	}
	if submitted > 0 {
		o.logger.Debug("submitted due jobs", "count", submitted)
	}
	return submitted, nil
}

// RunNow submits a waiting job immediately, regardless of its nextRun.
func (o *Orchestrator) RunNow(ctx context.Context, idOrName string) error {
	item, err := o.lookup(ctx, idOrName)
	if err != nil {
		return err
	}
	if item.State == core.StateRunning {
		return errors.Wrapf(core.ErrJobRunning, "orchestrator: run %q", idOrName)
	}
	ok, err := o.submit(item)
	if err != nil {
		return errors.Wrapf(err, "orchestrator: run %q", idOrName)
	}
	if !ok {
		return errors.Wrapf(core.ErrDuplicateKey, "orchestrator: run %q", idOrName)
	}
	return nil
}

// RemoveDependant cancels a job that has not started yet, by id or name. Its
// queue entry and its stored record are both removed. A started job is left
// alone and core.ErrJobRunning is returned.
func (o *Orchestrator) RemoveDependant(ctx context.Context, key string) error {
	o.mu.Lock()
	id := key
	if known, ok := o.names[key]; ok {
		id = known
	}
	if _, ok := o.handles[id]; ok {
		err := o.queue.RemoveJob(id)
		if errors.Is(err, core.ErrJobRunning) {
			o.mu.Unlock()
			return errors.Wrapf(err, "orchestrator: remove %q", key)
		}
		o.untrackLocked(id)
	}
	o.mu.Unlock()

	if err := o.store.RemoveJob(ctx, key); err != nil {
		return errors.Wrapf(err, "orchestrator: remove %q", key)
	}
	o.logger.Info("removed job", "key", key)
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, idOrName string) (*core.JobItem, error) {
	items, err := o.store.GetJobsByID(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if items, err = o.store.GetJobsByName(ctx, idOrName); err != nil {
			return nil, err
		}
	}
	if len(items) == 0 {
		return nil, errors.Wrapf(core.ErrJobNotFound, "orchestrator: lookup %q", idOrName)
	}
	return items[0], nil
}

// submit hands item to the queue. It reports false without error when the job
// is already tracked.
func (o *Orchestrator) submit(item *core.JobItem) (bool, error) {
	k, ok := o.registry.Lookup(item.Type)
	if !ok {
		return false, errors.Wrapf(core.ErrUnknownKind, "type %q", item.Type)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.handles[item.ID]; ok {
		return false, nil
	}
	name := item.NameOrEmpty()
	if name != "" {
		if _, ok := o.names[name]; ok {
			return false, nil
		}
	}

	job, err := o.queue.AddJob(item.ID, o.jobFunc(item, k),
		queue.OnStart(o.onStart(item)),
		queue.OnDone(o.onDone(item)),
	)
	if err != nil {
		return false, err
	}
	o.handles[item.ID] = &handle{job: job, name: name}
	if name != "" {
		o.names[name] = item.ID
	}
	return true, nil
}

func (o *Orchestrator) untrackLocked(id string) {
	h, ok := o.handles[id]
	if !ok {
		return
	}
	delete(o.handles, id)
	if h.name != "" && o.names[h.name] == id {
		delete(o.names, h.name)
	}
}

// jobFunc wraps the kind's function so that its outcome is acted on: follow
// ups are added and values are forwarded to the kind's event.
func (o *Orchestrator) jobFunc(item *core.JobItem, k kind.Kind) queue.Func {
	args := item.Arguments
	return func(ctx context.Context) error {
		ctx = jobctx.WithJob(ctx, item, o.logger)

		out, err := k.Run(ctx, args)
		if err != nil {
			if event := k.Event(); event != "" {
				o.bus.Emit(ctx, core.ErrorEvent(event), err)
			}
			return err
		}

		switch out := out.(type) {
		case kind.None:
		case kind.FollowUps:
			if _, err := o.AddJobs(ctx, out); err != nil {
				return errors.Wrap(err, "add follow-up jobs")
			}
		case kind.Value:
			o.bus.Emit(ctx, out.Event, out.Payload)
		}
		return nil
	}
}

func (o *Orchestrator) onStart(item *core.JobItem) func(*queue.Job) {
	return func(*queue.Job) {
		ctx := o.context()
		now := o.clock.Now()

		item.Start(now)
		if err := o.store.UpdateJobs(ctx, []*core.JobItem{item}, nil); err != nil {
			o.logger.Error("marking job running failed", "job_id", item.ID, "error", err)
		}

		snapshot := *item
		o.bus.Emit(ctx, core.EventJobStarted, &core.JobStarted{Job: &snapshot, Timestamp: now})
		o.observer.JobStarted(item.Type)
	}
}

func (o *Orchestrator) onDone(item *core.JobItem) func(*queue.Job, error) {
	return func(_ *queue.Job, runErr error) {
		ctx := o.context()
		now := o.clock.Now()
		start := now
		if item.RunningSince != nil {
			start = *item.RunningSince
		}

		o.mu.Lock()
		o.untrackLocked(item.ID)
		o.settling[item.ID] = struct{}{}
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			delete(o.settling, item.ID)
			o.mu.Unlock()
		}()

		if runErr != nil {
			o.logger.Warn("job failed", "job_id", item.ID, "type", item.Type, "error", runErr)
		}

		o.submitDependants(ctx, item.ID)

		finished := &core.Finished{Start: start, End: now, Err: runErr}
		items := []*core.JobItem{item}
		var err error
		if item.DeleteAfterRun {
			err = o.store.RemoveJobs(ctx, items, finished)
		} else {
			item.Reschedule(now, o.cfg.MinInterval)
			err = o.store.UpdateJobs(ctx, items, finished)
		}
		if err != nil {
			o.logger.Error("persisting finished job failed", "job_id", item.ID, "error", err)
		}

		snapshot := *item
		o.bus.Emit(ctx, core.EventJobFinished, &core.JobFinished{
			Job:       &snapshot,
			Error:     runErr,
			Duration:  now.Sub(start),
			Deleted:   item.DeleteAfterRun,
			Timestamp: now,
		})
		o.observer.JobFinished(item.Type, finished.Result(), now.Sub(start))
	}
}

// submitDependants submits the waiting jobs whose runAfter is id.
func (o *Orchestrator) submitDependants(ctx context.Context, id string) {
	after, err := o.store.GetAfterJobs(ctx, id)
	if err != nil {
		o.logger.Error("loading dependant jobs failed", "job_id", id, "error", err)
		return
	}
	for _, dep := range after {
		if dep.State != core.StateWaiting {
			continue
		}
		if _, err := o.submit(dep); err != nil {
			o.logger.Warn("submitting dependant job failed", "job_id", dep.ID, "run_after", id, "error", err)
		}
	}
}
