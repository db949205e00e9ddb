package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// CheckRunningJobs is the stuck-job watchdog. When the network probe fails
// the outage is recorded and nothing is judged. Otherwise a rule trips when
// at least its count of running jobs started before its window, and the rule
// is skipped while an outage falls inside that window. A tripped rule raises
// a *core.FatalError.
func (o *Orchestrator) CheckRunningJobs(ctx context.Context) error {
	now := o.clock.Now()

	if o.prober != nil {
		if err := o.prober.Probe(ctx); err != nil {
			o.mu.Lock()
			o.outages = append(o.outages, now)
			o.mu.Unlock()
			o.logger.Warn("network unreachable, skipping stuck job check", "error", err)
			o.observer.NetworkOutage()
			return nil
		}
	}

	rules := []struct {
		after time.Duration
		count int
	}{
		{o.cfg.ShortStuckAfter, o.cfg.ShortStuckCount},
		{o.cfg.LongStuckAfter, o.cfg.LongStuckCount},
	}

	horizon := now
	for _, r := range rules {
		if t := now.Add(-r.after); t.Before(horizon) {
			horizon = t
		}
	}
	lastOutage := o.pruneOutages(horizon)

	for _, r := range rules {
		threshold := now.Add(-r.after)
		if !lastOutage.IsZero() && lastOutage.After(threshold) {
			continue
		}
		if !o.queue.InvalidRunning(threshold, r.count) {
			continue
		}
		return o.raiseFatal(&core.FatalError{
			Reason: fmt.Sprintf("%d or more jobs running longer than %s", r.count, r.after),
			Jobs:   o.runningSince(threshold),
			At:     now,
		})
	}
	return nil
}

// Outages returns the recorded network outages still inside the watchdog
// windows.
func (o *Orchestrator) Outages() []time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Time(nil), o.outages...)
}

// pruneOutages drops outages before horizon and returns the latest one left.
func (o *Orchestrator) pruneOutages(horizon time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.outages[:0]
	for _, t := range o.outages {
		if !t.Before(horizon) {
			kept = append(kept, t)
		}
	}
	o.outages = kept

	if len(kept) == 0 {
		return time.Time{}
	}
	return kept[len(kept)-1]
}

func (o *Orchestrator) runningSince(threshold time.Time) []string {
	var ids []string
	for _, job := range o.queue.Jobs() {
		if job.Running && job.StartedAt.Before(threshold) {
			ids = append(ids, job.ID)
		}
	}
	return ids
}

// liveSet returns the ids with an execution behind them: tracked handles,
// queue entries, and jobs whose completion is still being persisted.
func (o *Orchestrator) liveSet() map[string]struct{} {
	live := make(map[string]struct{})
	for _, job := range o.queue.Jobs() {
		live[job.ID] = struct{}{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.handles {
		live[id] = struct{}{}
	}
	for id := range o.settling {
		live[id] = struct{}{}
	}
	return live
}

// CheckCurrentVsStorage repairs jobs that storage has as RUNNING but that
// nothing in this process is executing. Each is rescheduled as if it had just
// finished, or deleted when it is deleteAfterRun, and recorded as abandoned.
// It returns how many jobs were repaired.
func (o *Orchestrator) CheckCurrentVsStorage(ctx context.Context) (int, error) {
	checkStart := o.clock.Now()
	before := o.liveSet()

	items, err := o.store.GetJobsInState(ctx, core.StateRunning)
	if err != nil {
		return 0, errors.Wrap(err, "orchestrator: load running jobs")
	}
	after := o.liveSet()

	now := o.clock.Now()
	repaired := 0
	var errs error
	for _, item := range items {
		if _, ok := before[item.ID]; ok {
			continue
		}
		if _, ok := after[item.ID]; ok {
			continue
		}
		start := now
		if item.RunningSince != nil {
			if !item.RunningSince.Before(checkStart) {
				// Started while this check was running.
				continue
			}
			start = *item.RunningSince
		}

		finished := &core.Finished{
			Start: start,
			End:   now,
			Err:   errors.Wrapf(core.ErrAbandoned, "running since %s with no live execution", start.Format(time.RFC3339)),
		}
		batch := []*core.JobItem{item}
		if item.DeleteAfterRun {
			err = o.store.RemoveJobs(ctx, batch, finished)
		} else {
			item.Abandon(now, o.cfg.MinInterval)
			err = o.store.UpdateJobs(ctx, batch, finished)
		}
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "repair job %s", item.ID))
			continue
		}

		o.logger.Warn("repaired abandoned running job",
			"job_id", item.ID,
			"type", item.Type,
			"running_since", start,
			"deleted", item.DeleteAfterRun,
		)
		o.observer.JobFinished(item.Type, core.ResultAbandoned, now.Sub(start))
		repaired++
	}
	return repaired, errs
}

// CheckRunningStorageJobs inspects RUNNING jobs in storage. A job without a
// start time is logged as an anomaly. A job running longer than
// Config.StorageStuckAfter that is still live in this process raises a
// *core.FatalError, unless a network outage falls in that window. Stale jobs
// that are not live are left to CheckCurrentVsStorage.
func (o *Orchestrator) CheckRunningStorageJobs(ctx context.Context) error {
	items, err := o.store.GetJobsInState(ctx, core.StateRunning)
	if err != nil {
		return errors.Wrap(err, "orchestrator: load running jobs")
	}

	now := o.clock.Now()
	threshold := now.Add(-o.cfg.StorageStuckAfter)
	live := o.liveSet()

	var stuck []string
	for _, item := range items {
		if item.RunningSince == nil {
			o.logger.Warn("running job has no start time", "job_id", item.ID, "type", item.Type)
			continue
		}
		if !item.RunningSince.Before(threshold) {
			continue
		}
		if _, ok := live[item.ID]; !ok {
			o.logger.Warn("stale running job in storage", "job_id", item.ID, "type", item.Type, "running_since", *item.RunningSince)
			continue
		}
		stuck = append(stuck, item.ID)
	}
	if len(stuck) == 0 {
		return nil
	}

	o.mu.Lock()
	var lastOutage time.Time
	if n := len(o.outages); n > 0 {
		lastOutage = o.outages[n-1]
	}
	o.mu.Unlock()
	if !lastOutage.IsZero() && lastOutage.After(threshold) {
		o.logger.Warn("jobs running long during network outage", "jobs", stuck)
		return nil
	}

	return o.raiseFatal(&core.FatalError{
		Reason: fmt.Sprintf("jobs running in storage longer than %s", o.cfg.StorageStuckAfter),
		Jobs:   stuck,
		At:     now,
	})
}
