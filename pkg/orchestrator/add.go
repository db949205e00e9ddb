package orchestrator

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// AddResult reports what AddJobs persisted and what it gave up on.
type AddResult struct {
	Added   []*core.JobItem
	Dropped []*core.JobRequest
}

// AddJobs persists requests in passes. A request whose RunAfter names a job
// (by id or name) is persisted only once that job exists in the store, with
// RunAfter rewritten to the prerequisite's id. Requests are never persisted
// in the same pass as their prerequisite. Requests still unresolved after
// Config.DependencyPasses passes are logged and dropped.
func (o *Orchestrator) AddJobs(ctx context.Context, reqs []*core.JobRequest) (*AddResult, error) {
	res := &AddResult{}
	resolved := make(map[string]string) // id or name -> id
	pending := reqs

	for pass := 1; pass <= o.cfg.DependencyPasses && len(pending) > 0; pass++ {
		if err := o.resolveRunAfter(ctx, pending, resolved); err != nil {
			return res, err
		}

		var ready, waiting []*core.JobRequest
		for _, req := range pending {
			if req.RunAfter == "" {
				ready = append(ready, req)
				continue
			}
			id, ok := resolved[req.RunAfter]
			if !ok {
				waiting = append(waiting, req)
				continue
			}
			r := *req
			r.RunAfter = id
			ready = append(ready, &r)
		}
		if len(ready) == 0 {
			pending = waiting
			break
		}

		items, err := o.store.AddJobs(ctx, ready)
		if err != nil {
			return res, errors.Wrapf(err, "orchestrator: add jobs (pass %d)", pass)
		}
		for _, item := range items {
			resolved[item.ID] = item.ID
			if name := item.NameOrEmpty(); name != "" {
				resolved[name] = item.ID
			}
		}
		res.Added = append(res.Added, items...)
		o.logger.Debug("persisted jobs", "pass", pass, "count", len(items), "waiting", len(waiting))
		pending = waiting
	}

	for _, req := range pending {
		o.logger.Warn("dropping job with unresolved runAfter",
			"type", req.Type,
			"name", req.Name,
			"run_after", req.RunAfter,
			"error", core.ErrUnresolvedRunAfter,
		)
	}
	res.Dropped = pending
	return res, nil
}

// resolveRunAfter looks up RunAfter references not yet known, first as ids
// and then as names.
func (o *Orchestrator) resolveRunAfter(ctx context.Context, reqs []*core.JobRequest, resolved map[string]string) error {
	seen := make(map[string]struct{})
	var refs []string
	for _, req := range reqs {
		if req.RunAfter == "" {
			continue
		}
		if _, ok := resolved[req.RunAfter]; ok {
			continue
		}
		if _, ok := seen[req.RunAfter]; ok {
			continue
		}
		seen[req.RunAfter] = struct{}{}
		refs = append(refs, req.RunAfter)
	}
	if len(refs) == 0 {
		return nil
	}

	byID, err := o.store.GetJobsByID(ctx, refs...)
	if err != nil {
		return errors.Wrap(err, "orchestrator: resolve runAfter by id")
	}
	for _, item := range byID {
		resolved[item.ID] = item.ID
	}

	byName, err := o.store.GetJobsByName(ctx, refs...)
	if err != nil {
		return errors.Wrap(err, "orchestrator: resolve runAfter by name")
	}
	for _, item := range byName {
		resolved[item.NameOrEmpty()] = item.ID
	}
	return nil
}
