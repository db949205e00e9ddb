// Package kind maps job type tags to typed job functions.
//
// A Kind is built with one of Task, Spawn or Emit. Each decodes the job's
// JSON arguments into its payload type and reports what the run produced as
// an Outcome: None, FollowUps or Value. The set of outcomes is closed, so a
// type switch over them is exhaustive.
package kind

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
)

// Outcome is the result of running a Kind.
type Outcome interface {
	outcome()
}

// None is the outcome of a job that produces nothing.
type None struct{}

// FollowUps is the outcome of a job that asks for more jobs to be added.
type FollowUps []*core.JobRequest

// Value is the outcome of a job whose result is forwarded to subscribers of
// Event.
type Value struct {
	Event   string
	Payload any
}

func (None) outcome()      {}
func (FollowUps) outcome() {}
func (Value) outcome()     {}

// Kind is a registered job type.
type Kind interface {
	// Type returns the tag stored in JobItem.Type.
	Type() string
	// Event returns the result event name, or "" if results are not emitted.
	Event() string
	// Run decodes args and executes the job function.
	Run(ctx context.Context, args []byte) (Outcome, error)

	sealed()
}

type kind[A any] struct {
	tag   string
	event string
	run   func(ctx context.Context, args A) (Outcome, error)
}

func (k *kind[A]) Type() string  { return k.tag }
func (k *kind[A]) Event() string { return k.event }
func (k *kind[A]) sealed()       {}

func (k *kind[A]) Run(ctx context.Context, raw []byte) (Outcome, error) {
	var args A
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, errors.Wrapf(err, "kind %s: decode arguments", k.tag)
		}
	}
	return k.run(ctx, args)
}

// Task registers a job function that produces nothing.
func Task[A any](tag string, fn func(ctx context.Context, args A) error) Kind {
	return &kind[A]{
		tag: tag,
		run: func(ctx context.Context, args A) (Outcome, error) {
			if err := fn(ctx, args); err != nil {
				return nil, err
			}
			return None{}, nil
		},
	}
}

// Spawn registers a job function that may return follow-up jobs.
func Spawn[A any](tag string, fn func(ctx context.Context, args A) ([]*core.JobRequest, error)) Kind {
	return &kind[A]{
		tag: tag,
		run: func(ctx context.Context, args A) (Outcome, error) {
			reqs, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			if len(reqs) == 0 {
				return None{}, nil
			}
			return FollowUps(reqs), nil
		},
	}
}

// Emit registers a job function whose result is forwarded to subscribers of
// event. Failures go to event + ":error".
func Emit[A, R any](tag, event string, fn func(ctx context.Context, args A) (R, error)) Kind {
	return &kind[A]{
		tag:   tag,
		event: event,
		run: func(ctx context.Context, args A) (Outcome, error) {
			v, err := fn(ctx, args)
			if err != nil {
				return nil, err
			}
			return Value{Event: event, Payload: v}, nil
		},
	}
}
