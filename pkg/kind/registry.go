package kind

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/serial-jobs/pkg/core"
	"github.com/jdziat/serial-jobs/pkg/security"
)

// Registry is an immutable set of kinds keyed by type tag.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry builds a registry. Tags must be valid job types and unique.
func NewRegistry(kinds ...Kind) (*Registry, error) {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		if err := security.ValidateJobType(k.Type()); err != nil {
			return nil, errors.Wrapf(err, "kind %q", k.Type())
		}
		if _, ok := r.kinds[k.Type()]; ok {
			return nil, errors.Wrapf(core.ErrDuplicateKind, "kind %q", k.Type())
		}
		r.kinds[k.Type()] = k
	}
	return r, nil
}

// Lookup returns the kind registered for tag.
func (r *Registry) Lookup(tag string) (Kind, bool) {
	k, ok := r.kinds[tag]
	return k, ok
}

// Tags returns every registered tag, sorted.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.kinds))
	for tag := range r.kinds {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Len returns the number of registered kinds.
func (r *Registry) Len() int { return len(r.kinds) }
