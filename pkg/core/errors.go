package core

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
)

// Validation errors
var (
	ErrInvalidJobType     = errors.New("jobs: invalid job type (must be alphanumeric, start with letter)")
	ErrJobTypeTooLong     = errors.New("jobs: job type too long")
	ErrInvalidJobName     = errors.New("jobs: invalid job name")
	ErrJobNameTooLong     = errors.New("jobs: job name too long")
	ErrJobArgsTooLarge    = errors.New("jobs: job arguments exceed size limit")
	ErrDuplicateKey       = errors.New("jobs: a job with this key is already tracked")
	ErrDuplicateKind      = errors.New("jobs: job kind registered twice")
	ErrJobRunning         = errors.New("jobs: job is already running")
	ErrJobNotFound        = errors.New("jobs: job not found")
	ErrUnknownKind        = errors.New("jobs: no kind registered for job type")
	ErrUnresolvedRunAfter = errors.New("jobs: runAfter dependency never resolved")
)

// ErrNetworkUnavailable is recorded when the connectivity probe fails.
var ErrNetworkUnavailable = errors.New("jobs: network unavailable")

// ErrAbandoned marks a run that was found RUNNING in storage with no live
// execution behind it.
var ErrAbandoned = errors.New("jobs: run abandoned")

func isAbandoned(err error) bool {
	return errors.Is(err, ErrAbandoned)
}

// FatalError reports an invariant violation the process cannot repair in
// place, such as jobs wedged for hours. The owner is expected to shut down
// and let a supervisor restart it.
type FatalError struct {
	Reason string
	Jobs   []string
	At     time.Time
}

func (e *FatalError) Error() string {
	if len(e.Jobs) == 0 {
		return fmt.Sprintf("jobs: fatal: %s", e.Reason)
	}
	return fmt.Sprintf("jobs: fatal: %s (jobs: %v)", e.Reason, e.Jobs)
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
