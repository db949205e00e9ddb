package core

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestFatalError(t *testing.T) {
	err := &FatalError{Reason: "5 jobs stuck", Jobs: []string{"a", "b"}}

	assert.Contains(t, err.Error(), "5 jobs stuck")
	assert.Contains(t, err.Error(), "[a b]")
	assert.True(t, IsFatal(err))
	assert.True(t, IsFatal(errors.Wrap(err, "watchdog")))
	assert.False(t, IsFatal(errors.New("other")))
}

func TestFatalError_NoJobs(t *testing.T) {
	err := &FatalError{Reason: "running without start time"}
	assert.Equal(t, "jobs: fatal: running without start time", err.Error())
}

func TestAbandoned(t *testing.T) {
	assert.True(t, isAbandoned(errors.Wrap(ErrAbandoned, "recovered")))
	assert.False(t, isAbandoned(ErrJobNotFound))
}

func TestErrorVariables(t *testing.T) {
	assert.Contains(t, ErrInvalidJobType.Error(), "invalid job type")
	assert.Contains(t, ErrDuplicateKey.Error(), "already tracked")
	assert.Contains(t, ErrJobRunning.Error(), "running")
	assert.Contains(t, ErrUnresolvedRunAfter.Error(), "runAfter")
	assert.Equal(t, "news:error", ErrorEvent("news"))
}
