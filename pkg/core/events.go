package core

import "time"

// Lifecycle event names published by the orchestrator.
const (
	EventJobStarted  = "job:started"
	EventJobFinished = "job:finished"
)

// ErrorEvent returns the channel name rejections of event are published on.
func ErrorEvent(event string) string {
	return event + ":error"
}

// JobStarted is emitted when a job starts processing.
type JobStarted struct {
	Job       *JobItem
	Timestamp time.Time
}

// JobFinished is emitted when a job finishes, successfully or not.
type JobFinished struct {
	Job       *JobItem
	Error     error
	Duration  time.Duration
	Deleted   bool
	Timestamp time.Time
}
