package core

import (
	"encoding/json"
	"time"
)

// JobState represents the persisted state of a job.
type JobState string

const (
	StateWaiting JobState = "waiting"
	StateRunning JobState = "running"
)

// MinInterval is the shortest interval a recurring job is rescheduled with.
const MinInterval = time.Minute

// JobItem is the persisted record of a job's configuration and current state.
type JobItem struct {
	ID             string        `gorm:"primaryKey;size:36"`
	Type           string        `gorm:"index;size:255;not null"`
	Name           *string       `gorm:"uniqueIndex;size:255"`
	State          JobState      `gorm:"index;size:20;default:'waiting'"`
	Interval       time.Duration `gorm:"column:run_interval;default:0"`
	DeleteAfterRun bool          `gorm:"default:false"`
	RunAfter       *string       `gorm:"index;size:36"`
	RunningSince   *time.Time
	LastRun        *time.Time
	NextRun        *time.Time `gorm:"index"`
	Arguments      []byte
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName pins the table name so MySQL and SQLite agree.
func (JobItem) TableName() string { return "jobs" }

// Key returns the name of the job if it has one, otherwise its id.
func (j *JobItem) Key() string {
	if j.Name != nil && *j.Name != "" {
		return *j.Name
	}
	return j.ID
}

// NameOrEmpty returns the job name, or "" for unnamed jobs.
func (j *JobItem) NameOrEmpty() string {
	if j.Name == nil {
		return ""
	}
	return *j.Name
}

// Start marks the job as running since now.
func (j *JobItem) Start(now time.Time) {
	j.State = StateRunning
	j.RunningSince = &now
}

// Reschedule returns the job to WAITING after a run that finished at now.
// Recurring jobs get their interval floored to MinInterval and the next run
// computed from it. One-shot jobs keep their nextRun and become dormant.
func (j *JobItem) Reschedule(now time.Time, minInterval time.Duration) {
	j.State = StateWaiting
	j.RunningSince = nil
	j.LastRun = &now
	if j.Interval > 0 {
		if j.Interval < minInterval {
			j.Interval = minInterval
		}
		next := now.Add(j.Interval)
		j.NextRun = &next
	}
}

// Abandon returns a job found RUNNING with nothing executing it to WAITING.
// Recurring jobs are rescheduled as if they had finished at now. One-shot
// jobs keep their lastRun so that they are selected again.
func (j *JobItem) Abandon(now time.Time, minInterval time.Duration) {
	if j.Interval > 0 {
		j.Reschedule(now, minInterval)
		return
	}
	j.State = StateWaiting
	j.RunningSince = nil
}

// IsDue reports whether a waiting job may be dispatched at now.
func (j *JobItem) IsDue(now time.Time) bool {
	if j.State != StateWaiting {
		return false
	}
	if j.Interval <= 0 && j.LastRun != nil {
		return false
	}
	return j.NextRun == nil || !j.NextRun.After(now)
}

// JobRequest describes a job to insert. It has no id yet; RunAfter names the
// id or name of a job that must be persisted before this one.
type JobRequest struct {
	Type           string          `json:"type"`
	Name           string          `json:"name,omitempty"`
	Interval       time.Duration   `json:"interval,omitempty"`
	DeleteAfterRun bool            `json:"delete_after_run,omitempty"`
	RunAfter       string          `json:"run_after,omitempty"`
	RunImmediately bool            `json:"run_immediately,omitempty"`
	LastRun        *time.Time      `json:"last_run,omitempty"`
	NextRun        *time.Time      `json:"next_run,omitempty"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
}

// NewRequest builds a JobRequest whose arguments are the JSON encoding of args.
func NewRequest(jobType string, args any) (*JobRequest, error) {
	req := &JobRequest{Type: jobType}
	if args == nil {
		return req, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req.Arguments = raw
	return req, nil
}

// FirstRun computes the nextRun a new item built from this request starts with.
// A nil result means the job may run any time.
func (r *JobRequest) FirstRun(now time.Time, minInterval time.Duration) *time.Time {
	if r.NextRun != nil {
		return r.NextRun
	}
	if r.RunImmediately || r.Interval <= 0 {
		return nil
	}
	interval := r.Interval
	if interval < minInterval {
		interval = minInterval
	}
	next := now.Add(interval)
	return &next
}

// RunResult is the outcome recorded in the job history.
type RunResult string

const (
	ResultSuccess   RunResult = "success"
	ResultFailed    RunResult = "failed"
	ResultAbandoned RunResult = "abandoned"
)

// Finished describes a completed run, used to append to the history.
type Finished struct {
	Start time.Time
	End   time.Time
	Err   error
}

// Result classifies the finished run.
func (f *Finished) Result() RunResult {
	switch {
	case f.Err == nil:
		return ResultSuccess
	case isAbandoned(f.Err):
		return ResultAbandoned
	default:
		return ResultFailed
	}
}

// JobHistory is one row per finished run of a job.
type JobHistory struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	JobID     string    `gorm:"index;size:36;not null"`
	Type      string    `gorm:"index;size:255;not null"`
	Name      string    `gorm:"size:255"`
	Start     time.Time `gorm:"column:started_at;not null"`
	End       time.Time `gorm:"column:ended_at;index;not null"`
	Result    RunResult `gorm:"size:20;not null"`
	Message   string    `gorm:"type:text"`
	Arguments []byte
}

// TableName pins the table name so MySQL and SQLite agree.
func (JobHistory) TableName() string { return "job_history" }
