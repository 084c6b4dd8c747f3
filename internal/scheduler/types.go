// Package scheduler runs named background jobs at fixed intervals and
// keeps a history of every run.
package scheduler

import (
	"context"
	"time"
)

// RunFunc performs one run of a job. The returned summary is stored as
// the run's result on success.
type RunFunc func(ctx context.Context) (summary string, err error)

// Job is a named periodic action.
type Job struct {
	Name  string        `json:"name"`
	Every time.Duration `json:"-"`
	Run   RunFunc       `json:"-"`
}

// Run is one execution of a job.
type Run struct {
	ID          string        `json:"id"` // UUIDv7
	Job         string        `json:"job"`
	Trigger     TriggerKind   `json:"trigger"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"-"`
	Status      RunStatus     `json:"status"`
	Result      string        `json:"result,omitempty"` // summary or error
}

// DurationMillis is the run duration for JSON consumers.
func (r *Run) DurationMillis() int64 { return r.Duration.Milliseconds() }

// RunStatus indicates the state of a run.
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
	StatusInterrupted RunStatus = "interrupted" // process stopped mid-run
)

// TriggerKind records what started a run.
type TriggerKind string

const (
	TriggerInterval TriggerKind = "interval"
	TriggerManual   TriggerKind = "manual"
)

// NextRun returns the first tick of an every-interval schedule anchored
// at base that falls strictly after after.
func NextRun(base, after time.Time, every time.Duration) time.Time {
	if every <= 0 {
		return time.Time{}
	}
	if base.IsZero() || after.Before(base) {
		return base
	}
	intervals := int64(after.Sub(base)/every) + 1
	return base.Add(time.Duration(intervals) * every)
}
