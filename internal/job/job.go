// Package job runs batches of alignment tasks.
//
// A job is rejected as a whole when it declares more tasks than job_max_tasks or,
// unless validation is skipped, when any task fails validation. Otherwise every
// task runs on a bounded pool and a failing task never stops its siblings.
package job

import (
	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/task"
)

// Status is the aggregate outcome of a job.
type Status string

// Job statuses.
const (
	StatusSucceeded      Status = "succeeded"
	StatusPartialFailure Status = "partial_failure"
	StatusAborted        Status = "aborted"
)

// Process exit codes for each status.
const (
	ExitSucceeded      = 0
	ExitAborted        = 1
	ExitPartialFailure = 3
)

// Job is an immutable list of tasks sharing base parameters.
type Job struct {
	ID             string
	Parameters     settings.Parameters
	Tasks          []task.Task
	SkipValidation bool
}

// SyncMap is the ordered list of aligned fragments of one succeeded task.
type SyncMap struct {
	TaskID    string          `json:"task"`
	Intervals []core.Interval `json:"fragments"`
}

// Result aggregates the task results of a job in task order.
type Result struct {
	JobID  string
	Status Status
	// Err is the job-level rejection of an aborted job.
	Err error
	// Tasks holds one result per task; it is empty for an aborted job.
	Tasks []task.Result
}

// ExitCode distinguishes a job that never started from one with failed tasks.
func (r Result) ExitCode() int {
	switch r.Status {
	case StatusSucceeded:
		return ExitSucceeded
	case StatusPartialFailure:
		return ExitPartialFailure
	default:
		return ExitAborted
	}
}

// Succeeded returns the sync maps of the succeeded tasks in task order.
func (r Result) Succeeded() []SyncMap {
	var maps []SyncMap

	for _, result := range r.Tasks {
		if result.Succeeded() {
			maps = append(maps, SyncMap{TaskID: result.TaskID, Intervals: result.Intervals})
		}
	}

	return maps
}

// Failed returns the results of the failed tasks in task order.
func (r Result) Failed() []task.Result {
	var failed []task.Result

	for _, result := range r.Tasks {
		if !result.Succeeded() {
			failed = append(failed, result)
		}
	}

	return failed
}
