// Package task aligns one text/audio pair end to end.
package task

import (
	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/settings"
)

// State is a step of the task state machine.
type State string

// Task states, in the order a successful task visits them.
const (
	StatePending      State = "pending"
	StateExtracting   State = "extracting"
	StateSynthesizing State = "synthesizing"
	StateAligning     State = "aligning"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Fragment is one ordered unit of text to align.
type Fragment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Task is one text/audio pair with its own parameter overrides.
type Task struct {
	ID         string
	Audio      core.AudioSource
	Fragments  []Fragment
	Parameters settings.Parameters
}

// Result is the outcome of running a task.
type Result struct {
	TaskID    string
	State     State
	History   []State
	Intervals []core.Interval
	// Cost is the total alignment cost, zero for degenerate alignments.
	Cost float64
	// AudioDuration is the length of the real audio in seconds.
	AudioDuration float64
	Err           error
}

// Succeeded reports whether the task reached StateSucceeded.
func (r Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// Kind returns the error taxonomy label of a failed task, or "" on success.
func (r Result) Kind() string {
	return core.Kind(r.Err)
}
