package worker

import (
	"github.com/book-expert/events"

	"github.com/book-expert/align-service/internal/task"
)

// JobSubmittedEvent requests the alignment of a batch of tasks whose audio is
// already in the audio bucket.
type JobSubmittedEvent struct {
	Header         events.EventHeader `json:"header"`
	JobID          string             `json:"job_id"`
	Config         string             `json:"config"`
	SkipValidation bool               `json:"skip_validation"`
	Tasks          []SubmittedTask    `json:"tasks"`
}

// SubmittedTask describes one task of a submitted job. Fragments without an id
// are numbered by position.
type SubmittedTask struct {
	ID        string          `json:"id"`
	AudioKey  string          `json:"audio_key"`
	Fragments []task.Fragment `json:"fragments"`
	Config    string          `json:"config"`
}

// JobCompletedEvent is the reply to a JobSubmittedEvent.
type JobCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	JobID    string             `json:"job_id"`
	Status   string             `json:"status"`
	ExitCode int                `json:"exit_code"`
	Error    string             `json:"error,omitempty"`
	Tasks    []TaskOutcome      `json:"tasks"`
}

// TaskOutcome reports one task of a completed job.
type TaskOutcome struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	SyncMapKey string `json:"sync_map_key,omitempty"`
}
