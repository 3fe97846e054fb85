// Package worker provides a NATS worker that runs submitted alignment jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/job"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/task"
)

// DefaultHandleTimeout bounds the processing of one submitted job.
const DefaultHandleTimeout = 30 * time.Minute

const (
	fragmentIDFormat = "f%06d"
	syncMapKeyFormat = "%s/%s.json"
)

// Log messages.
const (
	logFmtReceived     = "Received job %s (workflow %s) with %d tasks"
	logFmtParseFailed  = "Failed to parse job event: %v"
	logFmtUploadFailed = "Failed to upload sync map for task %s of job %s: %v"
	logFmtReplyFailed  = "Failed to publish reply event for job %s: %v"
	logFmtCompleted    = "Job %s completed: %s"
)

// Errors.
var (
	ErrNilDependency = errors.New("worker dependency cannot be nil")
	ErrEmptySubject  = errors.New("subject cannot be empty")
)

// JobRunner runs a job.
type JobRunner interface {
	Run(ctx context.Context, j job.Job) job.Result
}

// AudioStore resolves audio keys to task audio.
type AudioStore interface {
	Source(key string) core.AudioSource
}

// NatsWorker listens for job submissions on a NATS subject, runs them and replies
// with a JobCompletedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	audio          AudioStore
	outputs        core.ObjectStore
	jobs           JobRunner
	defaults       settings.Parameters
	handleTimeout  time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. defaults are applied
// beneath every submitted job's parameters.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	audio AudioStore,
	outputs core.ObjectStore,
	jobs JobRunner,
	defaults settings.Parameters,
	log *logger.Logger,
) (*NatsWorker, error) {
	if natsConnection == nil || audio == nil || outputs == nil || jobs == nil || log == nil {
		return nil, ErrNilDependency
	}

	if subject == "" {
		return nil, ErrEmptySubject
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		audio:          audio,
		outputs:        outputs,
		jobs:           jobs,
		defaults:       defaults,
		handleTimeout:  DefaultHandleTimeout,
		log:            log,
	}, nil
}

// SetHandleTimeout changes the per-job processing bound.
func (w *NatsWorker) SetHandleTimeout(timeout time.Duration) {
	w.handleTimeout = timeout
}

// Run starts the worker and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.handleTimeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtParseFailed, err)
		w.reply(msg, &JobCompletedEvent{
			Header:   event.Header,
			JobID:    event.JobID,
			Status:   string(job.StatusAborted),
			ExitCode: job.ExitAborted,
			Error:    err.Error(),
			Tasks:    nil,
		})

		return
	}

	w.log.Info(logFmtReceived, event.JobID, event.Header.WorkflowID, len(event.Tasks))

	reply := w.processJob(ctx, event)
	w.log.Info(logFmtCompleted, event.JobID, reply.Status)
	w.reply(msg, reply)
}

// processJob runs the job and uploads the sync map of every succeeded task.
func (w *NatsWorker) processJob(ctx context.Context, event *JobSubmittedEvent) *JobCompletedEvent {
	reply := &JobCompletedEvent{
		Header:   event.Header,
		JobID:    event.JobID,
		Status:   string(job.StatusAborted),
		ExitCode: job.ExitAborted,
		Error:    "",
		Tasks:    nil,
	}

	submitted, err := w.buildJob(event)
	if err != nil {
		reply.Error = err.Error()

		return reply
	}

	result := w.jobs.Run(ctx, submitted)
	reply.Status = string(result.Status)
	reply.ExitCode = result.ExitCode()

	if result.Err != nil {
		reply.Error = result.Err.Error()
	}

	for _, taskResult := range result.Tasks {
		outcome := TaskOutcome{
			ID:         taskResult.TaskID,
			State:      string(taskResult.State),
			Kind:       taskResult.Kind(),
			Error:      "",
			SyncMapKey: "",
		}

		if taskResult.Err != nil {
			outcome.Error = taskResult.Err.Error()
		}

		if taskResult.Succeeded() {
			outcome.SyncMapKey, err = w.uploadSyncMap(ctx, event.JobID, taskResult)
			if err != nil {
				w.log.Error(logFmtUploadFailed, taskResult.TaskID, event.JobID, err)
				outcome.Error = err.Error()
			}
		}

		reply.Tasks = append(reply.Tasks, outcome)
	}

	return reply
}

func (w *NatsWorker) buildJob(event *JobSubmittedEvent) (job.Job, error) {
	params, err := settings.Parse(event.Config)
	if err != nil {
		return job.Job{}, fmt.Errorf("job config: %w", err)
	}

	tasks := make([]task.Task, len(event.Tasks))

	for i, entry := range event.Tasks {
		taskParams, taskErr := settings.Parse(entry.Config)
		if taskErr != nil {
			return job.Job{}, fmt.Errorf("task %s config: %w", entry.ID, taskErr)
		}

		fragments := make([]task.Fragment, len(entry.Fragments))
		for k, fragment := range entry.Fragments {
			if fragment.ID == "" {
				fragment.ID = fmt.Sprintf(fragmentIDFormat, k+1)
			}

			fragments[k] = fragment
		}

		tasks[i] = task.Task{
			ID:         entry.ID,
			Audio:      w.audio.Source(entry.AudioKey),
			Fragments:  fragments,
			Parameters: taskParams,
		}
	}

	return job.Job{
		ID:             event.JobID,
		Parameters:     w.defaults.Merge(params),
		Tasks:          tasks,
		SkipValidation: event.SkipValidation,
	}, nil
}

func (w *NatsWorker) uploadSyncMap(ctx context.Context, jobID string, result task.Result) (string, error) {
	data, err := json.Marshal(job.SyncMap{TaskID: result.TaskID, Intervals: result.Intervals})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sync map: %w", err)
	}

	key := fmt.Sprintf(syncMapKeyFormat, jobID, result.TaskID)

	err = w.outputs.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload sync map for key '%s': %w", key, err)
	}

	return key, nil
}

// reply marshals and responds with the JobCompletedEvent when the sender asked
// for a reply.
func (w *NatsWorker) reply(msg *nats.Msg, replyEvent *JobCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		w.log.Error(logFmtReplyFailed, replyEvent.JobID, err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error(logFmtReplyFailed, replyEvent.JobID, err)
	}
}

// parseEvent decodes a submission. It always returns a usable event so a failed
// parse can still be answered; a missing job id is replaced by a fresh uuid.
func parseEvent(msg *nats.Msg) (*JobSubmittedEvent, error) {
	var event JobSubmittedEvent

	err := json.Unmarshal(msg.Data, &event)

	if event.JobID == "" {
		event.JobID = uuid.NewString()
	}

	if err != nil {
		return &event, fmt.Errorf("%w: failed to unmarshal event: %w", core.ErrInvalidInput, err)
	}

	return &event, nil
}
