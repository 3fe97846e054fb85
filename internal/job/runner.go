package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/book-expert/logger"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/task"
)

// Log messages.
const (
	logFmtJobStarted  = "job %s: %d tasks, %d parallel, parameters %q"
	logFmtJobRejected = "job %s rejected: %v"
	logFmtTaskDone    = "job %s: task %d/%d %s %s"
	logFmtTaskFailed  = "job %s: task %d/%d %s failed (%s): %v"
	logFmtJobFinished = "job %s finished: %s, %d of %d tasks succeeded"
)

// Errors.
var (
	ErrNilTaskRunner = errors.New("task runner cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrNoTasks       = errors.New("job has no tasks")
	ErrDuplicateID   = errors.New("duplicate id")
)

// TaskRunner runs a single task.
type TaskRunner interface {
	Run(ctx context.Context, t task.Task, effective settings.Effective) task.Result
}

// audioChecker is implemented by audio sources that can be checked without
// reading them in full.
type audioChecker interface {
	Check(ctx context.Context) error
}

// Runner orchestrates jobs.
type Runner struct {
	tasks   TaskRunner
	catalog settings.Catalog
	log     *logger.Logger
}

// NewRunner creates a Runner. catalog lists the languages and voices tasks may use.
func NewRunner(tasks TaskRunner, catalog settings.Catalog, log *logger.Logger) (*Runner, error) {
	if tasks == nil {
		return nil, ErrNilTaskRunner
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	return &Runner{tasks: tasks, catalog: catalog, log: log}, nil
}

// Run executes job. Job-level rejections return an aborted result without running
// any task. Cancellation of ctx stops tasks that have not started yet; they are
// reported as failed.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	jobEffective, err := settings.Resolve(job.Parameters)
	if err != nil {
		return r.abort(job, fmt.Errorf("job parameters: %w", err))
	}

	limitErr := checkLimit(job, jobEffective)
	if limitErr != nil {
		return r.abort(job, limitErr)
	}

	if !job.SkipValidation {
		validateErr := r.Validate(ctx, job)
		if validateErr != nil {
			return r.abort(job, validateErr)
		}
	}

	r.log.Info(logFmtJobStarted, job.ID, len(job.Tasks), jobEffective.MaxParallel, job.Parameters.String())

	results := r.runPool(ctx, job, jobEffective.MaxParallel)

	return r.aggregate(job, results)
}

func checkLimit(job Job, effective settings.Effective) error {
	if effective.Unbounded() || len(job.Tasks) <= effective.MaxTasks {
		return nil
	}

	return fmt.Errorf("%w: job %s declares %d tasks, %s is %d",
		core.ErrResourceLimitExceeded, job.ID, len(job.Tasks), settings.KeyMaxTasks, effective.MaxTasks)
}

// Validate checks, without running anything, that the job has tasks with unique
// ids, that every task's audio is readable and its fragments are identified, and
// that all parameters are well formed and resolvable. Every problem is reported.
func (r *Runner) Validate(ctx context.Context, job Job) error {
	var problems []error

	if len(job.Tasks) == 0 {
		problems = append(problems, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrNoTasks))
	}

	jobErr := settings.Validate(job.Parameters, settings.JobScope, r.catalog)
	if jobErr != nil {
		problems = append(problems, jobErr)
	}

	seen := make(map[string]bool, len(job.Tasks))

	for index, t := range job.Tasks {
		if t.ID == "" || seen[t.ID] {
			problems = append(problems, fmt.Errorf("%w: task %d: %w %q", core.ErrInvalidInput, index, ErrDuplicateID, t.ID))
		}

		seen[t.ID] = true

		taskErr := r.validateTask(ctx, job, t)
		if taskErr != nil {
			problems = append(problems, fmt.Errorf("task %s: %w", t.ID, taskErr))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("job %s failed validation: %w", job.ID, errors.Join(problems...))
}

func (r *Runner) validateTask(ctx context.Context, job Job, t task.Task) error {
	var problems []error

	paramsErr := settings.ValidateTask(job.Parameters, t.Parameters, r.catalog)
	if paramsErr != nil {
		problems = append(problems, paramsErr)
	}

	audioErr := checkAudio(ctx, t.Audio)
	if audioErr != nil {
		problems = append(problems, audioErr)
	}

	fragments := make(map[string]bool, len(t.Fragments))

	for _, fragment := range t.Fragments {
		if fragment.ID == "" || fragments[fragment.ID] {
			problems = append(problems, fmt.Errorf("%w: fragment %w %q", core.ErrInvalidInput, ErrDuplicateID, fragment.ID))
		}

		fragments[fragment.ID] = true
	}

	return errors.Join(problems...)
}

func checkAudio(ctx context.Context, source core.AudioSource) error {
	if source == nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, task.ErrNoAudio)
	}

	if checker, ok := source.(audioChecker); ok {
		return checker.Check(ctx)
	}

	_, err := source.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: audio %s is not readable: %w", core.ErrInvalidInput, source.Name(), err)
	}

	return nil
}

// runPool runs every task with at most parallel tasks in flight. Each worker writes
// only its own slot of the results slice.
func (r *Runner) runPool(ctx context.Context, job Job, parallel int) []task.Result {
	var waitGroup sync.WaitGroup

	results := make([]task.Result, len(job.Tasks))
	workerPool := make(chan struct{}, max(1, parallel))

	for index, t := range job.Tasks {
		waitGroup.Add(1)

		go func(index int, t task.Task) {
			defer waitGroup.Done()

			workerPool <- struct{}{}

			defer func() { <-workerPool }()

			results[index] = r.runTask(ctx, job, index, t)
		}(index, t)
	}

	waitGroup.Wait()

	return results
}

func (r *Runner) runTask(ctx context.Context, job Job, index int, t task.Task) task.Result {
	var result task.Result

	effective, err := settings.Resolve(job.Parameters.Merge(t.Parameters))
	if err != nil {
		result = task.Result{
			TaskID:  t.ID,
			State:   task.StateFailed,
			History: []task.State{task.StatePending, task.StateFailed},
			Err:     fmt.Errorf("task %s: %w", t.ID, err),
		}
	} else {
		result = r.tasks.Run(ctx, t, effective)
	}

	if result.Succeeded() {
		r.log.Info(logFmtTaskDone, job.ID, index+1, len(job.Tasks), t.ID, result.State)
	} else {
		r.log.Warn(logFmtTaskFailed, job.ID, index+1, len(job.Tasks), t.ID, result.Kind(), result.Err)
	}

	return result
}

func (r *Runner) abort(job Job, err error) Result {
	r.log.Error(logFmtJobRejected, job.ID, err)

	return Result{JobID: job.ID, Status: StatusAborted, Err: err, Tasks: nil}
}

func (r *Runner) aggregate(job Job, results []task.Result) Result {
	succeeded := 0

	for _, result := range results {
		if result.Succeeded() {
			succeeded++
		}
	}

	status := StatusPartialFailure
	if succeeded == len(results) {
		status = StatusSucceeded
	}

	r.log.Info(logFmtJobFinished, job.ID, status, succeeded, len(results))

	return Result{JobID: job.ID, Status: status, Err: nil, Tasks: results}
}
