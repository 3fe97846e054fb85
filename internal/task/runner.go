package task

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/logger"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/dtw"
	"github.com/book-expert/align-service/internal/mfcc"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/synth"
)

// FeatureSampleRate is the rate recorded and synthesized audio are converted to before
// feature extraction, so both sequences share one frame grid.
const FeatureSampleRate = 16000

// Log messages.
const (
	logFmtTransition = "task %s: %s -> %s"
	logFmtFailed     = "task %s failed in %s: %v"
	logFmtSucceeded  = "task %s aligned %d fragments over %.3fs (cost %.3f)"
	logFmtCloseError = "task %s: closing synthesis session: %v"
)

// Errors.
var (
	ErrNilSynthesizer = errors.New("synthesizer cannot be nil")
	ErrNilLogger      = errors.New("logger cannot be nil")
	ErrNoAudio        = errors.New("task has no audio source")
)

// Runner runs tasks. It holds no per-task state and is safe for concurrent use.
type Runner struct {
	synthesizer *synth.Synthesizer
	log         *logger.Logger
}

// NewRunner creates a Runner.
func NewRunner(synthesizer *synth.Synthesizer, log *logger.Logger) (*Runner, error) {
	if synthesizer == nil {
		return nil, ErrNilSynthesizer
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	return &Runner{synthesizer: synthesizer, log: log}, nil
}

// run carries the state of one task through the state machine.
type run struct {
	log    *logger.Logger
	result Result
}

func (r *run) advance(next State) {
	r.log.Info(logFmtTransition, r.result.TaskID, r.result.State, next)
	r.result.State = next
	r.result.History = append(r.result.History, next)
}

func (r *run) fail(err error) Result {
	r.log.Error(logFmtFailed, r.result.TaskID, r.result.State, err)
	r.advance(StateFailed)
	r.result.Err = err

	return r.result
}

// Run aligns task using the effective parameters. Cancellation is honored between
// states only. Any failure leaves the result in StateFailed with the originating error.
func (r *Runner) Run(ctx context.Context, task Task, effective settings.Effective) Result {
	current := &run{
		log: r.log,
		result: Result{
			TaskID:  task.ID,
			State:   StatePending,
			History: []State{StatePending},
		},
	}

	if err := ctx.Err(); err != nil {
		return current.fail(err)
	}

	current.advance(StateExtracting)

	recorded, duration, err := r.extractReal(ctx, task, effective)
	if err != nil {
		return current.fail(err)
	}

	current.result.AudioDuration = duration

	if err = ctx.Err(); err != nil {
		return current.fail(err)
	}

	current.advance(StateSynthesizing)

	reference, refBoundaries, err := r.synthesizeReference(ctx, task, effective, recorded.Step)
	if err != nil {
		return current.fail(err)
	}

	if err = ctx.Err(); err != nil {
		return current.fail(err)
	}

	current.advance(StateAligning)

	intervals, cost, err := align(task, effective, recorded, reference, refBoundaries, duration)
	if err != nil {
		return current.fail(err)
	}

	checkErr := CheckIntervals(intervals, duration)
	if checkErr != nil {
		return current.fail(fmt.Errorf("task %s: %w", task.ID, checkErr))
	}

	current.result.Intervals = intervals
	current.result.Cost = cost
	current.advance(StateSucceeded)
	r.log.Info(logFmtSucceeded, task.ID, len(intervals), duration, cost)

	return current.result
}

// extractReal decodes the task audio and extracts its features. An empty recording
// yields an empty sequence with the configured step.
func (r *Runner) extractReal(ctx context.Context, task Task, effective settings.Effective) (mfcc.Sequence, float64, error) {
	if task.Audio == nil {
		return mfcc.Sequence{}, 0, fmt.Errorf("%w: task %s: %w", core.ErrInvalidInput, task.ID, ErrNoAudio)
	}

	data, err := task.Audio.Open(ctx)
	if err != nil {
		return mfcc.Sequence{}, 0, fmt.Errorf("%w: task %s: failed to read audio %s: %w",
			core.ErrInvalidInput, task.ID, task.Audio.Name(), err)
	}

	decoded, err := audio.Decode(task.Audio.Name(), data)
	if err != nil {
		return mfcc.Sequence{}, 0, fmt.Errorf("task %s: %w", task.ID, err)
	}

	features, err := extract(decoded, effective)
	if err != nil {
		return mfcc.Sequence{}, 0, fmt.Errorf("task %s: %w", task.ID, err)
	}

	return features, decoded.Duration(), nil
}

// synthesizeReference synthesizes every fragment in one session and joins the
// per-fragment features between two silence frames. refBoundaries[k] is the first
// reference frame of fragment k; the final entry is the first frame of the tail.
func (r *Runner) synthesizeReference(
	ctx context.Context,
	task Task,
	effective settings.Effective,
	step float64,
) (mfcc.Sequence, []int, error) {
	mode := synth.InProcess
	if effective.Subprocess {
		mode = synth.Subprocess
	}

	session, err := r.synthesizer.Open(ctx, mode, effective.SynthesisTimeout)
	if err != nil {
		return mfcc.Sequence{}, nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	defer func() {
		closeErr := session.Close()
		if closeErr != nil {
			r.log.Warn(logFmtCloseError, task.ID, closeErr)
		}
	}()

	requests := make([]synth.Request, len(task.Fragments))
	for k, fragment := range task.Fragments {
		requests[k] = synth.Request{
			FragmentID: fragment.ID,
			Text:       fragment.Text,
			Language:   effective.Language,
			Voice:      effective.Voice,
		}
	}

	buffers, err := session.SynthesizeMany(ctx, requests)
	if err != nil {
		return mfcc.Sequence{}, nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	silence, err := extract(silenceFrame(effective), effective)
	if err != nil {
		return mfcc.Sequence{}, nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	parts := make([]mfcc.Sequence, 0, len(buffers)+2)
	parts = append(parts, silence)

	for k, buffer := range buffers {
		part, extractErr := extract(buffer, effective)
		if extractErr != nil {
			return mfcc.Sequence{}, nil, fmt.Errorf("task %s: fragment %s: %w", task.ID, task.Fragments[k].ID, extractErr)
		}

		parts = append(parts, part)
	}

	parts = append(parts, silence)

	reference, boundaries, err := mfcc.Join(step, parts)
	if err != nil {
		return mfcc.Sequence{}, nil, fmt.Errorf("task %s: %w", task.ID, err)
	}

	// Drop the head start and the reference end; the last entry kept is the tail start.
	return reference, boundaries[1 : len(boundaries)-1], nil
}

// silenceFrame is one window shift of silence. It pads the reference at both
// ends so leading and trailing silence in the recording has a frame to match.
func silenceFrame(effective settings.Effective) audio.Buffer {
	samples := max(1, int(math.Round(effective.WindowShift*FeatureSampleRate)))

	return audio.Buffer{Samples: make([]float64, samples), SampleRate: FeatureSampleRate}
}

// extract resamples buffer to FeatureSampleRate and extracts its features. An empty
// buffer yields an empty sequence.
func extract(buffer audio.Buffer, effective settings.Effective) (mfcc.Sequence, error) {
	resampled, err := audio.Resample(buffer, FeatureSampleRate)
	if err != nil {
		return mfcc.Sequence{}, err
	}

	if resampled.Len() == 0 {
		return mfcc.Sequence{Frames: [][]float64{}, Step: frameStep(effective)}, nil
	}

	return mfcc.New(effective.AccelerateMFCC).Extract(resampled, effective.WindowLength, effective.WindowShift)
}

// frameStep is the step the extractor uses for the effective window shift.
func frameStep(effective settings.Effective) float64 {
	shift := max(1, int(math.Round(effective.WindowShift*FeatureSampleRate)))

	return float64(shift) / FeatureSampleRate
}

func align(
	task Task,
	effective settings.Effective,
	recorded, reference mfcc.Sequence,
	refBoundaries []int,
	duration float64,
) ([]core.Interval, float64, error) {
	speechStart, speechEnd := refBoundaries[0], refBoundaries[len(refBoundaries)-1]
	if recorded.Len() == 0 || speechStart == speechEnd {
		return zeroIntervals(task.Fragments), 0, nil
	}

	aligner := dtw.New(effective.AccelerateDTW)

	result, err := aligner.Align(
		recorded.Frames, reference.Frames, effective.Algorithm, effective.MarginFrames(recorded.Step),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("task %s: %w", task.ID, err)
	}

	boundaries, err := dtw.Boundaries(result.Path, refBoundaries, recorded.Len())
	if err != nil {
		return nil, 0, fmt.Errorf("task %s: %w", task.ID, err)
	}

	// Leading silence goes to the first fragment and trailing silence to the last.
	for k, b := range refBoundaries {
		switch b {
		case speechStart:
			boundaries[k] = 0
		case speechEnd:
			boundaries[k] = recorded.Len()
		}
	}

	return buildIntervals(task.Fragments, boundaries, recorded.Step, duration), result.Cost, nil
}
