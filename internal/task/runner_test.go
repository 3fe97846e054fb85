package task_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/book-expert/align-service/internal/synth"
	"github.com/book-expert/align-service/internal/task"
)

const (
	workerEnv      = "ALIGN_TASK_TEST_WORKER"
	scenarioParams = "mfcc_window_length=0.025|mfcc_window_shift=0.010|dtw_algorithm=exact"
	audioSeconds   = 5
	// boundaryTolerance is how far an aligned boundary may drift from where the
	// fragment really starts in the synthetic recording.
	boundaryTolerance = 0.05
)

func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "" {
		os.Exit(m.Run())
	}

	err := synth.ServeWorker(context.Background(), os.Stdin, os.Stdout, synth.ToneEngine{})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(0)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "task-test.log")
	require.NoError(t, err)

	return log
}

func newRunner(t *testing.T, engine synth.Engine) *task.Runner {
	t.Helper()

	log := newTestLogger(t)

	synthesizer, err := synth.New(engine, synth.Options{
		WorkerPath: os.Args[0],
		WorkerArgs: []string{"-test.run=^$"},
		WorkerEnv:  []string{workerEnv + "=1"},
	}, log)
	require.NoError(t, err)

	runner, err := task.NewRunner(synthesizer, log)
	require.NoError(t, err)

	return runner
}

func effective(t *testing.T, raw string) settings.Effective {
	t.Helper()

	resolved, err := settings.Resolve(settings.MustParse(raw))
	require.NoError(t, err)

	return resolved
}

func scenarioFragments() []task.Fragment {
	return []task.Fragment{
		{ID: "f000001", Text: "one two"},
		{ID: "f000002", Text: "three four"},
		{ID: "f000003", Text: "five"},
	}
}

// scenarioRecording renders the fragments back to back with the tone engine after
// lead seconds of silence and pads the result with silence to five seconds. It also
// returns the true start of every fragment.
func scenarioRecording(t *testing.T, fragments []task.Fragment, lead float64) ([]byte, []float64) {
	t.Helper()

	recording := audio.Buffer{
		Samples:    make([]float64, int(lead*task.FeatureSampleRate)),
		SampleRate: task.FeatureSampleRate,
	}

	var starts []float64

	for _, fragment := range fragments {
		buffer, err := synth.ToneEngine{}.Synthesize(context.Background(), synth.Request{
			FragmentID: fragment.ID, Text: fragment.Text, Language: "en", Voice: "",
		})
		require.NoError(t, err)
		require.Equal(t, task.FeatureSampleRate, buffer.SampleRate)

		starts = append(starts, recording.Duration())
		recording.Samples = append(recording.Samples, buffer.Samples...)
	}

	total := audioSeconds * task.FeatureSampleRate
	require.Less(t, recording.Len(), total)
	recording.Samples = append(recording.Samples, make([]float64, total-recording.Len())...)

	return audio.EncodeWAV(recording), starts
}

func scenarioTask(t *testing.T) (task.Task, []float64) {
	t.Helper()

	fragments := scenarioFragments()
	wav, starts := scenarioRecording(t, fragments, 0)

	return task.Task{
		ID:         "t1",
		Audio:      task.MemorySource{Key: "t1.wav", Data: wav},
		Fragments:  fragments,
		Parameters: settings.Parameters{},
	}, starts
}

func successHistory() []task.State {
	return []task.State{
		task.StatePending, task.StateExtracting, task.StateSynthesizing, task.StateAligning, task.StateSucceeded,
	}
}

func TestRunner_ThreeFragmentScenario(t *testing.T) {
	t.Parallel()

	job, starts := scenarioTask(t)
	result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, scenarioParams))

	require.NoError(t, result.Err)
	require.True(t, result.Succeeded())
	assert.Equal(t, successHistory(), result.History)
	assert.InDelta(t, 5.0, result.AudioDuration, 1e-9)
	require.Len(t, result.Intervals, 3)

	assert.Zero(t, result.Intervals[0].Start)
	require.NoError(t, task.CheckIntervals(result.Intervals, 5.0))

	total := 0.0

	for k, interval := range result.Intervals {
		assert.Equal(t, job.Fragments[k].ID, interval.FragmentID)
		assert.InDelta(t, starts[k], interval.Start, boundaryTolerance, "fragment %d", k)

		total += interval.Duration()
	}

	assert.LessOrEqual(t, total, 5.0)
	assert.LessOrEqual(t, result.Intervals[2].End, 5.0)
}

func TestRunner_LeadingSilenceGoesToFirstFragment(t *testing.T) {
	t.Parallel()

	const lead = 1.0

	fragments := scenarioFragments()
	wav, starts := scenarioRecording(t, fragments, lead)
	job := task.Task{
		ID:         "lead",
		Audio:      task.MemorySource{Key: "lead.wav", Data: wav},
		Fragments:  fragments,
		Parameters: settings.Parameters{},
	}

	variants := []string{
		scenarioParams,
		scenarioParams + "|c_extensions=false",
		"mfcc_window_length=0.025|mfcc_window_shift=0.010|dtw_algorithm=banded|dtw_margin=60",
	}

	for _, params := range variants {
		result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, params))
		require.NoError(t, result.Err, params)
		require.Len(t, result.Intervals, 3, params)

		assert.Zero(t, result.Intervals[0].Start, params)
		assert.InDelta(t, 5.0, result.Intervals[2].End, 1e-9, params)

		for k := 1; k < len(fragments); k++ {
			assert.InDelta(t, starts[k], result.Intervals[k].Start, 2*boundaryTolerance, "%s fragment %d", params, k)
		}
	}
}

func TestRunner_SubprocessMatchesInProcess(t *testing.T) {
	t.Parallel()

	job, _ := scenarioTask(t)
	runner := newRunner(t, synth.ToneEngine{})

	inProcess := runner.Run(context.Background(), job, effective(t, scenarioParams))
	subprocess := runner.Run(context.Background(), job, effective(t, scenarioParams+"|cew_subprocess_enabled=true"))

	require.NoError(t, inProcess.Err)
	require.NoError(t, subprocess.Err)
	require.Len(t, subprocess.Intervals, len(inProcess.Intervals))

	for k := range inProcess.Intervals {
		assert.InDelta(t, inProcess.Intervals[k].Start, subprocess.Intervals[k].Start, 1e-9)
		assert.InDelta(t, inProcess.Intervals[k].End, subprocess.Intervals[k].End, 1e-9)
	}
}

func TestRunner_StrategiesAgree(t *testing.T) {
	t.Parallel()

	job, _ := scenarioTask(t)
	runner := newRunner(t, synth.ToneEngine{})

	variants := []string{
		scenarioParams + "|c_extensions=false",
		scenarioParams + "|c_extensions=true",
		"mfcc_window_length=0.025|mfcc_window_shift=0.010|dtw_algorithm=banded|dtw_margin=60",
	}

	var baseline task.Result

	for i, params := range variants {
		result := runner.Run(context.Background(), job, effective(t, params))
		require.NoError(t, result.Err, params)

		if i == 0 {
			baseline = result

			continue
		}

		assert.InDelta(t, baseline.Cost, result.Cost, 1e-6*baseline.Cost, params)

		for k := range baseline.Intervals {
			assert.InDelta(t, baseline.Intervals[k].Start, result.Intervals[k].Start, 1e-9, params)
			assert.InDelta(t, baseline.Intervals[k].End, result.Intervals[k].End, 1e-9, params)
		}
	}
}

func TestRunner_UnreadableAudio(t *testing.T) {
	t.Parallel()

	job := task.Task{
		ID:         "missing",
		Audio:      task.FileSource(filepath.Join(t.TempDir(), "missing.wav")),
		Fragments:  scenarioFragments(),
		Parameters: settings.Parameters{},
	}

	result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, scenarioParams))

	require.ErrorIs(t, result.Err, core.ErrInvalidInput)
	assert.Equal(t, core.KindInvalidInput, result.Kind())
	assert.Equal(t, []task.State{task.StatePending, task.StateExtracting, task.StateFailed}, result.History)
	assert.Empty(t, result.Intervals)
}

func TestRunner_MalformedAudio(t *testing.T) {
	t.Parallel()

	job := task.Task{
		ID:         "garbage",
		Audio:      task.MemorySource{Key: "garbage.wav", Data: []byte("not a wav file")},
		Fragments:  scenarioFragments(),
		Parameters: settings.Parameters{},
	}

	result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, scenarioParams))
	require.ErrorIs(t, result.Err, core.ErrInvalidInput)
}

func TestRunner_SynthesisFailureStopsBeforeAligning(t *testing.T) {
	t.Parallel()

	engine := synth.EngineFunc(func(context.Context, synth.Request) (audio.Buffer, error) {
		return audio.Buffer{}, errors.New("backend crashed")
	})

	job, _ := scenarioTask(t)
	result := newRunner(t, engine).Run(context.Background(), job, effective(t, scenarioParams))

	require.ErrorIs(t, result.Err, core.ErrSynthesisFailure)
	assert.Equal(t, core.KindSynthesisFailure, result.Kind())
	assert.Equal(t, []task.State{
		task.StatePending, task.StateExtracting, task.StateSynthesizing, task.StateFailed,
	}, result.History)
	assert.Contains(t, result.Err.Error(), "f000001")
}

func TestRunner_SynthesisTimeout(t *testing.T) {
	t.Parallel()

	engine := synth.EngineFunc(func(ctx context.Context, _ synth.Request) (audio.Buffer, error) {
		<-ctx.Done()

		return audio.Buffer{}, ctx.Err()
	})

	job, _ := scenarioTask(t)
	result := newRunner(t, engine).Run(context.Background(), job, effective(t, scenarioParams+"|synthesis_timeout=0.05"))

	require.ErrorIs(t, result.Err, core.ErrSynthesisTimeout)
}

func TestRunner_EmptyFragmentIsZeroWidth(t *testing.T) {
	t.Parallel()

	job, _ := scenarioTask(t)
	job.Fragments = []task.Fragment{
		{ID: "f000001", Text: "one two"},
		{ID: "f000002", Text: ""},
		{ID: "f000003", Text: "three four five"},
	}

	result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, scenarioParams))
	require.NoError(t, result.Err)
	require.Len(t, result.Intervals, 3)
	assert.Zero(t, result.Intervals[1].Duration())
	assert.Equal(t, result.Intervals[0].End, result.Intervals[1].Start)
}

func TestRunner_EmptyRecording(t *testing.T) {
	t.Parallel()

	job := task.Task{
		ID:         "silent",
		Audio:      task.MemorySource{Key: "empty.wav", Data: audio.EncodeWAV(audio.Buffer{Samples: nil, SampleRate: 16000})},
		Fragments:  scenarioFragments(),
		Parameters: settings.Parameters{},
	}

	result := newRunner(t, synth.ToneEngine{}).Run(context.Background(), job, effective(t, scenarioParams))
	require.NoError(t, result.Err)
	require.Len(t, result.Intervals, 3)

	for _, interval := range result.Intervals {
		assert.Zero(t, interval.Start)
		assert.Zero(t, interval.End)
	}
}

func TestRunner_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, _ := scenarioTask(t)
	result := newRunner(t, synth.ToneEngine{}).Run(ctx, job, effective(t, scenarioParams))

	require.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, core.KindCanceled, result.Kind())
	assert.Equal(t, []task.State{task.StatePending, task.StateFailed}, result.History)
}

func TestRunner_Deterministic(t *testing.T) {
	t.Parallel()

	job, _ := scenarioTask(t)
	runner := newRunner(t, synth.ToneEngine{})

	first := runner.Run(context.Background(), job, effective(t, scenarioParams))
	second := runner.Run(context.Background(), job, effective(t, scenarioParams))

	require.NoError(t, first.Err)
	assert.Equal(t, first.Intervals, second.Intervals)
	assert.Equal(t, first.Cost, second.Cost)
}

func TestNewRunner_RejectsNil(t *testing.T) {
	t.Parallel()

	_, err := task.NewRunner(nil, newTestLogger(t))
	require.ErrorIs(t, err, task.ErrNilSynthesizer)
}

func TestRunner_SubprocessTimeoutKillsWorker(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	synthesizer, err := synth.New(synth.ToneEngine{}, synth.Options{
		WorkerPath: "/bin/sleep",
		WorkerArgs: []string{"30"},
		WorkerEnv:  nil,
	}, log)
	require.NoError(t, err)

	if _, statErr := os.Stat("/bin/sleep"); statErr != nil {
		t.Skip("/bin/sleep not available")
	}

	runner, err := task.NewRunner(synthesizer, log)
	require.NoError(t, err)

	job, _ := scenarioTask(t)
	start := time.Now()
	result := runner.Run(context.Background(), job,
		effective(t, scenarioParams+"|cew_subprocess_enabled=true|synthesis_timeout=0.2"))

	require.ErrorIs(t, result.Err, core.ErrSynthesisTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}
