package settings_test

import (
	"testing"
	"time"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/dtw"
	"github.com/book-expert/align-service/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCatalog = settings.Catalog{
	Languages: []string{"en", "de"},
	Voices:    map[string][]string{"en": {"female1"}},
}

func TestParse(t *testing.T) {
	t.Parallel()

	params, err := settings.Parse(`"mfcc_window_length=0.250| mfcc_window_shift=0.100 ||dtw_algorithm=exact"`)
	require.NoError(t, err)

	assert.Equal(t, settings.Parameters{
		settings.KeyWindowLength: "0.250",
		settings.KeyWindowShift:  "0.100",
		settings.KeyAlgorithm:    "exact",
	}, params)
	assert.Equal(t, "dtw_algorithm=exact|mfcc_window_length=0.250|mfcc_window_shift=0.100", params.String())

	empty, err := settings.Parse("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = settings.Parse("dtw_margin")
	require.ErrorIs(t, err, core.ErrConfiguration)
	require.ErrorIs(t, err, settings.ErrMalformedPair)
}

func TestMergeOverridesKeyByKey(t *testing.T) {
	t.Parallel()

	job := settings.MustParse("dtw_algorithm=banded|dtw_margin=30|job_language=de")
	task := settings.MustParse("dtw_algorithm=exact")

	merged := job.Merge(task)

	assert.Equal(t, "exact", merged[settings.KeyAlgorithm])
	assert.Equal(t, "30", merged[settings.KeyMargin])
	assert.Equal(t, "banded", job[settings.KeyAlgorithm], "merge must not modify its receiver")
	assert.Equal(t, "de", settings.LanguageOf(merged))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		scope   settings.Scope
		wantErr error
	}{
		{name: "all good", raw: "mfcc_window_length=0.025|mfcc_window_shift=0.010|dtw_algorithm=exact|c_extensions=False", scope: settings.JobScope},
		{name: "task voice", raw: "task_language=en|task_voice=female1", scope: settings.TaskScope},
		{name: "unbounded tasks", raw: "job_max_tasks=unbounded", scope: settings.JobScope},
		{name: "unknown key", raw: "cew=False", scope: settings.JobScope, wantErr: settings.ErrUnknownKey},
		{name: "job key in task", raw: "job_max_tasks=3", scope: settings.TaskScope, wantErr: settings.ErrWrongScope},
		{name: "negative shift", raw: "mfcc_window_shift=-1", scope: settings.JobScope, wantErr: settings.ErrInvalidValue},
		{name: "zero margin", raw: "dtw_margin=0", scope: settings.JobScope, wantErr: settings.ErrInvalidValue},
		{name: "bad algorithm", raw: "dtw_algorithm=stripe", scope: settings.JobScope, wantErr: dtw.ErrUnknownAlgorithm},
		{name: "bad bool", raw: "cew_subprocess_enabled=maybe", scope: settings.JobScope, wantErr: settings.ErrInvalidValue},
		{name: "negative max tasks", raw: "job_max_tasks=-2", scope: settings.JobScope, wantErr: settings.ErrInvalidValue},
		{name: "unknown language", raw: "task_language=xx", scope: settings.TaskScope, wantErr: settings.ErrInvalidValue},
		{name: "unknown voice", raw: "task_language=de|task_voice=female1", scope: settings.TaskScope, wantErr: settings.ErrInvalidValue},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := settings.Validate(settings.MustParse(testCase.raw), testCase.scope, testCatalog)
			if testCase.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, core.ErrConfiguration)
			require.ErrorIs(t, err, testCase.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	err := settings.Validate(settings.MustParse("foo=1|bar=2|dtw_margin=x"), settings.JobScope, testCatalog)
	require.Error(t, err)

	assert.Contains(t, err.Error(), `"foo"`)
	assert.Contains(t, err.Error(), `"bar"`)
	assert.Contains(t, err.Error(), "dtw_margin")
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()

	resolved, err := settings.Resolve(settings.Parameters{})
	require.NoError(t, err)

	assert.Equal(t, settings.Effective{
		WindowLength:        settings.DefaultWindowLength,
		WindowShift:         settings.DefaultWindowShift,
		Algorithm:           dtw.Banded,
		Margin:              settings.DefaultMargin,
		AccelerateMFCC:      true,
		AccelerateDTW:       true,
		AccelerateSynthesis: true,
		Subprocess:          false,
		MaxTasks:            0,
		MaxParallel:         1,
		Language:            "en",
		Voice:               "",
		Description:         "",
		SynthesisTimeout:    settings.DefaultSynthesisTimeout,
	}, resolved)
	assert.True(t, resolved.Unbounded())
}

func TestResolveOverrides(t *testing.T) {
	t.Parallel()

	resolved, err := settings.Resolve(settings.MustParse(
		"mfcc_window_length=0.025|mfcc_window_shift=0.010|dtw_algorithm=exact|dtw_margin=30|" +
			"c_extensions=False|cdtw=True|cew=True|cew_subprocess_enabled=True|job_max_tasks=4|" +
			"job_max_parallel=2|task_language=de|synthesis_timeout=1.5",
	))
	require.NoError(t, err)

	assert.InDelta(t, 0.025, resolved.WindowLength, 1e-12)
	assert.InDelta(t, 0.010, resolved.WindowShift, 1e-12)
	assert.Equal(t, dtw.Exact, resolved.Algorithm)
	assert.False(t, resolved.AccelerateMFCC)
	assert.True(t, resolved.AccelerateDTW)
	assert.True(t, resolved.AccelerateSynthesis)
	assert.True(t, resolved.Subprocess)
	assert.Equal(t, 4, resolved.MaxTasks)
	assert.Equal(t, 2, resolved.MaxParallel)
	assert.Equal(t, "de", resolved.Language)
	assert.Equal(t, 1500*time.Millisecond, resolved.SynthesisTimeout)
	assert.Equal(t, 750, resolved.MarginFrames(0.040))

	_, err = settings.Resolve(settings.MustParse("dtw_margin=abc"))
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestResolveSynthesisSwitch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		raw             string
		wantAccelerated bool
		wantSubprocess  bool
	}{
		{name: "defaults", raw: "", wantAccelerated: true, wantSubprocess: false},
		{name: "subprocess requested", raw: "cew_subprocess_enabled=true", wantAccelerated: true, wantSubprocess: true},
		{name: "cew off", raw: "cew=False", wantAccelerated: false, wantSubprocess: false},
		{name: "cew off wins", raw: "cew=False|cew_subprocess_enabled=true", wantAccelerated: false, wantSubprocess: false},
		{name: "follows c_extensions", raw: "c_extensions=false|cew_subprocess_enabled=true", wantAccelerated: false, wantSubprocess: false},
		{name: "overrides c_extensions", raw: "c_extensions=false|cew=yes|cew_subprocess_enabled=1", wantAccelerated: true, wantSubprocess: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			params := settings.MustParse(tt.raw)
			require.NoError(t, settings.Validate(params, settings.JobScope, testCatalog))

			resolved, err := settings.Resolve(params)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccelerated, resolved.AccelerateSynthesis)
			assert.Equal(t, tt.wantSubprocess, resolved.Subprocess)
		})
	}

	_, err := settings.Resolve(settings.MustParse("cew=sometimes"))
	require.ErrorIs(t, err, core.ErrConfiguration)
}

func TestValidateTaskResolvesVoiceAgainstJobLanguage(t *testing.T) {
	t.Parallel()

	jobParams := settings.MustParse("job_language=de")

	err := settings.ValidateTask(jobParams, settings.MustParse("task_voice=female1"), testCatalog)
	require.ErrorIs(t, err, settings.ErrInvalidValue)

	err = settings.ValidateTask(jobParams, settings.MustParse("task_language=en|task_voice=female1"), testCatalog)
	require.NoError(t, err)

	err = settings.ValidateTask(jobParams, settings.MustParse("job_max_tasks=3"), testCatalog)
	require.ErrorIs(t, err, settings.ErrWrongScope)
	require.ErrorIs(t, err, core.ErrConfiguration)
}
