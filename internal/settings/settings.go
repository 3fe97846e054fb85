// Package settings holds the runtime alignment parameters of jobs and tasks.
//
// Parameters travel as "key=value|key=value" strings. A task's effective
// parameters are the defaults overridden by the job parameters, overridden in turn
// by the task's own overrides, key by key.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/book-expert/align-service/internal/core"
)

// Recognized parameter keys.
const (
	KeyWindowLength     = "mfcc_window_length"
	KeyWindowShift      = "mfcc_window_shift"
	KeyAlgorithm        = "dtw_algorithm"
	KeyMargin           = "dtw_margin"
	KeyCExtensions      = "c_extensions"
	KeyCMFCC            = "cmfcc"
	KeyCDTW             = "cdtw"
	KeyCEW              = "cew"
	KeySubprocess       = "cew_subprocess_enabled"
	KeyMaxTasks         = "job_max_tasks"
	KeyMaxParallel      = "job_max_parallel"
	KeyJobLanguage      = "job_language"
	KeyJobDescription   = "job_description"
	KeyTaskLanguage     = "task_language"
	KeyTaskVoice        = "task_voice"
	KeySynthesisTimeout = "synthesis_timeout"
)

const (
	pairSeparator  = "|"
	valueSeparator = "="
	jobKeyPrefix   = "job_"
)

// Errors.
var (
	ErrMalformedPair = errors.New("malformed key=value pair")
	ErrUnknownKey    = errors.New("unrecognized parameter")
	ErrWrongScope    = errors.New("parameter not allowed in this scope")
	ErrInvalidValue  = errors.New("invalid parameter value")
)

// Parameters maps recognized keys to their raw string values.
type Parameters map[string]string

// Parse decodes a "key=value|key=value" string. Surrounding quotes and whitespace
// are ignored; empty segments are skipped.
func Parse(raw string) (Parameters, error) {
	params := Parameters{}
	raw = strings.Trim(strings.TrimSpace(raw), `"'`)

	for _, segment := range strings.Split(raw, pairSeparator) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		key, value, found := strings.Cut(segment, valueSeparator)
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf("%w: %w: %q", core.ErrConfiguration, ErrMalformedPair, segment)
		}

		params[key] = strings.TrimSpace(value)
	}

	return params, nil
}

// MustParse is Parse for literals known to be well-formed; it panics otherwise.
func MustParse(raw string) Parameters {
	params, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return params
}

// Merge returns a new Parameters with override applied on top of p.
func (p Parameters) Merge(override Parameters) Parameters {
	merged := make(Parameters, len(p)+len(override))
	maps.Copy(merged, p)
	maps.Copy(merged, override)

	return merged
}

// Get returns the value of key and whether it is set.
func (p Parameters) Get(key string) (string, bool) {
	value, ok := p[key]

	return value, ok
}

// String encodes the parameters in key order.
func (p Parameters) String() string {
	keys := slices.Sorted(maps.Keys(p))
	pairs := make([]string, 0, len(keys))

	for _, key := range keys {
		pairs = append(pairs, key+valueSeparator+p[key])
	}

	return strings.Join(pairs, pairSeparator)
}

// Scope tells Validate which keys may appear.
type Scope int

const (
	// JobScope accepts every recognized key.
	JobScope Scope = iota
	// TaskScope rejects job_* keys.
	TaskScope
)

func (s Scope) String() string {
	if s == TaskScope {
		return "task"
	}

	return "job"
}

// Catalog lists the languages and voices the synthesizer can resolve. A nil voice
// list for a language means only the engine default voice is available.
type Catalog struct {
	Languages []string
	Voices    map[string][]string
}

// HasLanguage reports whether language is resolvable.
func (c Catalog) HasLanguage(language string) bool {
	return slices.Contains(c.Languages, language)
}

// HasVoice reports whether voice is resolvable for language. The empty voice
// always resolves to the engine default.
func (c Catalog) HasVoice(language, voice string) bool {
	return voice == "" || slices.Contains(c.Voices[language], voice)
}

// Validate checks that every key is recognized and allowed in scope, that every
// value is within its domain, and that languages and voices resolve in catalog.
// All problems are reported together.
func Validate(params Parameters, scope Scope, catalog Catalog) error {
	return validate(params, params, scope, catalog)
}

// ValidateTask validates task overrides. A task voice is resolved against the task
// language, falling back to the job language.
func ValidateTask(jobParams, taskParams Parameters, catalog Catalog) error {
	return validate(taskParams, jobParams.Merge(taskParams), TaskScope, catalog)
}

// validate checks params; merged supplies the language a voice is resolved against.
func validate(params, merged Parameters, scope Scope, catalog Catalog) error {
	var problems []error

	for _, key := range slices.Sorted(maps.Keys(params)) {
		check, known := checks[key]

		switch {
		case !known:
			problems = append(problems, fmt.Errorf("%w: %q", ErrUnknownKey, key))
		case scope == TaskScope && strings.HasPrefix(key, jobKeyPrefix):
			problems = append(problems, fmt.Errorf("%w: %q in %s parameters", ErrWrongScope, key, scope))
		default:
			checkErr := check(params[key])
			if checkErr != nil {
				problems = append(problems, fmt.Errorf("%s: %w", key, checkErr))
			}
		}
	}

	for _, key := range []string{KeyJobLanguage, KeyTaskLanguage} {
		language, set := params[key]
		if set && !catalog.HasLanguage(language) {
			problems = append(problems, fmt.Errorf("%w: %s: language %q is not available", ErrInvalidValue, key, language))
		}
	}

	if voice, set := params[KeyTaskVoice]; set {
		language := LanguageOf(merged)
		if !catalog.HasVoice(language, voice) {
			problems = append(problems, fmt.Errorf("%w: %s: voice %q is not available for %q", ErrInvalidValue, KeyTaskVoice, voice, language))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s parameters: %w", core.ErrConfiguration, scope, errors.Join(problems...))
}

// LanguageOf returns the task language, falling back to the job language and then
// DefaultLanguage.
func LanguageOf(params Parameters) string {
	if language := params[KeyTaskLanguage]; language != "" {
		return language
	}

	if language := params[KeyJobLanguage]; language != "" {
		return language
	}

	return DefaultLanguage
}
