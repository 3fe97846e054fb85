package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/dtw"
)

// Default values.
const (
	DefaultWindowLength     = 0.100
	DefaultWindowShift      = 0.040
	DefaultAlgorithm        = dtw.Banded
	DefaultMargin           = 60.0
	DefaultMaxParallel      = 1
	DefaultLanguage         = "en"
	DefaultSynthesisTimeout = 60 * time.Second
	unboundedValue          = "unbounded"
)

// Effective is the typed form of a task's merged parameters. AccelerateSynthesis
// is the cew switch; Subprocess is only set when both it and
// cew_subprocess_enabled are on.
type Effective struct {
	WindowLength        float64
	WindowShift         float64
	Algorithm           dtw.Algorithm
	Margin              float64
	AccelerateMFCC      bool
	AccelerateDTW       bool
	AccelerateSynthesis bool
	Subprocess          bool
	MaxTasks            int
	MaxParallel         int
	Language            string
	Voice               string
	Description         string
	SynthesisTimeout    time.Duration
}

// Unbounded reports whether the job task count is unlimited.
func (e Effective) Unbounded() bool {
	return e.MaxTasks == 0
}

// MarginFrames converts the margin in seconds to frames of the given step, never
// less than one frame.
func (e Effective) MarginFrames(step float64) int {
	if step <= 0 {
		return 1
	}

	return max(1, int(math.Ceil(e.Margin/step)))
}

// Resolve converts params to an Effective, filling defaults for missing keys.
// Unrecognized keys are ignored here; Validate reports them.
func Resolve(params Parameters) (Effective, error) {
	resolved := Effective{
		WindowLength:        DefaultWindowLength,
		WindowShift:         DefaultWindowShift,
		Algorithm:           DefaultAlgorithm,
		Margin:              DefaultMargin,
		AccelerateMFCC:      true,
		AccelerateDTW:       true,
		AccelerateSynthesis: true,
		Subprocess:          false,
		MaxTasks:            0,
		MaxParallel:         DefaultMaxParallel,
		Language:            LanguageOf(params),
		Voice:               params[KeyTaskVoice],
		Description:         params[KeyJobDescription],
		SynthesisTimeout:    DefaultSynthesisTimeout,
	}

	var err error

	steps := []func() error{
		func() error { return readFloat(params, KeyWindowLength, &resolved.WindowLength) },
		func() error { return readFloat(params, KeyWindowShift, &resolved.WindowShift) },
		func() error { return readFloat(params, KeyMargin, &resolved.Margin) },
		func() error { return readAlgorithm(params, &resolved.Algorithm) },
		func() error { return readAcceleration(params, &resolved) },
		func() error { return readBool(params, KeySubprocess, &resolved.Subprocess) },
		func() error { return readMaxTasks(params, &resolved.MaxTasks) },
		func() error { return readPositiveInt(params, KeyMaxParallel, &resolved.MaxParallel) },
		func() error { return readTimeout(params, &resolved.SynthesisTimeout) },
	}

	for _, step := range steps {
		err = step()
		if err != nil {
			return Effective{}, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
		}
	}

	resolved.Subprocess = resolved.Subprocess && resolved.AccelerateSynthesis

	return resolved, nil
}

// checks validates raw values for every recognized key.
var checks = map[string]func(string) error{
	KeyWindowLength:     checkPositiveFloat,
	KeyWindowShift:      checkPositiveFloat,
	KeyMargin:           checkPositiveFloat,
	KeySynthesisTimeout: checkPositiveFloat,
	KeyAlgorithm: func(v string) error {
		_, err := dtw.ParseAlgorithm(v)

		return err
	},
	KeyCExtensions: checkBool,
	KeyCMFCC:       checkBool,
	KeyCDTW:        checkBool,
	KeyCEW:         checkBool,
	KeySubprocess:  checkBool,
	KeyMaxTasks: func(v string) error {
		_, err := parseMaxTasks(v)

		return err
	},
	KeyMaxParallel: func(v string) error {
		_, err := parsePositiveInt(v)

		return err
	},
	KeyJobLanguage:    checkNonEmpty,
	KeyTaskLanguage:   checkNonEmpty,
	KeyTaskVoice:      checkAny,
	KeyJobDescription: checkAny,
}

func checkAny(string) error { return nil }

func checkNonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidValue)
	}

	return nil
}

func checkPositiveFloat(v string) error {
	_, err := parsePositiveFloat(v)

	return err
}

func checkBool(v string) error {
	_, err := parseBool(v)

	return err
}

func parsePositiveFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || !(f > 0) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a positive number", ErrInvalidValue, v)
	}

	return f, nil
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", ErrInvalidValue, v)
	}

	return n, nil
}

func parseMaxTasks(v string) (int, error) {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, unboundedValue) || v == "0" {
		return 0, nil
	}

	return parsePositiveInt(v)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, v)
	}
}

func readFloat(params Parameters, key string, dst *float64) error {
	raw, set := params[key]
	if !set {
		return nil
	}

	v, err := parsePositiveFloat(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = v

	return nil
}

func readBool(params Parameters, key string, dst *bool) error {
	raw, set := params[key]
	if !set {
		return nil
	}

	v, err := parseBool(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = v

	return nil
}

func readPositiveInt(params Parameters, key string, dst *int) error {
	raw, set := params[key]
	if !set {
		return nil
	}

	v, err := parsePositiveInt(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	*dst = v

	return nil
}

func readMaxTasks(params Parameters, dst *int) error {
	raw, set := params[KeyMaxTasks]
	if !set {
		return nil
	}

	v, err := parseMaxTasks(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", KeyMaxTasks, err)
	}

	*dst = v

	return nil
}

func readAlgorithm(params Parameters, dst *dtw.Algorithm) error {
	raw, set := params[KeyAlgorithm]
	if !set {
		return nil
	}

	algorithm, err := dtw.ParseAlgorithm(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", KeyAlgorithm, err)
	}

	*dst = algorithm

	return nil
}

// readAcceleration applies c_extensions first so cmfcc, cdtw and cew can override it.
func readAcceleration(params Parameters, dst *Effective) error {
	all := true

	err := readBool(params, KeyCExtensions, &all)
	if err != nil {
		return err
	}

	dst.AccelerateMFCC, dst.AccelerateDTW, dst.AccelerateSynthesis = all, all, all

	err = readBool(params, KeyCMFCC, &dst.AccelerateMFCC)
	if err != nil {
		return err
	}

	err = readBool(params, KeyCEW, &dst.AccelerateSynthesis)
	if err != nil {
		return err
	}

	return readBool(params, KeyCDTW, &dst.AccelerateDTW)
}

func readTimeout(params Parameters, dst *time.Duration) error {
	seconds := dst.Seconds()

	err := readFloat(params, KeySynthesisTimeout, &seconds)
	if err != nil {
		return err
	}

	*dst = time.Duration(seconds * float64(time.Second))

	return nil
}
