package core

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Every error leaving the alignment core wraps exactly one of these.
var (
	// ErrInvalidInput marks malformed or unreadable audio or text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConfiguration marks an unrecognized key or an out-of-domain value.
	ErrConfiguration = errors.New("configuration error")
	// ErrSynthesisFailure marks a synthesis backend or worker that misbehaved.
	ErrSynthesisFailure = errors.New("synthesis failure")
	// ErrSynthesisTimeout marks a synthesis worker that did not answer in time.
	ErrSynthesisTimeout = errors.New("synthesis timeout")
	// ErrAlignment marks an alignment that cannot be satisfied.
	ErrAlignment = errors.New("alignment error")
	// ErrResourceLimitExceeded marks a job rejected for exceeding a limit.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	// ErrInternalInvariant marks a broken post-alignment invariant, i.e. a bug.
	ErrInternalInvariant = errors.New("internal invariant violation")
)

// Kind labels used in task results and logs.
const (
	KindInvalidInput      = "invalid_input"
	KindConfiguration     = "configuration"
	KindSynthesisFailure  = "synthesis_failure"
	KindSynthesisTimeout  = "synthesis_timeout"
	KindAlignment         = "alignment"
	KindResourceLimit     = "resource_limit_exceeded"
	KindInternalInvariant = "internal_invariant_violation"
	KindInternal          = "internal"
	KindCanceled          = "canceled"
)

var kinds = []struct {
	marker error
	label  string
}{
	{ErrInternalInvariant, KindInternalInvariant},
	{ErrSynthesisTimeout, KindSynthesisTimeout},
	{ErrSynthesisFailure, KindSynthesisFailure},
	{ErrResourceLimitExceeded, KindResourceLimit},
	{ErrConfiguration, KindConfiguration},
	{ErrInvalidInput, KindInvalidInput},
	{ErrAlignment, KindAlignment},
}

// Kind returns the taxonomy label of err, or KindInternal for unclassified errors.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	for _, k := range kinds {
		if errors.Is(err, k.marker) {
			return k.label
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}

	return KindInternal
}

// SynthesisError reports which fragment a synthesis failure or timeout belongs to.
type SynthesisError struct {
	FragmentID string
	Marker     error
	Err        error
}

// NewSynthesisError builds a SynthesisError. Marker must be ErrSynthesisFailure or
// ErrSynthesisTimeout.
func NewSynthesisError(marker error, fragmentID string, err error) *SynthesisError {
	return &SynthesisError{FragmentID: fragmentID, Marker: marker, Err: err}
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: fragment %s", e.Marker, e.FragmentID)
	}

	return fmt.Sprintf("%v: fragment %s: %v", e.Marker, e.FragmentID, e.Err)
}

// Unwrap exposes both the taxonomy marker and the underlying cause.
func (e *SynthesisError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}

	return []error{e.Marker, e.Err}
}
