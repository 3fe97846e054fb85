// Package synth turns text fragments into reference speech audio.
//
// An Engine synthesizes a single fragment. A Synthesizer wraps an engine with text
// normalization and opens per-task Sessions that run either in-process or through a
// dedicated worker process speaking the line protocol in protocol.go.
package synth

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
)

// EmptySampleRate is the sample rate reported for zero-length buffers.
const EmptySampleRate = audio.RawSampleRate

// Errors.
var (
	ErrNilEngine     = errors.New("synthesis engine cannot be nil")
	ErrNilLogger     = errors.New("logger cannot be nil")
	ErrUnknownMode   = errors.New("unknown synthesis mode")
	ErrSessionClosed = errors.New("synthesis session is closed")
	ErrProtocol      = errors.New("synthesis worker protocol error")
	ErrMissingWorker = errors.New("synthesis worker path is not configured")
	ErrEmptyCommand  = errors.New("synthesis command is empty")
)

// Request is one fragment to synthesize.
type Request struct {
	FragmentID string
	Text       string
	Language   string
	Voice      string
}

// Engine synthesizes the speech for a single request.
type Engine interface {
	Synthesize(ctx context.Context, req Request) (audio.Buffer, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) (audio.Buffer, error)

// Synthesize calls f.
func (f EngineFunc) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	return f(ctx, req)
}

// HealthChecker is implemented by engines backed by a service that can report
// whether it is ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckHealth runs the engine's health check, if it has one. An unhealthy engine
// is a configuration error.
func CheckHealth(ctx context.Context, engine Engine) error {
	checker, ok := engine.(HealthChecker)
	if !ok {
		return nil
	}

	err := checker.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("%w: synthesis engine is not healthy: %w", core.ErrConfiguration, err)
	}

	return nil
}

var (
	_ HealthChecker = (*HTTPEngine)(nil)

	_ Engine = (*CommandEngine)(nil)
	_ Engine = (*HTTPEngine)(nil)
	_ Engine = ToneEngine{}
	_ Engine = EngineFunc(nil)
)

func emptyBuffer() audio.Buffer {
	return audio.Buffer{Samples: []float64{}, SampleRate: EmptySampleRate}
}
