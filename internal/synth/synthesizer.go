package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/synth/text"
)

// Mode selects where synthesis runs.
type Mode int

// Execution modes.
const (
	InProcess Mode = iota
	Subprocess
)

func (m Mode) String() string {
	switch m {
	case InProcess:
		return "in-process"
	case Subprocess:
		return "subprocess"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Session synthesizes the fragments of one task. A Session must be closed.
type Session interface {
	// SynthesizeMany returns one buffer per request, in request order.
	SynthesizeMany(ctx context.Context, reqs []Request) ([]audio.Buffer, error)
	Close() error
}

// Options configure a Synthesizer.
type Options struct {
	// WorkerPath is the executable started for subprocess sessions.
	WorkerPath string
	// WorkerArgs are passed to every worker process.
	WorkerArgs []string
	// WorkerEnv is appended to the parent environment of every worker process.
	WorkerEnv []string
}

// Synthesizer normalizes fragment text and opens sessions against an engine.
type Synthesizer struct {
	engine     Engine
	normalizer *text.Normalizer
	options    Options
	log        *logger.Logger
}

// New creates a Synthesizer. The engine serves in-process sessions; subprocess
// sessions run opts.WorkerPath instead.
func New(engine Engine, opts Options, log *logger.Logger) (*Synthesizer, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	if log == nil {
		return nil, ErrNilLogger
	}

	return &Synthesizer{
		engine:     engine,
		normalizer: text.NewNormalizer(),
		options:    opts,
		log:        log,
	}, nil
}

// Open starts a session. timeout bounds the synthesis of each fragment; zero means
// no bound. A subprocess session owns a worker process until it is closed.
func (s *Synthesizer) Open(ctx context.Context, mode Mode, timeout time.Duration) (Session, error) {
	switch mode {
	case InProcess:
		return &inProcessSession{synth: s, timeout: timeout}, nil
	case Subprocess:
		return startSubprocessSession(ctx, s, timeout)
	default:
		return nil, fmt.Errorf("%w: %w: %s", core.ErrConfiguration, ErrUnknownMode, mode)
	}
}

// prepare normalizes reqs and reports which requests have anything to synthesize.
func (s *Synthesizer) prepare(reqs []Request) ([]Request, []bool) {
	prepared := make([]Request, len(reqs))
	speakable := make([]bool, len(reqs))

	for i, req := range reqs {
		req.Text = s.normalizer.Normalize(req.Text, req.Language)
		prepared[i] = req
		speakable[i] = req.Text != ""
	}

	return prepared, speakable
}

type inProcessSession struct {
	synth   *Synthesizer
	timeout time.Duration
	closed  bool
}

func (p *inProcessSession) SynthesizeMany(ctx context.Context, reqs []Request) ([]audio.Buffer, error) {
	if p.closed {
		return nil, ErrSessionClosed
	}

	prepared, speakable := p.synth.prepare(reqs)
	out := make([]audio.Buffer, len(prepared))

	for i, req := range prepared {
		if !speakable[i] {
			out[i] = emptyBuffer()

			continue
		}

		buffer, err := p.synthesizeOne(ctx, req)
		if err != nil {
			return nil, err
		}

		out[i] = buffer
	}

	return out, nil
}

func (p *inProcessSession) synthesizeOne(ctx context.Context, req Request) (audio.Buffer, error) {
	callCtx := ctx

	if p.timeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	buffer, err := p.synth.engine.Synthesize(callCtx, req)

	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return audio.Buffer{}, core.NewSynthesisError(core.ErrSynthesisTimeout, req.FragmentID, err)
	default:
		return audio.Buffer{}, core.NewSynthesisError(core.ErrSynthesisFailure, req.FragmentID, err)
	}

	validateErr := buffer.Validate()
	if validateErr != nil {
		return audio.Buffer{}, core.NewSynthesisError(core.ErrSynthesisFailure, req.FragmentID, validateErr)
	}

	return buffer, nil
}

func (p *inProcessSession) Close() error {
	p.closed = true

	return nil
}
