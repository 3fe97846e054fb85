package synth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
)

const (
	stderrTailBytes   = 2048
	workerExitTimeout = 5 * time.Second
)

// Log messages.
const (
	logFmtWorkerStarted = "synthesis worker %d started: %s"
	logFmtWorkerKilled  = "synthesis worker %d killed: %v"
	logFmtWorkerExited  = "synthesis worker %d exited: %v"
)

var errWorkerClosedOutput = errors.New("worker closed its output")

type blockResult struct {
	buffer audio.Buffer
	err    error
}

// subprocessSession owns one worker process for the lifetime of a task.
type subprocessSession struct {
	synth   *Synthesizer
	timeout time.Duration
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	stderr  *tailBuffer

	mu       sync.Mutex
	broken   error
	closed   bool
	waitOnce sync.Once
	waitErr  error
}

func startSubprocessSession(ctx context.Context, s *Synthesizer, timeout time.Duration) (*subprocessSession, error) {
	if s.options.WorkerPath == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, ErrMissingWorker)
	}

	// #nosec G204 -- the worker path comes from service configuration
	cmd := exec.CommandContext(ctx, s.options.WorkerPath, s.options.WorkerArgs...)
	cmd.Env = append(os.Environ(), s.options.WorkerEnv...)

	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdin pipe: %w", core.ErrSynthesisFailure, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create stdout pipe: %w", core.ErrSynthesisFailure, err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to start synthesis worker %s: %w", core.ErrSynthesisFailure, s.options.WorkerPath, err)
	}

	s.log.Info(logFmtWorkerStarted, cmd.Process.Pid, s.options.WorkerPath)

	return &subprocessSession{
		synth:   s,
		timeout: timeout,
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReader(stdout),
		stderr:  stderr,
	}, nil
}

// SynthesizeMany sends the speakable requests as one batch and reads one block per
// request. After any failure the worker is killed and the session stays broken.
func (p *subprocessSession) SynthesizeMany(ctx context.Context, reqs []Request) ([]audio.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrSessionClosed
	}

	if p.broken != nil {
		return nil, p.broken
	}

	prepared, speakable := p.synth.prepare(reqs)
	out := make([]audio.Buffer, len(prepared))
	batch := make([]int, 0, len(prepared))

	for i := range prepared {
		if speakable[i] {
			batch = append(batch, i)
		} else {
			out[i] = emptyBuffer()
		}
	}

	if len(batch) == 0 {
		return out, nil
	}

	writeDone := make(chan error, 1)

	go func() {
		writeDone <- p.writeBatch(prepared, batch)
	}()

	blocks := make(chan blockResult, len(batch))

	go func() {
		for range batch {
			buffer, err := readBlock(p.stdout)
			blocks <- blockResult{buffer: buffer, err: err}

			if err != nil {
				return
			}
		}
	}()

	for _, index := range batch {
		fragmentID := prepared[index].FragmentID

		buffer, err := p.awaitBlock(ctx, blocks, fragmentID)
		if err != nil {
			p.fail(err)

			if errors.Is(err, errWorkerClosedOutput) {
				// Stderr is complete only once the worker has been reaped.
				err = core.NewSynthesisError(core.ErrSynthesisFailure, fragmentID,
					fmt.Errorf("%w: %s", errWorkerClosedOutput, p.stderr.String()))
				p.broken = err
			}

			return nil, err
		}

		out[index] = buffer
	}

	writeErr := <-writeDone
	if writeErr != nil {
		err := core.NewSynthesisError(core.ErrSynthesisFailure, prepared[batch[len(batch)-1]].FragmentID, writeErr)
		p.fail(err)

		return nil, err
	}

	return out, nil
}

func (p *subprocessSession) writeBatch(prepared []Request, batch []int) error {
	writer := bufio.NewWriter(p.stdin)

	for _, index := range batch {
		err := writeRequest(writer, prepared[index])
		if err != nil {
			return err
		}
	}

	err := writeTerminator(writer)
	if err != nil {
		return err
	}

	return writer.Flush()
}

func (p *subprocessSession) awaitBlock(ctx context.Context, blocks <-chan blockResult, fragmentID string) (audio.Buffer, error) {
	var timeout <-chan time.Time

	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()

		timeout = timer.C
	}

	select {
	case result := <-blocks:
		if result.err == nil {
			return result.buffer, nil
		}

		if errors.Is(result.err, io.EOF) || errors.Is(result.err, io.ErrUnexpectedEOF) {
			return audio.Buffer{}, errWorkerClosedOutput
		}

		return audio.Buffer{}, core.NewSynthesisError(core.ErrSynthesisFailure, fragmentID, result.err)
	case <-timeout:
		return audio.Buffer{}, core.NewSynthesisError(core.ErrSynthesisTimeout, fragmentID,
			fmt.Errorf("no response within %s", p.timeout))
	case <-ctx.Done():
		return audio.Buffer{}, ctx.Err()
	}
}

func (p *subprocessSession) fail(err error) {
	p.broken = err

	killErr := p.cmd.Process.Kill()
	if killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		p.synth.log.Warn(logFmtWorkerKilled, p.cmd.Process.Pid, killErr)
	}

	p.wait()
}

func (p *subprocessSession) wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		p.synth.log.Info(logFmtWorkerExited, p.cmd.Process.Pid, p.waitErr)
	})

	return p.waitErr
}

// Close ends the worker's input and waits for it to exit, killing it when it does
// not exit promptly.
func (p *subprocessSession) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	if p.broken != nil {
		return nil
	}

	closeErr := p.stdin.Close()

	exited := make(chan error, 1)

	go func() {
		exited <- p.wait()
	}()

	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("synthesis worker exited with error: %w: %s", err, p.stderr.String())
		}
	case <-time.After(workerExitTimeout):
		p.fail(fmt.Errorf("synthesis worker did not exit within %s", workerExitTimeout))
		<-exited
	}

	return closeErr
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)

	if extra := t.buf.Len() - t.limit; extra > 0 {
		t.buf.Next(extra)
	}

	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return string(bytes.TrimSpace(t.buf.Bytes()))
}
