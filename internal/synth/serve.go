package synth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// ServeWorker runs the worker side of the protocol until in is exhausted. Each
// request is answered as soon as it is synthesized. An engine failure ends the
// worker with an error, which the parent observes as a closed output stream.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, engine Engine) error {
	if engine == nil {
		return ErrNilEngine
	}

	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	served := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, done, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			return writer.Flush()
		}

		if err != nil {
			return err
		}

		if done {
			flushErr := writer.Flush()
			if flushErr != nil {
				return flushErr
			}

			continue
		}

		served++

		buffer := emptyBuffer()

		if req.Text != "" {
			buffer, err = engine.Synthesize(ctx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", served, err)
			}
		}

		err = writeBlock(writer, buffer)
		if err != nil {
			return err
		}

		err = writer.Flush()
		if err != nil {
			return err
		}
	}
}
