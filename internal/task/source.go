package task

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/align-service/internal/core"
)

// FileSource reads task audio from a local path.
type FileSource string

// Name returns the path.
func (f FileSource) Name() string {
	return string(f)
}

// Open reads the whole file.
func (f FileSource) Open(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	return data, nil
}

// Check reports whether the file can be opened for reading without loading it.
func (f FileSource) Check(context.Context) error {
	file, err := os.Open(string(f))
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	info, err := file.Stat()
	closeErr := file.Close()

	switch {
	case err != nil:
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	case info.IsDir():
		return fmt.Errorf("%w: %s is a directory", core.ErrInvalidInput, f)
	case closeErr != nil:
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, closeErr)
	}

	return nil
}

// MemorySource serves task audio already held in memory. Key carries the name used
// to pick a decoder, e.g. "chapter1.wav".
type MemorySource struct {
	Key  string
	Data []byte
}

// Name returns the key.
func (m MemorySource) Name() string {
	return m.Key
}

// Open returns the data.
func (m MemorySource) Open(context.Context) ([]byte, error) {
	return m.Data, nil
}

var (
	_ core.AudioSource = FileSource("")
	_ core.AudioSource = MemorySource{}
)
