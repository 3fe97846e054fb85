package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/book-expert/align-service/internal/core"
	"github.com/book-expert/align-service/internal/task"
)

// Format is the layout of a fragment text file.
type Format string

// Fragment file formats.
const (
	// FormatPlain holds one fragment per non-empty line; ids are generated.
	FormatPlain Format = "plain"
	// FormatParsed holds one "id|text" fragment per non-empty line.
	FormatParsed Format = "parsed"
)

const (
	fragmentIDFormat = "f%06d"
	parsedSeparator  = "|"
)

// FromLines turns lines into fragments with generated ids, skipping blank lines.
func FromLines(lines []string) []task.Fragment {
	fragments := make([]task.Fragment, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fragments = append(fragments, task.Fragment{
			ID:   fmt.Sprintf(fragmentIDFormat, len(fragments)+1),
			Text: line,
		})
	}

	return fragments
}

// ReadFragments decodes fragments from r. An empty format means FormatPlain.
func ReadFragments(r io.Reader, format Format) ([]task.Fragment, error) {
	var lines []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read fragments: %w", core.ErrInvalidInput, err)
	}

	switch format {
	case "", FormatPlain:
		return FromLines(lines), nil
	case FormatParsed:
		return parseLines(lines)
	default:
		return nil, fmt.Errorf("%w: unknown text format %q", core.ErrInvalidInput, format)
	}
}

// ReadFragmentsFile decodes the fragment file at path.
func ReadFragmentsFile(path string, format Format) ([]task.Fragment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open text file: %w", core.ErrInvalidInput, err)
	}
	defer file.Close()

	return ReadFragments(file, format)
}

func parseLines(lines []string) ([]task.Fragment, error) {
	fragments := make([]task.Fragment, 0, len(lines))

	for number, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		id, text, found := strings.Cut(line, parsedSeparator)
		id = strings.TrimSpace(id)

		if !found || id == "" {
			return nil, fmt.Errorf("%w: line %d is not in id|text form", core.ErrInvalidInput, number+1)
		}

		fragments = append(fragments, task.Fragment{ID: id, Text: strings.TrimSpace(text)})
	}

	return fragments, nil
}
