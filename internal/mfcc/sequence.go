package mfcc

import (
	"fmt"

	"github.com/book-expert/align-service/internal/core"
)

// Sequence is an ordered list of equal-dimension feature vectors plus the frame
// time step in seconds.
type Sequence struct {
	Frames [][]float64
	Step   float64
}

// Len returns the number of frames.
func (s Sequence) Len() int {
	return len(s.Frames)
}

// Dim returns the vector dimension, or 0 for an empty sequence.
func (s Sequence) Dim() int {
	if len(s.Frames) == 0 {
		return 0
	}

	return len(s.Frames[0])
}

// Duration returns the time covered by the frames.
func (s Sequence) Duration() float64 {
	return float64(len(s.Frames)) * s.Step
}

// Join concatenates sequences that share a step and dimension. It returns the joined
// sequence and len(parts)+1 boundaries: boundaries[k] is the first frame of part k and
// the last entry is the total frame count. Empty parts yield equal adjacent boundaries.
func Join(step float64, parts []Sequence) (Sequence, []int, error) {
	boundaries := make([]int, len(parts)+1)
	total := 0
	dim := 0

	for k, part := range parts {
		boundaries[k] = total

		if part.Len() == 0 {
			continue
		}

		if part.Step != step {
			return Sequence{}, nil, fmt.Errorf(
				"%w: part %d has step %g, expected %g", core.ErrInvalidInput, k, part.Step, step,
			)
		}

		if dim == 0 {
			dim = part.Dim()
		} else if part.Dim() != dim {
			return Sequence{}, nil, fmt.Errorf(
				"%w: part %d has dimension %d, expected %d", core.ErrInvalidInput, k, part.Dim(), dim,
			)
		}

		total += part.Len()
	}

	boundaries[len(parts)] = total
	frames := make([][]float64, 0, total)

	for _, part := range parts {
		frames = append(frames, part.Frames...)
	}

	return Sequence{Frames: frames, Step: step}, boundaries, nil
}
