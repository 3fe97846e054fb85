// Package dtw aligns two feature sequences with dynamic time warping and maps
// reference frame boundaries onto the real sequence.
//
// Rows of the cost table index the real sequence (n frames) and columns index the
// reference sequence (m frames). The local cost of a cell is the Euclidean distance
// between the two feature vectors.
package dtw

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/align-service/internal/core"
)

// Algorithm selects how much of the cost table is evaluated.
type Algorithm string

// Supported algorithms.
const (
	// Exact evaluates the full n×m table.
	Exact Algorithm = "exact"
	// Banded evaluates a stripe around the projected diagonal.
	Banded Algorithm = "banded"
)

// CostTolerance is the relative total-cost difference allowed between strategies.
const CostTolerance = 1e-6

var (
	// ErrUnknownAlgorithm is returned for an algorithm name other than exact or banded.
	ErrUnknownAlgorithm = errors.New("unknown dtw algorithm")
	// ErrDimensionMismatch is returned when the two sequences differ in vector size.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
)

// ParseAlgorithm converts a configuration value to an Algorithm.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch Algorithm(value) {
	case Exact, Banded:
		return Algorithm(value), nil
	default:
		return "", fmt.Errorf("%w: %w: %q", core.ErrConfiguration, ErrUnknownAlgorithm, value)
	}
}

// Step is one cell of an alignment path.
type Step struct {
	Real int
	Ref  int
}

// Result is a minimum-cost path from (0,0) to (n-1,m-1) and its accumulated cost.
type Result struct {
	Path []Step
	Cost float64
}

// Aligner computes alignment paths. Implementations hold no mutable state and are
// safe for concurrent use.
type Aligner interface {
	Align(real, ref [][]float64, algorithm Algorithm, marginFrames int) (Result, error)
}

// New returns the accelerated aligner when accelerated is true and the reference
// aligner otherwise.
func New(accelerated bool) Aligner {
	if accelerated {
		return Accelerated{}
	}

	return Reference{}
}

// rowCoster fills dst[j-lo] with the local cost of cells (i, lo..hi).
type rowCoster interface {
	fill(i, lo, hi int, dst []float64)
}

func align(real, ref [][]float64, algorithm Algorithm, marginFrames int, coster rowCoster) (Result, error) {
	n, m := len(real), len(ref)
	if n == 0 || m == 0 {
		return Result{Path: nil, Cost: 0}, nil
	}

	if len(real[0]) != len(ref[0]) {
		return Result{}, fmt.Errorf(
			"%w: %w: real %d, reference %d", core.ErrInvalidInput, ErrDimensionMismatch, len(real[0]), len(ref[0]),
		)
	}

	var table *costTable

	switch algorithm {
	case Exact:
		table = newExactTable(n, m)
	case Banded:
		if marginFrames <= 0 {
			return Result{}, fmt.Errorf("%w: banded margin must be positive, got %d", core.ErrConfiguration, marginFrames)
		}

		table = newBandedTable(n, m, marginFrames)
	default:
		return Result{}, fmt.Errorf("%w: %w: %q", core.ErrConfiguration, ErrUnknownAlgorithm, algorithm)
	}

	table.accumulate(coster)

	total := table.at(n-1, m-1)
	if math.IsInf(total, 1) || math.IsNaN(total) {
		return Result{}, fmt.Errorf("%w: no finite path through the cost table", core.ErrAlignment)
	}

	return Result{Path: table.backtrack(), Cost: total}, nil
}

// Boundaries maps reference boundary frames to real frames using path. Each
// reference frame maps to the first real frame the path pairs it with; a boundary
// equal to the reference length maps to realLen. With an empty path every boundary
// must be zero and maps to zero.
func Boundaries(path []Step, refBoundaries []int, realLen int) ([]int, error) {
	refLen := 0
	if len(path) > 0 {
		refLen = path[len(path)-1].Ref + 1
	}

	firstReal := make([]int, refLen)
	for j := range firstReal {
		firstReal[j] = -1
	}

	for _, step := range path {
		if firstReal[step.Ref] < 0 {
			firstReal[step.Ref] = step.Real
		}
	}

	out := make([]int, len(refBoundaries))

	for k, b := range refBoundaries {
		switch {
		case b < 0 || b > refLen:
			return nil, fmt.Errorf(
				"%w: boundary %d at reference frame %d is outside [0, %d]", core.ErrAlignment, k, b, refLen,
			)
		case refLen == 0:
			out[k] = 0
		case b == refLen:
			out[k] = realLen
		case firstReal[b] < 0:
			return nil, fmt.Errorf("%w: path does not visit reference frame %d", core.ErrAlignment, b)
		default:
			out[k] = firstReal[b]
		}
	}

	return out, nil
}
