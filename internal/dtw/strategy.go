package dtw

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Reference computes every local cost directly as sqrt(sum((a-b)^2)).
type Reference struct{}

// Align implements Aligner.
func (Reference) Align(real, ref [][]float64, algorithm Algorithm, marginFrames int) (Result, error) {
	return align(real, ref, algorithm, marginFrames, directCoster{real: real, ref: ref})
}

// Accelerated precomputes squared norms and evaluates costs as
// sqrt(|a|^2 + |b|^2 - 2a·b), which matches Reference within CostTolerance.
type Accelerated struct{}

// Align implements Aligner.
func (Accelerated) Align(real, ref [][]float64, algorithm Algorithm, marginFrames int) (Result, error) {
	if len(real) == 0 || len(ref) == 0 {
		return Result{Path: nil, Cost: 0}, nil
	}

	coster := normCoster{
		real:     real,
		ref:      ref,
		realNorm: squaredNorms(real),
		refNorm:  squaredNorms(ref),
	}

	return align(real, ref, algorithm, marginFrames, coster)
}

type directCoster struct {
	real, ref [][]float64
}

func (c directCoster) fill(i, lo, hi int, dst []float64) {
	a := c.real[i]

	for j := lo; j <= hi; j++ {
		b := c.ref[j]
		sum := 0.0

		for d := range a {
			diff := a[d] - b[d]
			sum += diff * diff
		}

		dst[j-lo] = math.Sqrt(sum)
	}
}

type normCoster struct {
	real, ref         [][]float64
	realNorm, refNorm []float64
}

func (c normCoster) fill(i, lo, hi int, dst []float64) {
	a := c.real[i]

	for j := lo; j <= hi; j++ {
		sq := c.realNorm[i] + c.refNorm[j] - 2*floats.Dot(a, c.ref[j])
		dst[j-lo] = math.Sqrt(math.Max(sq, 0))
	}
}

func squaredNorms(frames [][]float64) []float64 {
	norms := make([]float64, len(frames))
	for i, f := range frames {
		norms[i] = floats.Dot(f, f)
	}

	return norms
}
