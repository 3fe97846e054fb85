package mfcc

import (
	"math"

	"github.com/book-expert/align-service/internal/audio"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Accelerated evaluates only the non-zero span of each mel filter and computes all
// cepstra with a single matrix product.
type Accelerated struct{}

type sparseFilter struct {
	first   int
	weights []float64
}

// Extract implements Extractor.
func (Accelerated) Extract(buffer audio.Buffer, windowLength, windowShift float64) (Sequence, error) {
	layout, err := newFrameLayout(buffer, windowLength, windowShift)
	if err != nil {
		return Sequence{}, err
	}

	analyzer := newFrameAnalyzer(buffer, layout)
	filters := sparseFilterbank(buffer.SampleRate, layout.fftSize)

	energies := make([]float64, layout.frames)
	logMel := mat.NewDense(layout.frames, FilterCount, nil)

	for f := range layout.frames {
		energies[f] = analyzer.analyze(f)
		row := logMel.RawRowView(f)

		for m, filter := range filters {
			end := filter.first + len(filter.weights)
			sum := floats.Dot(filter.weights, analyzer.power[filter.first:end])
			row[m] = math.Log(math.Max(sum, LogFloor))
		}
	}

	basis := mat.NewDense(FilterCount, CepstralCount, nil)
	for m := range FilterCount {
		for n := 1; n <= CepstralCount; n++ {
			basis.Set(m, n-1, dctCoefficient(n, m))
		}
	}

	var cepstra mat.Dense

	cepstra.Mul(logMel, basis)

	frames := make([][]float64, layout.frames)
	for f := range frames {
		vector := make([]float64, Dimension)
		vector[0] = energies[f]
		copy(vector[1:], cepstra.RawRowView(f))
		frames[f] = vector
	}

	return Sequence{Frames: frames, Step: layout.step}, nil
}

func sparseFilterbank(sampleRate, fftSize int) []sparseFilter {
	edges := filterEdges(sampleRate)
	bins := fftSize/2 + 1
	filters := make([]sparseFilter, FilterCount)

	for m := range filters {
		first, last := -1, -1

		for k := range bins {
			if filterWeight(edges, m, binFrequency(k, fftSize, sampleRate)) > 0 {
				if first < 0 {
					first = k
				}

				last = k
			}
		}

		if first < 0 {
			filters[m] = sparseFilter{first: 0, weights: nil}

			continue
		}

		weights := make([]float64, last-first+1)
		for k := first; k <= last; k++ {
			weights[k-first] = filterWeight(edges, m, binFrequency(k, fftSize, sampleRate))
		}

		filters[m] = sparseFilter{first: first, weights: weights}
	}

	return filters
}
