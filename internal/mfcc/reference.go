package mfcc

import (
	"math"

	"github.com/book-expert/align-service/internal/audio"
)

// Reference is the straightforward extractor: dense filterbank and explicit DCT loops.
type Reference struct{}

// Extract implements Extractor.
func (Reference) Extract(buffer audio.Buffer, windowLength, windowShift float64) (Sequence, error) {
	layout, err := newFrameLayout(buffer, windowLength, windowShift)
	if err != nil {
		return Sequence{}, err
	}

	analyzer := newFrameAnalyzer(buffer, layout)
	edges := filterEdges(buffer.SampleRate)
	bins := layout.fftSize/2 + 1

	filters := make([][]float64, FilterCount)
	for m := range filters {
		filters[m] = make([]float64, bins)
		for k := range bins {
			filters[m][k] = filterWeight(edges, m, binFrequency(k, layout.fftSize, buffer.SampleRate))
		}
	}

	logMel := make([]float64, FilterCount)
	frames := make([][]float64, layout.frames)

	for f := range frames {
		vector := make([]float64, Dimension)
		vector[0] = analyzer.analyze(f)

		for m := range logMel {
			sum := 0.0
			for k, w := range filters[m] {
				sum += w * analyzer.power[k]
			}

			logMel[m] = math.Log(math.Max(sum, LogFloor))
		}

		for n := 1; n <= CepstralCount; n++ {
			sum := 0.0
			for m, v := range logMel {
				sum += v * dctCoefficient(n, m)
			}

			vector[n] = sum
		}

		frames[f] = vector
	}

	return Sequence{Frames: frames, Step: layout.step}, nil
}
