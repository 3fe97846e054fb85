// Package mfcc converts mono audio into sequences of mel-frequency cepstral
// coefficient vectors, one per analysis frame.
//
// Every vector holds the natural log of the frame energy at index 0 followed by
// cepstral coefficients c1..c12 of an orthonormal DCT-II over 40 log mel energies.
package mfcc

import (
	"fmt"
	"math"

	"github.com/book-expert/align-service/internal/audio"
	"github.com/book-expert/align-service/internal/core"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Fixed analysis parameters.
const (
	FilterCount    = 40
	CepstralCount  = 12
	Dimension      = CepstralCount + 1
	PreEmphasis    = 0.97
	LowerFrequency = 133.3333
	UpperFrequency = 6855.4976
	MinFFTSize     = 512
	LogFloor       = 1e-10
)

// Tolerance is the largest per-coefficient difference allowed between extractors.
const Tolerance = 1e-6

// Extractor turns an audio buffer into a feature sequence.
// Window length and shift are in seconds.
type Extractor interface {
	Extract(buffer audio.Buffer, windowLength, windowShift float64) (Sequence, error)
}

// New returns the accelerated extractor when accelerated is true and the reference
// extractor otherwise.
func New(accelerated bool) Extractor {
	if accelerated {
		return Accelerated{}
	}

	return Reference{}
}

// frameLayout describes how a buffer is cut into frames.
type frameLayout struct {
	window  int
	shift   int
	fftSize int
	frames  int
	step    float64
}

func newFrameLayout(buffer audio.Buffer, windowLength, windowShift float64) (frameLayout, error) {
	inputErr := buffer.RequireSamples()
	if inputErr != nil {
		return frameLayout{}, inputErr
	}

	if !(windowShift > 0) || !(windowLength > 0) {
		return frameLayout{}, fmt.Errorf(
			"%w: window length %g and shift %g must be positive", core.ErrInvalidInput, windowLength, windowShift,
		)
	}

	rate := float64(buffer.SampleRate)
	window := max(1, int(math.Round(windowLength*rate)))
	shift := max(1, int(math.Round(windowShift*rate)))

	fftSize := MinFFTSize
	for fftSize < window {
		fftSize *= 2
	}

	return frameLayout{
		window:  window,
		shift:   shift,
		fftSize: fftSize,
		frames:  (buffer.Len() + shift - 1) / shift,
		step:    float64(shift) / rate,
	}, nil
}

// emphasize applies the pre-emphasis filter y[i] = x[i] - a*x[i-1].
func emphasize(samples []float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}

	out[0] = samples[0]
	for i := 1; i < len(samples); i++ {
		out[i] = samples[i] - PreEmphasis*samples[i-1]
	}

	return out
}

func hamming(size int) []float64 {
	window := make([]float64, size)
	if size == 1 {
		window[0] = 1

		return window
	}

	for i := range window {
		window[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(size-1))
	}

	return window
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// filterEdges returns the FilterCount+2 mel-spaced edge frequencies in Hz.
func filterEdges(sampleRate int) []float64 {
	upper := math.Min(UpperFrequency, float64(sampleRate)/2)
	lower := math.Min(LowerFrequency, upper/2)

	melLow, melHigh := hzToMel(lower), hzToMel(upper)
	edges := make([]float64, FilterCount+2)

	for i := range edges {
		edges[i] = melToHz(melLow + float64(i)*(melHigh-melLow)/float64(FilterCount+1))
	}

	return edges
}

// filterWeight evaluates triangular filter m at frequency freq.
func filterWeight(edges []float64, m int, freq float64) float64 {
	left, center, right := edges[m], edges[m+1], edges[m+2]
	if freq <= left || freq >= right {
		return 0
	}

	if freq <= center {
		return (freq - left) / (center - left)
	}

	return (right - freq) / (right - center)
}

// dctCoefficient is the orthonormal DCT-II basis value for cepstrum n and filter m.
func dctCoefficient(n, m int) float64 {
	return math.Sqrt(2.0/FilterCount) * math.Cos(math.Pi*float64(n)*(float64(m)+0.5)/FilterCount)
}

// frameAnalyzer holds the per-call scratch buffers so the frame loop does not allocate.
type frameAnalyzer struct {
	layout   frameLayout
	signal   []float64
	window   []float64
	frame    []float64
	spectrum []complex128
	power    []float64
	fft      *fourier.FFT
}

func newFrameAnalyzer(buffer audio.Buffer, layout frameLayout) *frameAnalyzer {
	return &frameAnalyzer{
		layout:   layout,
		signal:   emphasize(buffer.Samples),
		window:   hamming(layout.window),
		frame:    make([]float64, layout.fftSize),
		spectrum: make([]complex128, layout.fftSize/2+1),
		power:    make([]float64, layout.fftSize/2+1),
		fft:      fourier.NewFFT(layout.fftSize),
	}
}

// analyze windows frame index and fills the power spectrum, returning the log energy.
func (a *frameAnalyzer) analyze(index int) float64 {
	start := index * a.layout.shift
	energy := 0.0

	for i := range a.frame {
		a.frame[i] = 0
	}

	for i := 0; i < a.layout.window; i++ {
		pos := start + i
		if pos >= len(a.signal) {
			break
		}

		v := a.signal[pos] * a.window[i]
		a.frame[i] = v
		energy += v * v
	}

	a.spectrum = a.fft.Coefficients(a.spectrum, a.frame[:a.layout.fftSize])
	for k, c := range a.spectrum {
		re, im := real(c), imag(c)
		a.power[k] = re*re + im*im
	}

	return math.Log(math.Max(energy, LogFloor))
}

func binFrequency(bin, fftSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(fftSize)
}
