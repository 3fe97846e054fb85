// Package audio provides the mono sample buffer consumed by feature extraction,
// along with decoders for the input formats accepted by the alignment service.
package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/align-service/internal/core"
)

// Limits accepted for decoded audio.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Error messages.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// ErrEmptyBuffer is returned when an operation needs at least one sample.
var ErrEmptyBuffer = errors.New("audio buffer is empty")

// Buffer is a mono sample sequence normalized to [-1, 1] with its sample rate.
// A Buffer is never mutated after creation; operations return new buffers.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Len returns the number of samples.
func (b Buffer) Len() int {
	return len(b.Samples)
}

// Duration returns the length of the buffer in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Validate checks the buffer invariants: a positive, bounded sample rate.
func (b Buffer) Validate() error {
	return validateSampleRate(b.SampleRate)
}

// RequireSamples validates the buffer and additionally rejects empty buffers.
func (b Buffer) RequireSamples() error {
	validateErr := b.Validate()
	if validateErr != nil {
		return validateErr
	}

	if len(b.Samples) == 0 {
		return fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrEmptyBuffer)
	}

	return nil
}

// Resample converts the buffer to the target rate by linear interpolation.
// The input is returned unchanged when the rates already match.
func Resample(buffer Buffer, targetRate int) (Buffer, error) {
	validateErr := buffer.Validate()
	if validateErr != nil {
		return Buffer{}, validateErr
	}

	rateErr := validateSampleRate(targetRate)
	if rateErr != nil {
		return Buffer{}, rateErr
	}

	if buffer.SampleRate == targetRate || len(buffer.Samples) == 0 {
		return Buffer{Samples: buffer.Samples, SampleRate: targetRate}, nil
	}

	ratio := float64(buffer.SampleRate) / float64(targetRate)
	outLen := int(math.Round(float64(len(buffer.Samples)) / ratio))
	out := make([]float64, outLen)
	last := len(buffer.Samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		left := int(pos)

		if left >= last {
			out[i] = buffer.Samples[last]

			continue
		}

		frac := pos - float64(left)
		out[i] = buffer.Samples[left]*(1-frac) + buffer.Samples[left+1]*frac
	}

	return Buffer{Samples: out, SampleRate: targetRate}, nil
}

func mixDown(interleaved []float64, channels int) []float64 {
	if channels == 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	mono := make([]float64, frames)

	for i := range mono {
		sum := 0.0
		for c := range channels {
			sum += interleaved[i*channels+c]
		}

		mono[i] = sum / float64(channels)
	}

	return mono
}

//
// Validation Helpers
//

func validateSampleRate(sampleRate int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, core.ErrInvalidInput, MaxSampleRate, sampleRate)
	}

	return nil
}

func validateChannels(channels int) error {
	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, core.ErrInvalidInput, MaxChannels, channels)
	}

	return nil
}
