package synth

import (
	"context"
	"math"
	"unicode"

	"github.com/book-expert/align-service/internal/audio"
)

const (
	toneSampleRate  = 16000
	toneRuneSamples = 960
	toneBaseHz      = 180.0
	toneStepHz      = 23.0
	toneAmplitude   = 0.4
	toneScale       = 32768.0
)

// ToneEngine is an offline engine that renders every rune as a short tone whose
// pitch depends on the rune, and whitespace or punctuation as silence. Its output
// is deterministic and already quantized to 16-bit steps, so it survives the
// worker protocol bit for bit.
type ToneEngine struct{}

// Synthesize renders req.Text as tones at 16 kHz.
func (ToneEngine) Synthesize(ctx context.Context, req Request) (audio.Buffer, error) {
	runeSamples := toneRuneSamples
	runes := []rune(req.Text)
	samples := make([]float64, 0, len(runes)*runeSamples)

	for _, r := range runes {
		if ctx.Err() != nil {
			return audio.Buffer{}, ctx.Err()
		}

		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			samples = append(samples, make([]float64, runeSamples)...)

			continue
		}

		freq := toneBaseHz + toneStepHz*float64(unicode.ToLower(r)%32)
		for n := range runeSamples {
			v := toneAmplitude * math.Sin(2*math.Pi*freq*float64(n)/toneSampleRate)
			samples = append(samples, math.Round(v*toneScale)/toneScale)
		}
	}

	return audio.Buffer{Samples: samples, SampleRate: toneSampleRate}, nil
}
