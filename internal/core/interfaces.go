// Package core defines the interfaces and error taxonomy shared by the alignment service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// AudioSource resolves the real-audio reference of a task to encoded audio bytes.
// Name returns the reference with an extension the audio decoder understands.
type AudioSource interface {
	Name() string
	Open(ctx context.Context) ([]byte, error)
}

// Interval is the aligned time span of one fragment, in seconds.
type Interval struct {
	FragmentID string  `json:"id"`
	Text       string  `json:"text,omitempty"`
	Start      float64 `json:"begin"`
	End        float64 `json:"end"`
}

// Duration returns the length of the interval in seconds.
func (i Interval) Duration() float64 {
	return i.End - i.Start
}
