// Package tts defines the Provider interface for server-side text-to-speech
// backends.
//
// voxnav normally speaks through the browser's own speech engine. When the
// "synth" speech backend is configured, each chunk of page text is sent to a
// Provider instead and the resulting audio is streamed to connected clients.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects and tunes a synthesis voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is a BCP 47 tag such as "en-US".
	Language string

	// Rate is the speaking rate multiplier; 0 or 1 means the provider default.
	Rate float64

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// Provider is the abstraction over a streaming TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from text and returns a channel
	// of encoded audio as it becomes available. The audio channel is closed
	// when text is closed and fully synthesised, or when ctx is cancelled.
	// A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// ListVoices returns the voices available for the configured account.
	ListVoices(ctx context.Context) ([]Voice, error)
}
