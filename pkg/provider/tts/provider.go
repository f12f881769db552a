// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns the assistant's response text into PCM audio that the
// playback scheduler can queue. SynthesizeStream accepts a channel of text
// fragments and emits audio as soon as the backend produces it, so the first
// words can start playing before synthesis of the full response finishes.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/nivest/pkg/audio"
)

// ErrNoAudio reports a synthesis stream that ended without producing audio.
var ErrNoAudio = errors.New("tts: no audio produced")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a channel of raw
	// little-endian int16 PCM in the provider's Format.
	//
	// The returned channel is closed when all text has been synthesised, when
	// ctx is cancelled, or when the backend fails mid-stream. The caller must
	// drain it. A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// Format reports the PCM format of emitted audio.
	Format() audio.Format
}

// Text returns a closed channel carrying the single fragment s. It adapts a
// complete response to SynthesizeStream.
func Text(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}
