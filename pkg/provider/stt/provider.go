// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider turns the microphone PCM stream into transcripts. The voice
// session only acts on finals: a final transcript ends the listening phase and
// is handed to the responder exactly once. Partials exist for status display.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The voice pipeline uses 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-IN").
	// Empty lets the provider pick its default.
	Language string

	// Keywords are vocabulary hints, such as the configured spending
	// categories, that raise recognition probability for those words.
	Keywords []KeywordBoost
}

// SessionHandle is an open recognition stream.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of int16 PCM matching StreamConfig. It must
	// not block: it is called from the capture hot path. Implementations drop
	// audio they cannot queue. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session and releases its connection without
	// waiting on the remote end. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming recognition session. The caller owns
	// the returned handle and must Close it.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
