package stt

import "time"

// Transcript is a recognition result. Partial and final results share this
// type; IsFinal distinguishes them.
type Transcript struct {
	// Text is the recognized speech.
	Text string

	// IsFinal reports that the provider will not revise this utterance again.
	IsFinal bool

	// Confidence is the overall score in [0, 1], or zero when not reported.
	Confidence float64

	// Duration is the length of the utterance when the provider reports it.
	Duration time.Duration
}

// KeywordBoost is a recognition hint.
type KeywordBoost struct {
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}
