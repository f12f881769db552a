// Package audio defines the PCM frame type and the device abstractions shared
// by the voice pipeline: capture sources that produce float samples and
// playback outputs that render scheduled buffers against a virtual clock.
//
// All PCM flowing between components is little-endian signed 16-bit. The
// pipeline format is 16 kHz mono; devices running at other rates are converted
// at the edges with [FormatConverter].
package audio

import (
	"fmt"
	"time"
)

const (
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate = 16000

	// FrameSamples is the number of samples in one capture frame.
	FrameSamples = 4096
)

// PipelineFormat is the format every frame sent to the voice bot uses.
var PipelineFormat = Format{SampleRate: SampleRate, Channels: 1}

// AudioFrame is one buffer of int16 PCM moving through the pipeline. The
// capture unit produces one frame per [FrameSamples] samples and hands it to
// the transport; the frame is not retained after hand-off.
type AudioFrame struct {
	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return len(f.Data) / 2
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(f.Samples(), f.SampleRate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// SamplesDuration returns how long n samples last at rate Hz.
func SamplesDuration(n, rate int) time.Duration {
	if rate <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationSamples is the inverse of [SamplesDuration], rounded to the nearest
// sample.
func DurationSamples(d time.Duration, rate int) int64 {
	if rate <= 0 || d <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
