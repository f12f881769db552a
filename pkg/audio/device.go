package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned when the operating system refuses access
	// to the capture device.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable is returned when no usable capture or playback
	// device exists, or the device disappears mid-stream.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// Source acquires a capture device. Each successful Open holds the device
// exclusively until the returned stream is closed.
type Source interface {
	// Open acquires the device. Errors wrap [ErrPermissionDenied] or
	// [ErrDeviceUnavailable] when the cause is known.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture handle producing interleaved float samples in
// [-1, 1] (values outside the range are clamped on quantization).
type Stream interface {
	// Format reports the device sample rate and channel count.
	Format() Format

	// Read fills p with samples and returns how many were written. It returns
	// an error once the device stops delivering audio, including after Close.
	Read(p []float32) (int, error)

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Output is a playback device with a monotonically advancing clock. Buffers
// are scheduled at absolute positions on that clock, the way an audio graph
// schedules source nodes.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Start schedules mono float samples to begin playing at the given clock
	// position (or immediately, if it is already in the past). ended is called
	// exactly once when the buffer finishes, unless the voice is stopped first.
	// ended is never invoked from within Start.
	Start(samples []float32, at time.Duration, ended func()) Voice
}

// Acquirer is implemented by outputs that hold their playback device only
// while a session owns it. Acquire starts the device; Release stops it
// without waiting for buffers to finish. Buffers scheduled while released
// wait until the next Acquire. Both are idempotent.
type Acquirer interface {
	Acquire(ctx context.Context) error
	Release()
}

// Voice is one scheduled buffer on an [Output].
type Voice interface {
	// Stop silences the buffer immediately. ended will not be called after
	// Stop returns.
	Stop()
}
