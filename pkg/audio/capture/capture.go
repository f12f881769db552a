// Package capture turns a capture device into a stream of 16 kHz mono int16
// frames for the voice transport.
//
// A [Unit] holds the device only between Start and Stop. Stop is synchronous:
// when it returns the device handle is released and no further frame will be
// delivered, which lets the voice session guarantee that nothing is sent after
// an utterance is finalized.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/nivest/pkg/audio"
)

// Option configures a [Unit].
type Option func(*Unit)

// WithFrameSamples sets the number of device samples (per channel) gathered
// into one frame. Default: [audio.FrameSamples].
func WithFrameSamples(n int) Option {
	return func(u *Unit) {
		if n > 0 {
			u.frameSamples = n
		}
	}
}

// WithTargetFormat sets the format frames are delivered in. Default:
// [audio.PipelineFormat].
func WithTargetFormat(f audio.Format) Option {
	return func(u *Unit) {
		if f.SampleRate > 0 && f.Channels > 0 {
			u.target = f
		}
	}
}

// Unit is the audio capture unit. It is safe for concurrent use.
type Unit struct {
	source       audio.Source
	frameSamples int
	target       audio.Format

	mu      sync.Mutex
	stream  audio.Stream
	done    chan struct{}
	stopped *atomic.Bool
}

// New creates a capture unit over source.
func New(source audio.Source, opts ...Option) *Unit {
	u := &Unit{
		source:       source,
		frameSamples: audio.FrameSamples,
		target:       audio.PipelineFormat,
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Start acquires the device and begins delivering frames to onFrame in
// capture order. onEnd, if non-nil, is called once when the device stops on
// its own; it is never called for a Stop.
//
// Calling Start while already running is a no-op. Acquisition failures wrap
// [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable].
func (u *Unit) Start(ctx context.Context, onFrame func(audio.AudioFrame), onEnd func(error)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream != nil {
		return nil
	}

	stream, err := u.source.Open(ctx)
	if err != nil {
		if !errors.Is(err, audio.ErrPermissionDenied) && !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("capture: open device: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("capture: open device: %w", err)
	}

	stopped := &atomic.Bool{}
	done := make(chan struct{})
	u.stream = stream
	u.done = done
	u.stopped = stopped

	slog.Debug("capture started", "format", stream.Format().String(), "frame_samples", u.frameSamples)
	go u.pump(stream, stopped, done, onFrame, onEnd)
	return nil
}

// Stop releases the device and waits for the pump to exit. It is idempotent
// and safe to call when not started.
func (u *Unit) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stream == nil {
		return
	}
	u.stopped.Store(true)
	if err := u.stream.Close(); err != nil {
		slog.Warn("capture: close device", "err", err)
	}
	<-u.done
	u.stream = nil
	u.done = nil
	u.stopped = nil
	slog.Debug("capture stopped")
}

// Running reports whether the device is currently held.
func (u *Unit) Running() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stream != nil
}

// pump reads device samples, assembles frames, quantizes them and converts
// them to the target format. It owns the conversion state for one stream.
func (u *Unit) pump(stream audio.Stream, stopped *atomic.Bool, done chan struct{}, onFrame func(audio.AudioFrame), onEnd func(error)) {
	// onEnd runs after done is closed so the callback may call Stop.
	var endErr error
	defer func() {
		close(done)
		if endErr != nil && onEnd != nil {
			onEnd(endErr)
		}
	}()

	src := stream.Format()
	if src.Channels <= 0 {
		src.Channels = 1
	}
	conv := audio.FormatConverter{Target: u.target}
	frameLen := u.frameSamples * src.Channels
	buf := make([]float32, frameLen)
	fill := 0
	var captured int64 // samples per channel

	emit := func(samples []float32) {
		if stopped.Load() || len(samples) == 0 {
			return
		}
		frame := conv.Convert(audio.AudioFrame{
			Data:       audio.EncodePCM16(samples),
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
			Timestamp:  audio.SamplesDuration(int(captured), src.SampleRate),
		})
		captured += int64(len(samples) / src.Channels)
		if len(frame.Data) > 0 && onFrame != nil {
			onFrame(frame)
		}
	}

	for {
		n, err := stream.Read(buf[fill:])
		fill += n
		if fill == frameLen {
			emit(buf)
			buf = make([]float32, frameLen)
			fill = 0
		}
		if err == nil {
			continue
		}
		if stopped.Load() {
			return
		}
		// Flush the partial frame, whole channel groups only.
		emit(buf[:fill-fill%src.Channels])
		slog.Warn("capture device ended", "err", err)
		if !errors.Is(err, audio.ErrPermissionDenied) && !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		endErr = fmt.Errorf("capture: read: %w", err)
		return
	}
}
