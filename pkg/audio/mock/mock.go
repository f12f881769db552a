// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Stream] for unit tests.
//
// The mocks count every acquisition and release so tests can assert that no
// device handle outlives a session:
//
//	src := &mock.Source{}
//	// ... drive a session through start/stop ...
//	if src.Opened() != src.Closed() {
//	    t.Fatal("leaked capture handle")
//	}
//
// Feed samples with [Source.Push]; a stream blocks in Read until samples
// arrive or it is closed. [Output] is a manual-clock playback device whose
// buffers finish only when the test says so; it counts acquisitions the same
// way.
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/nivest/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source]. Set OpenError to simulate acquisition
// failures such as [audio.ErrPermissionDenied].
type Source struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// StreamFormat is reported by opened streams. Defaults to 16 kHz mono.
	StreamFormat audio.Format

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	opened  int
	closed  int
	current *Stream
}

var _ audio.Source = (*Source)(nil)

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	format := s.StreamFormat
	if format.SampleRate == 0 {
		format = audio.PipelineFormat
	}
	st := &Stream{src: s, format: format, samples: make(chan []float32, 64), done: make(chan struct{})}
	s.opened++
	s.current = st
	return st, nil
}

// Opened returns how many streams were successfully acquired.
func (s *Source) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed returns how many streams were released.
func (s *Source) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Held reports whether a stream is currently open.
func (s *Source) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened > s.closed
}

// Push delivers samples to the currently open stream. It reports false when no
// stream is open.
func (s *Source) Push(samples []float32) bool {
	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	if st == nil {
		return false
	}
	return st.push(samples)
}

// End makes the current stream report io.EOF, as if the device disappeared.
func (s *Source) End() {
	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	if st != nil {
		st.end()
	}
}

func (s *Source) release(st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if s.current == st {
		s.current = nil
	}
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock [audio.Stream] fed through its parent [Source].
type Stream struct {
	src     *Source
	format  audio.Format
	samples chan []float32
	pending []float32

	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	ended bool
}

var _ audio.Stream = (*Stream)(nil)

// Format implements [audio.Stream].
func (st *Stream) Format() audio.Format { return st.format }

// Read implements [audio.Stream].
func (st *Stream) Read(p []float32) (int, error) {
	if len(st.pending) == 0 {
		select {
		case <-st.done:
			return 0, io.ErrClosedPipe
		case buf, ok := <-st.samples:
			if !ok {
				return 0, io.EOF
			}
			st.pending = buf
		}
	}
	n := copy(p, st.pending)
	st.pending = st.pending[n:]
	return n, nil
}

// Close implements [audio.Stream].
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		close(st.done)
		st.src.release(st)
	})
	return nil
}

func (st *Stream) end() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.ended {
		st.ended = true
		close(st.samples)
	}
}

func (st *Stream) push(samples []float32) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.ended {
		return false
	}
	select {
	case <-st.done:
		return false
	case st.samples <- samples:
		return true
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// Output is a mock [audio.Output]. Its clock stands still unless Advance is
// called, and started buffers finish when the test calls Finish or FinishAll,
// or right away on a separate goroutine when AutoFinish is set.
type Output struct {
	mu sync.Mutex

	// AutoFinish ends every buffer shortly after it starts.
	AutoFinish bool

	// AcquireError is returned by Acquire when non-nil.
	AcquireError error

	now      time.Duration
	voices   []*Voice
	started  int
	samples  int
	acquired int
	released int
	held     bool
}

var (
	_ audio.Output   = (*Output)(nil)
	_ audio.Acquirer = (*Output)(nil)
)

// Acquire implements [audio.Acquirer].
func (o *Output) Acquire(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.AcquireError != nil {
		return o.AcquireError
	}
	if !o.held {
		o.held = true
		o.acquired++
	}
	return nil
}

// Release implements [audio.Acquirer].
func (o *Output) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.held {
		o.held = false
		o.released++
	}
}

// Acquired returns how many times the device was taken.
func (o *Output) Acquired() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.acquired
}

// Released returns how many times the device was handed back.
func (o *Output) Released() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.released
}

// Held reports whether the device is currently acquired.
func (o *Output) Held() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held
}

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Start implements [audio.Output].
func (o *Output) Start(samples []float32, at time.Duration, ended func()) audio.Voice {
	v := &Voice{At: at, Samples: len(samples), ended: ended}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.started++
	o.samples += len(samples)
	auto := o.AutoFinish
	o.mu.Unlock()
	if auto {
		go v.finish()
	}
	return v
}

// Advance moves the clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Finish ends the oldest unfinished, unstopped buffer. It reports false when
// nothing is playing.
func (o *Output) Finish() bool {
	o.mu.Lock()
	var next *Voice
	for len(o.voices) > 0 {
		v := o.voices[0]
		o.voices = o.voices[1:]
		if v.live() {
			next = v
			break
		}
	}
	o.mu.Unlock()
	if next == nil {
		return false
	}
	next.finish()
	return true
}

// FinishAll ends buffers until none is left, including ones started by the
// completion callbacks themselves.
func (o *Output) FinishAll() {
	for o.Finish() {
	}
}

// Started returns how many buffers were started.
func (o *Output) Started() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started
}

// SamplesStarted returns the total number of samples handed to Start.
func (o *Output) SamplesStarted() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samples
}

// Playing returns how many started buffers are neither finished nor stopped.
func (o *Output) Playing() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.voices {
		if v.live() {
			n++
		}
	}
	return n
}

// Voice is one buffer started on an [Output].
type Voice struct {
	At      time.Duration
	Samples int

	mu      sync.Mutex
	ended   func()
	done    bool
	stopped bool
}

var _ audio.Voice = (*Voice)(nil)

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) live() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.done && !v.stopped
}

// finish runs the completion callback once, outside the voice lock.
func (v *Voice) finish() {
	v.mu.Lock()
	if v.done || v.stopped {
		v.mu.Unlock()
		return
	}
	v.done = true
	ended := v.ended
	v.mu.Unlock()
	if ended != nil {
		ended()
	}
}
