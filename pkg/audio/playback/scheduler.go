// Package playback schedules inbound speech chunks for gapless playback on an
// [audio.Output].
//
// Chunks play strictly in arrival order. Each chunk is scheduled to start at
// max(now, next), where next is the end of the previously scheduled chunk on
// the output's clock, so consecutive chunks neither overlap nor leave a gap
// when they arrive faster than they play.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/nivest/pkg/audio"
)

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithSampleRate sets the rate inbound PCM is decoded at. Default:
// [audio.SampleRate].
func WithSampleRate(rate int) Option {
	return func(s *Scheduler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithOnIdle registers a callback invoked each time the queue drains. It is
// never called with the scheduler's lock held, nor synchronously from
// [Scheduler.Enqueue] or [Scheduler.Flush], so it may call back into the
// scheduler or take the caller's own locks.
func WithOnIdle(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// Scheduled describes one chunk as it was placed on the output clock.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
}

// Scheduler is the playback queue. It is safe for concurrent use.
type Scheduler struct {
	out    audio.Output
	rate   int
	onIdle func()

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	next    time.Duration
	current audio.Voice
	epoch   uint64 // bumped by Flush; stale ended callbacks compare against it

	history []Scheduled
	record  bool
}

// New creates a scheduler playing onto out.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{out: out, rate: audio.SampleRate}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue appends a chunk of little-endian int16 PCM to the queue and starts
// draining if nothing is playing.
func (s *Scheduler) Enqueue(pcm []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, pcm)
	if s.playing {
		s.mu.Unlock()
		return
	}
	idle := s.drainLocked()
	s.mu.Unlock()
	if idle {
		s.signalIdle(true)
	}
}

// Flush drops every queued chunk, silences the chunk in flight and resets the
// cursor. Pending completion callbacks from before the flush are ignored.
// OnIdle is not signalled.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
	dropped := len(s.queue)
	s.queue = nil
	s.playing = false
	s.next = 0
	s.epoch++
	if dropped > 0 {
		slog.Debug("playback flushed", "dropped_chunks", dropped)
	}
}

// Busy reports whether a chunk is playing or queued.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing || len(s.queue) > 0
}

// Pending returns the number of chunks waiting behind the one in flight.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RecordSchedule toggles recording of every scheduled chunk's start and
// duration, for diagnostics and tests.
func (s *Scheduler) RecordSchedule(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = on
	s.history = nil
}

// Schedule returns the recorded schedule.
func (s *Scheduler) Schedule() []Scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Scheduled(nil), s.history...)
}

// drainLocked starts the head of the queue. Zero-length chunks complete
// immediately. It reports true when the queue ran dry, after resetting the
// cursor; the caller signals idle once the lock is released.
func (s *Scheduler) drainLocked() bool {
	for len(s.queue) > 0 {
		pcm := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		samples := audio.DecodePCM16(pcm)
		dur := audio.SamplesDuration(len(samples), s.rate)
		if len(samples) == 0 {
			continue
		}

		start := max(s.out.Now(), s.next)
		s.next = start + dur
		s.playing = true
		if s.record {
			s.history = append(s.history, Scheduled{Start: start, Duration: dur})
		}
		epoch := s.epoch
		var v audio.Voice
		v = s.out.Start(samples, start, func() { s.ended(epoch, &v) })
		s.current = v
		return false
	}
	s.playing = false
	s.current = nil
	s.next = 0
	return true
}

// ended advances to the next chunk when the chunk in flight completes.
func (s *Scheduler) ended(epoch uint64, v *audio.Voice) {
	s.mu.Lock()
	if epoch != s.epoch || s.current == nil || s.current != *v {
		s.mu.Unlock()
		return
	}
	s.current = nil
	idle := s.drainLocked()
	s.mu.Unlock()
	if idle {
		s.signalIdle(false)
	}
}

// signalIdle runs the idle callback. From Enqueue it runs on its own
// goroutine so callers holding their own locks cannot deadlock on it.
func (s *Scheduler) signalIdle(async bool) {
	if s.onIdle == nil {
		return
	}
	if async {
		go s.onIdle()
		return
	}
	s.onIdle()
}
