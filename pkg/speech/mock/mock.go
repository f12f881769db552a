// Package mock provides a test double for the speech.Speaker interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/nivest/pkg/speech"
)

// Speaker is a mock implementation of speech.Speaker.
//
// When Block is true, Speak waits until Release is called or ctx is
// cancelled, which lets tests observe the speaking phase.
type Speaker struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Speak.
	Err error

	// Block makes Speak wait for Release or cancellation.
	Block bool

	// Texts records every utterance.
	Texts []string

	// Cancelled counts calls that ended through ctx cancellation.
	Cancelled int

	release chan struct{}
}

// Speak records the call and returns Err.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.Texts = append(s.Texts, text)
	block := s.Block
	if block && s.release == nil {
		s.release = make(chan struct{})
	}
	release, err := s.release, s.Err
	s.mu.Unlock()

	if !block {
		return err
	}
	select {
	case <-release:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		s.Cancelled++
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Release unblocks every pending and future Speak call.
func (s *Speaker) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = make(chan struct{})
	}
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

// Spoken returns a copy of Texts. Thread-safe.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Texts...)
}

// CancelCount returns Cancelled. Thread-safe.
func (s *Speaker) CancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Cancelled
}

var _ speech.Speaker = (*Speaker)(nil)
