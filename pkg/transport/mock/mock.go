// Package mock provides an in-memory stand-in for [transport.Session].
//
// A Session records every outbound frame and control message and lets the
// test script the bot side: Push delivers inbound chunks in order, Fail ends
// the connection as if the peer dropped it. Connect can be made to fail or to
// wait until the test releases it.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/nivest/pkg/transport"
)

// Session is a scripted voice-bot connection. Create it with [NewSession].
type Session struct {
	mu sync.Mutex

	// ConnectErr, if non-nil, is returned by Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect wait until it is closed or ctx ends.
	Gate chan struct{}

	// Frames and Controls record outbound traffic sent while connected.
	Frames   [][]byte
	Controls []transport.Control

	// ConnectCalls and CloseCalls count method invocations.
	ConnectCalls int
	CloseCalls   int

	connected bool
	closed    bool
	ended     bool
	err       error
	dropped   int64
	chunks    chan transport.Chunk
}

// NewSession returns an unconnected session with a generous inbound buffer.
func NewSession() *Session {
	return &Session{chunks: make(chan transport.Chunk, 256)}
}

// Connect implements the transport contract.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.ConnectCalls++
	gate, cerr := s.Gate, s.ConnectErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", transport.ErrConnectFailed, ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return transport.ErrClosed
	case cerr != nil:
		return cerr
	}
	s.connected = true
	return nil
}

// Send records the frame when connected.
func (s *Session) Send(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.closed || s.ended {
		s.dropped++
		return
	}
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
}

// SendControl records the message when connected.
func (s *Session) SendControl(msg transport.Control) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected || s.closed || s.ended {
		return
	}
	s.Controls = append(s.Controls, msg)
}

// Chunks returns the inbound stream.
func (s *Session) Chunks() <-chan transport.Chunk { return s.chunks }

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats reports the recorded traffic.
func (s *Session) Stats() transport.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transport.Stats{FramesSent: int64(len(s.Frames)), FramesDropped: s.dropped}
}

// Close ends the session. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	s.closed = true
	s.endLocked()
	return nil
}

// Push delivers an inbound chunk. It reports false once the session ended.
func (s *Session) Push(c transport.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.chunks <- c
	return true
}

// PushAudio delivers a binary speech chunk.
func (s *Session) PushAudio(pcm []byte) bool {
	return s.Push(transport.Chunk{Kind: transport.ChunkAudio, Audio: pcm})
}

// PushText delivers a text fragment.
func (s *Session) PushText(text string) bool {
	return s.Push(transport.Chunk{Kind: transport.ChunkText, Text: text})
}

// PushDone marks the end of a text response.
func (s *Session) PushDone() bool {
	return s.Push(transport.Chunk{Kind: transport.ChunkDone})
}

// Fail ends the connection as the peer would, wrapping err in
// [transport.ErrTransport].
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.err = fmt.Errorf("%w: %w", transport.ErrTransport, err)
	s.endLocked()
}

// Connected reports whether Connect succeeded and the session has not ended.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected && !s.ended
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentFrames returns the number of recorded binary frames. Thread-safe.
func (s *Session) SentFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// SentControls returns a copy of Controls. Thread-safe.
func (s *Session) SentControls() []transport.Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Control(nil), s.Controls...)
}

func (s *Session) endLocked() {
	if !s.ended {
		s.ended = true
		close(s.chunks)
	}
}
