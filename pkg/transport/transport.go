// Package transport implements the streaming connection to the remote voice
// bot.
//
// A [Session] owns one WebSocket. Outbound traffic is raw binary int16 PCM
// frames plus JSON control messages; inbound traffic is binary speech audio
// and JSON text/control messages, surfaced on a single ordered channel of
// [Chunk] values.
//
// The session never reconnects on its own. A dropped connection ends the
// session and the caller decides whether to start a new one, so a spoken
// command is never replayed behind the user's back.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/singleflight"
)

// DefaultEndpoint is the voice bot endpoint used when none is configured.
const DefaultEndpoint = "ws://localhost:8000/ws"

var (
	// ErrConnectFailed wraps dial failures.
	ErrConnectFailed = errors.New("transport: connect failed")

	// ErrTransport wraps failures of an established connection, including an
	// unexpected close by the peer.
	ErrTransport = errors.New("transport: connection lost")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("transport: session closed")
)

// Option configures a [Session].
type Option func(*Session)

// WithHeader adds HTTP headers to the WebSocket handshake.
func WithHeader(h http.Header) Option {
	return func(s *Session) { s.header = h }
}

// WithChunkBuffer sets the capacity of the inbound chunk channel. Default: 64.
func WithChunkBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.chunkBuf = n
		}
	}
}

// WithSendBuffer sets how many outbound messages may be queued before Send
// starts dropping. Default: 64.
func WithSendBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.sendBuf = n
		}
	}
}

// WithDialTimeout bounds a single connection attempt. Default: 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// Stats counts traffic on a session.
type Stats struct {
	FramesSent    int64
	FramesDropped int64
	ChunksRecv    int64
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// Session is one connection to the voice bot. It is safe for concurrent use.
type Session struct {
	endpoint    string
	header      http.Header
	chunkBuf    int
	sendBuf     int
	dialTimeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	errVal  error
	ctx     context.Context
	cancel  context.CancelFunc

	chunks    chan Chunk
	out       chan outbound
	closeOnce sync.Once

	sent, dropped, received atomic.Int64
}

// New creates an unconnected session for endpoint. An empty endpoint uses
// [DefaultEndpoint].
func New(endpoint string, opts ...Option) *Session {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	s := &Session{
		endpoint:    endpoint,
		chunkBuf:    64,
		sendBuf:     64,
		dialTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.chunks = make(chan Chunk, s.chunkBuf)
	s.out = make(chan outbound, s.sendBuf)
	return s
}

// Endpoint returns the URL this session dials.
func (s *Session) Endpoint() string { return s.endpoint }

// Connect dials the bot. It returns nil immediately when already connected,
// and concurrent calls share one in-flight attempt instead of opening a
// second socket. Failures wrap [ErrConnectFailed].
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.errVal != nil:
		err := s.errVal
		s.mu.Unlock()
		return err
	case s.conn != nil:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err, shared := s.group.Do("connect", func() (any, error) {
		return nil, s.dial(ctx)
	})
	if shared {
		slog.Debug("transport: joined in-flight connect", "endpoint", s.endpoint)
	}
	return err
}

func (s *Session) dial(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, s.endpoint, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, s.endpoint, err)
	}
	// Speech chunks can be large; the default 32 KiB read limit is too small.
	conn.SetReadLimit(8 << 20)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.CloseNow()
		return ErrClosed
	}
	s.conn = conn
	s.started = true
	s.mu.Unlock()

	slog.Info("transport: connected", "endpoint", s.endpoint)
	go s.receiveLoop(conn)
	go s.writeLoop(conn)
	return nil
}

// Connected reports whether the socket is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !s.closed && s.errVal == nil
}

// Send queues one binary PCM frame. It never blocks and is a no-op when the
// session is not connected; a full send queue drops the frame.
func (s *Session) Send(frame []byte) {
	s.enqueue(outbound{typ: websocket.MessageBinary, data: frame})
}

// SendControl queues a JSON control message with the same semantics as Send.
func (s *Session) SendControl(msg Control) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("transport: marshal control message", "err", err)
		return
	}
	s.enqueue(outbound{typ: websocket.MessageText, data: data})
}

func (s *Session) enqueue(msg outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.closed || s.errVal != nil {
		return
	}
	select {
	case s.out <- msg:
	default:
		s.dropped.Add(1)
	}
}

// Chunks returns the inbound stream. It is closed when the connection ends
// for any reason, including Close.
func (s *Session) Chunks() <-chan Chunk { return s.chunks }

// Err reports why the connection ended. It is nil while connected and after
// a local Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Stats returns traffic counters.
func (s *Session) Stats() Stats {
	return Stats{
		FramesSent:    s.sent.Load(),
		FramesDropped: s.dropped.Load(),
		ChunksRecv:    s.received.Load(),
	}
}

// Close releases the socket immediately without waiting for the peer's close
// frame. It is idempotent and safe to call before Connect or while a connect
// is in flight.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		started := s.started
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			_ = conn.CloseNow()
		}
		// The receive loop owns the chunk channel once started.
		if !started {
			close(s.chunks)
		}
	})
	return nil
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.errVal != nil {
		return
	}
	s.errVal = fmt.Errorf("%w: %w", ErrTransport, err)
}

// receiveLoop reads frames until the connection ends. It owns the chunk
// channel and closes it on exit.
func (s *Session) receiveLoop(conn *websocket.Conn) {
	defer close(s.chunks)
	defer s.cancel()

	for {
		typ, data, err := conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				if status := websocket.CloseStatus(err); status != -1 {
					err = fmt.Errorf("closed by peer (status %d)", status)
				}
				s.setErr(err)
				slog.Warn("transport: connection lost", "endpoint", s.endpoint, "err", err)
			}
			return
		}

		var c Chunk
		if typ == websocket.MessageBinary {
			c = Chunk{Kind: ChunkAudio, Audio: data}
		} else {
			var ok bool
			if c, ok = decodeText(data); !ok {
				continue
			}
		}
		s.received.Add(1)

		select {
		case s.chunks <- c:
		case <-s.ctx.Done():
			return
		}
	}
}

// writeLoop drains the outbound queue in order.
func (s *Session) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.out:
			if err := conn.Write(s.ctx, msg.typ, msg.data); err != nil {
				if s.ctx.Err() == nil {
					s.setErr(fmt.Errorf("write: %w", err))
					_ = conn.CloseNow()
				}
				return
			}
			if msg.typ == websocket.MessageBinary {
				s.sent.Add(1)
			}
		}
	}
}
