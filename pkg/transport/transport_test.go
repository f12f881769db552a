package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/nivest/pkg/transport"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startBotServer launches a fake voice bot. handler runs once per accepted
// connection; accepts counts handshakes.
func startBotServer(t *testing.T, handler func(conn *websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	accepts := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		accepts.Add(1)
		defer conn.CloseNow()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, accepts
}

func connect(t *testing.T, srv *httptest.Server) *transport.Session {
	t.Helper()
	s := transport.New(wsURL(srv))
	t.Cleanup(func() { s.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func collect(t *testing.T, ch <-chan transport.Chunk, n int) []transport.Chunk {
	t.Helper()
	var out []transport.Chunk
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case c, ok := <-ch:
			if !ok {
				t.Fatalf("chunk channel closed after %d chunks, want %d", len(out), n)
			}
			out = append(out, c)
		case <-timeout:
			t.Fatalf("timed out after %d chunks, want %d", len(out), n)
		}
	}
	return out
}

func waitClosed(t *testing.T, ch <-chan transport.Chunk) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("chunk channel not closed")
		}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestSession_SendPreservesOrder(t *testing.T) {
	t.Parallel()
	type frame struct {
		typ  websocket.MessageType
		data string
	}
	got := make(chan frame, 16)
	srv, _ := startBotServer(t, func(conn *websocket.Conn) {
		for {
			typ, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			got <- frame{typ, string(data)}
		}
	})
	s := connect(t, srv)

	s.Send([]byte{1, 2})
	s.Send([]byte{3, 4})
	s.SendControl(transport.Transcript("spent 500 on food"))
	s.Send([]byte{5, 6})

	want := []frame{
		{websocket.MessageBinary, "\x01\x02"},
		{websocket.MessageBinary, "\x03\x04"},
		{websocket.MessageText, `{"type":"transcript","text":"spent 500 on food"}`},
		{websocket.MessageBinary, "\x05\x06"},
	}
	for i, w := range want {
		select {
		case f := <-got:
			if f != w {
				t.Errorf("frame %d = %+v, want %+v", i, f, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
	if st := s.Stats(); st.FramesSent != 3 {
		t.Errorf("FramesSent = %d, want 3", st.FramesSent)
	}
}

func TestSession_InboundChunksInArrivalOrder(t *testing.T) {
	t.Parallel()
	srv, _ := startBotServer(t, func(conn *websocket.Conn) {
		ctx := context.Background()
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x10, 0x00})
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"chunk","chunk":"Added "}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"heartbeat"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`expense`))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x20, 0x00})
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"done"}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"type":"error","reason":"overloaded"}`))
		<-time.After(time.Second)
	})
	s := connect(t, srv)

	chunks := collect(t, s.Chunks(), 6)
	kinds := []transport.ChunkKind{
		transport.ChunkAudio, transport.ChunkText, transport.ChunkText,
		transport.ChunkAudio, transport.ChunkDone, transport.ChunkError,
	}
	for i, k := range kinds {
		if chunks[i].Kind != k {
			t.Errorf("chunk %d kind = %v, want %v", i, chunks[i].Kind, k)
		}
	}
	if chunks[0].Audio[0] != 0x10 || chunks[3].Audio[0] != 0x20 {
		t.Error("audio chunks out of order")
	}
	if chunks[1].Text+chunks[2].Text != "Added expense" {
		t.Errorf("text = %q", chunks[1].Text+chunks[2].Text)
	}
	if chunks[5].Text != "overloaded" {
		t.Errorf("error reason = %q", chunks[5].Text)
	}
}

func TestSession_ConcurrentConnectSharesOneSocket(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv, accepts := startBotServer(t, func(conn *websocket.Conn) {
		<-release
	})
	defer close(release)

	s := transport.New(wsURL(srv))
	defer s.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect when connected: %v", err)
	}
	if n := accepts.Load(); n != 1 {
		t.Errorf("server accepted %d sockets, want 1", n)
	}
}

func TestSession_SendBeforeConnectIsNoop(t *testing.T) {
	t.Parallel()
	s := transport.New("ws://127.0.0.1:1/ws")
	s.Send([]byte{1, 2})
	s.SendControl(transport.Transcript("hi"))
	if st := s.Stats(); st.FramesSent != 0 || st.FramesDropped != 0 {
		t.Errorf("stats = %+v, want zero", st)
	}
	if s.Connected() {
		t.Error("Connected = true before Connect")
	}
	s.Close()
}

func TestSession_ConnectFailed(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	s := transport.New(url, transport.WithDialTimeout(time.Second))
	defer s.Close()
	err := s.Connect(context.Background())
	if !errors.Is(err, transport.ErrConnectFailed) {
		t.Fatalf("Connect err = %v, want ErrConnectFailed", err)
	}
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv, _ := startBotServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.Read(context.Background())
	})
	s := connect(t, srv)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	waitClosed(t, s.Chunks())
	if s.Err() != nil {
		t.Errorf("Err after local close = %v, want nil", s.Err())
	}
	if err := s.Connect(context.Background()); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Connect after Close = %v, want ErrClosed", err)
	}
	s.Send([]byte{1}) // must not panic
}

func TestSession_CloseBeforeConnectClosesChunks(t *testing.T) {
	t.Parallel()
	s := transport.New(transport.DefaultEndpoint)
	s.Close()
	waitClosed(t, s.Chunks())
}

func TestSession_PeerCloseIsAnError(t *testing.T) {
	t.Parallel()
	srv, _ := startBotServer(t, func(conn *websocket.Conn) {
		conn.Close(websocket.StatusGoingAway, "bye")
	})
	s := connect(t, srv)

	waitClosed(t, s.Chunks())
	if err := s.Err(); !errors.Is(err, transport.ErrTransport) {
		t.Fatalf("Err = %v, want ErrTransport", err)
	}
	if s.Connected() {
		t.Error("Connected = true after peer close")
	}
	if err := s.Connect(context.Background()); !errors.Is(err, transport.ErrTransport) {
		t.Errorf("Connect after loss = %v, want the loss error (no silent reconnect)", err)
	}
}

func TestSession_ControlMessageShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(transport.Transcript("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"transcript","text":"hello"}` {
		t.Errorf("control = %s", data)
	}
}
