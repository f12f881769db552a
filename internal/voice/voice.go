// Package voice implements the voice session state machine: one [Assistant]
// per user-facing surface drives capture, the bot connection, recognition,
// the responder and playback through a single authoritative state.
//
//	idle, error  ──Start──────────────────────────▶ connecting
//	connecting   ──connected──────────────────────▶ listening
//	listening    ──final transcript, SubmitText───▶ processing
//	listening    ──inbound bot audio──────────────▶ playing
//	processing   ──response ready─────────────────▶ playing
//	playing      ──playback done──────────────────▶ listening (keep-open) or idle
//	active       ──transport loss, bot error──────▶ error
//	any          ──Stop───────────────────────────▶ idle
//
// Every asynchronous callback (connect result, inbound chunk, recognizer
// final, responder result, playback idle, timeout) re-checks that the
// [Session] it belongs to is still current before touching state, so events
// from a torn-down session are dropped. Stop tears everything down
// synchronously and never waits on a goroutine that needs the assistant's
// lock.
package voice

import (
	"context"
	"errors"

	"github.com/MrWong99/nivest/pkg/audio"
	"github.com/MrWong99/nivest/pkg/transport"
)

// State is the session phase.
type State int

const (
	Idle State = iota
	Connecting
	Listening
	Processing
	Playing
	Error
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Playing:
		return "playing"
	case Error:
		return "error"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether a session holds resources in this state.
func (s State) Active() bool {
	return s != Idle && s != Error
}

// Terminal session errors. The capture and transport sentinels are the
// underlying packages' own values so errors.Is matches either name.
var (
	ErrPermissionDenied  = audio.ErrPermissionDenied
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
	ErrConnectFailed     = transport.ErrConnectFailed
	ErrTransport         = transport.ErrTransport
	ErrResponseTimeout   = errors.New("voice: response timeout")
)

// ErrSynthesisFailure is logged when remote synthesis fails; the session
// falls back to local speech instead of failing.
var ErrSynthesisFailure = errors.New("voice: synthesis failed")

// Control errors returned to callers without changing state.
var (
	ErrBusy        = errors.New("voice: busy with another request")
	ErrEmptyText   = errors.New("voice: empty text")
	ErrNoResponder = errors.New("voice: no responder configured")
	ErrStopped     = errors.New("voice: session stopped")
)

// Strategy selects how a finalized utterance becomes a response. It is fixed
// per deployment.
type Strategy string

const (
	// StrategyDispatch hands the utterance to the local [Responder].
	StrategyDispatch Strategy = "dispatch"

	// StrategyBot sends the utterance to the voice bot as a transcript
	// control message and collects the streamed text until done.
	StrategyBot Strategy = "bot"
)

// Responder turns a finalized utterance into response text.
type Responder interface {
	Respond(ctx context.Context, transcript string) (string, error)
}

// ResponderFunc adapts a function to [Responder].
type ResponderFunc func(ctx context.Context, transcript string) (string, error)

// Respond calls f.
func (f ResponderFunc) Respond(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

// Conn is the bot connection a session owns. [transport.Session] is the
// production implementation.
type Conn interface {
	Connect(ctx context.Context) error
	Send(frame []byte)
	SendControl(msg transport.Control)
	Chunks() <-chan transport.Chunk
	Err() error
	Stats() transport.Stats
	Close() error
}

var _ Conn = (*transport.Session)(nil)

// Observer receives session events in the order they happen, one at a time.
// A callback may run on a goroutine other than the one that caused the event
// and may call back into the Assistant.
type Observer interface {
	OnState(State)
	OnTranscript(text string)
	OnText(fragment string)
	OnResponse(text string)
	OnError(err error)
}

// ObserverFuncs adapts optional functions to [Observer]. Nil fields are
// skipped.
type ObserverFuncs struct {
	State      func(State)
	Transcript func(string)
	Text       func(string)
	Response   func(string)
	Error      func(error)
}

func (o ObserverFuncs) OnState(s State) {
	if o.State != nil {
		o.State(s)
	}
}

func (o ObserverFuncs) OnTranscript(text string) {
	if o.Transcript != nil {
		o.Transcript(text)
	}
}

func (o ObserverFuncs) OnText(fragment string) {
	if o.Text != nil {
		o.Text(fragment)
	}
}

func (o ObserverFuncs) OnResponse(text string) {
	if o.Response != nil {
		o.Response(text)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Status is a point-in-time view of an [Assistant].
type Status struct {
	State        State    `json:"state"`
	SessionID    string   `json:"sessionId,omitempty"`
	Strategy     Strategy `json:"strategy"`
	KeepOpen     bool     `json:"keepOpen"`
	LastError    string   `json:"lastError,omitempty"`
	LastResponse string   `json:"lastResponse,omitempty"`
}

// errorReason classifies a terminal error for metrics.
func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrResponseTimeout):
		return "response_timeout"
	}
	return "other"
}
