package voice

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/nivest/pkg/audio/capture"
	"github.com/MrWong99/nivest/pkg/provider/stt"
)

// Session holds the resources of one start-to-teardown run. Every field is
// owned by the [Assistant] and guarded by its lock; teardown releases each
// resource and the Session is never reused.
type Session struct {
	id     string
	manual bool // text-only run started by SubmitText from idle

	ctx    context.Context
	cancel context.CancelFunc

	conn       Conn
	capture    *capture.Unit
	outputHeld bool

	// Listening-phase resources, replaced on each keep-open restart.
	listening    bool
	listenCancel context.CancelFunc
	recog        stt.SessionHandle

	cycle *cycle
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// cycle is one request/response exchange: from a finalized utterance until
// its response has been heard. The text accumulator lives here so that it
// never outlives the exchange.
type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
	timer  *time.Timer

	text      strings.Builder
	audioSeen bool

	responded    bool
	synthesizing bool
	speechCancel context.CancelFunc

	answered chan struct{}
	answer   string
	err      error
}

func newCycle(parent context.Context) *cycle {
	ctx, cancel := context.WithCancel(parent)
	return &cycle{ctx: ctx, cancel: cancel, answered: make(chan struct{})}
}

// resolve publishes the outcome to SubmitText waiters. Only the first call
// has an effect.
func (c *cycle) resolve(answer string, err error) {
	select {
	case <-c.answered:
		return
	default:
	}
	c.answer, c.err = answer, err
	close(c.answered)
}

// end releases the cycle. Waiters that never got an answer receive reason.
func (c *cycle) end(reason error) {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.speechCancel != nil {
		c.speechCancel()
	}
	c.cancel()
	c.resolve("", reason)
}
