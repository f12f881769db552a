package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/nivest/internal/observe"
	"github.com/MrWong99/nivest/pkg/audio"
	"github.com/MrWong99/nivest/pkg/audio/capture"
	"github.com/MrWong99/nivest/pkg/audio/playback"
	"github.com/MrWong99/nivest/pkg/provider/stt"
	"github.com/MrWong99/nivest/pkg/provider/tts"
	"github.com/MrWong99/nivest/pkg/speech"
	"github.com/MrWong99/nivest/pkg/transport"
)

// DefaultResponseTimeout bounds the wait between a finalized utterance and
// its response.
const DefaultResponseTimeout = 30 * time.Second

// Config holds the collaborators of an [Assistant].
type Config struct {
	// Endpoint is the voice bot URL. Default: [transport.DefaultEndpoint].
	Endpoint string

	// Dial creates the connection for a new session. Default: [transport.New].
	Dial func(endpoint string) Conn

	// Source is the capture device. Without one, only SubmitText works.
	Source audio.Source

	// Output is the playback device. Required. An output that also
	// implements [audio.Acquirer] is held only while a session is alive.
	Output audio.Output

	// FrameSamples is the capture frame size. Default: [audio.FrameSamples].
	FrameSamples int

	// Strategy selects the responder. Default: [StrategyDispatch].
	Strategy Strategy

	// Responder answers utterances under [StrategyDispatch] and manual text
	// submitted while idle.
	Responder Responder

	// STT, if set, recognizes the captured audio locally. Its finals end the
	// listening phase.
	STT      stt.Provider
	Language string
	Keywords []stt.KeywordBoost

	// TTS, if set, speaks text responses through the playback scheduler.
	TTS   tts.Provider
	Voice tts.VoiceProfile

	// Speaker is the local fallback when TTS is missing or fails.
	Speaker speech.Speaker

	// KeepOpen returns the session to listening after each response instead
	// of ending it.
	KeepOpen bool

	// ResponseTimeout ends the session with [ErrResponseTimeout] when no
	// response arrives in time. Default: [DefaultResponseTimeout].
	ResponseTimeout time.Duration
}

// Option configures an [Assistant].
type Option func(*Assistant)

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(a *Assistant) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// Assistant is the voice controller for one surface. At most one [Session]
// is alive at a time. All methods are safe for concurrent use.
type Assistant struct {
	cfg       Config
	sched     *playback.Scheduler
	observers []Observer
	metrics   *observe.Metrics

	mu           sync.Mutex
	state        State
	sess         *Session
	lastID       string
	lastErr      error
	lastResponse string
	events       []func()

	// Observer delivery queue. Events enter it under mu, so queue order is
	// state order; whichever goroutine finds it idle drains it unlocked.
	qmu      sync.Mutex
	queue    []func()
	draining bool
}

// New validates cfg and returns an idle Assistant.
func New(cfg Config, opts ...Option) (*Assistant, error) {
	var errs []error
	if cfg.Output == nil {
		errs = append(errs, errors.New("voice: output is required"))
	}
	switch cfg.Strategy {
	case "":
		cfg.Strategy = StrategyDispatch
	case StrategyDispatch, StrategyBot:
	default:
		errs = append(errs, fmt.Errorf("voice: unknown strategy %q", cfg.Strategy))
	}
	if cfg.Strategy == StrategyDispatch && cfg.Responder == nil {
		errs = append(errs, errors.New("voice: dispatch strategy requires a responder"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = transport.DefaultEndpoint
	}
	if cfg.Dial == nil {
		cfg.Dial = func(endpoint string) Conn { return transport.New(endpoint) }
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = audio.FrameSamples
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}

	a := &Assistant{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.sched = playback.New(cfg.Output, playback.WithOnIdle(a.playbackIdle))
	return a, nil
}

// ── Controls ────────────────────────────────────────────────────────────────

// Start opens a voice session. It returns once the session is connecting;
// the connection, capture and recognizer come up in the background and
// failures surface as the error state. Start is a no-op while a session is
// active.
func (a *Assistant) Start(ctx context.Context) error {
	a.lock()
	defer a.unlock()
	a.startLocked(ctx)
	return nil
}

// Stop ends the session synchronously: playback is flushed, the connection
// closed and the capture device released before Stop returns. Stop from idle
// is a no-op; from error it clears the error.
func (a *Assistant) Stop() {
	a.lock()
	defer a.unlock()
	a.stopLocked()
}

// Toggle starts a session when none is active and stops the active one
// otherwise. It reports whether a session is active afterwards.
func (a *Assistant) Toggle(ctx context.Context) bool {
	a.lock()
	defer a.unlock()
	if a.state.Active() {
		a.stopLocked()
		return false
	}
	a.startLocked(ctx)
	return true
}

// SubmitText is the manual input path. While listening it replaces the
// spoken utterance; while idle it runs a one-off text exchange through the
// [Responder] without opening a connection. It waits for the response text,
// not for playback, and returns [ErrBusy] while another exchange runs.
func (a *Assistant) SubmitText(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}

	a.lock()
	var cyc *cycle
	switch {
	case a.acceptsUtteranceLocked():
		cyc = a.beginCycleLocked(a.sess, text)
	case !a.state.Active():
		if a.cfg.Responder == nil {
			a.unlock()
			return "", ErrNoResponder
		}
		sess := a.newSessionLocked(ctx, true)
		if err := a.acquireOutputLocked(sess); err != nil {
			observe.Logger(sess.ctx).Warn("voice: playback unavailable for manual input", "err", err)
		}
		cyc = a.beginCycleLocked(sess, text)
	default:
		a.unlock()
		return "", ErrBusy
	}
	a.unlock()

	select {
	case <-cyc.answered:
		return cyc.answer, cyc.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Status returns a snapshot of the assistant.
func (a *Assistant) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{
		State:        a.state,
		SessionID:    a.lastID,
		Strategy:     a.cfg.Strategy,
		KeepOpen:     a.cfg.KeepOpen,
		LastResponse: a.lastResponse,
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	return st
}

// State returns the current state.
func (a *Assistant) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ── Locking and events ──────────────────────────────────────────────────────

func (a *Assistant) lock() { a.mu.Lock() }

// unlock releases the lock and delivers the events queued while it was held.
func (a *Assistant) unlock() {
	if len(a.events) > 0 {
		a.qmu.Lock()
		a.queue = append(a.queue, a.events...)
		a.qmu.Unlock()
		a.events = nil
	}
	a.mu.Unlock()
	a.drain()
}

func (a *Assistant) drain() {
	a.qmu.Lock()
	if a.draining {
		a.qmu.Unlock()
		return
	}
	a.draining = true
	for len(a.queue) > 0 {
		e := a.queue[0]
		a.queue = a.queue[1:]
		a.qmu.Unlock()
		e()
		a.qmu.Lock()
	}
	a.draining = false
	a.qmu.Unlock()
}

func (a *Assistant) emit(fn func(Observer)) {
	if len(a.observers) == 0 {
		return
	}
	a.events = append(a.events, func() {
		for _, o := range a.observers {
			fn(o)
		}
	})
}

func (a *Assistant) setStateLocked(s State) {
	if a.state == s {
		return
	}
	slog.Debug("voice: state", "from", a.state, "to", s, "session_id", a.lastID)
	a.state = s
	a.emit(func(o Observer) { o.OnState(s) })
}

// current reports whether sess is still the live session.
func (a *Assistant) current(sess *Session) bool {
	return sess != nil && a.sess == sess
}

// currentCycle reports whether cyc is the live exchange of sess.
func (a *Assistant) currentCycle(sess *Session, cyc *cycle) bool {
	return a.current(sess) && sess.cycle == cyc
}

// ── Lifecycle ───────────────────────────────────────────────────────────────

func (a *Assistant) newSessionLocked(ctx context.Context, manual bool) *Session {
	id := uuid.NewString()
	sctx, cancel := context.WithCancel(observe.WithSessionID(context.WithoutCancel(ctx), id))
	sess := &Session{id: id, manual: manual, ctx: sctx, cancel: cancel}
	a.sess = sess
	a.lastID = id
	a.lastErr = nil
	a.metrics.ActiveSessions.Add(sctx, 1)
	return sess
}

func (a *Assistant) startLocked(ctx context.Context) {
	if a.state.Active() {
		return
	}
	sess := a.newSessionLocked(ctx, false)
	sess.conn = a.cfg.Dial(a.cfg.Endpoint)
	if a.cfg.Source != nil {
		sess.capture = capture.New(a.cfg.Source, capture.WithFrameSamples(a.cfg.FrameSamples))
	}
	observe.Logger(sess.ctx).Info("voice: session starting", "endpoint", a.cfg.Endpoint, "strategy", a.cfg.Strategy)
	a.setStateLocked(Connecting)
	if err := a.acquireOutputLocked(sess); err != nil {
		a.failLocked(err)
		return
	}
	go a.connect(sess)
}

func (a *Assistant) stopLocked() {
	if a.sess == nil && a.state == Idle {
		return
	}
	a.teardownLocked(ErrStopped)
	a.lastErr = nil
	a.setStateLocked(Idle)
}

func (a *Assistant) connect(sess *Session) {
	start := time.Now()
	err := sess.conn.Connect(sess.ctx)

	a.lock()
	defer a.unlock()
	if !a.current(sess) {
		return
	}
	if err != nil {
		if !errors.Is(err, ErrConnectFailed) {
			err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		}
		a.failLocked(fmt.Errorf("voice: connect: %w", err))
		return
	}
	a.metrics.ConnectDuration.Record(sess.ctx, time.Since(start).Seconds())

	a.setStateLocked(Listening)
	go a.receive(sess)
	if err := a.startListeningLocked(sess); err != nil {
		a.failLocked(err)
	}
}

// teardownLocked releases every resource of the live session. The session
// stays unusable afterwards; callbacks holding it see a stale session.
func (a *Assistant) teardownLocked(reason error) {
	sess := a.sess
	if sess == nil {
		return
	}
	a.sess = nil
	a.sched.Flush()
	a.releaseOutputLocked(sess)
	if sess.cycle != nil {
		sess.cycle.end(reason)
		sess.cycle = nil
	}
	a.stopListeningLocked(sess)
	sess.cancel()
	if sess.conn != nil {
		stats := sess.conn.Stats()
		a.metrics.FramesSent.Add(sess.ctx, stats.FramesSent)
		a.metrics.FramesDropped.Add(sess.ctx, stats.FramesDropped)
		if err := sess.conn.Close(); err != nil {
			slog.Warn("voice: close connection", "err", err)
		}
	}
	a.metrics.ActiveSessions.Add(sess.ctx, -1)
	observe.Logger(sess.ctx).Info("voice: session ended", "reason", reason)
}

// acquireOutputLocked takes the playback device for sess when the output
// holds one. Acquire only starts the device, so it is safe under the lock.
func (a *Assistant) acquireOutputLocked(sess *Session) error {
	dev, ok := a.cfg.Output.(audio.Acquirer)
	if !ok || sess.outputHeld {
		return nil
	}
	if err := dev.Acquire(sess.ctx); err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) && !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return fmt.Errorf("voice: playback: %w", err)
	}
	sess.outputHeld = true
	return nil
}

func (a *Assistant) releaseOutputLocked(sess *Session) {
	if !sess.outputHeld {
		return
	}
	a.cfg.Output.(audio.Acquirer).Release()
	sess.outputHeld = false
}

func (a *Assistant) failLocked(err error) {
	if sess := a.sess; sess != nil {
		observe.Logger(sess.ctx).Error("voice: session failed", "err", err)
	}
	a.teardownLocked(err)
	a.lastErr = err
	a.setStateLocked(Error)
	a.metrics.RecordSessionError(context.Background(), errorReason(err))
	a.emit(func(o Observer) { o.OnError(err) })
}

// ── Listening ───────────────────────────────────────────────────────────────

// startListeningLocked acquires the capture device and, when configured, a
// recognizer stream. The recognizer comes first so no captured frame misses
// it.
func (a *Assistant) startListeningLocked(sess *Session) error {
	if sess.listening {
		return nil
	}
	if sess.capture == nil {
		return fmt.Errorf("voice: capture: %w", ErrDeviceUnavailable)
	}
	lctx, cancel := context.WithCancel(sess.ctx)

	var recog stt.SessionHandle
	if a.cfg.STT != nil {
		h, err := a.cfg.STT.StartStream(lctx, stt.StreamConfig{
			SampleRate: audio.SampleRate,
			Channels:   1,
			Language:   a.cfg.Language,
			Keywords:   a.cfg.Keywords,
		})
		if err != nil {
			// Manual text input still works without a recognizer.
			observe.Logger(sess.ctx).Warn("voice: recognizer unavailable", "err", err)
			a.metrics.RecordProviderError(sess.ctx, "stt", "start_stream")
		} else {
			recog = h
		}
	}
	sess.recog = recog

	err := sess.capture.Start(lctx,
		func(f audio.AudioFrame) { a.forward(sess, recog, f) },
		func(err error) { a.captureEnded(sess, err) },
	)
	if err != nil {
		cancel()
		if recog != nil {
			_ = recog.Close()
		}
		sess.recog = nil
		return fmt.Errorf("voice: %w", err)
	}
	if recog != nil {
		go a.recognize(lctx, sess, recog)
	}
	sess.listening = true
	sess.listenCancel = cancel
	return nil
}

// stopListeningLocked releases the device synchronously, so no frame is sent
// after it returns.
func (a *Assistant) stopListeningLocked(sess *Session) {
	if !sess.listening {
		return
	}
	sess.capture.Stop()
	if sess.recog != nil {
		if err := sess.recog.Close(); err != nil {
			slog.Debug("voice: close recognizer", "err", err)
		}
		sess.recog = nil
	}
	sess.listenCancel()
	sess.listenCancel = nil
	sess.listening = false
}

// forward runs on the capture goroutine and must not take the lock.
func (a *Assistant) forward(sess *Session, recog stt.SessionHandle, f audio.AudioFrame) {
	sess.conn.Send(f.Data)
	if recog != nil {
		_ = recog.SendAudio(f.Data)
	}
}

func (a *Assistant) captureEnded(sess *Session, err error) {
	a.lock()
	defer a.unlock()
	if !a.current(sess) || !sess.listening {
		return
	}
	a.failLocked(fmt.Errorf("voice: %w", err))
}

func (a *Assistant) recognize(ctx context.Context, sess *Session, h stt.SessionHandle) {
	partials, finals := h.Partials(), h.Finals()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			slog.Debug("voice: partial transcript", "text", t.Text)
		case t, ok := <-finals:
			if !ok {
				return
			}
			if text := strings.TrimSpace(t.Text); text != "" {
				a.finalTranscript(sess, h, text)
			}
		}
	}
}

func (a *Assistant) finalTranscript(sess *Session, h stt.SessionHandle, text string) {
	a.lock()
	defer a.unlock()
	if !a.current(sess) || sess.recog != h || !a.acceptsUtteranceLocked() {
		return
	}
	a.beginCycleLocked(sess, text)
}

// acceptsUtteranceLocked reports whether a new exchange may begin: while
// listening, or while bot audio plays outside any exchange.
func (a *Assistant) acceptsUtteranceLocked() bool {
	if a.sess == nil || a.sess.manual || a.sess.cycle != nil {
		return false
	}
	return a.state == Listening || (a.state == Playing && a.sess.listening)
}

// ── Exchange ────────────────────────────────────────────────────────────────

func (a *Assistant) beginCycleLocked(sess *Session, text string) *cycle {
	a.stopListeningLocked(sess)
	a.sched.Flush()

	cyc := newCycle(sess.ctx)
	sess.cycle = cyc
	a.setStateLocked(Processing)
	a.emit(func(o Observer) { o.OnTranscript(text) })
	observe.Logger(sess.ctx).Info("voice: utterance", "text", text)

	cyc.timer = time.AfterFunc(a.cfg.ResponseTimeout, func() { a.responseTimedOut(sess, cyc) })

	if a.cfg.Strategy == StrategyBot && sess.conn != nil {
		sess.conn.SendControl(transport.Transcript(text))
	} else {
		go a.respond(sess, cyc, text)
	}
	return cyc
}

func (a *Assistant) respond(sess *Session, cyc *cycle, text string) {
	resp, err := a.cfg.Responder.Respond(cyc.ctx, text)

	a.lock()
	defer a.unlock()
	if !a.currentCycle(sess, cyc) {
		return
	}
	if err != nil {
		a.failLocked(fmt.Errorf("voice: respond: %w", err))
		return
	}
	a.responseReadyLocked(sess, cyc, resp)
}

func (a *Assistant) responseTimedOut(sess *Session, cyc *cycle) {
	a.lock()
	defer a.unlock()
	if !a.currentCycle(sess, cyc) || cyc.responded {
		return
	}
	a.failLocked(ErrResponseTimeout)
}

// responseReadyLocked decides how the response is heard: remote audio that is
// still playing is awaited, remote audio that already played finishes the
// exchange, and a text-only response is synthesized.
func (a *Assistant) responseReadyLocked(sess *Session, cyc *cycle, text string) {
	cyc.timer.Stop()
	cyc.responded = true
	cyc.resolve(text, nil)
	a.lastResponse = text
	a.emit(func(o Observer) { o.OnResponse(text) })

	switch {
	case a.sched.Busy():
		a.setStateLocked(Playing)
	case cyc.audioSeen || strings.TrimSpace(text) == "":
		a.finishCycleLocked(sess)
	default:
		a.setStateLocked(Playing)
		cyc.synthesizing = true
		go a.synthesize(sess, cyc, text)
	}
}

// finishCycleLocked closes the exchange and either resumes listening or ends
// the session.
func (a *Assistant) finishCycleLocked(sess *Session) {
	if cyc := sess.cycle; cyc != nil {
		cyc.end(nil)
		sess.cycle = nil
	}
	if a.cfg.KeepOpen && !sess.manual {
		if err := a.startListeningLocked(sess); err != nil {
			a.failLocked(err)
			return
		}
		a.setStateLocked(Listening)
		return
	}
	a.teardownLocked(nil)
	a.setStateLocked(Idle)
}

func (a *Assistant) playbackIdle() {
	a.lock()
	defer a.unlock()
	sess := a.sess
	if sess == nil || a.state != Playing {
		return
	}
	cyc := sess.cycle
	if cyc == nil {
		// Unprompted bot audio: no exchange ended, so the session keeps
		// listening whatever the keep-open setting.
		if sess.listening {
			a.setStateLocked(Listening)
			return
		}
		a.finishCycleLocked(sess)
		return
	}
	if !cyc.responded || cyc.synthesizing {
		return
	}
	a.finishCycleLocked(sess)
}

// ── Synthesis ───────────────────────────────────────────────────────────────

func (a *Assistant) synthesize(sess *Session, cyc *cycle, text string) {
	if !a.speakRemote(sess, cyc, text) {
		a.speakLocal(sess, cyc, text)
	}

	a.lock()
	defer a.unlock()
	if !a.currentCycle(sess, cyc) {
		return
	}
	cyc.synthesizing = false
	if !a.sched.Busy() {
		a.finishCycleLocked(sess)
	}
}

// speakRemote streams the response through the TTS provider into the
// playback scheduler. It reports whether any audio was produced.
func (a *Assistant) speakRemote(sess *Session, cyc *cycle, text string) bool {
	if a.cfg.TTS == nil {
		return false
	}
	log := observe.Logger(sess.ctx)
	start := time.Now()
	ch, err := a.cfg.TTS.SynthesizeStream(cyc.ctx, tts.Text(text), a.cfg.Voice)
	if err != nil {
		if cyc.ctx.Err() == nil {
			log.Warn("voice: remote synthesis failed, using local speech", "err", fmt.Errorf("%w: %w", ErrSynthesisFailure, err))
			a.metrics.RecordProviderError(sess.ctx, a.cfg.Voice.Provider, "tts")
		}
		return false
	}

	format := a.cfg.TTS.Format()
	chunks := 0
	for pcm := range ch {
		if chunks == 0 {
			a.metrics.SynthesisDuration.Record(sess.ctx, time.Since(start).Seconds())
		}
		chunks++
		pcm = toPipeline(pcm, format)

		a.lock()
		if a.currentCycle(sess, cyc) && len(pcm) > 0 {
			a.sched.Enqueue(pcm)
		}
		a.unlock()
	}
	if chunks == 0 && cyc.ctx.Err() == nil {
		log.Warn("voice: remote synthesis produced no audio, using local speech",
			"err", fmt.Errorf("%w: %w", ErrSynthesisFailure, tts.ErrNoAudio))
		a.metrics.RecordProviderError(sess.ctx, a.cfg.Voice.Provider, "tts")
		return false
	}
	return chunks > 0
}

// speakLocal runs the device-local synthesizer. Remote playback is flushed
// and the playback device handed back for the duration, and inbound remote
// audio cancels it, so the two never overlap.
func (a *Assistant) speakLocal(sess *Session, cyc *cycle, text string) {
	if a.cfg.Speaker == nil {
		return
	}
	a.lock()
	if !a.currentCycle(sess, cyc) {
		a.unlock()
		return
	}
	a.sched.Flush()
	a.releaseOutputLocked(sess)
	ctx, cancel := context.WithCancel(cyc.ctx)
	cyc.speechCancel = cancel
	a.unlock()

	err := a.cfg.Speaker.Speak(ctx, text)
	if err != nil && ctx.Err() == nil {
		slog.Warn("voice: local speech failed", "err", err)
	}
	cancel()

	a.lock()
	if a.current(sess) {
		if a.currentCycle(sess, cyc) {
			cyc.speechCancel = nil
		}
		if err := a.acquireOutputLocked(sess); err != nil {
			observe.Logger(sess.ctx).Warn("voice: reacquire playback", "err", err)
		}
	}
	a.unlock()
}

// toPipeline converts synthesized PCM to 16 kHz mono.
func toPipeline(pcm []byte, f audio.Format) []byte {
	if f.Channels > 1 {
		pcm = audio.Downmix16(pcm, f.Channels)
	}
	return audio.Resample16(pcm, 1, f.SampleRate, audio.SampleRate)
}

// ── Inbound ─────────────────────────────────────────────────────────────────

func (a *Assistant) receive(sess *Session) {
	for c := range sess.conn.Chunks() {
		a.metrics.RecordChunk(sess.ctx, c.Kind.String())
		a.handleChunk(sess, c)
	}
	a.connectionEnded(sess)
}

func (a *Assistant) handleChunk(sess *Session, c transport.Chunk) {
	a.lock()
	defer a.unlock()
	if !a.current(sess) {
		return
	}
	cyc := sess.cycle

	switch c.Kind {
	case transport.ChunkAudio:
		if len(c.Audio) == 0 {
			return
		}
		if cyc != nil {
			cyc.audioSeen = true
			if cyc.speechCancel != nil {
				cyc.speechCancel()
				cyc.speechCancel = nil
			}
		}
		a.sched.Enqueue(c.Audio)
		if a.state == Listening {
			a.setStateLocked(Playing)
		}

	case transport.ChunkText:
		if cyc != nil && !cyc.responded {
			cyc.text.WriteString(c.Text)
		}
		fragment := c.Text
		a.emit(func(o Observer) { o.OnText(fragment) })

	case transport.ChunkDone:
		if cyc != nil && !cyc.responded && a.cfg.Strategy == StrategyBot {
			a.responseReadyLocked(sess, cyc, cyc.text.String())
		}

	case transport.ChunkError:
		a.failLocked(fmt.Errorf("%w: bot error: %s", ErrTransport, c.Text))
	}
}

func (a *Assistant) connectionEnded(sess *Session) {
	a.lock()
	defer a.unlock()
	if !a.current(sess) {
		return
	}
	err := sess.conn.Err()
	if err == nil {
		err = fmt.Errorf("%w: connection closed", ErrTransport)
	}
	a.failLocked(fmt.Errorf("voice: %w", err))
}
