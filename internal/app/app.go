// Package app wires the Nivest subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the finance store, the
// command dispatch bridge, the audio devices and the voice assistant; Run
// serves the HTTP control surface until ctx is cancelled; Shutdown tears
// everything down in order. The playback device is held by the active voice
// session only.
//
// For testing, inject doubles via functional options (WithStore, WithSource,
// WithOutput, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/nivest/internal/config"
	"github.com/MrWong99/nivest/internal/dispatch"
	"github.com/MrWong99/nivest/internal/health"
	"github.com/MrWong99/nivest/internal/observe"
	"github.com/MrWong99/nivest/internal/voice"
	"github.com/MrWong99/nivest/pkg/audio"
	"github.com/MrWong99/nivest/pkg/audio/device"
	"github.com/MrWong99/nivest/pkg/finance"
	"github.com/MrWong99/nivest/pkg/finance/postgres"
	"github.com/MrWong99/nivest/pkg/provider/stt"
	"github.com/MrWong99/nivest/pkg/provider/tts"
	"github.com/MrWong99/nivest/pkg/speech"
)

// keywordBoost is the recognition boost given to configured keywords.
const keywordBoost = 2

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store     finance.Store
	bridge    *dispatch.Bridge
	source    audio.Source
	output    audio.Output
	speaker   speech.Speaker
	dial      func(endpoint string) voice.Conn
	observers []voice.Observer
	metrics   *observe.Metrics
	assistant *voice.Assistant
	checkers  []health.Checker
	handler   http.Handler
	server    *http.Server

	// ctx is the lifetime of voice sessions started over HTTP or stdin.
	ctx    context.Context
	cancel context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a finance store instead of creating one from config.
func WithStore(s finance.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSource injects the capture device instead of running the configured
// capture command.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithOutput injects the playback device instead of the configured player
// command.
func WithOutput(o audio.Output) Option {
	return func(a *App) { a.output = o }
}

// WithSpeaker injects the local speech fallback.
func WithSpeaker(s speech.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithDial overrides how voice sessions connect to the bot.
func WithDial(dial func(endpoint string) voice.Conn) Option {
	return func(a *App) { a.dial = dial }
}

// WithObserver registers a voice session observer.
func WithObserver(o voice.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, o) }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; nil slots are simply not used.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	// ── 1. Finance store ─────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.cancel()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Command dispatch ──────────────────────────────────────────────
	a.initDispatch()

	// ── 3. Audio devices ─────────────────────────────────────────────────
	a.initAudio()

	// ── 4. Voice assistant ───────────────────────────────────────────────
	if err := a.initAssistant(); err != nil {
		a.runClosers()
		a.cancel()
		return nil, fmt.Errorf("app: init voice: %w", err)
	}

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Dial("bot", cfg.Voice.Endpoint))
	a.handler = a.routes()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL when a DSN is configured and falls back
// to an in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.store = finance.NewMemStore()
		return nil
	}
	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.store = store
	a.checkers = append(a.checkers, health.Ping("postgres", store))
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initDispatch builds the dispatch bridge when a parser is configured.
func (a *App) initDispatch() {
	if a.providers.Parser == nil {
		return
	}
	v := a.cfg.Voice
	opts := []dispatch.Option{
		dispatch.WithUserPhone(v.UserPhone),
		dispatch.WithSnapshots(v.SnapshotsEnabled()),
		dispatch.WithMetrics(a.metrics),
	}
	if len(v.Categories) > 0 {
		opts = append(opts, dispatch.WithCategories(v.Categories))
	}
	a.bridge = dispatch.New(a.providers.Parser, a.store, opts...)
}

// initAudio creates the capture source, the playback device and the local
// speaker, unless they were injected. The player process only runs while a
// voice session holds the device.
func (a *App) initAudio() {
	v := a.cfg.Voice
	if a.source == nil {
		a.source = &device.ExecSource{
			Command:  v.CaptureCommand,
			Encoding: device.SampleEncoding(v.CaptureEncoding),
			Format:   audio.Format{SampleRate: v.SampleRate, Channels: 1},
		}
	}
	if a.output == nil {
		a.output = device.NewPlayer(v.PlaybackCommand)
	}
	if dev, ok := a.output.(audio.Acquirer); ok {
		a.closers = append(a.closers, func() error {
			dev.Release()
			return nil
		})
	}
	if a.speaker == nil && !a.cfg.Speech.Disabled {
		a.speaker = speech.NewExecSpeaker(a.cfg.Speech.Command)
	}
}

// initAssistant builds the voice assistant from the config and the wired
// collaborators.
func (a *App) initAssistant() error {
	v := a.cfg.Voice
	vc := voice.Config{
		Endpoint:        v.Endpoint,
		Dial:            a.dial,
		Source:          a.source,
		Output:          a.output,
		FrameSamples:    v.FrameSamples,
		Strategy:        voice.Strategy(v.Responder),
		STT:             a.providers.STT,
		Language:        v.Language,
		Keywords:        keywordBoosts(v),
		TTS:             a.providers.TTS,
		Voice:           voiceProfile(a.cfg.Providers.TTS),
		Speaker:         a.speaker,
		KeepOpen:        v.KeepOpenEnabled(),
		ResponseTimeout: v.ResponseTimeout,
	}
	if a.bridge != nil {
		vc.Responder = voice.ResponderFunc(a.bridge.Dispatch)
	}

	opts := []voice.Option{voice.WithMetrics(a.metrics), voice.WithObserver(logObserver{})}
	for _, o := range a.observers {
		opts = append(opts, voice.WithObserver(o))
	}
	assistant, err := voice.New(vc, opts...)
	if err != nil {
		return err
	}
	a.assistant = assistant
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP surface. It blocks until ctx is cancelled or the server
// fails, stopping any voice session before it returns. A cancelled ctx is not
// reported as an error.
func (a *App) Run(ctx context.Context) error {
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.assistant.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "responder", a.cfg.Voice.Responder)
	return g.Wait()
}

// Assistant returns the voice assistant, for surfaces other than HTTP.
func (a *App) Assistant() *voice.Assistant { return a.assistant }

// Context is the lifetime for voice sessions started outside HTTP requests.
func (a *App) Context() context.Context { return a.ctx }

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the voice session and closes subsystems in init order. If
// ctx expires before all closers finish, the rest are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.assistant.Stop()
		a.cancel()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// keywordBoosts returns the recognition hints: the configured keywords, or
// the category names when none are set.
func keywordBoosts(v config.VoiceConfig) []stt.KeywordBoost {
	words := v.Keywords
	if len(words) == 0 {
		words = v.Categories
	}
	if len(words) == 0 {
		return nil
	}
	out := make([]stt.KeywordBoost, len(words))
	for i, w := range words {
		out[i] = stt.KeywordBoost{Keyword: w, Boost: keywordBoost}
	}
	return out
}

func voiceProfile(e config.ProviderEntry) tts.VoiceProfile {
	return tts.VoiceProfile{ID: e.Voice, Provider: e.Name}
}

// logObserver writes session events to the default logger.
type logObserver struct{}

func (logObserver) OnState(s voice.State)    { slog.Info("voice state", "state", s) }
func (logObserver) OnTranscript(text string) { slog.Info("heard", "text", text) }
func (logObserver) OnText(string)            {}
func (logObserver) OnResponse(text string)   { slog.Info("responding", "text", text) }
func (logObserver) OnError(err error)        { slog.Warn("voice session error", "err", err) }
