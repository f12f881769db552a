package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/nivest/internal/app"
	"github.com/MrWong99/nivest/internal/config"
	"github.com/MrWong99/nivest/internal/observe"
	"github.com/MrWong99/nivest/internal/resilience"
	"github.com/MrWong99/nivest/internal/voice"
	audiomock "github.com/MrWong99/nivest/pkg/audio/mock"
	"github.com/MrWong99/nivest/pkg/finance"
	"github.com/MrWong99/nivest/pkg/provider/parser"
	parsermock "github.com/MrWong99/nivest/pkg/provider/parser/mock"
	"github.com/MrWong99/nivest/pkg/provider/stt"
	sttmock "github.com/MrWong99/nivest/pkg/provider/stt/mock"
	"github.com/MrWong99/nivest/pkg/provider/tts"
	ttsmock "github.com/MrWong99/nivest/pkg/provider/tts/mock"
	speechmock "github.com/MrWong99/nivest/pkg/speech/mock"
	transportmock "github.com/MrWong99/nivest/pkg/transport/mock"
)

// testConfig returns a defaulted dispatch config for tests.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Voice: config.VoiceConfig{
			Endpoint:   "ws://127.0.0.1:1/ws",
			Categories: []string{"Food", "Transport", "Salary"},
		},
		Providers: config.ProvidersConfig{Parser: config.ProviderEntry{Name: "gemini"}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

type harness struct {
	app     *app.App
	store   *finance.MemStore
	parser  *parsermock.Parser
	speaker *speechmock.Speaker
	out     *audiomock.Output
	srv     *httptest.Server

	mu    sync.Mutex
	conns []*transportmock.Session
}

func newHarness(t *testing.T, cfg *config.Config, providers *app.Providers) *harness {
	t.Helper()
	h := &harness{
		store:   finance.NewMemStore(),
		speaker: &speechmock.Speaker{},
		out:     &audiomock.Output{AutoFinish: true},
	}
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	a, err := app.New(context.Background(), cfg, providers,
		app.WithStore(h.store),
		app.WithSource(&audiomock.Source{}),
		app.WithOutput(h.out),
		app.WithSpeaker(h.speaker),
		app.WithDial(h.dial),
		app.WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.app = a
	h.srv = httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		h.srv.Close()
		_ = a.Shutdown(context.Background())
	})
	return h
}

func (h *harness) dial(string) voice.Conn {
	s := transportmock.NewSession()
	h.mu.Lock()
	h.conns = append(h.conns, s)
	h.mu.Unlock()
	return s
}

func (h *harness) dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *harness) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(h.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp, decode(t, resp)
}

func (h *harness) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return body
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 3s")
}

func waitState(t *testing.T, a *voice.Assistant, want voice.State) {
	t.Helper()
	waitFor(t, func() bool { return a.State() == want })
}

// ── Providers ───────────────────────────────────────────────────────────────

func testRegistry(created *[]string) *config.Registry {
	reg := config.NewRegistry()
	record := func(kind, name string) { *created = append(*created, kind+":"+name) }
	for _, name := range []string{"gemini", "openai"} {
		reg.RegisterParser(name, func(config.ProviderEntry) (parser.Parser, error) {
			record("parser", name)
			return &parsermock.Parser{}, nil
		})
	}
	reg.RegisterParser("broken", func(config.ProviderEntry) (parser.Parser, error) {
		return nil, errors.New("missing api key")
	})
	for _, name := range []string{"openai", "elevenlabs"} {
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Provider, error) {
			record("tts", name)
			return &ttsmock.Provider{}, nil
		})
	}
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		record("stt", "deepgram")
		return &sttmock.Provider{}, nil
	})
	return reg
}

func TestBuildProviders_PrimariesOnly(t *testing.T) {
	t.Parallel()

	var created []string
	cfg := &config.Config{Providers: config.ProvidersConfig{
		Parser: config.ProviderEntry{Name: "gemini"},
		TTS:    config.ProviderEntry{Name: "openai"},
		STT:    config.ProviderEntry{Name: "deepgram"},
	}}
	p, err := app.BuildProviders(cfg, testRegistry(&created))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if _, ok := p.Parser.(*parsermock.Parser); !ok {
		t.Errorf("Parser = %T, want the primary unwrapped", p.Parser)
	}
	if _, ok := p.TTS.(*ttsmock.Provider); !ok {
		t.Errorf("TTS = %T, want the primary unwrapped", p.TTS)
	}
	if p.STT == nil {
		t.Error("STT not built")
	}
	if got := strings.Join(created, ","); got != "parser:gemini,tts:openai,stt:deepgram" {
		t.Errorf("created = %s", got)
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	t.Parallel()

	var created []string
	cfg := &config.Config{Providers: config.ProvidersConfig{
		Parser:          config.ProviderEntry{Name: "gemini"},
		ParserFallbacks: []config.ProviderEntry{{Name: "broken"}, {Name: "openai"}},
		TTS:             config.ProviderEntry{Name: "openai"},
		TTSFallbacks:    []config.ProviderEntry{{Name: "elevenlabs", Voice: "rachel"}},
	}}
	p, err := app.BuildProviders(cfg, testRegistry(&created))
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	pf, ok := p.Parser.(*resilience.ParserFallback)
	if !ok {
		t.Fatalf("Parser = %T, want *resilience.ParserFallback", p.Parser)
	}
	if got := strings.Join(pf.Names(), ","); got != "gemini,openai" {
		t.Errorf("parser order = %s; the broken fallback should be skipped", got)
	}
	tf, ok := p.TTS.(*resilience.TTSFallback)
	if !ok {
		t.Fatalf("TTS = %T, want *resilience.TTSFallback", p.TTS)
	}
	if got := strings.Join(tf.Names(), ","); got != "openai,elevenlabs" {
		t.Errorf("tts order = %s", got)
	}
	if p.STT != nil {
		t.Error("STT built without config")
	}
}

func TestBuildProviders_PrimaryFailure(t *testing.T) {
	t.Parallel()

	var created []string
	cfg := &config.Config{Providers: config.ProvidersConfig{Parser: config.ProviderEntry{Name: "broken"}}}
	if _, err := app.BuildProviders(cfg, testRegistry(&created)); err == nil || !strings.Contains(err.Error(), "missing api key") {
		t.Fatalf("err = %v, want the factory error", err)
	}

	cfg = &config.Config{Providers: config.ProvidersConfig{TTS: config.ProviderEntry{Name: "coqui"}}}
	if _, err := app.BuildProviders(cfg, testRegistry(&created)); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

// ── New ─────────────────────────────────────────────────────────────────────

func TestNew_DispatchWithoutParserFails(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(t), &app.Providers{},
		app.WithStore(finance.NewMemStore()),
		app.WithOutput(&audiomock.Output{}),
	)
	if err == nil {
		t.Fatal("New succeeded without a responder for the dispatch strategy")
	}
}

// ── HTTP API ────────────────────────────────────────────────────────────────

func TestAPI_TextDispatchesAndUpdatesSummary(t *testing.T) {
	t.Parallel()

	p := &parsermock.Parser{Result: &parser.Result{
		Intent: parser.IntentTransaction, Type: "expense", Amount: parsermock.Float(200), Category: "Food",
	}}
	h := newHarness(t, testConfig(t), &app.Providers{Parser: p})

	resp, body := h.post(t, "/api/voice/text", `{"text":"spent 200 on food"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if got := body["response"]; got != "Added expense of ₹200 for Food" {
		t.Errorf("response = %v", got)
	}
	if p.CallCount() != 1 || p.Calls[0] != "spent 200 on food" {
		t.Errorf("parser calls = %v", p.Calls)
	}
	if h.dials() != 0 {
		t.Errorf("manual text from idle dialled the bot %d times", h.dials())
	}
	// Local speech runs after the response is returned.
	waitFor(t, func() bool { return len(h.speaker.Spoken()) == 1 })
	if got := h.speaker.Spoken()[0]; got != "Added expense of ₹200 for Food" {
		t.Errorf("spoken = %q", got)
	}

	resp, body = h.get(t, "/api/finance/summary")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary status = %d", resp.StatusCode)
	}
	if got := body["totalExpenses"]; got != 200.0 {
		t.Errorf("totalExpenses = %v, want 200", got)
	}
	if got := len(h.store.Interactions()); got != 1 {
		t.Errorf("interactions = %d, want 1", got)
	}
}

func TestAPI_TextRejections(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty", `{"text":"   "}`, http.StatusBadRequest},
		{"malformed", `{"text":`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := h.post(t, "/api/voice/text", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestAPI_TextWithoutResponder(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Voice.Responder = config.ResponderBot
	h := newHarness(t, cfg, &app.Providers{})

	resp, _ := h.post(t, "/api/voice/text", `{"text":"hello"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAPI_StartStopToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	a := h.app.Assistant()

	resp, body := h.post(t, "/api/voice/start", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if body["sessionId"] == "" {
		t.Error("start returned no session id")
	}
	waitState(t, a, voice.Listening)

	_, body = h.get(t, "/api/voice/status")
	if body["state"] != "listening" || body["strategy"] != "dispatch" || body["keepOpen"] != true {
		t.Errorf("status = %v", body)
	}

	resp, body = h.post(t, "/api/voice/stop", "")
	if resp.StatusCode != http.StatusOK || body["state"] != "idle" {
		t.Fatalf("stop = %d %v", resp.StatusCode, body)
	}

	_, body = h.post(t, "/api/voice/toggle", "")
	if body["state"] != "connecting" && body["state"] != "listening" {
		t.Errorf("toggle from idle = %v", body["state"])
	}
	_, body = h.post(t, "/api/voice/toggle", "")
	if body["state"] != "idle" {
		t.Errorf("toggle from active = %v", body["state"])
	}
	if h.dials() != 2 {
		t.Errorf("dials = %d, want 2", h.dials())
	}
}

func TestAPI_PlaybackDeviceHeldBySessionOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	if h.out.Held() {
		t.Fatal("playback device held before any session")
	}

	h.post(t, "/api/voice/start", "")
	waitState(t, h.app.Assistant(), voice.Listening)
	if !h.out.Held() {
		t.Error("playback device not held while listening")
	}

	h.post(t, "/api/voice/stop", "")
	if h.out.Held() {
		t.Error("playback device held after stop")
	}
	if a, r := h.out.Acquired(), h.out.Released(); a != 1 || r != 1 {
		t.Errorf("acquired %d, released %d, want 1 each", a, r)
	}
}

func TestAPI_SessionOutlivesRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	h.post(t, "/api/voice/start", "")
	waitState(t, h.app.Assistant(), voice.Listening)

	time.Sleep(20 * time.Millisecond)
	if got := h.app.Assistant().State(); got != voice.Listening {
		t.Fatalf("state = %v after the request finished, want listening", got)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})

	resp, body := h.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, body)
	}

	// Nothing listens on the configured bot endpoint.
	resp, body = h.get(t, "/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", resp.StatusCode)
	}
	checks, _ := body["checks"].(map[string]any)
	if s, _ := checks["bot"].(string); !strings.HasPrefix(s, "fail") {
		t.Errorf("bot check = %v", checks["bot"])
	}

	resp, _ = h.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestAPI_UnknownRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	resp, err := http.Get(h.srv.URL + "/api/voice/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d, want 405", resp.StatusCode)
	}
}

// ── Run / Shutdown ──────────────────────────────────────────────────────────

func TestRun_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	_ = h.app.Assistant().Start(h.app.Context())
	waitState(t, h.app.Assistant(), voice.Listening)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := h.app.Assistant().State(); got != voice.Idle {
		t.Errorf("state after Run = %v, want idle", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, testConfig(t), &app.Providers{Parser: &parsermock.Parser{}})
	if err := h.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := h.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if err := h.app.Context().Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("session context err = %v, want canceled", err)
	}
}
