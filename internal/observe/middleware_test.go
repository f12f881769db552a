package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// controlSurface wires the middleware around a mux shaped like the Nivest
// control routes and returns it with its metric reader and span exporter.
func controlSurface(t *testing.T, opts ...MiddlewareOption) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /api/voice/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(m, opts...)(mux), reader, exp
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// durationPoints returns the request duration data points keyed by route.
func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "nivest.http.request.duration")
	if met == nil {
		t.Fatal("request duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data = %T, want histogram", met.Data)
	}
	out := make(map[string]metricdata.HistogramDataPoint[float64])
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		out[route.AsString()] = dp
	}
	return out
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_NamesSpanAndMetricByRoute(t *testing.T) {
	h, reader, exp := controlSurface(t)

	rec := serve(h, http.MethodPost, "/api/voice/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "POST /api/voice/start" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if v, ok := spanAttr(spans[0], "http.route"); !ok || v.AsString() != "POST /api/voice/start" {
		t.Errorf("http.route = %v", v)
	}
	if v, ok := spanAttr(spans[0], "http.response.status_code"); !ok || v.AsInt64() != 202 {
		t.Errorf("status attribute = %v", v)
	}

	dp, ok := durationPoints(t, reader)["POST /api/voice/start"]
	if !ok {
		t.Fatal("no duration sample for the start route")
	}
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	if status, _ := dp.Attributes.Value("status"); status.AsInt64() != 202 {
		t.Errorf("status label = %v", status)
	}
}

func TestMiddleware_UnmatchedPathsShareOneLabel(t *testing.T) {
	h, reader, exp := controlSurface(t)

	serve(h, http.MethodGet, "/api/voice/a1b2c3", nil)
	serve(h, http.MethodGet, "/favicon.ico", nil)

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("routes = %v, want only %q", points, unmatchedRoute)
	}
	if dp := points[unmatchedRoute]; dp.Count != 2 {
		t.Errorf("unmatched count = %d, want 2", dp.Count)
	}
	for _, s := range exp.GetSpans() {
		if s.Name != "HTTP GET" {
			t.Errorf("span name = %q, want %q", s.Name, "HTTP GET")
		}
	}
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _ := controlSurface(t)

	t.Run("generated", func(t *testing.T) {
		rec := serve(h, http.MethodPost, "/api/voice/text", nil)
		cid := rec.Header().Get("X-Correlation-ID")
		if len(cid) != 32 {
			t.Fatalf("X-Correlation-ID = %q, want a 32-char trace ID", cid)
		}
		if got := rec.Header().Get("X-Seen-Trace"); got != cid {
			t.Errorf("handler saw trace %q, header says %q", got, cid)
		}
	})

	t.Run("continues incoming trace", func(t *testing.T) {
		hdr := http.Header{"Traceparent": {"00-" + incomingTraceID + "-00f067aa0ba902b7-01"}}
		rec := serve(h, http.MethodPost, "/api/voice/text", hdr)
		if got := rec.Header().Get("X-Correlation-ID"); got != incomingTraceID {
			t.Errorf("X-Correlation-ID = %q, want %q", got, incomingTraceID)
		}
		if got := rec.Header().Get("X-Seen-Trace"); got != incomingTraceID {
			t.Errorf("handler saw trace %q, want %q", got, incomingTraceID)
		}
	})
}

func TestMiddleware_MarksBadGatewayAsError(t *testing.T) {
	h, _, exp := controlSurface(t)

	serve(h, http.MethodPost, "/api/voice/text", nil)
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status.Code)
	}
}

func TestMiddleware_TagsVoiceRoutesWithSession(t *testing.T) {
	var calls atomic.Int32
	info := func() (string, string) {
		calls.Add(1)
		return "sess-7", "listening"
	}
	h, reader, exp := controlSurface(t, WithSessionInfo(info))

	serve(h, http.MethodPost, "/api/voice/start", nil)
	serve(h, http.MethodGet, "/healthz", nil)

	if n := calls.Load(); n != 1 {
		t.Errorf("session info consulted %d times, want once for the voice route", n)
	}

	for _, s := range exp.GetSpans() {
		id, tagged := spanAttr(s, "nivest.voice.session_id")
		switch s.Name {
		case "POST /api/voice/start":
			state, _ := spanAttr(s, "nivest.voice.state")
			if !tagged || id.AsString() != "sess-7" || state.AsString() != "listening" {
				t.Errorf("voice span attributes = %v", s.Attributes)
			}
		case "GET /healthz":
			if tagged {
				t.Error("health span tagged with a voice session")
			}
		}
	}

	points := durationPoints(t, reader)
	voiceDP, ok := points["POST /api/voice/start"]
	if !ok {
		t.Fatal("no duration sample for the start route")
	}
	if state, ok := voiceDP.Attributes.Value("voice_state"); !ok || state.AsString() != "listening" {
		t.Errorf("voice_state label = %v, %v", state, ok)
	}
	healthDP, ok := points["GET /healthz"]
	if !ok {
		t.Fatal("no duration sample for the health route")
	}
	if healthDP.Attributes.HasValue("voice_state") {
		t.Error("health metric carries voice_state")
	}
}

func TestMiddleware_HealthRoutesLogAtDebug(t *testing.T) {
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	h, _, _ := controlSurface(t, WithSessionInfo(func() (string, string) { return "sess-9", "playing" }))

	serve(h, http.MethodGet, "/healthz", nil)
	if buf.Len() != 0 {
		t.Errorf("health check logged at info: %s", buf.String())
	}

	serve(h, http.MethodPost, "/api/voice/start", nil)
	logged := buf.String()
	for _, want := range []string{"request completed", `route="POST /api/voice/start"`, "session_id=sess-9", "voice_state=playing", "trace_id="} {
		if !strings.Contains(logged, want) {
			t.Errorf("log line missing %q: %s", want, logged)
		}
	}
}
