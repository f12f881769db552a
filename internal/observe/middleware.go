package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// VoicePathPrefix is the path prefix of the voice control routes.
const VoicePathPrefix = "/api/voice/"

// unmatchedRoute labels requests no route pattern matched, so raw paths never
// become metric label values.
const unmatchedRoute = "unmatched"

// quietRoutes are polled by health checkers and scrapers; they log at debug level.
var quietRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// SessionInfo reports the voice session as the handler left it.
type SessionInfo func() (id, state string)

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithSessionInfo tags requests under [VoicePathPrefix] with the voice
// session ID and state in the span, the log line and, for the state only,
// the duration metric.
func WithSessionInfo(fn SessionInfo) MiddlewareOption {
	return func(mw *middleware) { mw.session = fn }
}

type middleware struct {
	metrics *Metrics
	session SessionInfo
	prop    propagation.TraceContext
	next    http.Handler
}

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the control surface. Every request continues an
// incoming W3C trace context in a server span, gets an X-Correlation-ID
// response header carrying the trace ID, and is recorded in
// [Metrics.HTTPRequestDuration] and the log once it completes.
//
// Requests are labelled by the [http.ServeMux] pattern that served them
// ("POST /api/voice/start"), which also names the span. The wrapped handler
// must therefore be the mux itself.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		mw := &middleware{metrics: m, next: next}
		for _, o := range opts {
			o(mw)
		}
		return mw
	}
}

func (mw *middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	// The mux records the matched pattern on the request it is given.
	r = r.WithContext(ctx)
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	mw.next.ServeHTTP(rec, r)
	duration := time.Since(start)

	route := r.Pattern
	if route == "" {
		route = unmatchedRoute
	} else {
		span.SetName(route)
		span.SetAttributes(semconv.HTTPRoute(route))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))
	if rec.statusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
	}

	metricAttrs := []attribute.KeyValue{
		attribute.String("method", r.Method),
		attribute.String("route", route),
		attribute.Int("status", rec.statusCode),
	}
	logAttrs := []slog.Attr{
		slog.String("route", route),
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", duration),
	}
	if mw.session != nil && strings.HasPrefix(r.URL.Path, VoicePathPrefix) {
		id, state := mw.session()
		span.SetAttributes(
			attribute.String("nivest.voice.session_id", id),
			attribute.String("nivest.voice.state", state),
		)
		metricAttrs = append(metricAttrs, attribute.String("voice_state", state))
		logAttrs = append(logAttrs, slog.String("session_id", id), slog.String("voice_state", state))
	}
	mw.metrics.HTTPRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(metricAttrs...))

	level := slog.LevelInfo
	if quietRoutes[route] {
		level = slog.LevelDebug
	}
	Logger(ctx).LogAttrs(ctx, level, "request completed", logAttrs...)
}
