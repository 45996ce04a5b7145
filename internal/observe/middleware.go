package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// RequestIDHeader carries the trace id of an API request back to the client,
// so a failed synthesis can be matched with its server-side span and logs.
const RequestIDHeader = "X-Request-ID"

// unmatchedRoute labels requests no mux pattern accepted. Raw paths are never
// used as metric labels.
const unmatchedRoute = "unmatched"

// responseWriter remembers the status and body size of a response.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// statusClass collapses a status code to "2xx", "4xx" and so on.
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

// probeRoutes are polled by orchestrators and logged at debug level.
var probeRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

// Middleware instruments the engine's HTTP API. Each request gets a server
// span continuing any W3C trace context the client sent, named after the
// matched route once the mux has run. The span carries the requested style id
// when a valid "speaker" query parameter is present. Latency is recorded to
// [Metrics.HTTPRequestDuration] keyed by method, route and status class, and
// completion is logged with the response size so synthesized WAV volume is
// visible in logs.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "http.request",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method)),
			)
			defer span.End()

			var style *types.StyleID
			if v := r.URL.Query().Get("speaker"); v != "" {
				if id, err := types.ParseStyleID(v); err == nil {
					style = &id
					span.SetAttributes(attribute.Int64("voicevox.style_id", int64(id)))
				}
			}

			reqID := CorrelationID(ctx)
			if reqID != "" {
				w.Header().Set(RequestIDHeader, reqID)
			}

			r = r.WithContext(ctx)
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			elapsed := time.Since(start)

			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.String("status", statusClass(rw.status)),
			))
			span.SetName(route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rw.status),
			)

			attrs := []slog.Attr{
				slog.String("request_id", reqID),
				slog.String("route", route),
				slog.Int("status", rw.status),
				slog.Int("bytes", rw.bytes),
				slog.Duration("elapsed", elapsed),
			}
			if style != nil {
				attrs = append(attrs, slog.Uint64("style_id", uint64(*style)))
			}
			level := slog.LevelInfo
			switch {
			case rw.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case probeRoutes[route]:
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "api request", attrs...)
		})
	}
}
