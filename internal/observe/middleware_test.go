package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// apiHandler mimics the engine's route table: a WAV-returning synthesis
// route, a query route that rejects its input, a dictionary route with a path
// wildcard, and a health probe.
func apiHandler(t *testing.T) (http.Handler, *tracetest.InMemoryExporter, func() metricdata.ResourceMetrics) {
	t.Helper()
	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	mux := http.NewServeMux()
	mux.HandleFunc("POST /synthesis", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(make([]byte, 44+480))
	})
	mux.HandleFunc("POST /audio_query", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	mux.HandleFunc("DELETE /user_dict_word/{uuid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return Middleware(m)(mux), exp, func() metricdata.ResourceMetrics { return collect(t, reader) }
}

func spanAttr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestMiddleware_SynthesisSpan(t *testing.T) {
	h, exp, _ := apiHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/synthesis?speaker=3", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name != "POST /synthesis" {
		t.Errorf("span name = %q, want route pattern", s.Name)
	}
	if v, ok := spanAttr(s, "voicevox.style_id"); !ok || v.AsInt64() != 3 {
		t.Errorf("style id attribute = %v, %v", v.AsInt64(), ok)
	}
	if v, ok := spanAttr(s, "http.response.status_code"); !ok || v.AsInt64() != http.StatusOK {
		t.Errorf("status attribute = %v, %v", v.AsInt64(), ok)
	}

	id := rec.Header().Get(RequestIDHeader)
	if id != s.SpanContext.TraceID().String() {
		t.Errorf("%s = %q, want trace id %s", RequestIDHeader, id, s.SpanContext.TraceID())
	}
	if rec.Header().Get("Content-Type") != "audio/wav" || rec.Body.Len() != 524 {
		t.Errorf("response altered: %q, %d bytes", rec.Header().Get("Content-Type"), rec.Body.Len())
	}
}

func TestMiddleware_IgnoresMalformedSpeaker(t *testing.T) {
	h, exp, _ := apiHandler(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/audio_query?speaker=zundamon", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if _, ok := spanAttr(spans[0], "voicevox.style_id"); ok {
		t.Error("span carries a style id for a non-numeric speaker")
	}
}

func TestMiddleware_ContinuesClientTrace(t *testing.T) {
	h, exp, _ := apiHandler(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("POST", "/synthesis?speaker=0", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != traceID {
		t.Errorf("%s = %q, want %q", RequestIDHeader, got, traceID)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Parent.SpanID().String() != "00f067aa0ba902b7" {
		t.Errorf("span does not continue the client's span: %+v", spans)
	}
}

func TestMiddleware_LatencyByRouteAndStatus(t *testing.T) {
	h, _, rm := apiHandler(t)

	for _, target := range []struct{ method, path string }{
		{"DELETE", "/user_dict_word/3f1b2c4d-5e6f-4a1b-8c9d-0e1f2a3b4c5d"},
		{"DELETE", "/user_dict_word/9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"},
		{"POST", "/audio_query?speaker=1"},
		{"GET", "/healthz"},
		{"GET", "/no/such/route/1"},
		{"GET", "/no/such/route/2"},
	} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(target.method, target.path, nil))
	}

	met := findMetric(rm(), "voicevox.http.request.duration")
	if met == nil {
		t.Fatal("voicevox.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric is %T, want Histogram[float64]", met.Data)
	}

	type key struct{ route, status string }
	got := make(map[key]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		got[key{route.AsString(), status.AsString()}] += dp.Count
	}
	want := map[key]uint64{
		{"DELETE /user_dict_word/{uuid}", "2xx"}: 2,
		{"POST /audio_query", "4xx"}:             1,
		{"GET /healthz", "2xx"}:                  1,
		{unmatchedRoute, "4xx"}:                  2,
	}
	if len(got) != len(want) {
		t.Errorf("series = %v, want %v", got, want)
	}
	for k, n := range want {
		if got[k] != n {
			t.Errorf("count %v = %d, want %d", k, got[k], n)
		}
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for code, want := range map[int]string{200: "2xx", 204: "2xx", 422: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
