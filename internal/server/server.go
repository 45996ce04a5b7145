// Package server exposes the synthesis engine and the user dictionary over a
// JSON HTTP API.
//
// Every route is registered on a single [http.ServeMux] wrapped by
// [observe.Middleware], so request metrics are keyed by route pattern. API
// routes share one token bucket; /healthz, /readyz and /metrics bypass it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/takejohn/voicevox-core/internal/health"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/synthesizer"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Server serves the engine API. It is safe for concurrent use.
type Server struct {
	synth    *synthesizer.Synthesizer
	dict     *userdict.Dictionary
	store    userdict.Store
	metrics  *observe.Metrics
	limiter  *rate.Limiter
	health   *health.Handler
	promHTTP http.Handler

	// dictMu serialises dictionary mutation, persistence and re-attachment.
	dictMu sync.Mutex
}

// Option configures a [Server].
type Option func(*Server)

// WithStore persists the user dictionary to store after every change.
func WithStore(store userdict.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithRateLimit throttles API routes to rps requests per second with the
// given burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithHealth registers h under /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h under /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.promHTTP = h }
}

// WithMetrics overrides the metrics used for HTTP and dictionary
// instruments. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server over synth and dict. The current contents of dict are
// attached to the synthesizer's analyzer.
func New(synth *synthesizer.Synthesizer, dict *userdict.Dictionary, opts ...Option) *Server {
	s := &Server{synth: synth, dict: dict}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.dict == nil {
		s.dict = userdict.New()
	}
	s.attachDictionary(context.Background())
	return s
}

// Handler returns the root handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := map[string]http.HandlerFunc{
		"POST /audio_query":             s.handleAudioQuery,
		"POST /audio_query_from_kana":   s.handleAudioQueryFromKana,
		"POST /accent_phrases":          s.handleAccentPhrases,
		"POST /mora_data":               s.phraseStage(s.synth.ReplaceMoraData),
		"POST /mora_length":             s.phraseStage(s.synth.ReplacePhonemeLength),
		"POST /mora_pitch":              s.phraseStage(s.synth.ReplaceMoraPitch),
		"POST /synthesis":               s.handleSynthesis,
		"POST /tts":                     s.handleTTS,
		"GET /speakers":                 s.handleSpeakers,
		"GET /models":                   s.handleModels,
		"DELETE /models/{id}":           s.handleUnloadModel,
		"GET /supported_devices":        s.handleSupportedDevices,
		"GET /user_dict":                s.handleGetUserDict,
		"GET /user_dict/search":         s.handleSearchUserDict,
		"POST /user_dict_word":          s.handleAddWord,
		"PUT /user_dict_word/{uuid}":    s.handleUpdateWord,
		"DELETE /user_dict_word/{uuid}": s.handleDeleteWord,
		"POST /import_user_dict":        s.handleImportUserDict,
	}
	for pattern, h := range api {
		mux.Handle(pattern, s.limit(h))
	}

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.promHTTP != nil {
		mux.Handle("GET /metrics", s.promHTTP)
	}
	return observe.Middleware(s.metrics)(mux)
}

// limit rejects requests beyond the configured rate with 429.
func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch types.KindOf(err) {
	case types.KindValidation:
		return http.StatusUnprocessableEntity
	case types.KindParse:
		return http.StatusBadRequest
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err with the status derived from its kind.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusOf(err), err)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	kind := types.KindOf(err)
	if status == http.StatusTooManyRequests {
		kind = "rate_limited"
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, errorBody{Kind: kind, Detail: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}

// decodeBody reads a JSON request body into v. Malformed JSON is a
// validation failure.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", types.ErrValidation, err)
	}
	return nil
}

// styleParam parses the "speaker" query parameter.
func styleParam(r *http.Request) (types.StyleID, error) {
	v := r.URL.Query().Get("speaker")
	if v == "" {
		return 0, fmt.Errorf("%w: speaker query parameter is required", types.ErrValidation)
	}
	return types.ParseStyleID(v)
}

// boolParam parses an optional boolean query parameter.
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", types.ErrValidation, name)
	}
	return b, nil
}
