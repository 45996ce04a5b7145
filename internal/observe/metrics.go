// Package observe provides the observability primitives of the synthesis
// engine: OpenTelemetry metrics, tracing, trace-aware structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. A package-level [DefaultMetrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/takejohn/voicevox-core"

// Status values recorded on request counters.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds all metric instruments of the engine. The underlying OTel
// types are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks pipeline stage latency by "stage" and "status".
	StageDuration metric.Float64Histogram

	// InferenceDuration tracks inference kernel latency by "kernel".
	InferenceDuration metric.Float64Histogram

	// WorkerWait tracks the time a kernel call waits for a worker slot.
	WorkerWait metric.Float64Histogram

	// ModelOpenDuration tracks how long opening a model bundle takes.
	ModelOpenDuration metric.Float64Histogram

	// --- Counters ---

	// StageRequests counts pipeline stage calls by "stage" and "status".
	StageRequests metric.Int64Counter

	// StageErrors counts failed stage calls by "stage" and error "kind".
	StageErrors metric.Int64Counter

	// ModelLoads counts registry loads by "status" (ok or an error kind).
	ModelLoads metric.Int64Counter

	// ModelUnloads counts registry unloads by "status".
	ModelUnloads metric.Int64Counter

	// AudioSeconds accumulates the duration of synthesised audio.
	AudioSeconds metric.Float64Counter

	// --- Gauges ---

	// LoadedModels tracks the number of models currently in the registry.
	LoadedModels metric.Int64UpDownCounter

	// UserDictWords reports the size of the attached user dictionary.
	UserDictWords metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks API latency by "method", mux "route" and
	// "status" class.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// synthesis latencies, from sub-millisecond query edits to long renders.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.StageDuration, err = histogram("voicevox.pipeline.stage.duration",
		"Latency of synthesis pipeline stages."); err != nil {
		return nil, err
	}
	if met.InferenceDuration, err = histogram("voicevox.inference.duration",
		"Latency of inference kernel invocations."); err != nil {
		return nil, err
	}
	if met.WorkerWait, err = histogram("voicevox.inference.worker_wait",
		"Time spent waiting for an inference worker slot."); err != nil {
		return nil, err
	}
	if met.ModelOpenDuration, err = histogram("voicevox.model.open.duration",
		"Latency of opening and validating a voice model bundle."); err != nil {
		return nil, err
	}

	if met.StageRequests, err = m.Int64Counter("voicevox.pipeline.requests",
		metric.WithDescription("Total pipeline stage calls by stage and status."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("voicevox.pipeline.errors",
		metric.WithDescription("Total failed pipeline stage calls by stage and error kind."),
	); err != nil {
		return nil, err
	}
	if met.ModelLoads, err = m.Int64Counter("voicevox.model.loads",
		metric.WithDescription("Total voice model load attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ModelUnloads, err = m.Int64Counter("voicevox.model.unloads",
		metric.WithDescription("Total voice model unload attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("voicevox.audio.duration",
		metric.WithDescription("Total duration of synthesised audio."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.LoadedModels, err = m.Int64UpDownCounter("voicevox.models.loaded",
		metric.WithDescription("Number of voice models currently loaded."),
	); err != nil {
		return nil, err
	}
	if met.UserDictWords, err = m.Int64Gauge("voicevox.user_dict.words",
		metric.WithDescription("Number of words in the attached user dictionary."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicevox.http.request.duration",
		metric.WithDescription("API request latency by method, route and status class."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency and outcome of one pipeline stage call
// that started at start. A non-nil err is also counted by its taxonomy kind.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
		m.StageErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", types.KindOf(err)),
		))
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	)
	m.StageDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	m.StageRequests.Add(ctx, 1, attrs)
}

// RecordInference records the latency of one kernel invocation.
func (m *Metrics) RecordInference(ctx context.Context, kernel string, d time.Duration) {
	m.InferenceDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kernel", kernel)))
}

// RecordModelLoad counts a load attempt. Successful loads also raise the
// loaded model gauge.
func (m *Metrics) RecordModelLoad(ctx context.Context, err error) {
	status := StatusOK
	if err != nil {
		status = types.KindOf(err)
	} else {
		m.LoadedModels.Add(ctx, 1)
	}
	m.ModelLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordModelUnload counts an unload attempt. Successful unloads also lower
// the loaded model gauge.
func (m *Metrics) RecordModelUnload(ctx context.Context, err error) {
	status := StatusOK
	if err != nil {
		status = types.KindOf(err)
	} else {
		m.LoadedModels.Add(ctx, -1)
	}
	m.ModelUnloads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
