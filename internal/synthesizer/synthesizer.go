// Package synthesizer owns the voice model registry and runs the synthesis
// pipeline: text or kana to accent phrases, phoneme lengths, mora pitch and
// finally a PCM waveform.
//
// Every stage is an independent method taking a style id. A stage resolves the
// style exactly once, never mutates its input and returns fresh values, so
// callers can hand-edit intermediate results and re-enter the pipeline at any
// point. Inference kernel calls run through a bounded worker pool sized by
// [InitializeOptions.CPUNumThreads].
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/voicemodel"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Synthesizer runs the synthesis pipeline against its loaded voice models.
// It is safe for concurrent use.
type Synthesizer struct {
	provider inference.Provider
	analyzer *analyzer.Analyzer
	registry *Registry
	metrics  *observe.Metrics

	devices inference.Devices
	gpu     bool
	threads int
	workers *semaphore.Weighted
}

// New creates a Synthesizer backed by p. The acceleration mode is checked
// against the devices p reports: GPU fails with [types.ErrGPUUnsupported] when
// p has no GPU device, AUTO picks GPU only when one is present.
func New(ctx context.Context, p inference.Provider, init InitializeOptions, opts ...Option) (*Synthesizer, error) {
	if p == nil {
		return nil, fmt.Errorf("synthesizer: %w: inference provider is required", types.ErrValidation)
	}
	if err := init.validate(); err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}

	s := &Synthesizer{provider: p}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.registry == nil {
		s.registry = NewRegistry(s.metrics)
	}

	devices, err := p.SupportedDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: query devices: %w", err)
	}
	s.devices = devices

	switch init.AccelerationMode {
	case types.AccelerationCPU:
		s.gpu = false
	case types.AccelerationGPU:
		if !devices.HasGPU() {
			return nil, fmt.Errorf("synthesizer: %w", types.ErrGPUUnsupported)
		}
		s.gpu = true
	default:
		s.gpu = devices.HasGPU()
	}

	s.threads = int(init.CPUNumThreads)
	if s.threads == 0 {
		s.threads = runtime.NumCPU()
	}
	s.workers = semaphore.NewWeighted(int64(s.threads))

	slog.Info("synthesizer initialised",
		"gpu", s.gpu,
		"threads", s.threads,
		"text_analyzer", s.analyzer != nil,
	)
	return s, nil
}

// IsGPUMode reports whether inference runs on a GPU device.
func (s *Synthesizer) IsGPUMode() bool { return s.gpu }

// SupportedDevices returns the devices reported by the inference backend.
func (s *Synthesizer) SupportedDevices() inference.Devices { return s.devices }

// Threads returns the size of the inference worker pool.
func (s *Synthesizer) Threads() int { return s.threads }

// Analyzer returns the text analyzer, or nil when none was configured.
func (s *Synthesizer) Analyzer() *analyzer.Analyzer { return s.analyzer }

// Registry returns the model registry owned by s.
func (s *Synthesizer) Registry() *Registry { return s.registry }

// LoadVoiceModel registers model. See [Registry.Load].
func (s *Synthesizer) LoadVoiceModel(ctx context.Context, model *voicemodel.Model) error {
	return s.registry.Load(ctx, model)
}

// LoadVoiceModelFile opens the bundle at path and registers it. The file is
// read before the registry lock is taken.
func (s *Synthesizer) LoadVoiceModelFile(ctx context.Context, path string) (*voicemodel.Model, error) {
	start := time.Now()
	model, err := voicemodel.Open(path)
	s.metrics.ModelOpenDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordModelLoad(ctx, err)
		return nil, err
	}
	if err := s.registry.Load(ctx, model); err != nil {
		return nil, err
	}
	return model, nil
}

// UnloadVoiceModel removes the model with id. See [Registry.Unload].
func (s *Synthesizer) UnloadVoiceModel(ctx context.Context, id types.VoiceModelID) error {
	return s.registry.Unload(ctx, id)
}

// IsLoadedVoiceModel reports whether a model with id is loaded.
func (s *Synthesizer) IsLoadedVoiceModel(id types.VoiceModelID) bool {
	return s.registry.IsLoaded(id)
}

// Metas returns the speaker metadata of all loaded models.
func (s *Synthesizer) Metas() []types.SpeakerMeta { return s.registry.Metas() }

// infer runs one kernel call on a worker slot.
func (s *Synthesizer) infer(ctx context.Context, kernel string, fn func(context.Context) error) error {
	waitStart := time.Now()
	if err := s.workers.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("synthesizer: %s: %w", kernel, err)
	}
	defer s.workers.Release(1)
	s.metrics.WorkerWait.Record(ctx, time.Since(waitStart).Seconds())

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordInference(ctx, kernel, time.Since(start))
	if err != nil {
		return fmt.Errorf("synthesizer: %s: %w", kernel, err)
	}
	return nil
}

// stage wraps one pipeline stage in a span and records its outcome.
func stage[T any](ctx context.Context, s *Synthesizer, name string, style types.StyleID, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "synthesizer."+name,
		trace.WithAttributes(
			attribute.String("stage", name),
			attribute.Int64("style_id", int64(style)),
		),
	)
	out, err := fn(ctx)
	observe.EndSpan(span, err)
	s.metrics.RecordStage(ctx, name, start, err)
	if err != nil {
		observe.Logger(ctx).Debug("pipeline stage failed", "stage", name, "style_id", style, "err", err)
	}
	return out, err
}
