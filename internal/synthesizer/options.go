package synthesizer

import (
	"fmt"
	"math"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// InitializeOptions selects the device policy and worker pool size of a
// [Synthesizer].
type InitializeOptions struct {
	// AccelerationMode chooses between CPU and GPU inference. The zero value
	// behaves as [types.AccelerationAuto].
	AccelerationMode types.AccelerationMode

	// CPUNumThreads bounds the number of concurrent inference kernel calls.
	// Zero uses every available core.
	CPUNumThreads uint16
}

func (o InitializeOptions) validate() error {
	if o.AccelerationMode != "" && !o.AccelerationMode.IsValid() {
		return fmt.Errorf("%w: unknown acceleration mode %q", types.ErrValidation, o.AccelerationMode)
	}
	return nil
}

// SynthesisOptions control the waveform stage.
type SynthesisOptions struct {
	// EnableInterrogativeUpspeak appends a rising mora to interrogative
	// accent phrases.
	EnableInterrogativeUpspeak bool

	// PaddingBefore and PaddingAfter add silence, in seconds, around the
	// decoded waveform. They are applied after decoding and do not touch the
	// query's pre/post phoneme lengths. Each is capped at
	// [types.MaxPhonemeLength].
	PaddingBefore float64
	PaddingAfter  float64

	// ReturnFeatures attaches the frame-level decoder input to the result.
	ReturnFeatures bool
}

// DefaultSynthesisOptions returns the options used when a caller has no
// preference: upspeak enabled, no padding, no features.
func DefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{EnableInterrogativeUpspeak: true}
}

func (o SynthesisOptions) validate() error {
	for _, p := range []float64{o.PaddingBefore, o.PaddingAfter} {
		if math.IsNaN(p) || p < 0 || p > types.MaxPhonemeLength {
			return fmt.Errorf("%w: padding %v outside 0..%v seconds", types.ErrValidation, p, types.MaxPhonemeLength)
		}
	}
	return nil
}

// TTSOptions control the text-to-speech convenience path. They are passed
// unchanged to the waveform stage.
type TTSOptions = SynthesisOptions

// DefaultTTSOptions returns [DefaultSynthesisOptions].
func DefaultTTSOptions() TTSOptions { return DefaultSynthesisOptions() }

// Option is a functional option for [New].
type Option func(*Synthesizer)

// WithAnalyzer sets the text analyzer used by the text entry points. Without
// one only the kana entry points are usable.
func WithAnalyzer(a *analyzer.Analyzer) Option {
	return func(s *Synthesizer) { s.analyzer = a }
}

// WithMetrics records metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

// WithRegistry uses r as the model registry. The default is an empty
// registry owned by the synthesizer.
func WithRegistry(r *Registry) Option {
	return func(s *Synthesizer) { s.registry = r }
}
