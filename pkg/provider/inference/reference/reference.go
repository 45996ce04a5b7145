// Package reference implements inference.Provider with small deterministic
// kernels that run on the CPU without a neural runtime.
//
// The kernels are parameterised by the style embedding tensor of each voice
// model ("style.<id>", see inference.StyleTensor):
//
//	[0] duration scale    multiplies every predicted phoneme length
//	[1] log-F0 base       pitch of a low mora
//	[2] accent rise       log-F0 added to morae inside the high region
//	[3] amplitude         peak level of the decoded waveform
//
// An optional "duration.base" tensor with one value per phoneme id overrides
// the built-in phoneme lengths. The output is a function of the inputs and the
// tensors only, so identical requests always produce identical waveforms.
package reference

import (
	"context"
	"fmt"
	"math"

	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// DurationTensor is the name of the optional per-phoneme base length tensor.
const DurationTensor = "duration.base"

// EmbeddingSize is the minimum length of a style embedding tensor.
const EmbeddingSize = 4

const (
	// declination is the log-F0 drop per mora inside a phrase.
	declination = 0.015
	// rampSamples smooths voicing transitions to avoid clicks.
	rampSamples = 48
)

// Provider is the deterministic reference backend. The zero value is ready
// to use.
type Provider struct{}

// New returns a reference Provider.
func New() *Provider { return &Provider{} }

// embedding is the decoded style embedding.
type embedding struct {
	durationScale float32
	lf0Base       float32
	accentRise    float32
	amplitude     float32
}

func styleEmbedding(w inference.Weights, style types.StyleID) (embedding, error) {
	name := inference.StyleTensor(style)
	t, ok := w.Tensor(name)
	if !ok {
		return embedding{}, fmt.Errorf("reference: %w: missing tensor %q", types.ErrFormat, name)
	}
	if len(t) < EmbeddingSize {
		return embedding{}, fmt.Errorf("reference: %w: tensor %q has %d values, want at least %d", types.ErrFormat, name, len(t), EmbeddingSize)
	}
	return embedding{durationScale: t[0], lf0Base: t[1], accentRise: t[2], amplitude: t[3]}, nil
}

// PredictDuration implements inference.Provider.
func (p *Provider) PredictDuration(ctx context.Context, w inference.Weights, style types.StyleID, phonemes []int64) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb, err := styleEmbedding(w, style)
	if err != nil {
		return nil, err
	}
	base, hasBase := w.Tensor(DurationTensor)
	if hasBase && len(base) != len(kana.Phonemes) {
		return nil, fmt.Errorf("reference: %w: tensor %q has %d values, want %d", types.ErrFormat, DurationTensor, len(base), len(kana.Phonemes))
	}

	out := make([]float32, len(phonemes))
	for i, id := range phonemes {
		if id < 0 || int(id) >= len(kana.Phonemes) {
			return nil, fmt.Errorf("reference: %w: phoneme id %d out of range", types.ErrValidation, id)
		}
		var d float32
		if hasBase {
			d = base[id]
		} else {
			d = defaultLength(kana.Phonemes[id])
		}
		out[i] = d * emb.durationScale
	}
	return out, nil
}

// defaultLength returns the built-in base length of a phoneme in seconds.
func defaultLength(phoneme string) float32 {
	switch phoneme {
	case kana.Pause:
		return 0.2
	case "N":
		return 0.09
	case "cl":
		return 0.1
	case "a", "i", "u", "e", "o":
		return 0.11
	case "A", "I", "U", "E", "O":
		return 0.07
	}
	return 0.06
}

// PredictIntonation implements inference.Provider.
func (p *Provider) PredictIntonation(ctx context.Context, w inference.Weights, style types.StyleID, in inference.IntonationInput) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := in.Len()
	for _, s := range [][]int64{in.Consonants, in.StartAccent, in.EndAccent, in.StartPhrase, in.EndPhrase} {
		if len(s) != n {
			return nil, fmt.Errorf("reference: %w: intonation features differ in length", types.ErrValidation)
		}
	}
	emb, err := styleEmbedding(w, style)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n)
	high := false
	pos := 0
	for i := range n {
		if in.StartPhrase[i] == 1 {
			high = false
			pos = 0
		}
		if in.StartAccent[i] == 1 {
			high = true
		}
		if in.Vowels[i] != 0 {
			lf0 := emb.lf0Base - declination*float32(pos)
			if high {
				lf0 += emb.accentRise
			}
			out[i] = lf0
		}
		if in.EndAccent[i] == 1 {
			high = false
		}
		pos++
	}
	return out, nil
}

// Decode implements inference.Provider. Voiced frames are rendered as a
// phase-continuous two-harmonic oscillator; unvoiced frames are silent.
func (p *Provider) Decode(ctx context.Context, w inference.Weights, style types.StyleID, in inference.DecodeInput) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.F0) != len(in.Phonemes) {
		return nil, fmt.Errorf("reference: %w: f0 has %d frames, phonemes has %d", types.ErrValidation, len(in.F0), len(in.Phonemes))
	}
	emb, err := styleEmbedding(w, style)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(in.F0)*inference.FrameSamples)
	var phase, gain float64
	amp := float64(emb.amplitude)
	step := 1.0 / rampSamples
	for f, lf0 := range in.F0 {
		if f%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hz := 0.0
		if lf0 > 0 {
			hz = math.Exp(float64(lf0))
		}
		h := harmonicMix(in.Phonemes[f])
		target := 0.0
		if hz > 0 {
			target = 1
		}
		for s := range inference.FrameSamples {
			switch {
			case gain < target:
				gain = math.Min(target, gain+step)
			case gain > target:
				gain = math.Max(target, gain-step)
			}
			if hz > 0 {
				phase += 2 * math.Pi * hz / inference.SamplingRate
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
			}
			v := (math.Sin(phase) + h*math.Sin(2*phase)) / (1 + h)
			out[f*inference.FrameSamples+s] = float32(amp * gain * v)
		}
	}
	return out, nil
}

// harmonicMix gives each phoneme a distinct timbre.
func harmonicMix(id int64) float64 {
	return float64(id%5+1) / 10
}

// SupportedDevices implements inference.Provider. The reference backend only
// runs on the CPU.
func (p *Provider) SupportedDevices(context.Context) (inference.Devices, error) {
	return inference.Devices{CPU: true}, nil
}

// Ensure Provider implements inference.Provider at compile time.
var _ inference.Provider = (*Provider)(nil)
