// Package inference defines the Provider interface for the prediction kernels
// behind the synthesis pipeline.
//
// A provider wraps the three models every voice bundle carries: a phoneme
// duration predictor, a mora intonation predictor and a waveform decoder. The
// kernels are opaque to the rest of the engine; they receive the tensors of
// the voice model that serves the requested style and plain numeric inputs.
//
// Implementations must be safe for concurrent use.
package inference

import (
	"context"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// SamplingRate is the native rate, in Hz, of waveforms returned by
// [Provider.Decode].
const SamplingRate = 24000

// FrameSamples is the number of waveform samples produced per acoustic frame.
// The frame rate is therefore SamplingRate / FrameSamples = 93.75 Hz.
const FrameSamples = 256

// FrameRate is the number of acoustic frames per second.
const FrameRate = float64(SamplingRate) / FrameSamples

// NoConsonant marks a vowel-only mora in [IntonationInput.Consonants].
const NoConsonant int64 = -1

// Weights gives a kernel read access to the tensors of one voice model.
type Weights interface {
	// Tensor returns the named tensor. The returned slice must not be modified.
	Tensor(name string) ([]float32, bool)
}

// IntonationInput holds the per-mora features of an utterance. All slices have
// the same length, one element per mora including the leading and trailing
// silence.
type IntonationInput struct {
	// Vowels holds the vowel phoneme id of each mora.
	Vowels []int64
	// Consonants holds the consonant phoneme id of each mora or NoConsonant.
	Consonants []int64
	// StartAccent is 1 on the mora where the high pitch region of a phrase starts.
	StartAccent []int64
	// EndAccent is 1 on the accent nucleus, the last high mora of a phrase.
	EndAccent []int64
	// StartPhrase is 1 on the first mora of each accent phrase.
	StartPhrase []int64
	// EndPhrase is 1 on the last mora of each accent phrase.
	EndPhrase []int64
}

// Len returns the number of morae in the input.
func (in IntonationInput) Len() int { return len(in.Vowels) }

// DecodeInput holds the frame-level acoustic features fed to the decoder.
type DecodeInput struct {
	// F0 is the log fundamental frequency of each frame; 0 marks an unvoiced frame.
	F0 []float32
	// Phonemes is the phoneme id active in each frame.
	Phonemes []int64
}

// Devices reports which accelerators a backend can run on.
type Devices struct {
	CPU  bool `json:"cpu"`
	CUDA bool `json:"cuda"`
	DML  bool `json:"dml"`
}

// HasGPU reports whether any GPU backend is available.
func (d Devices) HasGPU() bool { return d.CUDA || d.DML }

// Provider is the abstraction over an inference backend.
type Provider interface {
	// PredictDuration returns the length in seconds of each phoneme id.
	PredictDuration(ctx context.Context, w Weights, style types.StyleID, phonemes []int64) ([]float32, error)

	// PredictIntonation returns the log-F0 of each mora in the input. Unvoiced
	// and silent morae may receive any value; the caller zeroes them.
	PredictIntonation(ctx context.Context, w Weights, style types.StyleID, in IntonationInput) ([]float32, error)

	// Decode renders frame-level features into mono PCM samples in [-1, 1] at
	// [SamplingRate], FrameSamples samples per frame.
	Decode(ctx context.Context, w Weights, style types.StyleID, in DecodeInput) ([]float32, error)

	// SupportedDevices reports the devices this backend can use. CPU is
	// always available.
	SupportedDevices(ctx context.Context) (Devices, error)
}

// StyleTensor returns the name of the style embedding tensor for id.
func StyleTensor(id types.StyleID) string {
	return "style." + id.String()
}
