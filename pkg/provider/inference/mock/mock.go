// Package mock provides a test double for the inference.Provider interface.
//
// Use Provider to feed controlled predictions to the synthesis pipeline and to
// verify which style and inputs reach the backend. Unset result fields fall
// back to fixed, input-shaped values so that a zero Provider is usable.
//
// Example:
//
//	p := &mock.Provider{DurationValue: 0.1, PitchValue: 5.8}
//	s, _ := synthesizer.New(an, synthesizer.WithProvider(p))
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// PredictDurationCall records a single invocation of PredictDuration.
type PredictDurationCall struct {
	// Style is the style id passed to PredictDuration.
	Style types.StyleID
	// Phonemes is a copy of the phoneme ids passed to PredictDuration.
	Phonemes []int64
}

// PredictIntonationCall records a single invocation of PredictIntonation.
type PredictIntonationCall struct {
	// Style is the style id passed to PredictIntonation.
	Style types.StyleID
	// Input is the intonation input passed to PredictIntonation.
	Input inference.IntonationInput
}

// DecodeCall records a single invocation of Decode.
type DecodeCall struct {
	// Style is the style id passed to Decode.
	Style types.StyleID
	// Input is the decode input passed to Decode.
	Input inference.DecodeInput
}

// Provider is a mock implementation of inference.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// DurationValue is returned for every phoneme by PredictDuration. Zero
	// means 0.1 seconds.
	DurationValue float32

	// DurationErr, if non-nil, is returned as the error from PredictDuration.
	DurationErr error

	// PitchValue is returned for every mora by PredictIntonation. Zero means 5.5.
	PitchValue float32

	// IntonationErr, if non-nil, is returned as the error from PredictIntonation.
	IntonationErr error

	// DecodeSample is the value of every sample returned by Decode.
	DecodeSample float32

	// DecodeErr, if non-nil, is returned as the error from Decode.
	DecodeErr error

	// Devices is returned by SupportedDevices. CPU is always reported.
	Devices inference.Devices

	// --- Call records ---

	// PredictDurationCalls records every call to PredictDuration in order.
	PredictDurationCalls []PredictDurationCall

	// PredictIntonationCalls records every call to PredictIntonation in order.
	PredictIntonationCalls []PredictIntonationCall

	// DecodeCalls records every call to Decode in order.
	DecodeCalls []DecodeCall
}

// PredictDuration records the call and returns DurationValue per phoneme.
func (p *Provider) PredictDuration(_ context.Context, _ inference.Weights, style types.StyleID, phonemes []int64) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PredictDurationCalls = append(p.PredictDurationCalls, PredictDurationCall{Style: style, Phonemes: slices.Clone(phonemes)})
	if p.DurationErr != nil {
		return nil, p.DurationErr
	}
	v := p.DurationValue
	if v == 0 {
		v = 0.1
	}
	return fill(len(phonemes), v), nil
}

// PredictIntonation records the call and returns PitchValue per mora.
func (p *Provider) PredictIntonation(_ context.Context, _ inference.Weights, style types.StyleID, in inference.IntonationInput) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PredictIntonationCalls = append(p.PredictIntonationCalls, PredictIntonationCall{Style: style, Input: in})
	if p.IntonationErr != nil {
		return nil, p.IntonationErr
	}
	v := p.PitchValue
	if v == 0 {
		v = 5.5
	}
	return fill(in.Len(), v), nil
}

// Decode records the call and returns FrameSamples samples of DecodeSample
// per frame.
func (p *Provider) Decode(_ context.Context, _ inference.Weights, style types.StyleID, in inference.DecodeInput) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DecodeCalls = append(p.DecodeCalls, DecodeCall{Style: style, Input: in})
	if p.DecodeErr != nil {
		return nil, p.DecodeErr
	}
	return fill(len(in.F0)*inference.FrameSamples, p.DecodeSample), nil
}

// SupportedDevices returns Devices with CPU set.
func (p *Provider) SupportedDevices(context.Context) (inference.Devices, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.Devices
	d.CPU = true
	return d, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PredictDurationCalls = nil
	p.PredictIntonationCalls = nil
	p.DecodeCalls = nil
}

func fill(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Ensure Provider implements inference.Provider at compile time.
var _ inference.Provider = (*Provider)(nil)
