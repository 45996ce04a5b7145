package reference_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/provider/inference/reference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

type tensors map[string][]float32

func (t tensors) Tensor(name string) ([]float32, bool) {
	v, ok := t[name]
	return v, ok
}

func weights() tensors {
	return tensors{"style.3": {1.0, 5.5, 0.3, 0.5}, "style.4": {2.0, 5.0, 0.2, 0.5}}
}

func TestPredictDuration(t *testing.T) {
	t.Parallel()

	p := reference.New()
	ctx := context.Background()
	// pau, a, k, N
	phonemes := []int64{0, 7, 23, 4}

	d3, err := p.PredictDuration(ctx, weights(), 3, phonemes)
	if err != nil {
		t.Fatalf("PredictDuration: %v", err)
	}
	want := []float32{0.2, 0.11, 0.06, 0.09}
	if !slices.Equal(d3, want) {
		t.Errorf("durations = %v, want %v", d3, want)
	}

	d4, err := p.PredictDuration(ctx, weights(), 4, phonemes)
	if err != nil {
		t.Fatalf("PredictDuration: %v", err)
	}
	for i := range d4 {
		if d4[i] != 2*d3[i] {
			t.Errorf("style 4 duration[%d] = %v, want %v", i, d4[i], 2*d3[i])
		}
	}
}

func TestPredictDuration_Errors(t *testing.T) {
	t.Parallel()

	p := reference.New()
	ctx := context.Background()

	if _, err := p.PredictDuration(ctx, weights(), 9, []int64{7}); !errors.Is(err, types.ErrFormat) {
		t.Errorf("missing style: err = %v, want ErrFormat", err)
	}
	if _, err := p.PredictDuration(ctx, weights(), 3, []int64{99}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bad phoneme: err = %v, want ErrValidation", err)
	}
	short := tensors{"style.3": {1, 2}}
	if _, err := p.PredictDuration(ctx, short, 3, []int64{7}); !errors.Is(err, types.ErrFormat) {
		t.Errorf("short embedding: err = %v, want ErrFormat", err)
	}
	badBase := weights()
	badBase[reference.DurationTensor] = []float32{1}
	if _, err := p.PredictDuration(ctx, badBase, 3, []int64{7}); !errors.Is(err, types.ErrFormat) {
		t.Errorf("bad base tensor: err = %v, want ErrFormat", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.PredictDuration(cctx, weights(), 3, []int64{7}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: err = %v, want context.Canceled", err)
	}
}

func TestPredictIntonation_AccentContour(t *testing.T) {
	t.Parallel()

	// pau | ア'メ (accent 1) | ミナミ' (heiban, 3 morae) | pau
	in := inference.IntonationInput{
		Vowels:      []int64{0, 7, 14, 21, 7, 21, 0},
		Consonants:  []int64{-1, -1, 26, 26, 28, 26, -1},
		StartAccent: []int64{0, 1, 0, 0, 1, 0, 0},
		EndAccent:   []int64{0, 1, 0, 0, 0, 1, 0},
		StartPhrase: []int64{0, 1, 0, 1, 0, 0, 0},
		EndPhrase:   []int64{0, 0, 1, 0, 0, 1, 0},
	}
	got, err := reference.New().PredictIntonation(context.Background(), weights(), 3, in)
	if err != nil {
		t.Fatalf("PredictIntonation: %v", err)
	}
	if got[0] != 0 || got[6] != 0 {
		t.Errorf("silence morae should have zero pitch: %v", got)
	}
	// Accent 1: first mora high, second low.
	if got[1] <= got[2] {
		t.Errorf("atamadaka contour not falling: %v", got[1:3])
	}
	// Heiban: first mora low, then high to the end.
	if got[3] >= got[4] || got[5] < got[3] {
		t.Errorf("heiban contour not rising: %v", got[3:6])
	}
}

func TestPredictIntonation_LengthMismatch(t *testing.T) {
	t.Parallel()

	in := inference.IntonationInput{Vowels: []int64{7, 7}, Consonants: []int64{-1}}
	_, err := reference.New().PredictIntonation(context.Background(), weights(), 3, in)
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	p := reference.New()
	in := inference.DecodeInput{
		F0:       []float32{0, 5.5, 5.5, 5.6, 0},
		Phonemes: []int64{0, 7, 7, 14, 0},
	}
	wave, err := p.Decode(context.Background(), weights(), 3, in)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(wave) != len(in.F0)*inference.FrameSamples {
		t.Fatalf("len = %d, want %d", len(wave), len(in.F0)*inference.FrameSamples)
	}
	for i, v := range wave[:inference.FrameSamples] {
		if v != 0 {
			t.Fatalf("leading silence sample %d = %v", i, v)
		}
	}
	var peak float32
	for _, v := range wave {
		if v > 0.5 || v < -0.5 {
			t.Fatalf("sample %v exceeds amplitude", v)
		}
		peak = max(peak, v)
	}
	if peak == 0 {
		t.Error("voiced frames produced silence")
	}

	again, err := p.Decode(context.Background(), weights(), 3, in)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(wave, again) {
		t.Error("decode is not deterministic")
	}

	if _, err := p.Decode(context.Background(), weights(), 3, inference.DecodeInput{F0: []float32{1}}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("mismatched input: err = %v, want ErrValidation", err)
	}
}

func TestSupportedDevices(t *testing.T) {
	t.Parallel()

	d, err := reference.New().SupportedDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !d.CPU || d.HasGPU() {
		t.Errorf("devices = %+v, want CPU only", d)
	}
}
