package audio_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"

	"github.com/takejohn/voicevox-core/pkg/audio"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		gain    float32
		want    []int16
	}{
		{"unity", []float32{0, 0.5, -0.5, 1, -1}, 1, []int16{0, 16384, -16384, 32767, -32767}},
		{"half gain", []float32{1, -1}, 0.5, []int16{16384, -16384}},
		{"clipped", []float32{0.8, -0.8}, 2, []int16{32767, -32768}},
		{"muted", []float32{0.3}, 0, []int16{0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.FloatToPCM16(tc.samples, tc.gain))
			if !slices.Equal(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	want := []int16{100, 100, 200, 200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	want := []int16{150, -150, 32767}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 100, 200, 300})
	if got := audio.ResampleMono16(in, 24000, 24000); !slices.Equal(got, in) {
		t.Error("same rate should return input unchanged")
	}
	if got := audio.ResampleMono16(in, 0, 24000); !slices.Equal(got, in) {
		t.Error("zero rate should return input unchanged")
	}

	up := bytesToSamples(audio.ResampleMono16(in, 24000, 48000))
	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if !slices.Equal(up, want) {
		t.Errorf("upsample = %v, want %v", up, want)
	}

	down := bytesToSamples(audio.ResampleMono16(in, 24000, 12000))
	if !slices.Equal(down, []int16{0, 200}) {
		t.Errorf("downsample = %v", down)
	}
}

func TestResampleStereo16(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 1000, 100, 1100})
	got := bytesToSamples(audio.ResampleStereo16(in, 8000, 16000))
	want := []int16{0, 1000, 50, 1050, 100, 1100, 100, 1100}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConvert(t *testing.T) {
	t.Parallel()

	in := samplesToBytes([]int16{0, 100, 200, 300})

	same, err := audio.Convert(in, audio.Mono(24000), audio.Mono(24000))
	if err != nil || !slices.Equal(same, in) {
		t.Errorf("no-op convert = %v, %v", same, err)
	}

	out, err := audio.Convert(in, audio.Mono(24000), audio.Format{SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got := len(bytesToSamples(out)); got != 16 {
		t.Errorf("sample count = %d, want 16", got)
	}

	if _, err := audio.Convert(in[:3], audio.Mono(24000), audio.Mono(48000)); !errors.Is(err, types.ErrValidation) {
		t.Errorf("odd length: err = %v, want ErrValidation", err)
	}
	if _, err := audio.Convert(in, audio.Mono(24000), audio.Format{SampleRate: 24000, Channels: 3}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("3 channels: err = %v, want ErrValidation", err)
	}
	if _, err := audio.Convert(in, audio.Mono(24000), audio.Mono(2_000_000_000)); !errors.Is(err, types.ErrValidation) {
		t.Errorf("huge rate: err = %v, want ErrValidation", err)
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()

	if got := len(audio.Silence(audio.Format{SampleRate: 24000, Channels: 2}, 0.5)); got != 48000 {
		t.Errorf("len = %d, want 48000", got)
	}
	if got := audio.Silence(audio.Mono(24000), 0); got != nil {
		t.Errorf("zero silence = %v", got)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	if got := audio.Mono(24000).String(); got != "24000Hz mono" {
		t.Errorf("got %q", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("got %q", got)
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{0, 1, -1, 32767, -32768, 1234})
	f := audio.Format{SampleRate: 24000, Channels: 2}
	data, err := audio.WAV(pcm, f)
	if err != nil {
		t.Fatalf("WAV: %v", err)
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	got, gotFormat, err := audio.DecodeWAVBytes(data)
	if err != nil {
		t.Fatalf("DecodeWAVBytes: %v", err)
	}
	if gotFormat != f {
		t.Errorf("format = %v, want %v", gotFormat, f)
	}
	if !slices.Equal(got, pcm) {
		t.Errorf("pcm = %v, want %v", bytesToSamples(got), bytesToSamples(pcm))
	}

	if _, _, err := audio.DecodeWAVBytes([]byte("not a wav file at all")); !errors.Is(err, types.ErrFormat) {
		t.Errorf("garbage: err = %v, want ErrFormat", err)
	}
}
