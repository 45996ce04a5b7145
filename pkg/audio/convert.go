// Package audio turns decoded waveforms into 16-bit PCM and WAV files.
//
// All PCM handled here is little-endian signed 16-bit, interleaved when
// stereo. Conversions return new slices and never modify their input.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at rate.
func Mono(rate int) Format { return Format{SampleRate: rate, Channels: 1} }

// Validate reports whether f can be produced by this package.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > types.MaxSamplingRate {
		return fmt.Errorf("audio: %w: sample rate %d outside 1..%d", types.ErrValidation, f.SampleRate, types.MaxSamplingRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: %w: %d channels unsupported, want 1 or 2", types.ErrValidation, f.Channels)
	}
	return nil
}

// String returns a human-readable form such as "24000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPerSecond returns the PCM data rate of f.
func (f Format) BytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

func clamp16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// FloatToPCM16 scales samples in [-1, 1] by gain and quantises them to mono
// PCM. Values outside the int16 range are clipped.
func FloatToPCM16(samples []float32, gain float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, clamp16(math.Round(float64(s)*float64(gain)*math.MaxInt16)))
	}
	return out
}

// Silence returns seconds of zero PCM in format f.
func Silence(f Format, seconds float64) []byte {
	frames := int(math.Round(seconds * float64(f.SampleRate)))
	if frames <= 0 {
		return nil
	}
	return make([]byte, frames*f.Channels*2)
}

// Convert resamples pcm from one format to another, then adjusts the channel
// count. When the formats match the input is returned unchanged.
func Convert(pcm []byte, from, to Format) ([]byte, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if len(pcm)%(2*from.Channels) != 0 {
		return nil, fmt.Errorf("audio: %w: %d bytes is not a whole number of %s frames", types.ErrValidation, len(pcm), from)
	}
	if from == to {
		return pcm, nil
	}

	// Resample first so a mono source is never resampled as stereo.
	if from.SampleRate != to.SampleRate {
		pcm = resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}
	switch {
	case from.Channels == 1 && to.Channels == 2:
		pcm = MonoToStereo(pcm)
	case from.Channels == 2 && to.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return pcm, nil
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages the two channels of each frame.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		avg := (int32(sampleAt(pcm, 2*i)) + int32(sampleAt(pcm, 2*i+1))) / 2
		putSample(out, i, int16(avg))
	}
	return out
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate with linear
// interpolation. Non-positive or equal rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is the interleaved stereo variant of [ResampleMono16].
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, 2, srcRate, dstRate)
}

func resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+c))
			s1 := float64(sampleAt(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}
