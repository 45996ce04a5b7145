// Package types defines the shared data model used across all voicevox-core
// packages.
//
// These types form the boundary between query construction and waveform
// synthesis: the accent phrase sequence produced by the analyzer and the kana
// parser, the fully specified [AudioQuery] consumed by the decoder, and the
// identifiers used to route a request to a loaded voice model. Each package
// defines its own internal types; cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"fmt"
	"math"
	"strconv"
)

// VoiceModelID identifies a voice model bundle. It is assigned when the bundle
// is authored and is stable across process runs.
type VoiceModelID string

// StyleID identifies a selectable voice style. It is unique within a single
// model's metadata.
type StyleID uint32

// String returns the decimal form of the style id.
func (s StyleID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseStyleID parses a decimal style id such as the "speaker" query parameter.
func ParseStyleID(s string) (StyleID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: style id %q is not an unsigned integer", ErrValidation, s)
	}
	return StyleID(n), nil
}

// StyleMeta describes one style offered by a speaker.
type StyleMeta struct {
	ID   StyleID `json:"id"`
	Name string  `json:"name"`
}

// SpeakerMeta describes a speaker and the styles it offers. It is read-only
// descriptive data; the registry never mutates it.
type SpeakerMeta struct {
	Name        string      `json:"name"`
	SpeakerUUID string      `json:"speaker_uuid"`
	Version     string      `json:"version"`
	Styles      []StyleMeta `json:"styles"`
}

// Mora is a single timing unit. Consonant and ConsonantLength are nil for
// vowel-only morae. Duration and pitch fields hold zero until the
// corresponding prediction stage has run.
type Mora struct {
	Text            string   `json:"text"`
	Consonant       *string  `json:"consonant"`
	ConsonantLength *float32 `json:"consonant_length"`
	Vowel           string   `json:"vowel"`
	VowelLength     float32  `json:"vowel_length"`
	Pitch           float32  `json:"pitch"`
}

// AccentPhrase is an ordered group of morae sharing one pitch-accent contour.
// Accent is the 1-based index of the accent nucleus.
type AccentPhrase struct {
	Moras           []Mora `json:"moras"`
	Accent          int    `json:"accent"`
	PauseMora       *Mora  `json:"pause_mora"`
	IsInterrogative bool   `json:"is_interrogative"`
}

// AudioQuery is a fully specified synthesis request. Re-submitting the same
// query against the same model and style reproduces the same waveform.
type AudioQuery struct {
	AccentPhrases      []AccentPhrase `json:"accent_phrases"`
	SpeedScale         float32        `json:"speedScale"`
	PitchScale         float32        `json:"pitchScale"`
	IntonationScale    float32        `json:"intonationScale"`
	VolumeScale        float32        `json:"volumeScale"`
	PrePhonemeLength   float32        `json:"prePhonemeLength"`
	PostPhonemeLength  float32        `json:"postPhonemeLength"`
	OutputSamplingRate int            `json:"outputSamplingRate"`
	OutputStereo       bool           `json:"outputStereo"`
	Kana               string         `json:"kana"`
}

// Default prosody values applied by [NewAudioQuery].
const (
	DefaultSpeedScale        = 1.0
	DefaultPitchScale        = 0.0
	DefaultIntonationScale   = 1.0
	DefaultVolumeScale       = 1.0
	DefaultPrePhonemeLength  = 0.1
	DefaultPostPhonemeLength = 0.1
	DefaultSamplingRate      = 24000
)

// NewAudioQuery wraps phrases with the default global prosody scalars.
func NewAudioQuery(phrases []AccentPhrase, kana string) AudioQuery {
	return AudioQuery{
		AccentPhrases:      phrases,
		SpeedScale:         DefaultSpeedScale,
		PitchScale:         DefaultPitchScale,
		IntonationScale:    DefaultIntonationScale,
		VolumeScale:        DefaultVolumeScale,
		PrePhonemeLength:   DefaultPrePhonemeLength,
		PostPhonemeLength:  DefaultPostPhonemeLength,
		OutputSamplingRate: DefaultSamplingRate,
		OutputStereo:       false,
		Kana:               kana,
	}
}

// Limits enforced by [AudioQuery.Validate]. They keep one query from
// expanding into an unbounded number of decoder frames or output samples.
const (
	MinSpeedScale       = 0.1
	MaxPhonemeLength    = 60.0
	MaxUtteranceSeconds = 600.0
	MaxSamplingRate     = 192000
)

// Validate checks the global scalars of q and the lengths of every mora.
// Scalars must be finite, lengths lie in [0, MaxPhonemeLength] seconds, and
// the spoken length after speed scaling may not exceed MaxUtteranceSeconds.
func (q *AudioQuery) Validate() error {
	for _, f := range []struct {
		name string
		v    float32
	}{
		{"speedScale", q.SpeedScale},
		{"pitchScale", q.PitchScale},
		{"intonationScale", q.IntonationScale},
		{"volumeScale", q.VolumeScale},
	} {
		if !finite(f.v) {
			return fmt.Errorf("%w: %s %v is not a finite number", ErrValidation, f.name, f.v)
		}
	}
	if q.SpeedScale < MinSpeedScale {
		return fmt.Errorf("%w: speedScale %v is below %v", ErrValidation, q.SpeedScale, MinSpeedScale)
	}
	if q.OutputSamplingRate <= 0 || q.OutputSamplingRate > MaxSamplingRate {
		return fmt.Errorf("%w: outputSamplingRate %d outside 1..%d", ErrValidation, q.OutputSamplingRate, MaxSamplingRate)
	}

	total := 0.0
	check := func(where string, l float32) error {
		if !finite(l) || l < 0 || l > MaxPhonemeLength {
			return fmt.Errorf("%w: %s %v outside 0..%v seconds", ErrValidation, where, l, MaxPhonemeLength)
		}
		total += float64(l)
		return nil
	}
	if err := check("prePhonemeLength", q.PrePhonemeLength); err != nil {
		return err
	}
	if err := check("postPhonemeLength", q.PostPhonemeLength); err != nil {
		return err
	}
	for pi, p := range q.AccentPhrases {
		for mi, m := range p.Moras {
			where := fmt.Sprintf("accent_phrases[%d].moras[%d]", pi, mi)
			if m.ConsonantLength != nil {
				if err := check(where+".consonant_length", *m.ConsonantLength); err != nil {
					return err
				}
			}
			if err := check(where+".vowel_length", m.VowelLength); err != nil {
				return err
			}
			if !finite(m.Pitch) {
				return fmt.Errorf("%w: %s.pitch %v is not a finite number", ErrValidation, where, m.Pitch)
			}
		}
		if p.PauseMora != nil {
			if err := check(fmt.Sprintf("accent_phrases[%d].pause_mora.vowel_length", pi), p.PauseMora.VowelLength); err != nil {
				return err
			}
		}
	}
	if spoken := total / float64(q.SpeedScale); spoken > MaxUtteranceSeconds {
		return fmt.Errorf("%w: utterance lasts %.0f seconds, limit %v", ErrValidation, spoken, MaxUtteranceSeconds)
	}
	return nil
}

func finite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

// CloneAccentPhrases returns a deep copy of phrases so that pipeline stages
// never mutate caller-owned data.
func CloneAccentPhrases(phrases []AccentPhrase) []AccentPhrase {
	if phrases == nil {
		return nil
	}
	out := make([]AccentPhrase, len(phrases))
	for i, p := range phrases {
		out[i] = AccentPhrase{
			Moras:           make([]Mora, len(p.Moras)),
			Accent:          p.Accent,
			IsInterrogative: p.IsInterrogative,
		}
		for j, m := range p.Moras {
			out[i].Moras[j] = m.Clone()
		}
		if p.PauseMora != nil {
			pm := p.PauseMora.Clone()
			out[i].PauseMora = &pm
		}
	}
	return out
}

// Clone returns a copy of m that shares no pointers with it.
func (m Mora) Clone() Mora {
	c := m
	if m.Consonant != nil {
		s := *m.Consonant
		c.Consonant = &s
	}
	if m.ConsonantLength != nil {
		f := *m.ConsonantLength
		c.ConsonantLength = &f
	}
	return c
}

// AccelerationMode selects the device class used for inference.
type AccelerationMode string

const (
	AccelerationAuto AccelerationMode = "AUTO"
	AccelerationCPU  AccelerationMode = "CPU"
	AccelerationGPU  AccelerationMode = "GPU"
)

// IsValid reports whether m is a recognised acceleration mode.
func (m AccelerationMode) IsValid() bool {
	switch m {
	case AccelerationAuto, AccelerationCPU, AccelerationGPU:
		return true
	}
	return false
}

// ParseAccelerationMode converts s into an [AccelerationMode]. The empty
// string maps to [AccelerationAuto]; any other unknown value fails with
// [ErrValidation] naming the value.
func ParseAccelerationMode(s string) (AccelerationMode, error) {
	if s == "" {
		return AccelerationAuto, nil
	}
	m := AccelerationMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("%w: unknown acceleration mode %q; valid values: AUTO, CPU, GPU", ErrValidation, s)
	}
	return m, nil
}
