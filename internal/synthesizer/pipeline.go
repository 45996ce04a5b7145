package synthesizer

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/pkg/audio"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Interrogative upspeak parameters.
const (
	upspeakVowelLength = 0.15
	upspeakRise        = 0.3
	upspeakMaxPitch    = 6.5
)

// Waveform is the output of the synthesis stage.
type Waveform struct {
	// PCM holds little-endian signed 16-bit samples, interleaved when stereo.
	PCM []byte
	// Format is the sample rate and channel count of PCM.
	Format audio.Format
	// Features is the decoder input, set when requested by
	// [SynthesisOptions.ReturnFeatures].
	Features *Features
}

// Duration returns the playback length of the waveform.
func (w *Waveform) Duration() time.Duration {
	bps := w.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(len(w.PCM)) * time.Second / time.Duration(bps)
}

// WAV encodes the waveform as a RIFF/WAVE file.
func (w *Waveform) WAV() ([]byte, error) {
	return audio.WAV(w.PCM, w.Format)
}

// Features is the frame-level decoder input of one synthesis call.
type Features struct {
	// FrameRate is the number of frames per second.
	FrameRate float64 `json:"frame_rate"`
	// Phonemes names the phoneme active in each frame.
	Phonemes []string `json:"phonemes"`
	// F0 is the log-F0 of each frame; 0 marks an unvoiced frame.
	F0 []float32 `json:"f0"`
}

// CreateAccentPhrases analyzes text and groups it into accent phrases. The
// morae carry placeholder lengths and pitch.
func (s *Synthesizer) CreateAccentPhrases(ctx context.Context, text string, style types.StyleID) ([]types.AccentPhrase, error) {
	return stage(ctx, s, "accent_phrases", style, func(context.Context) ([]types.AccentPhrase, error) {
		if _, err := s.registry.Resolve(style); err != nil {
			return nil, err
		}
		return s.textPhrases(text)
	})
}

// CreateAccentPhrasesFromKana parses kana notation into accent phrases without
// the text analyzer. Malformed notation fails with [types.ErrParse].
func (s *Synthesizer) CreateAccentPhrasesFromKana(ctx context.Context, notation string, style types.StyleID) ([]types.AccentPhrase, error) {
	return stage(ctx, s, "accent_phrases_from_kana", style, func(context.Context) ([]types.AccentPhrase, error) {
		if _, err := s.registry.Resolve(style); err != nil {
			return nil, err
		}
		phrases, err := kana.Parse(notation)
		if err != nil {
			return nil, fmt.Errorf("synthesizer: %w", err)
		}
		return phrases, nil
	})
}

func (s *Synthesizer) textPhrases(text string) ([]types.AccentPhrase, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("synthesizer: %w: no text analyzer configured", types.ErrValidation)
	}
	ms, err := s.analyzer.Analyze(text)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	phrases, err := analyzer.Phrases(ms)
	if err != nil {
		return nil, fmt.Errorf("synthesizer: %w", err)
	}
	return phrases, nil
}

// ReplacePhonemeLength returns a copy of phrases with consonant and vowel
// lengths predicted by the model serving style. Pitch is left untouched.
func (s *Synthesizer) ReplacePhonemeLength(ctx context.Context, phrases []types.AccentPhrase, style types.StyleID) ([]types.AccentPhrase, error) {
	return stage(ctx, s, "phoneme_length", style, func(ctx context.Context) ([]types.AccentPhrase, error) {
		model, err := s.registry.Resolve(style)
		if err != nil {
			return nil, err
		}
		out := clonePhrases(phrases)
		if err := checkPhrases(out); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return out, nil
		}
		ids, err := phonemeIDs(out)
		if err != nil {
			return nil, err
		}

		var lengths []float32
		if err := s.infer(ctx, "duration", func(ctx context.Context) error {
			lengths, err = s.provider.PredictDuration(ctx, model, style, ids)
			return err
		}); err != nil {
			return nil, err
		}
		if len(lengths) != len(ids) {
			return nil, fmt.Errorf("synthesizer: duration kernel returned %d lengths for %d phonemes", len(lengths), len(ids))
		}

		i := 1 // skip the leading silence
		for p := range out {
			for m := range out[p].Moras {
				mora := &out[p].Moras[m]
				if mora.Consonant != nil {
					l := lengths[i]
					mora.ConsonantLength = &l
					i++
				}
				mora.VowelLength = lengths[i]
				i++
			}
			if out[p].PauseMora != nil {
				out[p].PauseMora.VowelLength = lengths[i]
				i++
			}
		}
		return out, nil
	})
}

// ReplaceMoraPitch returns a copy of phrases with mora pitch predicted by the
// model serving style. Lengths are left untouched. Unvoiced morae get pitch 0.
func (s *Synthesizer) ReplaceMoraPitch(ctx context.Context, phrases []types.AccentPhrase, style types.StyleID) ([]types.AccentPhrase, error) {
	return stage(ctx, s, "mora_pitch", style, func(ctx context.Context) ([]types.AccentPhrase, error) {
		model, err := s.registry.Resolve(style)
		if err != nil {
			return nil, err
		}
		out := clonePhrases(phrases)
		if err := checkPhrases(out); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return out, nil
		}
		in, err := intonationInput(out)
		if err != nil {
			return nil, err
		}

		var f0 []float32
		if err := s.infer(ctx, "intonation", func(ctx context.Context) error {
			f0, err = s.provider.PredictIntonation(ctx, model, style, in)
			return err
		}); err != nil {
			return nil, err
		}
		if len(f0) != in.Len() {
			return nil, fmt.Errorf("synthesizer: intonation kernel returned %d values for %d morae", len(f0), in.Len())
		}

		i := 1
		for p := range out {
			for m := range out[p].Moras {
				mora := &out[p].Moras[m]
				if unvoiced(mora.Vowel) {
					mora.Pitch = 0
				} else {
					mora.Pitch = f0[i]
				}
				i++
			}
			if out[p].PauseMora != nil {
				out[p].PauseMora.Pitch = 0
				i++
			}
		}
		return out, nil
	})
}

// ReplaceMoraData runs [Synthesizer.ReplacePhonemeLength] and then
// [Synthesizer.ReplaceMoraPitch]. Each step resolves style on its own.
func (s *Synthesizer) ReplaceMoraData(ctx context.Context, phrases []types.AccentPhrase, style types.StyleID) ([]types.AccentPhrase, error) {
	return stage(ctx, s, "mora_data", style, func(ctx context.Context) ([]types.AccentPhrase, error) {
		withLengths, err := s.ReplacePhonemeLength(ctx, phrases, style)
		if err != nil {
			return nil, err
		}
		return s.ReplaceMoraPitch(ctx, withLengths, style)
	})
}

// AudioQuery builds a fully specified query for text with the default global
// prosody. Its Kana field holds the notation rendered from the phrases.
func (s *Synthesizer) AudioQuery(ctx context.Context, text string, style types.StyleID) (types.AudioQuery, error) {
	return stage(ctx, s, "audio_query", style, func(ctx context.Context) (types.AudioQuery, error) {
		phrases, err := s.CreateAccentPhrases(ctx, text, style)
		if err != nil {
			return types.AudioQuery{}, err
		}
		phrases, err = s.ReplaceMoraData(ctx, phrases, style)
		if err != nil {
			return types.AudioQuery{}, err
		}
		return types.NewAudioQuery(phrases, kana.Render(phrases)), nil
	})
}

// AudioQueryFromKana builds a fully specified query from kana notation. The
// notation is echoed in the Kana field.
func (s *Synthesizer) AudioQueryFromKana(ctx context.Context, notation string, style types.StyleID) (types.AudioQuery, error) {
	return stage(ctx, s, "audio_query_from_kana", style, func(ctx context.Context) (types.AudioQuery, error) {
		phrases, err := s.CreateAccentPhrasesFromKana(ctx, notation, style)
		if err != nil {
			return types.AudioQuery{}, err
		}
		phrases, err = s.ReplaceMoraData(ctx, phrases, style)
		if err != nil {
			return types.AudioQuery{}, err
		}
		return types.NewAudioQuery(phrases, notation), nil
	})
}

// Synthesis renders q with the model serving style. The global scalars are
// applied to a copy of the query's morae, the decoder runs at its native rate,
// and the result is converted to q.OutputSamplingRate and the requested
// channel count.
func (s *Synthesizer) Synthesis(ctx context.Context, q types.AudioQuery, style types.StyleID, opts SynthesisOptions) (*Waveform, error) {
	return stage(ctx, s, "synthesis", style, func(ctx context.Context) (*Waveform, error) {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("synthesizer: %w", err)
		}
		if err := opts.validate(); err != nil {
			return nil, fmt.Errorf("synthesizer: %w", err)
		}
		model, err := s.registry.Resolve(style)
		if err != nil {
			return nil, err
		}
		phrases := clonePhrases(q.AccentPhrases)
		if err := checkPhrases(phrases); err != nil {
			return nil, err
		}
		if opts.EnableInterrogativeUpspeak {
			applyUpspeak(phrases)
		}
		in, err := decodeInput(q, phrases)
		if err != nil {
			return nil, err
		}

		var samples []float32
		if err := s.infer(ctx, "decode", func(ctx context.Context) error {
			samples, err = s.provider.Decode(ctx, model, style, in)
			return err
		}); err != nil {
			return nil, err
		}

		channels := 1
		if q.OutputStereo {
			channels = 2
		}
		target := audio.Format{SampleRate: q.OutputSamplingRate, Channels: channels}
		pcm, err := audio.Convert(audio.FloatToPCM16(samples, q.VolumeScale), audio.Mono(inference.SamplingRate), target)
		if err != nil {
			return nil, fmt.Errorf("synthesizer: convert: %w", err)
		}
		if opts.PaddingBefore > 0 || opts.PaddingAfter > 0 {
			pcm = slices.Concat(
				audio.Silence(target, opts.PaddingBefore),
				pcm,
				audio.Silence(target, opts.PaddingAfter),
			)
		}

		w := &Waveform{PCM: pcm, Format: target}
		if opts.ReturnFeatures {
			w.Features = features(in)
		}
		s.metrics.AudioSeconds.Add(ctx, w.Duration().Seconds())
		return w, nil
	})
}

// TTS runs [Synthesizer.AudioQuery] and then [Synthesizer.Synthesis].
func (s *Synthesizer) TTS(ctx context.Context, text string, style types.StyleID, opts TTSOptions) (*Waveform, error) {
	return stage(ctx, s, "tts", style, func(ctx context.Context) (*Waveform, error) {
		q, err := s.AudioQuery(ctx, text, style)
		if err != nil {
			return nil, err
		}
		return s.Synthesis(ctx, q, style, opts)
	})
}

// TTSFromKana runs [Synthesizer.AudioQueryFromKana] and then
// [Synthesizer.Synthesis].
func (s *Synthesizer) TTSFromKana(ctx context.Context, notation string, style types.StyleID, opts TTSOptions) (*Waveform, error) {
	return stage(ctx, s, "tts_from_kana", style, func(ctx context.Context) (*Waveform, error) {
		q, err := s.AudioQueryFromKana(ctx, notation, style)
		if err != nil {
			return nil, err
		}
		return s.Synthesis(ctx, q, style, opts)
	})
}

func clonePhrases(phrases []types.AccentPhrase) []types.AccentPhrase {
	out := types.CloneAccentPhrases(phrases)
	if out == nil {
		out = []types.AccentPhrase{}
	}
	return out
}

// checkPhrases rejects phrases the kernels cannot consume.
func checkPhrases(phrases []types.AccentPhrase) error {
	for i, p := range phrases {
		if len(p.Moras) == 0 {
			return fmt.Errorf("synthesizer: %w: accent_phrases[%d] has no morae", types.ErrValidation, i)
		}
		if p.Accent < 1 || p.Accent > len(p.Moras) {
			return fmt.Errorf("synthesizer: %w: accent_phrases[%d]: accent %d out of range [1, %d]",
				types.ErrValidation, i, p.Accent, len(p.Moras))
		}
	}
	return nil
}

// unvoiced reports whether a mora with vowel carries no pitch.
func unvoiced(vowel string) bool {
	switch vowel {
	case "A", "I", "U", "E", "O", "cl", kana.Pause:
		return true
	}
	return false
}

func phonemeID(p string, phrase, mora int) (int64, error) {
	id, ok := kana.PhonemeID(p)
	if !ok {
		return 0, fmt.Errorf("synthesizer: %w: accent_phrases[%d].moras[%d]: unknown phoneme %q",
			types.ErrValidation, phrase, mora, p)
	}
	return id, nil
}

var pauseID, _ = kana.PhonemeID(kana.Pause)

// phonemeIDs flattens phrases into the phoneme sequence seen by the duration
// kernel, framed by one silence on each side.
func phonemeIDs(phrases []types.AccentPhrase) ([]int64, error) {
	ids := []int64{pauseID}
	for pi, p := range phrases {
		for mi, m := range p.Moras {
			if m.Consonant != nil {
				id, err := phonemeID(*m.Consonant, pi, mi)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			id, err := phonemeID(m.Vowel, pi, mi)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		if p.PauseMora != nil {
			ids = append(ids, pauseID)
		}
	}
	return append(ids, pauseID), nil
}

// intonationInput builds the per-mora features of phrases, framed by one
// silent mora on each side.
func intonationInput(phrases []types.AccentPhrase) (inference.IntonationInput, error) {
	var in inference.IntonationInput
	flag := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}
	push := func(vowel, consonant int64, startAccent, endAccent, startPhrase, endPhrase bool) {
		in.Vowels = append(in.Vowels, vowel)
		in.Consonants = append(in.Consonants, consonant)
		in.StartAccent = append(in.StartAccent, flag(startAccent))
		in.EndAccent = append(in.EndAccent, flag(endAccent))
		in.StartPhrase = append(in.StartPhrase, flag(startPhrase))
		in.EndPhrase = append(in.EndPhrase, flag(endPhrase))
	}
	silence := func() { push(pauseID, inference.NoConsonant, false, false, false, false) }

	silence()
	for pi, p := range phrases {
		for mi, m := range p.Moras {
			vowel, err := phonemeID(m.Vowel, pi, mi)
			if err != nil {
				return in, err
			}
			consonant := inference.NoConsonant
			if m.Consonant != nil {
				if consonant, err = phonemeID(*m.Consonant, pi, mi); err != nil {
					return in, err
				}
			}
			// The high region starts on the first mora for head-accented
			// phrases and on the second otherwise.
			startAccent := (p.Accent == 1 && mi == 0) || (p.Accent != 1 && mi == 1)
			push(vowel, consonant,
				startAccent,
				mi == p.Accent-1,
				mi == 0,
				mi == len(p.Moras)-1,
			)
		}
		if p.PauseMora != nil {
			silence()
		}
	}
	silence()
	return in, nil
}

// applyUpspeak appends a rising mora to every voiced interrogative phrase.
func applyUpspeak(phrases []types.AccentPhrase) {
	for i := range phrases {
		p := &phrases[i]
		if !p.IsInterrogative || len(p.Moras) == 0 {
			continue
		}
		last := p.Moras[len(p.Moras)-1]
		if last.Pitch <= 0 {
			continue
		}
		vowel := strings.ToLower(last.Vowel)
		if vowel == "n" {
			vowel = "N"
		}
		p.Moras = append(p.Moras, types.Mora{
			Text:        kana.VowelText(vowel),
			Vowel:       vowel,
			VowelLength: upspeakVowelLength,
			Pitch:       min(last.Pitch+upspeakRise, upspeakMaxPitch),
		})
	}
}

// scaledPitches returns the pitch of every phrase mora after the pitch and
// intonation scalars. Intonation stretches voiced pitch around its mean.
func scaledPitches(phrases []types.AccentPhrase, pitchScale, intonationScale float32) []float32 {
	var out []float32
	for _, p := range phrases {
		for _, m := range p.Moras {
			out = append(out, max(m.Pitch, 0))
		}
	}

	factor := float32(math.Pow(2, float64(pitchScale)))
	var sum float64
	var voiced int
	for i := range out {
		if out[i] > 0 {
			out[i] *= factor
			sum += float64(out[i])
			voiced++
		}
	}
	if voiced == 0 {
		return out
	}
	mean := float32(sum / float64(voiced))
	for i := range out {
		if out[i] > 0 {
			out[i] = max((out[i]-mean)*intonationScale+mean, 0)
		}
	}
	return out
}

// frames converts a phoneme length in seconds into decoder frames.
func frames(length, speed float32) int {
	return int(math.Round(float64(length) / float64(speed) * inference.FrameRate))
}

// decodeInput expands phrases into frame-level decoder features, with the
// query's pre and post phoneme lengths as leading and trailing silence.
func decodeInput(q types.AudioQuery, phrases []types.AccentPhrase) (inference.DecodeInput, error) {
	var in inference.DecodeInput
	add := func(id int64, length, f0 float32) {
		for range frames(length, q.SpeedScale) {
			in.F0 = append(in.F0, f0)
			in.Phonemes = append(in.Phonemes, id)
		}
	}

	pitches := scaledPitches(phrases, q.PitchScale, q.IntonationScale)
	add(pauseID, q.PrePhonemeLength, 0)
	k := 0
	for pi, p := range phrases {
		for mi, m := range p.Moras {
			f0 := pitches[k]
			k++
			if m.VowelLength < 0 || (m.ConsonantLength != nil && *m.ConsonantLength < 0) {
				return in, fmt.Errorf("synthesizer: %w: accent_phrases[%d].moras[%d]: negative length",
					types.ErrValidation, pi, mi)
			}
			if m.Consonant != nil {
				id, err := phonemeID(*m.Consonant, pi, mi)
				if err != nil {
					return in, err
				}
				var l float32
				if m.ConsonantLength != nil {
					l = *m.ConsonantLength
				}
				add(id, l, f0)
			}
			id, err := phonemeID(m.Vowel, pi, mi)
			if err != nil {
				return in, err
			}
			add(id, m.VowelLength, f0)
		}
		if p.PauseMora != nil {
			if p.PauseMora.VowelLength < 0 {
				return in, fmt.Errorf("synthesizer: %w: accent_phrases[%d].pause_mora: negative length",
					types.ErrValidation, pi)
			}
			add(pauseID, p.PauseMora.VowelLength, 0)
		}
	}
	add(pauseID, q.PostPhonemeLength, 0)
	return in, nil
}

func features(in inference.DecodeInput) *Features {
	f := &Features{
		FrameRate: inference.FrameRate,
		Phonemes:  make([]string, len(in.Phonemes)),
		F0:        slices.Clone(in.F0),
	}
	for i, id := range in.Phonemes {
		f.Phonemes[i] = kana.Phonemes[id]
	}
	return f
}
