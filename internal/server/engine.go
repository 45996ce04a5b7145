package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/takejohn/voicevox-core/internal/synthesizer"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// textParam returns the required "text" query parameter.
func textParam(r *http.Request) (string, error) {
	q := r.URL.Query()
	if !q.Has("text") {
		return "", fmt.Errorf("%w: text query parameter is required", types.ErrValidation)
	}
	return q.Get("text"), nil
}

func (s *Server) handleAudioQuery(w http.ResponseWriter, r *http.Request) {
	s.audioQuery(w, r, s.synth.AudioQuery)
}

// handleAudioQueryFromKana reads the notation from the "text" parameter.
func (s *Server) handleAudioQueryFromKana(w http.ResponseWriter, r *http.Request) {
	s.audioQuery(w, r, s.synth.AudioQueryFromKana)
}

func (s *Server) audioQuery(w http.ResponseWriter, r *http.Request, build func(context.Context, string, types.StyleID) (types.AudioQuery, error)) {
	style, err := styleParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	text, err := textParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q, err := build(r.Context(), text, style)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleAccentPhrases treats "text" as kana notation when is_kana is true.
func (s *Server) handleAccentPhrases(w http.ResponseWriter, r *http.Request) {
	style, err := styleParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	text, err := textParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	isKana, err := boolParam(r, "is_kana", false)
	if err != nil {
		fail(w, r, err)
		return
	}

	create := s.synth.CreateAccentPhrases
	if isKana {
		create = s.synth.CreateAccentPhrasesFromKana
	}
	phrases, err := create(r.Context(), text, style)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, phrases)
}

// phraseStage adapts a phrase-rewriting stage to a handler taking the phrases
// as the JSON body.
func (s *Server) phraseStage(stage func(context.Context, []types.AccentPhrase, types.StyleID) ([]types.AccentPhrase, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		style, err := styleParam(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var phrases []types.AccentPhrase
		if err := decodeBody(r, &phrases); err != nil {
			fail(w, r, err)
			return
		}
		out, err := stage(r.Context(), phrases, style)
		if err != nil {
			fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// synthesisOptions reads the optional synthesis toggles from the query.
func synthesisOptions(r *http.Request) (synthesizer.SynthesisOptions, error) {
	opts := synthesizer.DefaultSynthesisOptions()
	upspeak, err := boolParam(r, "enable_interrogative_upspeak", opts.EnableInterrogativeUpspeak)
	if err != nil {
		return opts, err
	}
	opts.EnableInterrogativeUpspeak = upspeak
	return opts, nil
}

func (s *Server) handleSynthesis(w http.ResponseWriter, r *http.Request) {
	style, err := styleParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	opts, err := synthesisOptions(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var q types.AudioQuery
	if err := decodeBody(r, &q); err != nil {
		fail(w, r, err)
		return
	}
	wave, err := s.synth.Synthesis(r.Context(), q, style, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.writeWAV(w, r, wave)
}

// handleTTS runs the whole pipeline from text, or from kana when is_kana is
// true.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	style, err := styleParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	text, err := textParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	isKana, err := boolParam(r, "is_kana", false)
	if err != nil {
		fail(w, r, err)
		return
	}
	opts, err := synthesisOptions(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	tts := s.synth.TTS
	if isKana {
		tts = s.synth.TTSFromKana
	}
	wave, err := tts(r.Context(), text, style, opts)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.writeWAV(w, r, wave)
}

func (s *Server) writeWAV(w http.ResponseWriter, r *http.Request, wave *synthesizer.Waveform) {
	data, err := wave.WAV()
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	metas := s.synth.Metas()
	if metas == nil {
		metas = []types.SpeakerMeta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// modelInfo is one entry of GET /models.
type modelInfo struct {
	ID     types.VoiceModelID `json:"id"`
	Styles []types.StyleID    `json:"styles"`
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	reg := s.synth.Registry()
	out := []modelInfo{}
	for _, id := range reg.Models() {
		m, err := reg.Get(id)
		if err != nil {
			// Unloaded since Models was read.
			continue
		}
		out = append(out, modelInfo{ID: id, Styles: m.StyleIDs()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	id := types.VoiceModelID(r.PathValue("id"))
	if err := s.synth.UnloadVoiceModel(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSupportedDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.synth.SupportedDevices())
}
