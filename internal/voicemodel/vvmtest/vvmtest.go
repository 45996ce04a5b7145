// Package vvmtest builds voice model bundles for tests.
package vvmtest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/takejohn/voicevox-core/internal/voicemodel"
	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Bundle returns a valid bundle with one speaker offering styles. Each style
// gets a reference embedding whose log-F0 base rises with the style id, so
// different styles produce different pitch.
func Bundle(id types.VoiceModelID, styles ...types.StyleID) voicemodel.Bundle {
	sp := types.SpeakerMeta{
		Name:        "speaker-" + string(id),
		SpeakerUUID: "00000000-0000-4000-8000-" + pad12(string(id)),
		Version:     "0.1.0",
	}
	b := voicemodel.Bundle{ID: id, Version: "0.1.0"}
	for _, s := range styles {
		sp.Styles = append(sp.Styles, types.StyleMeta{ID: s, Name: "style-" + s.String()})
		b.Tensors = append(b.Tensors, voicemodel.Tensor{
			Name: inference.StyleTensor(s),
			Data: []float32{1.0, 5.4 + 0.01*float32(s%20), 0.3, 0.4},
		})
	}
	b.Metas = []types.SpeakerMeta{sp}
	return b
}

// Encode writes b to a byte slice, failing the test on error.
func Encode(t testing.TB, b voicemodel.Bundle) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := voicemodel.Write(&buf, b); err != nil {
		t.Fatalf("vvmtest: write bundle: %v", err)
	}
	return buf.Bytes()
}

// Model encodes and reopens b.
func Model(t testing.TB, b voicemodel.Bundle) *voicemodel.Model {
	t.Helper()
	data := Encode(t, b)
	m, err := voicemodel.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("vvmtest: read bundle: %v", err)
	}
	return m
}

// WriteFile stores b as dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, b voicemodel.Bundle) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Encode(t, b), 0o644); err != nil {
		t.Fatalf("vvmtest: %v", err)
	}
	return path
}

func pad12(s string) string {
	const zeros = "000000000000"
	var hex []byte
	for i := 0; i < len(s) && len(hex) < 12; i++ {
		hex = append(hex, "0123456789abcdef"[s[i]%16])
	}
	return zeros[:12-len(hex)] + string(hex)
}
