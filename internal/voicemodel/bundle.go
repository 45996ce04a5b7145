package voicemodel

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Bundle entry names.
const (
	ManifestEntry = "manifest.yaml"
	MetasEntry    = "metas.json"
	WeightsEntry  = "weights.bin"
)

// FormatVersion is the bundle layout version written by [Write].
const FormatVersion = 1

// Manifest is the decoded manifest.yaml of a bundle.
type Manifest struct {
	FormatVersion int            `yaml:"format_version"`
	ID            string         `yaml:"id"`
	Version       string         `yaml:"version"`
	WeightsSHA256 string         `yaml:"weights_sha256"`
	Tensors       []TensorHeader `yaml:"tensors"`
}

// TensorHeader locates one tensor inside weights.bin. Tensors are stored back
// to back in manifest order as little-endian float32.
type TensorHeader struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// Tensor is a named weight array used when authoring a bundle.
type Tensor struct {
	Name string
	Data []float32
}

// Bundle is the authoring form of a voice model.
type Bundle struct {
	ID      types.VoiceModelID
	Version string
	Metas   []types.SpeakerMeta
	Tensors []Tensor
}

// Write encodes b as a .vvm bundle. It does not validate b beyond what is
// needed to produce a readable archive; [Open] performs the full checks.
func Write(w io.Writer, b Bundle) error {
	var weights bytes.Buffer
	m := Manifest{FormatVersion: FormatVersion, ID: string(b.ID), Version: b.Version}
	for _, t := range b.Tensors {
		if err := binary.Write(&weights, binary.LittleEndian, t.Data); err != nil {
			return fmt.Errorf("voicemodel: encode tensor %q: %w", t.Name, err)
		}
		m.Tensors = append(m.Tensors, TensorHeader{Name: t.Name, Size: len(t.Data)})
	}
	sum := sha256.Sum256(weights.Bytes())
	m.WeightsSHA256 = hex.EncodeToString(sum[:])

	manifest, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("voicemodel: encode manifest: %w", err)
	}
	metas, err := json.MarshalIndent(b.Metas, "", "  ")
	if err != nil {
		return fmt.Errorf("voicemodel: encode metas: %w", err)
	}

	zw := zip.NewWriter(w)
	for _, e := range []struct {
		name string
		data []byte
	}{
		{ManifestEntry, manifest},
		{MetasEntry, metas},
		{WeightsEntry, weights.Bytes()},
	} {
		fw, err := zw.Create(e.name)
		if err != nil {
			return fmt.Errorf("voicemodel: create entry %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return fmt.Errorf("voicemodel: write entry %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("voicemodel: finish bundle: %w", err)
	}
	return nil
}

// decodeManifest parses manifest.yaml, rejecting unknown keys.
func decodeManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode %s: %w", types.ErrFormat, ManifestEntry, err)
	}
	switch {
	case m.FormatVersion != FormatVersion:
		return Manifest{}, fmt.Errorf("%w: unsupported format_version %d", types.ErrFormat, m.FormatVersion)
	case m.ID == "":
		return Manifest{}, fmt.Errorf("%w: %s has no id", types.ErrFormat, ManifestEntry)
	case m.WeightsSHA256 == "":
		return Manifest{}, fmt.Errorf("%w: %s has no weights_sha256", types.ErrFormat, ManifestEntry)
	}
	return m, nil
}

// decodeWeights verifies the checksum of data and splits it into the tensors
// named by m.
func decodeWeights(m Manifest, data []byte) (map[string][]float32, error) {
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != m.WeightsSHA256 {
		return nil, fmt.Errorf("%w: %s checksum %s does not match manifest %s", types.ErrFormat, WeightsEntry, got, m.WeightsSHA256)
	}

	// Each size is checked against the floats left before it is added, so
	// total never exceeds avail and cannot wrap.
	avail := len(data) / 4
	total := 0
	for _, h := range m.Tensors {
		if h.Size < 0 {
			return nil, fmt.Errorf("%w: tensor %q has negative size", types.ErrFormat, h.Name)
		}
		if h.Size > avail-total {
			return nil, fmt.Errorf("%w: tensor %q overruns %s (%d bytes)", types.ErrFormat, h.Name, WeightsEntry, len(data))
		}
		total += h.Size
	}
	if total*4 != len(data) {
		return nil, fmt.Errorf("%w: %s holds %d bytes, manifest declares %d", types.ErrFormat, WeightsEntry, len(data), total*4)
	}

	tensors := make(map[string][]float32, len(m.Tensors))
	off := 0
	for _, h := range m.Tensors {
		if h.Name == "" {
			return nil, fmt.Errorf("%w: tensor without a name", types.ErrFormat)
		}
		if _, dup := tensors[h.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor %q", types.ErrFormat, h.Name)
		}
		t := make([]float32, h.Size)
		for i := range t {
			t[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		tensors[h.Name] = t
	}
	return tensors, nil
}
