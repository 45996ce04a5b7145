// Package voicemodel reads voice model bundles (.vvm files).
//
// A bundle is a zip archive with three entries:
//
//	manifest.yaml  model id, version, checksum and tensor layout
//	metas.json     speaker and style metadata
//	weights.bin    little-endian float32 tensors, back to back
//
// A [Model] is immutable once opened and safe for concurrent use.
package voicemodel

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Extension is the file extension of voice model bundles.
const Extension = ".vvm"

// maxEntrySize caps the decompressed size of a single bundle entry.
const maxEntrySize = 1 << 30

// Model is an opened voice model. It implements inference.Weights.
type Model struct {
	id      types.VoiceModelID
	version string
	path    string
	metas   []types.SpeakerMeta
	styles  []types.StyleID
	tensors map[string][]float32
}

// Ensure Model implements inference.Weights at compile time.
var _ inference.Weights = (*Model)(nil)

// ID returns the model id from the manifest.
func (m *Model) ID() types.VoiceModelID { return m.id }

// Version returns the model version from the manifest.
func (m *Model) Version() string { return m.version }

// Path returns the file the model was opened from, or "" for in-memory bundles.
func (m *Model) Path() string { return m.path }

// Metas returns a copy of the speaker metadata.
func (m *Model) Metas() []types.SpeakerMeta {
	out := make([]types.SpeakerMeta, len(m.metas))
	for i, s := range m.metas {
		out[i] = s
		out[i].Styles = slices.Clone(s.Styles)
	}
	return out
}

// StyleIDs returns every style id the model declares, in metadata order.
func (m *Model) StyleIDs() []types.StyleID { return slices.Clone(m.styles) }

// HasStyle reports whether the model declares style.
func (m *Model) HasStyle(style types.StyleID) bool { return slices.Contains(m.styles, style) }

// Tensor returns the named weight tensor. The slice must not be modified.
func (m *Model) Tensor(name string) ([]float32, bool) {
	t, ok := m.tensors[name]
	return t, ok
}

// Open reads and validates the bundle at path. An unreadable file fails with
// [types.ErrIO]; a corrupt or inconsistent bundle fails with [types.ErrFormat].
func Open(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voicemodel: %w: read %q: %w", types.ErrIO, path, err)
	}
	m, err := Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("voicemodel: open %q: %w", path, err)
	}
	m.path = path
	return m, nil
}

// Read decodes a bundle from r.
func Read(r io.ReaderAt, size int64) (*Model, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %w", types.ErrFormat, err)
	}

	entries := make(map[string][]byte, 3)
	for _, name := range []string{ManifestEntry, MetasEntry, WeightsEntry} {
		b, err := readEntry(zr, name)
		if err != nil {
			return nil, err
		}
		entries[name] = b
	}

	man, err := decodeManifest(entries[ManifestEntry])
	if err != nil {
		return nil, err
	}
	var metas []types.SpeakerMeta
	if err := json.Unmarshal(entries[MetasEntry], &metas); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", types.ErrFormat, MetasEntry, err)
	}
	tensors, err := decodeWeights(man, entries[WeightsEntry])
	if err != nil {
		return nil, err
	}

	styles, err := checkStyles(metas, tensors)
	if err != nil {
		return nil, err
	}
	return &Model{
		id:      types.VoiceModelID(man.ID),
		version: man.Version,
		metas:   metas,
		styles:  styles,
		tensors: tensors,
	}, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: missing entry %s", types.ErrFormat, name)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read entry %s: %w", types.ErrFormat, name, err)
	}
	if len(b) > maxEntrySize {
		return nil, fmt.Errorf("%w: entry %s exceeds %d bytes", types.ErrFormat, name, maxEntrySize)
	}
	return b, nil
}

// checkStyles collects the style ids of metas and verifies that each is
// unique within the model and has an embedding tensor.
func checkStyles(metas []types.SpeakerMeta, tensors map[string][]float32) ([]types.StyleID, error) {
	var styles []types.StyleID
	var errs []error
	for _, sp := range metas {
		if sp.Name == "" {
			errs = append(errs, errors.New("speaker without a name"))
		}
		for _, st := range sp.Styles {
			if slices.Contains(styles, st.ID) {
				errs = append(errs, fmt.Errorf("style id %d declared twice", st.ID))
				continue
			}
			if _, ok := tensors[inference.StyleTensor(st.ID)]; !ok {
				errs = append(errs, fmt.Errorf("style id %d has no tensor %q", st.ID, inference.StyleTensor(st.ID)))
			}
			styles = append(styles, st.ID)
		}
	}
	if len(styles) == 0 {
		errs = append(errs, errors.New("no styles declared"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrFormat, MetasEntry, errors.Join(errs...))
	}
	return styles, nil
}

// OpenDir opens every bundle in dir concurrently, at most limit at a time
// (limit <= 0 means unbounded). Models are returned in file name order. The
// first failure cancels the remaining opens.
func OpenDir(ctx context.Context, dir string, limit int) ([]*Model, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil, fmt.Errorf("voicemodel: list %q: %w", dir, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("voicemodel: %w: %w", types.ErrIO, err)
	}
	slices.Sort(paths)
	return OpenFiles(ctx, paths, limit)
}

// OpenFiles opens the given bundles concurrently, preserving order.
func OpenFiles(ctx context.Context, paths []string, limit int) ([]*Model, error) {
	models := make([]*Model, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := Open(p)
			if err != nil {
				return err
			}
			slog.Debug("voicemodel: opened bundle", "path", p, "model_id", m.ID(), "styles", len(m.styles))
			models[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return models, nil
}
