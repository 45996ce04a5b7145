package userdict

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Store persists dictionary entries. Implementations must return entries in
// the order they were saved. Implementations must be safe for concurrent use.
type Store interface {
	// LoadWords returns every persisted entry in saved order.
	LoadWords(ctx context.Context) ([]Entry, error)

	// SaveWords atomically replaces the persisted entries with entries.
	SaveWords(ctx context.Context, entries []Entry) error
}

// Compile-time interface checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// FileStore is a [Store] backed by a JSON file. The file holds a single
// object mapping ids to words; key order is dictionary order.
//
// Example:
//
//	{
//	  "0b4a8c4e-...": {"surface": "南", "pronunciation": "ミナミ", "accent_type": 1,
//	                   "word_type": "COMMON_NOUN", "priority": 5, "mora_count": 3}
//	}
type FileStore struct {
	path string
}

// NewFileStore returns a [FileStore] for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadWords implements [Store.LoadWords].
func (s *FileStore) LoadWords(_ context.Context) ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %w", types.ErrIO, s.path, err)
	}
	entries, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", s.path, err)
	}
	return entries, nil
}

// SaveWords implements [Store.SaveWords]. The file is replaced atomically by
// writing a sibling temporary file and renaming it.
func (s *FileStore) SaveWords(_ context.Context, entries []Entry) error {
	var buf bytes.Buffer
	if err := Encode(&buf, entries); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file for %q: %w", types.ErrIO, s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write %q: %w", types.ErrIO, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close %q: %w", types.ErrIO, tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename to %q: %w", types.ErrIO, s.path, err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// JSON codec
// ─────────────────────────────────────────────────────────────────────────────

// wireWord is the persisted shape of a [Word]. MoraCount is written for
// compatibility with other readers and ignored on decode, like any field not
// listed here.
type wireWord struct {
	Surface       string `json:"surface"`
	Pronunciation string `json:"pronunciation"`
	AccentType    int    `json:"accent_type"`
	WordType      string `json:"word_type"`
	Priority      int    `json:"priority"`
	MoraCount     int    `json:"mora_count,omitempty"`
}

func toWire(w Word) wireWord {
	return wireWord{
		Surface:       w.Surface,
		Pronunciation: w.Pronunciation,
		AccentType:    w.AccentType,
		WordType:      string(w.WordType),
		Priority:      w.Priority,
		MoraCount:     w.MoraCount(),
	}
}

func fromWire(ww wireWord) (Word, error) {
	wt, err := ParseWordType(ww.WordType)
	if err != nil {
		return Word{}, err
	}
	return Word{
		Surface:       ww.Surface,
		Pronunciation: ww.Pronunciation,
		AccentType:    ww.AccentType,
		WordType:      wt,
		Priority:      ww.Priority,
	}, nil
}

// Encode writes entries as an ordered JSON object.
func Encode(w io.Writer, entries []Entry) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n  ")
		key, err := json.Marshal(e.ID.String())
		if err != nil {
			return fmt.Errorf("%w: encode id %s: %w", types.ErrFormat, e.ID, err)
		}
		val, err := json.Marshal(toWire(e.Word))
		if err != nil {
			return fmt.Errorf("%w: encode word %s: %w", types.ErrFormat, e.ID, err)
		}
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	if len(entries) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write dictionary: %w", types.ErrIO, err)
	}
	return nil
}

// Decode reads an ordered JSON object written by [Encode]. Key order is kept.
// Per-word fields it does not know, such as the part-of-speech columns other
// dictionary tools write, are ignored. Any structural problem is reported as
// [types.ErrFormat].
func Decode(r io.Reader) ([]Entry, error) {
	dec := json.NewDecoder(r)

	formatErr := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", types.ErrFormat, fmt.Sprintf(format, args...))
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, formatErr("read opening token: %v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, formatErr("dictionary must be a JSON object, got %v", tok)
	}

	var entries []Entry
	seen := make(map[uuid.UUID]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, formatErr("read key: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, formatErr("unexpected token %v", tok)
		}
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, formatErr("key %q is not a UUID", key)
		}
		if _, dup := seen[id]; dup {
			return nil, formatErr("duplicate id %s", id)
		}
		seen[id] = struct{}{}

		var ww wireWord
		if err := dec.Decode(&ww); err != nil {
			return nil, formatErr("word %s: %v", id, err)
		}
		w, err := fromWire(ww)
		if err != nil {
			return nil, fmt.Errorf("%w: word %s: %v", types.ErrFormat, id, err)
		}
		entries = append(entries, Entry{ID: id, Word: w})
	}

	if _, err := dec.Token(); err != nil {
		return nil, formatErr("read closing token: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, formatErr("trailing data after dictionary object")
	}
	return entries, nil
}
