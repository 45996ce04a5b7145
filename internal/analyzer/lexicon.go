package analyzer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// LexiconFile is the name of the system lexicon inside a dictionary directory.
const LexiconFile = "lexicon.yaml"

// PartOfSpeech classifies a lexicon entry.
type PartOfSpeech string

const (
	POSNoun      PartOfSpeech = "noun"
	POSVerb      PartOfSpeech = "verb"
	POSAdjective PartOfSpeech = "adjective"
	POSAdverb    PartOfSpeech = "adverb"
	POSPrefix    PartOfSpeech = "prefix"
	POSParticle  PartOfSpeech = "particle"
	POSAuxiliary PartOfSpeech = "auxiliary"
	POSSuffix    PartOfSpeech = "suffix"
)

// IsValid reports whether p is a recognised part of speech.
func (p PartOfSpeech) IsValid() bool {
	switch p {
	case POSNoun, POSVerb, POSAdjective, POSAdverb, POSPrefix, POSParticle, POSAuxiliary, POSSuffix:
		return true
	}
	return false
}

// class maps a part of speech onto its phrase-building role.
func (p PartOfSpeech) class() Class {
	switch p {
	case POSPrefix:
		return ClassPrefix
	case POSParticle, POSAuxiliary, POSSuffix:
		return ClassFunction
	}
	return ClassContent
}

// LexiconEntry is one word of the system lexicon.
type LexiconEntry struct {
	Surface string       `yaml:"surface"`
	Reading string       `yaml:"reading"`
	Accent  int          `yaml:"accent"`
	POS     PartOfSpeech `yaml:"pos"`
}

// Lexicon is the decoded lexicon.yaml.
type Lexicon struct {
	Entries []LexiconEntry `yaml:"entries"`
}

// LoadLexicon reads dir/lexicon.yaml.
func LoadLexicon(dir string) (*Lexicon, error) {
	path := filepath.Join(dir, LexiconFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("analyzer: %w: open lexicon %q: %w", types.ErrIO, path, err)
	}
	defer f.Close()

	lex, err := LoadLexiconFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("analyzer: parse lexicon %q: %w", path, err)
	}
	return lex, nil
}

// LoadLexiconFromReader parses lexicon YAML from r and validates every entry.
func LoadLexiconFromReader(r io.Reader) (*Lexicon, error) {
	var lex Lexicon
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&lex); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode lexicon yaml: %w", types.ErrFormat, err)
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Validate checks every entry and reports all problems at once.
func (l *Lexicon) Validate() error {
	var errs []error
	for i, e := range l.Entries {
		if e.Surface == "" {
			errs = append(errs, fmt.Errorf("entries[%d]: surface is required", i))
		}
		if !e.POS.IsValid() {
			errs = append(errs, fmt.Errorf("entries[%d]: unknown pos %q", i, e.POS))
		}
		n, err := kana.MoraCount(e.Reading)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("entries[%d]: %w", i, err))
		case n == 0:
			errs = append(errs, fmt.Errorf("entries[%d]: reading is required", i))
		case e.Accent < 0 || e.Accent > n:
			errs = append(errs, fmt.Errorf("entries[%d]: accent %d out of range [0, %d]", i, e.Accent, n))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: invalid lexicon: %v", types.ErrFormat, errors.Join(errs...))
	}
	return nil
}
