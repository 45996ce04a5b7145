// Package userdict implements the user dictionary: an insertion-ordered
// collection of custom pronunciation entries keyed by UUID.
//
// A [Dictionary] is mutable and safe for concurrent use. The text analyzer
// never reads it directly; instead it is handed an immutable [Snapshot] taken
// at attach time, so later edits only take effect after re-attaching.
package userdict

import (
	"errors"
	"fmt"
	"strings"

	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// WordType classifies a dictionary word for analysis.
type WordType string

const (
	WordTypeProperNoun WordType = "PROPER_NOUN"
	WordTypeCommonNoun WordType = "COMMON_NOUN"
	WordTypeVerb       WordType = "VERB"
	WordTypeAdjective  WordType = "ADJECTIVE"
	WordTypeSuffix     WordType = "SUFFIX"
)

// IsValid reports whether t is a recognised word type.
func (t WordType) IsValid() bool {
	switch t {
	case WordTypeProperNoun, WordTypeCommonNoun, WordTypeVerb, WordTypeAdjective, WordTypeSuffix:
		return true
	}
	return false
}

// ParseWordType converts s into a [WordType]. The empty string maps to
// [WordTypeCommonNoun]; any other unknown value fails with
// [types.ErrValidation] naming the value.
func ParseWordType(s string) (WordType, error) {
	if s == "" {
		return WordTypeCommonNoun, nil
	}
	t := WordType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown word type %q; valid values: PROPER_NOUN, COMMON_NOUN, VERB, ADJECTIVE, SUFFIX", types.ErrValidation, s)
	}
	return t, nil
}

// Priority bounds.
const (
	MinPriority     = 0
	MaxPriority     = 10
	DefaultPriority = 5
)

// Word is a single user dictionary entry.
type Word struct {
	// Surface is the written form matched against input text.
	Surface string

	// Pronunciation is the katakana reading.
	Pronunciation string

	// AccentType is the 1-based accent nucleus; 0 means no accent drop.
	// It must lie within [0, mora count of Pronunciation].
	AccentType int

	// WordType selects how the word joins accent phrases.
	WordType WordType

	// Priority orders competing matches of equal length. Higher wins.
	Priority int
}

// NewWord returns a word with the conventional defaults: common noun,
// priority 5.
func NewWord(surface, pronunciation string, accentType int) Word {
	return Word{
		Surface:       surface,
		Pronunciation: pronunciation,
		AccentType:    accentType,
		WordType:      WordTypeCommonNoun,
		Priority:      DefaultPriority,
	}
}

// MoraCount returns the number of morae in the pronunciation, or 0 when the
// pronunciation is invalid.
func (w Word) MoraCount() int {
	n, err := kana.MoraCount(w.Pronunciation)
	if err != nil {
		return 0
	}
	return n
}

// Validate checks w. All failures are reported together and wrap
// [types.ErrValidation].
//
// Rules:
//   - Surface must be non-empty.
//   - Pronunciation must be katakana that splits into morae.
//   - AccentType must lie within [0, mora count].
//   - Priority must lie within [0, 10].
//   - WordType must be recognised.
func Validate(w Word) error {
	var errs []error

	if strings.TrimSpace(w.Surface) == "" {
		errs = append(errs, errors.New("surface must not be empty"))
	}

	moraCount, perr := pronunciationMoraCount(w.Pronunciation)
	if perr != nil {
		errs = append(errs, perr)
	}

	if w.AccentType < 0 {
		errs = append(errs, fmt.Errorf("accent_type %d is below the lower bound 0", w.AccentType))
	} else if perr == nil && w.AccentType > moraCount {
		errs = append(errs, fmt.Errorf("accent_type %d exceeds the upper bound %d (mora count of %q)", w.AccentType, moraCount, w.Pronunciation))
	}

	if w.Priority < MinPriority || w.Priority > MaxPriority {
		errs = append(errs, fmt.Errorf("priority %d is out of range [%d, %d]", w.Priority, MinPriority, MaxPriority))
	}

	if !w.WordType.IsValid() {
		errs = append(errs, fmt.Errorf("word_type %q is not a recognised word type", w.WordType))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", types.ErrValidation, errors.Join(errs...))
}

func pronunciationMoraCount(p string) (int, error) {
	if p == "" {
		return 0, errors.New("pronunciation must not be empty")
	}
	for _, r := range p {
		if !kana.IsKatakana(r) {
			return 0, fmt.Errorf("pronunciation %q must be katakana; found %q", p, string(r))
		}
	}
	n, err := kana.MoraCount(p)
	if err != nil {
		return 0, fmt.Errorf("pronunciation %q: %w", p, err)
	}
	return n, nil
}
