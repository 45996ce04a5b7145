package analyzer

import (
	"fmt"

	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// phraseBuilder accumulates the morae of one accent phrase.
type phraseBuilder struct {
	moras      []types.Mora
	accent     int // accent position within the phrase; 0 is flat
	headOffset int // morae before the head word (prefixes)
	open       bool
	prefixOnly bool
}

// Phrases groups morphemes into accent phrases with placeholder prosody.
//
// Each content word starts a phrase and function words join the phrase
// before them. The phrase takes the accent of its head word; a head word with
// accent type 0 makes the whole phrase flat, which is encoded as an accent on
// the last mora. Pause punctuation ends a phrase with a pause mora except at
// the end of the text, and a question mark also marks the phrase
// interrogative. Unread morphemes are skipped.
func Phrases(ms []Morpheme) ([]types.AccentPhrase, error) {
	var (
		out []types.AccentPhrase
		cur phraseBuilder
	)
	flush := func() {
		if !cur.open || len(cur.moras) == 0 {
			cur = phraseBuilder{}
			return
		}
		accent := cur.accent
		if accent == 0 || accent > len(cur.moras) {
			accent = len(cur.moras)
		}
		out = append(out, types.AccentPhrase{Moras: cur.moras, Accent: accent})
		cur = phraseBuilder{}
	}
	markLast := func(question bool) {
		if len(out) == 0 {
			return
		}
		last := &out[len(out)-1]
		if question {
			last.IsInterrogative = true
		}
		if last.PauseMora == nil {
			pm := kana.PauseMora()
			last.PauseMora = &pm
		}
	}

	for _, m := range ms {
		switch m.Class {
		case ClassPause, ClassQuestion:
			flush()
			markLast(m.Class == ClassQuestion)
			continue
		case ClassSpace:
			flush()
			continue
		}
		if m.Reading == "" {
			continue
		}
		moras, err := kana.SplitMoras(m.Reading)
		if err != nil {
			return nil, fmt.Errorf("analyzer: reading of %q: %w", m.Surface, err)
		}

		switch m.Class {
		case ClassFunction:
			if !cur.open {
				cur = phraseBuilder{open: true, accent: m.AccentType}
			}
			cur.moras = append(cur.moras, moras...)
		case ClassPrefix:
			if !cur.prefixOnly {
				flush()
			}
			cur.open = true
			cur.prefixOnly = true
			cur.moras = append(cur.moras, moras...)
		default:
			if cur.prefixOnly {
				cur.headOffset = len(cur.moras)
				cur.prefixOnly = false
			} else {
				flush()
				cur.open = true
			}
			if m.AccentType > 0 {
				cur.accent = cur.headOffset + m.AccentType
			}
			cur.moras = append(cur.moras, moras...)
		}
	}
	flush()

	// A pause after the last phrase is sentence-final and not voiced as a mora.
	if n := len(out); n > 0 {
		out[n-1].PauseMora = nil
	}
	return out, nil
}
