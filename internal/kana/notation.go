package kana

import (
	"fmt"
	"strings"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Notation symbols.
const (
	PauseDelimiter   = '、'
	NoPauseDelimiter = '/'
	UnvoiceSymbol    = '_'
	AccentSymbol     = '\''
	Interrogation    = '？'
)

// ParseError describes malformed notation. It wraps [types.ErrParse].
type ParseError struct {
	Notation string
	Pos      int
	Msg      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("kana: %s at rune %d in %q", e.Msg, e.Pos, e.Notation)
}

func (e *ParseError) Unwrap() error { return types.ErrParse }

// Parse converts AquesTalk-like notation into accent phrases with placeholder
// prosody.
//
// Phrases are separated by '/' (no pause) or '、' (pause). Each phrase holds
// exactly one accent marker placed directly after the accent nucleus, so
// "ア'メ" has accent 1 and "ミナミ'" has accent 3. A '_' before a mora devoices
// it and a trailing '？' marks the phrase as interrogative.
func Parse(notation string) ([]types.AccentPhrase, error) {
	rs := []rune(notation)
	if len(rs) == 0 {
		return nil, &ParseError{Notation: notation, Msg: "empty notation"}
	}

	var (
		phrases []types.AccentPhrase
		start   int
	)
	for i := 0; i <= len(rs); i++ {
		if i < len(rs) && rs[i] != PauseDelimiter && rs[i] != NoPauseDelimiter {
			continue
		}
		phrase, err := parsePhrase(notation, rs[start:i], start)
		if err != nil {
			return nil, err
		}
		if i < len(rs) {
			if i == len(rs)-1 {
				return nil, &ParseError{Notation: notation, Pos: i, Msg: "trailing phrase delimiter"}
			}
			if rs[i] == PauseDelimiter {
				pm := PauseMora()
				phrase.PauseMora = &pm
			}
		}
		phrases = append(phrases, phrase)
		start = i + 1
	}
	return phrases, nil
}

// parsePhrase parses one accent phrase; offset is the rune position of seg in
// the full notation.
func parsePhrase(notation string, seg []rune, offset int) (types.AccentPhrase, error) {
	fail := func(pos int, msg string) (types.AccentPhrase, error) {
		return types.AccentPhrase{}, &ParseError{Notation: notation, Pos: offset + pos, Msg: msg}
	}
	if len(seg) == 0 {
		return fail(0, "empty accent phrase")
	}

	var p types.AccentPhrase
	if seg[len(seg)-1] == Interrogation {
		p.IsInterrogative = true
		seg = seg[:len(seg)-1]
		if len(seg) == 0 {
			return fail(0, "interrogation mark without morae")
		}
	}

	for i := 0; i < len(seg); {
		switch r := seg[i]; {
		case r == AccentSymbol:
			if len(p.Moras) == 0 {
				return fail(i, "accent marker before the first mora")
			}
			if p.Accent != 0 {
				return fail(i, "second accent marker in one phrase")
			}
			p.Accent = len(p.Moras)
			i++
		case r == Interrogation:
			return fail(i, "interrogation mark must end a phrase")
		case r == LongVowel:
			if len(p.Moras) == 0 {
				return fail(i, "long vowel mark before the first mora")
			}
			prev := strings.ToLower(p.Moras[len(p.Moras)-1].Vowel)
			if _, ok := vowelText[prev]; !ok {
				return fail(i, "long vowel mark must follow a vowel")
			}
			p.Moras = append(p.Moras, newMora(vowelText[prev], moraSpec{vowel: prev}))
			i++
		default:
			unvoice := r == UnvoiceSymbol
			j := i
			if unvoice {
				j++
			}
			text, spec, ok := nextMora(seg[j:])
			if !ok {
				if j >= len(seg) {
					return fail(i, "unvoice symbol without a mora")
				}
				return fail(j, fmt.Sprintf("unknown kana %q", string(seg[j])))
			}
			m := newMora(text, spec)
			if unvoice {
				if !devoiceable(spec.vowel) {
					return fail(i, fmt.Sprintf("mora %q cannot be devoiced", text))
				}
				m.Vowel = strings.ToUpper(m.Vowel)
			}
			p.Moras = append(p.Moras, m)
			i = j + len([]rune(text))
		}
	}

	if len(p.Moras) == 0 {
		return fail(0, "accent phrase without morae")
	}
	if p.Accent == 0 {
		return fail(len(seg), "missing accent marker")
	}
	return p, nil
}

func devoiceable(vowel string) bool {
	switch vowel {
	case "a", "i", "u", "e", "o":
		return true
	}
	return false
}

// Render converts accent phrases back into notation. Parsing the result
// yields phrases with the same morae, accents and pauses.
func Render(phrases []types.AccentPhrase) string {
	var b strings.Builder
	for i, p := range phrases {
		for j, m := range p.Moras {
			if isDevoiced(m.Vowel) {
				b.WriteRune(UnvoiceSymbol)
			}
			b.WriteString(m.Text)
			if j+1 == p.Accent {
				b.WriteRune(AccentSymbol)
			}
		}
		if p.IsInterrogative {
			b.WriteRune(Interrogation)
		}
		if i < len(phrases)-1 {
			if p.PauseMora != nil {
				b.WriteRune(PauseDelimiter)
			} else {
				b.WriteRune(NoPauseDelimiter)
			}
		}
	}
	return b.String()
}

func isDevoiced(vowel string) bool {
	switch vowel {
	case "A", "I", "U", "E", "O":
		return true
	}
	return false
}
