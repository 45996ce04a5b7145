// Package analyzer turns Japanese text into morphemes with katakana readings.
//
// The analyzer combines a read-only system lexicon with an optional user
// dictionary snapshot. Text is normalised (width folding, then NFKC) and
// segmented greedily by longest match. When two words of the same length
// match, the one with the higher priority wins; user words win remaining
// ties. Text that matches nothing falls back to a default reading instead of
// failing.
//
// An [Analyzer] is safe for concurrent use. [Analyzer.Attach] swaps the user
// dictionary in one atomic step; each [Analyzer.Analyze] call sees exactly one
// snapshot from start to finish.
package analyzer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/takejohn/voicevox-core/internal/kana"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Class is the phrase-building role of a morpheme.
type Class string

const (
	// ClassContent starts a new accent phrase.
	ClassContent Class = "content"
	// ClassPrefix starts a new accent phrase that the next content word joins.
	ClassPrefix Class = "prefix"
	// ClassFunction attaches to the preceding accent phrase.
	ClassFunction Class = "function"
	// ClassPause ends the current phrase with a pause.
	ClassPause Class = "pause"
	// ClassQuestion ends the current phrase with a pause and marks it
	// interrogative.
	ClassQuestion Class = "question"
	// ClassSpace separates phrases without a pause.
	ClassSpace Class = "space"
)

// Source records where a morpheme's reading came from.
type Source string

const (
	SourceLexicon  Source = "lexicon"
	SourceUser     Source = "user"
	SourceFallback Source = "fallback"
)

// Morpheme is one segment of analysed text. Reading is empty for segments
// the analyzer cannot read, such as unknown ideographs and symbols.
type Morpheme struct {
	Surface    string `json:"surface"`
	Reading    string `json:"reading"`
	AccentType int    `json:"accent_type"`
	Class      Class  `json:"class"`
	Source     Source `json:"source"`
}

// lexiconPriority is the priority of system lexicon words when ranked
// against user words.
const lexiconPriority = userdict.DefaultPriority

type candidate struct {
	reading  string
	accent   int
	class    Class
	priority int
	user     bool
}

// index maps normalised surfaces to candidates, best first.
type index struct {
	bySurface map[string][]candidate
	maxLen    int
}

func (ix *index) add(surface string, c candidate) {
	surface = normalize(surface)
	list := ix.bySurface[surface]
	pos := len(list)
	for i, o := range list {
		if c.priority > o.priority || (c.priority == o.priority && c.user && !o.user) {
			pos = i
			break
		}
	}
	list = append(list, candidate{})
	copy(list[pos+1:], list[pos:])
	list[pos] = c
	ix.bySurface[surface] = list
	ix.maxLen = max(ix.maxLen, utf8.RuneCountInString(surface))
}

func (ix *index) lookup(surface string) (candidate, bool) {
	if ix == nil {
		return candidate{}, false
	}
	list := ix.bySurface[surface]
	if len(list) == 0 {
		return candidate{}, false
	}
	return list[0], true
}

// Analyzer segments text into morphemes.
type Analyzer struct {
	system *index
	user   atomic.Pointer[index]
	size   int
}

// New loads the system lexicon from dictDir and returns an analyzer with no
// user dictionary attached.
func New(dictDir string) (*Analyzer, error) {
	lex, err := LoadLexicon(dictDir)
	if err != nil {
		return nil, err
	}
	a := NewWithLexicon(lex)
	slog.Info("analyzer: lexicon loaded", "dir", dictDir, "entries", len(lex.Entries))
	return a, nil
}

// NewWithLexicon builds an analyzer from an already validated lexicon.
func NewWithLexicon(lex *Lexicon) *Analyzer {
	ix := &index{bySurface: make(map[string][]candidate, len(lex.Entries))}
	for _, e := range lex.Entries {
		ix.add(e.Surface, candidate{
			reading:  e.Reading,
			accent:   e.Accent,
			class:    e.POS.class(),
			priority: lexiconPriority,
		})
	}
	return &Analyzer{system: ix, size: len(lex.Entries)}
}

// LexiconSize returns the number of system lexicon entries.
func (a *Analyzer) LexiconSize() int { return a.size }

// Attach compiles snap and makes it the user dictionary for subsequent
// analyses. A nil snapshot detaches the user dictionary. Later changes to the
// dictionary the snapshot was taken from have no effect until it is attached
// again.
func (a *Analyzer) Attach(snap *userdict.Snapshot) {
	if snap == nil || snap.Len() == 0 {
		a.user.Store(nil)
		return
	}
	entries := snap.Entries()
	ix := &index{bySurface: make(map[string][]candidate, len(entries))}
	for _, e := range entries {
		cls := ClassContent
		if e.Word.WordType == userdict.WordTypeSuffix {
			cls = ClassFunction
		}
		ix.add(e.Word.Surface, candidate{
			reading:  e.Word.Pronunciation,
			accent:   e.Word.AccentType,
			class:    cls,
			priority: e.Word.Priority,
			user:     true,
		})
	}
	a.user.Store(ix)
}

// Analyze segments text. The result depends only on text, the lexicon and
// the attached snapshot.
func (a *Analyzer) Analyze(text string) ([]Morpheme, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("analyzer: %w: text is not valid utf-8", types.ErrValidation)
	}
	user := a.user.Load()
	rs := []rune(normalize(text))

	var (
		out     []Morpheme
		pending []rune
		pendCat fallbackCategory
	)
	flush := func() {
		if len(pending) > 0 {
			out = append(out, fallback(string(pending), pendCat))
			pending = pending[:0]
		}
	}

	for i := 0; i < len(rs); {
		if m, n, ok := a.match(user, rs[i:]); ok {
			flush()
			out = append(out, m)
			i += n
			continue
		}
		r := rs[i]
		if cls, ok := punctuation(r); ok {
			flush()
			out = append(out, Morpheme{Surface: string(r), Class: cls, Source: SourceFallback})
			i++
			continue
		}
		cat := categorize(r)
		if cat != pendCat {
			flush()
		}
		pendCat = cat
		pending = append(pending, r)
		i++
	}
	flush()
	return out, nil
}

// match finds the longest known word at the start of rs. At equal length the
// best ranked candidate across both indexes wins.
func (a *Analyzer) match(user *index, rs []rune) (Morpheme, int, bool) {
	maxLen := a.system.maxLen
	if user != nil {
		maxLen = max(maxLen, user.maxLen)
	}
	for n := min(maxLen, len(rs)); n > 0; n-- {
		surface := string(rs[:n])
		sc, sok := a.system.lookup(surface)
		uc, uok := user.lookup(surface)
		if !sok && !uok {
			continue
		}
		c, src := sc, SourceLexicon
		if uok && (!sok || uc.priority >= sc.priority) {
			c, src = uc, SourceUser
		}
		return Morpheme{Surface: surface, Reading: c.reading, AccentType: c.accent, Class: c.class, Source: src}, n, true
	}
	return Morpheme{}, 0, false
}

// normalize folds full-width ASCII and half-width kana, then applies NFKC.
func normalize(s string) string {
	return norm.NFKC.String(width.Fold.String(s))
}

// punctuation classifies phrase-breaking symbols.
func punctuation(r rune) (Class, bool) {
	switch r {
	case '、', ',', '。', '.', '!', '…', ';', ':', '・':
		return ClassPause, true
	case '?':
		return ClassQuestion, true
	}
	if unicode.IsSpace(r) {
		return ClassSpace, true
	}
	return "", false
}

type fallbackCategory int

const (
	catNone fallbackCategory = iota
	catKana
	catDigit
	catLatin
	catOther
)

func categorize(r rune) fallbackCategory {
	switch {
	case kana.IsKatakana(r) || (r >= 'ぁ' && r <= 'ゖ'):
		return catKana
	case r >= '0' && r <= '9':
		return catDigit
	case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		return catLatin
	}
	return catOther
}

var digitReadings = [...]string{"ゼロ", "イチ", "ニ", "サン", "ヨン", "ゴ", "ロク", "ナナ", "ハチ", "キュウ"}

var letterReadings = [...]string{
	"エー", "ビー", "シー", "ディー", "イー", "エフ", "ジー", "エイチ", "アイ", "ジェー",
	"ケー", "エル", "エム", "エヌ", "オー", "ピー", "キュー", "アール", "エス", "ティー",
	"ユー", "ブイ", "ダブリュー", "エックス", "ワイ", "ゼット",
}

// fallback builds a morpheme for a run of text the lexicon does not know.
// Kana is read as written, digits and latin letters are spelled out one by
// one, and anything else is left unread.
func fallback(surface string, cat fallbackCategory) Morpheme {
	m := Morpheme{Surface: surface, Class: ClassContent, Source: SourceFallback}
	switch cat {
	case catKana:
		reading := kana.ToKatakana(surface)
		if _, err := kana.SplitMoras(reading); err == nil {
			m.Reading = reading
		}
	case catDigit:
		var b strings.Builder
		for _, r := range surface {
			b.WriteString(digitReadings[r-'0'])
		}
		m.Reading = b.String()
	case catLatin:
		var b strings.Builder
		for _, r := range strings.ToUpper(surface) {
			b.WriteString(letterReadings[r-'A'])
		}
		m.Reading = b.String()
	}
	return m
}
