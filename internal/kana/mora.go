// Package kana converts between katakana, morae and the AquesTalk-like kana
// notation accepted by the synthesis pipeline.
package kana

import (
	"fmt"
	"strings"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Phonemes lists every phoneme the prediction models understand, in model
// input order. Upper-case vowels are devoiced.
var Phonemes = []string{
	"pau", "A", "E", "I", "N", "O", "U", "a", "b", "by",
	"ch", "cl", "d", "dy", "e", "f", "g", "gw", "gy", "h",
	"hy", "i", "j", "k", "kw", "ky", "m", "my", "n", "ny",
	"o", "p", "py", "r", "ry", "s", "sh", "t", "ts", "ty",
	"u", "v", "w", "y", "z",
}

// Pause is the phoneme used for silence and pause morae.
const Pause = "pau"

// LongVowel is the katakana prolonged sound mark.
const LongVowel = 'ー'

var phonemeIndex = func() map[string]int64 {
	m := make(map[string]int64, len(Phonemes))
	for i, p := range Phonemes {
		m[p] = int64(i)
	}
	return m
}()

// PhonemeID returns the model input index of p.
func PhonemeID(p string) (int64, bool) {
	id, ok := phonemeIndex[p]
	return id, ok
}

type moraSpec struct {
	consonant string
	vowel     string
}

// moraTable maps a katakana mora (one or two runes) to its phonemes.
var moraTable = map[string]moraSpec{
	"ヴォ": {"v", "o"}, "ヴェ": {"v", "e"}, "ヴィ": {"v", "i"}, "ヴァ": {"v", "a"}, "ヴ": {"v", "u"},
	"ン": {"", "N"}, "ワ": {"w", "a"}, "ヮ": {"w", "a"}, "ヲ": {"", "o"},
	"ロ": {"r", "o"}, "レ": {"r", "e"}, "ル": {"r", "u"}, "リ": {"r", "i"}, "ラ": {"r", "a"},
	"リョ": {"ry", "o"}, "リュ": {"ry", "u"}, "リャ": {"ry", "a"}, "リェ": {"ry", "e"},
	"ヨ": {"y", "o"}, "ユ": {"y", "u"}, "ヤ": {"y", "a"},
	"モ": {"m", "o"}, "メ": {"m", "e"}, "ム": {"m", "u"}, "ミ": {"m", "i"}, "マ": {"m", "a"},
	"ミョ": {"my", "o"}, "ミュ": {"my", "u"}, "ミャ": {"my", "a"}, "ミェ": {"my", "e"},
	"ポ": {"p", "o"}, "ペ": {"p", "e"}, "プ": {"p", "u"}, "ピ": {"p", "i"}, "パ": {"p", "a"},
	"ピョ": {"py", "o"}, "ピュ": {"py", "u"}, "ピャ": {"py", "a"}, "ピェ": {"py", "e"},
	"ボ": {"b", "o"}, "ベ": {"b", "e"}, "ブ": {"b", "u"}, "ビ": {"b", "i"}, "バ": {"b", "a"},
	"ビョ": {"by", "o"}, "ビュ": {"by", "u"}, "ビャ": {"by", "a"}, "ビェ": {"by", "e"},
	"ホ": {"h", "o"}, "ヘ": {"h", "e"}, "ヒ": {"h", "i"}, "ハ": {"h", "a"},
	"ヒョ": {"hy", "o"}, "ヒュ": {"hy", "u"}, "ヒャ": {"hy", "a"}, "ヒェ": {"hy", "e"},
	"フォ": {"f", "o"}, "フェ": {"f", "e"}, "フィ": {"f", "i"}, "ファ": {"f", "a"}, "フ": {"f", "u"},
	"ノ": {"n", "o"}, "ネ": {"n", "e"}, "ヌ": {"n", "u"}, "ニ": {"n", "i"}, "ナ": {"n", "a"},
	"ニョ": {"ny", "o"}, "ニュ": {"ny", "u"}, "ニャ": {"ny", "a"}, "ニェ": {"ny", "e"},
	"ドゥ": {"d", "u"}, "ド": {"d", "o"}, "デ": {"d", "e"}, "ディ": {"d", "i"}, "ダ": {"d", "a"},
	"デョ": {"dy", "o"}, "デュ": {"dy", "u"}, "デャ": {"dy", "a"},
	"ヂ": {"j", "i"}, "ヅ": {"z", "u"},
	"トゥ": {"t", "u"}, "ト": {"t", "o"}, "テ": {"t", "e"}, "ティ": {"t", "i"}, "タ": {"t", "a"},
	"テョ": {"ty", "o"}, "テュ": {"ty", "u"}, "テャ": {"ty", "a"},
	"ツォ": {"ts", "o"}, "ツェ": {"ts", "e"}, "ツィ": {"ts", "i"}, "ツァ": {"ts", "a"}, "ツ": {"ts", "u"},
	"ッ": {"", "cl"},
	"チョ": {"ch", "o"}, "チュ": {"ch", "u"}, "チャ": {"ch", "a"}, "チェ": {"ch", "e"}, "チ": {"ch", "i"},
	"ゾ": {"z", "o"}, "ゼ": {"z", "e"}, "ズ": {"z", "u"}, "ズィ": {"z", "i"}, "ザ": {"z", "a"},
	"ソ": {"s", "o"}, "セ": {"s", "e"}, "ス": {"s", "u"}, "スィ": {"s", "i"}, "サ": {"s", "a"},
	"ジョ": {"j", "o"}, "ジュ": {"j", "u"}, "ジャ": {"j", "a"}, "ジェ": {"j", "e"}, "ジ": {"j", "i"},
	"ショ": {"sh", "o"}, "シュ": {"sh", "u"}, "シャ": {"sh", "a"}, "シェ": {"sh", "e"}, "シ": {"sh", "i"},
	"ゴ": {"g", "o"}, "ゲ": {"g", "e"}, "グ": {"g", "u"}, "ギ": {"g", "i"}, "ガ": {"g", "a"},
	"グヮ": {"gw", "a"}, "ギョ": {"gy", "o"}, "ギュ": {"gy", "u"}, "ギャ": {"gy", "a"}, "ギェ": {"gy", "e"},
	"コ": {"k", "o"}, "ケ": {"k", "e"}, "ク": {"k", "u"}, "キ": {"k", "i"}, "カ": {"k", "a"},
	"クヮ": {"kw", "a"}, "キョ": {"ky", "o"}, "キュ": {"ky", "u"}, "キャ": {"ky", "a"}, "キェ": {"ky", "e"},
	"オ": {"", "o"}, "エ": {"", "e"}, "ウ": {"", "u"}, "イ": {"", "i"}, "ア": {"", "a"},
	"ウォ": {"w", "o"}, "ウェ": {"w", "e"}, "ウィ": {"w", "i"}, "イェ": {"y", "e"},
}

// vowelText renders a bare vowel back to katakana, used for long vowels and
// interrogative morae.
var vowelText = map[string]string{
	"a": "ア", "i": "イ", "u": "ウ", "e": "エ", "o": "オ", "N": "ン",
}

// VowelText returns the katakana for a voiced vowel phoneme.
func VowelText(vowel string) string {
	if t, ok := vowelText[vowel]; ok {
		return t
	}
	return vowelText[strings.ToLower(vowel)]
}

// IsKatakana reports whether r is a katakana letter or the long vowel mark.
func IsKatakana(r rune) bool {
	return (r >= 'ァ' && r <= 'ヴ') || r == LongVowel || r == 'ヮ'
}

// ToKatakana converts hiragana runes in s to katakana and leaves other runes
// untouched.
func ToKatakana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'ぁ' && r <= 'ゖ' {
			return r + 0x60
		}
		return r
	}, s)
}

// newMora builds a mora with placeholder prosody.
func newMora(text string, spec moraSpec) types.Mora {
	m := types.Mora{Text: text, Vowel: spec.vowel}
	if spec.consonant != "" {
		c := spec.consonant
		var l float32
		m.Consonant = &c
		m.ConsonantLength = &l
	}
	return m
}

// nextMora matches the longest mora at the start of rs.
func nextMora(rs []rune) (string, moraSpec, bool) {
	if len(rs) >= 2 {
		if spec, ok := moraTable[string(rs[:2])]; ok {
			return string(rs[:2]), spec, true
		}
	}
	if len(rs) >= 1 {
		if spec, ok := moraTable[string(rs[:1])]; ok {
			return string(rs[:1]), spec, true
		}
	}
	return "", moraSpec{}, false
}

// SplitMoras splits a katakana reading into morae with placeholder prosody.
// The long vowel mark repeats the previous vowel.
func SplitMoras(reading string) ([]types.Mora, error) {
	rs := []rune(reading)
	var moras []types.Mora
	for i := 0; i < len(rs); {
		if rs[i] == LongVowel {
			if len(moras) == 0 {
				return nil, fmt.Errorf("kana: %q starts with a long vowel mark", reading)
			}
			prev := strings.ToLower(moras[len(moras)-1].Vowel)
			if _, ok := vowelText[prev]; !ok {
				return nil, fmt.Errorf("kana: long vowel mark must follow a vowel in %q", reading)
			}
			moras = append(moras, newMora(vowelText[prev], moraSpec{vowel: prev}))
			i++
			continue
		}
		text, spec, ok := nextMora(rs[i:])
		if !ok {
			return nil, fmt.Errorf("kana: %q is not a valid mora in %q", string(rs[i]), reading)
		}
		moras = append(moras, newMora(text, spec))
		i += len([]rune(text))
	}
	return moras, nil
}

// MoraCount returns the number of morae in a katakana reading.
func MoraCount(reading string) (int, error) {
	moras, err := SplitMoras(reading)
	if err != nil {
		return 0, err
	}
	return len(moras), nil
}

// PauseMora returns the mora inserted after an accent phrase that ends with a
// pause.
func PauseMora() types.Mora {
	return types.Mora{Text: "、", Vowel: Pause}
}
