package userdict

import (
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/takejohn/voicevox-core/internal/kana"
)

// defaultSearchThreshold is the minimum Jaro-Winkler similarity for a word to
// be reported by [Dictionary.Search].
const defaultSearchThreshold = 0.80

// Match is a search hit with its similarity score in [0, 1].
type Match struct {
	Entry Entry
	Score float64
}

// Search returns words whose surface or pronunciation resembles query,
// best match first. Hiragana in query is compared as katakana against
// pronunciations. Ties keep dictionary order. limit <= 0 returns all hits.
func (d *Dictionary) Search(query string, limit int) []Match {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	reading := kana.ToKatakana(query)

	var hits []Match
	for _, e := range d.Words() {
		score := matchr.JaroWinkler(query, e.Word.Surface, false)
		if s := matchr.JaroWinkler(reading, e.Word.Pronunciation, false); s > score {
			score = s
		}
		if score >= defaultSearchThreshold {
			hits = append(hits, Match{Entry: e, Score: score})
		}
	}

	slices.SortStableFunc(hits, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
