package analyzer_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/takejohn/voicevox-core/internal/analyzer"
	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/types"
)

const testLexicon = `
entries:
  - {surface: が, reading: ガ, accent: 0, pos: particle}
  - {surface: です, reading: デス, accent: 1, pos: auxiliary}
  - {surface: 雨, reading: アメ, accent: 1, pos: noun}
  - {surface: 南, reading: ナン, accent: 1, pos: noun}
  - {surface: 東京, reading: トーキョー, accent: 0, pos: noun}
  - {surface: 駅, reading: エキ, accent: 1, pos: suffix}
  - {surface: お, reading: オ, accent: 0, pos: prefix}
  - {surface: 茶, reading: チャ, accent: 0, pos: noun}
`

func newAnalyzer(t *testing.T) *analyzer.Analyzer {
	t.Helper()
	lex, err := analyzer.LoadLexiconFromReader(strings.NewReader(testLexicon))
	if err != nil {
		t.Fatalf("LoadLexiconFromReader: %v", err)
	}
	return analyzer.NewWithLexicon(lex)
}

func readings(ms []analyzer.Morpheme) []string {
	var out []string
	for _, m := range ms {
		out = append(out, m.Reading)
	}
	return out
}

func mustAnalyze(t *testing.T, a *analyzer.Analyzer, text string) []analyzer.Morpheme {
	t.Helper()
	ms, err := a.Analyze(text)
	if err != nil {
		t.Fatalf("Analyze(%q): %v", text, err)
	}
	return ms
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := analyzer.New(t.TempDir()); !errors.Is(err, types.ErrIO) {
		t.Errorf("missing lexicon: err = %v, want ErrIO", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, analyzer.LexiconFile), []byte(testLexicon), 0o644); err != nil {
		t.Fatal(err)
	}
	a, err := analyzer.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.LexiconSize() != 8 {
		t.Errorf("LexiconSize = %d, want 8", a.LexiconSize())
	}
}

func TestLoadLexicon_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "entries:\n  - {surface: a, reading: ア, accent: 0, pos: noun, color: red}\n", "color"},
		{"bad reading", "entries:\n  - {surface: a, reading: abc, accent: 0, pos: noun}\n", "entries[0]"},
		{"accent out of range", "entries:\n  - {surface: a, reading: ア, accent: 2, pos: noun}\n", "out of range [0, 1]"},
		{"unknown pos", "entries:\n  - {surface: a, reading: ア, accent: 0, pos: pronoun}\n", `unknown pos "pronoun"`},
		{"missing surface", "entries:\n  - {reading: ア, accent: 0, pos: noun}\n", "surface is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := analyzer.LoadLexiconFromReader(strings.NewReader(tc.yaml))
			if !errors.Is(err, types.ErrFormat) {
				t.Fatalf("err = %v, want ErrFormat", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestAnalyze_Fallbacks(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	tests := []struct {
		text string
		want []string
	}{
		{"雨が", []string{"アメ", "ガ"}},
		{"ABC", []string{"エービーシー"}},
		{"ｘ", []string{"エックス"}},
		{"12", []string{"イチニ"}},
		{"みかん", []string{"ミカン"}},
		{"ﾐﾅﾐ", []string{"ミナミ"}},
		{"鬱", []string{""}},
		{"雨7", []string{"アメ", "ナナ"}},
	}
	for _, tc := range tests {
		got := readings(mustAnalyze(t, a, tc.text))
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Errorf("Analyze(%q) readings = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestAnalyze_InvalidUTF8(t *testing.T) {
	t.Parallel()

	if _, err := newAnalyzer(t).Analyze("\xff"); err == nil {
		t.Error("expected error for invalid utf-8")
	}
}

func TestAttach_ChangesReading(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	before := mustAnalyze(t, a, "南")
	if before[0].Reading != "ナン" || before[0].Source != analyzer.SourceLexicon {
		t.Fatalf("before attach = %+v", before[0])
	}

	d := userdict.New()
	if _, err := d.Add(userdict.Word{
		Surface: "南", Pronunciation: "ミナミ", AccentType: 1,
		WordType: userdict.WordTypeCommonNoun, Priority: 5,
	}); err != nil {
		t.Fatal(err)
	}
	a.Attach(d.Snapshot())

	after := mustAnalyze(t, a, "南")
	if after[0].Reading != "ミナミ" || after[0].Source != analyzer.SourceUser || after[0].AccentType != 1 {
		t.Errorf("after attach = %+v", after[0])
	}

	a.Attach(nil)
	if got := mustAnalyze(t, a, "南")[0].Reading; got != "ナン" {
		t.Errorf("after detach reading = %q, want ナン", got)
	}
}

func TestAttach_Priority(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	d := userdict.New()
	low := userdict.NewWord("雨", "ウ", 0)
	low.Priority = 0
	if _, err := d.Add(low); err != nil {
		t.Fatal(err)
	}
	a.Attach(d.Snapshot())
	if got := mustAnalyze(t, a, "雨")[0].Reading; got != "アメ" {
		t.Errorf("low priority user word won: %q", got)
	}

	high := userdict.NewWord("雨", "レイン", 1)
	high.Priority = 9
	if _, err := d.Add(high); err != nil {
		t.Fatal(err)
	}
	a.Attach(d.Snapshot())
	if got := mustAnalyze(t, a, "雨")[0].Reading; got != "レイン" {
		t.Errorf("high priority user word lost: %q", got)
	}

	// A longer user word beats shorter system words.
	if _, err := d.Add(userdict.NewWord("雨が", "アマガ", 0)); err != nil {
		t.Fatal(err)
	}
	a.Attach(d.Snapshot())
	if got := readings(mustAnalyze(t, a, "雨が")); len(got) != 1 || got[0] != "アマガ" {
		t.Errorf("longest match = %q", got)
	}
}

func TestAttach_IsSnapshot(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	d := userdict.New()
	id, err := d.Add(userdict.NewWord("南", "ミナミ", 1))
	if err != nil {
		t.Fatal(err)
	}
	a.Attach(d.Snapshot())

	if err := d.Update(id, userdict.NewWord("南", "ミンナミ", 1)); err != nil {
		t.Fatal(err)
	}
	if got := mustAnalyze(t, a, "南")[0].Reading; got != "ミナミ" {
		t.Errorf("analyzer followed a live dictionary: %q", got)
	}
	a.Attach(d.Snapshot())
	if got := mustAnalyze(t, a, "南")[0].Reading; got != "ミンナミ" {
		t.Errorf("after re-attach reading = %q", got)
	}
}

func TestAnalyze_ConcurrentAttachSeesOneSnapshot(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	d := userdict.New()
	if _, err := d.Add(userdict.NewWord("南", "ミナミ", 1)); err != nil {
		t.Fatal(err)
	}
	withWord := d.Snapshot()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			if i%2 == 0 {
				a.Attach(withWord)
			} else {
				a.Attach(nil)
			}
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				ms, err := a.Analyze("南 南 南")
				if err != nil {
					t.Error(err)
					return
				}
				first := ms[0].Reading
				for _, m := range ms {
					if m.Class != analyzer.ClassSpace && m.Reading != first {
						t.Errorf("mixed snapshots in one analysis: %q", readings(ms))
						return
					}
				}
			}
		}()
	}
	wg.Wait()
}

func TestAnalyze_Deterministic(t *testing.T) {
	t.Parallel()

	a := newAnalyzer(t)
	first := readings(mustAnalyze(t, a, "東京駅でABC、雨が12？"))
	for range 10 {
		if got := readings(mustAnalyze(t, a, "東京駅でABC、雨が12？")); strings.Join(got, "|") != strings.Join(first, "|") {
			t.Fatalf("non-deterministic: %q vs %q", got, first)
		}
	}
}
