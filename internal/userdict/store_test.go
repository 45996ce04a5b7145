package userdict_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/types"
)

func TestEncode_KeepsOrderAndMoraCount(t *testing.T) {
	t.Parallel()

	first := uuid.MustParse("ffffffff-0000-4000-8000-000000000000")
	second := uuid.MustParse("00000000-0000-4000-8000-000000000000")
	entries := []userdict.Entry{
		{ID: first, Word: minami()},
		{ID: second, Word: userdict.NewWord("北", "キタ", 1)},
	}

	var buf bytes.Buffer
	if err := userdict.Encode(&buf, entries); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out := buf.String()
	if strings.Index(out, first.String()) > strings.Index(out, second.String()) {
		t.Errorf("keys reordered:\n%s", out)
	}
	if !strings.Contains(out, `"mora_count":3`) {
		t.Errorf("mora_count missing:\n%s", out)
	}

	decoded, err := userdict.Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, entries) {
		t.Errorf("decoded %+v, want %+v", decoded, entries)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	const id = "3f1b2c4d-5e6f-4a1b-8c9d-0e1f2a3b4c5d"
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"duplicate id", `{"` + id + `": {"surface":"a","pronunciation":"ア"}, "` + id + `": {"surface":"b","pronunciation":"イ"}}`},
		{"word not object", `{"` + id + `": 3}`},
		{"truncated", `{"` + id + `": {"surface":"a"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := userdict.Decode(strings.NewReader(tc.input))
			if !errors.Is(err, types.ErrFormat) {
				t.Fatalf("err = %v, want ErrFormat", err)
			}
		})
	}
}

func TestDecode_Defaults(t *testing.T) {
	t.Parallel()

	entries, err := userdict.Decode(strings.NewReader(`{"3f1b2c4d-5e6f-4a1b-8c9d-0e1f2a3b4c5d": {"surface":"南","pronunciation":"ミナミ"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	w := entries[0].Word
	if w.WordType != userdict.WordTypeCommonNoun || w.AccentType != 0 || w.Priority != 0 {
		t.Errorf("defaults = %+v", w)
	}
}

func TestDecode_IgnoresUnknownFields(t *testing.T) {
	t.Parallel()

	const doc = `{"3f1b2c4d-5e6f-4a1b-8c9d-0e1f2a3b4c5d": {
		"surface": "ずんだ", "pronunciation": "ズンダ", "accent_type": 1,
		"word_type": "PROPER_NOUN", "priority": 7, "mora_count": 3,
		"part_of_speech": "名詞", "part_of_speech_detail_1": "固有名詞",
		"stem": "*", "yomi": "ズンダ", "cost": 8609,
		"accent_associative_rule": "*"
	}}`
	entries, err := userdict.Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := userdict.Word{Surface: "ずんだ", Pronunciation: "ズンダ", AccentType: 1, WordType: userdict.WordTypeProperNoun, Priority: 7}
	if len(entries) != 1 || entries[0].Word != want {
		t.Errorf("entries = %+v, want one %+v", entries, want)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dict.db")
	store, err := userdict.OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	d := userdict.New()
	mustAdd(t, d, userdict.NewWord("東", "ヒガシ", 0))
	mustAdd(t, d, minami())
	mustAdd(t, d, userdict.Word{Surface: "さま", Pronunciation: "サマ", AccentType: 1, WordType: userdict.WordTypeSuffix, Priority: 2})

	if err := d.SaveTo(ctx, store); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	loaded := userdict.New()
	if err := loaded.LoadFrom(ctx, store); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !reflect.DeepEqual(loaded.Words(), d.Words()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded.Words(), d.Words())
	}

	// Saving again replaces rather than appends.
	first := d.Words()[0].ID
	if _, err := d.Remove(first); err != nil {
		t.Fatal(err)
	}
	if err := d.SaveTo(ctx, store); err != nil {
		t.Fatalf("second SaveTo: %v", err)
	}
	if err := loaded.LoadFrom(ctx, store); err != nil {
		t.Fatalf("second LoadFrom: %v", err)
	}
	if loaded.Len() != 2 {
		t.Errorf("Len = %d, want 2", loaded.Len())
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()

	d := userdict.New()
	idMinami := mustAdd(t, d, minami())
	mustAdd(t, d, userdict.NewWord("北", "キタ", 1))
	idMinato := mustAdd(t, d, userdict.NewWord("港", "ミナト", 0))

	hits := d.Search("みなみ", 0)
	if len(hits) == 0 {
		t.Fatal("no hits for みなみ")
	}
	if hits[0].Entry.ID != idMinami || hits[0].Score != 1 {
		t.Errorf("best hit = %+v, want exact match on 南", hits[0])
	}
	for _, h := range hits {
		if h.Entry.Word.Surface == "北" {
			t.Errorf("unrelated word matched: %+v", h)
		}
	}

	hits = d.Search("南", 1)
	if len(hits) != 1 || hits[0].Entry.ID != idMinami {
		t.Errorf("surface search = %+v", hits)
	}

	hits = d.Search("ミナト", 0)
	if len(hits) == 0 || hits[0].Entry.ID != idMinato {
		t.Errorf("reading search = %+v", hits)
	}

	if hits := d.Search("  ", 0); hits != nil {
		t.Errorf("blank query returned %+v", hits)
	}
}
