package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/takejohn/voicevox-core/internal/userdict"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// defaultSearchLimit caps GET /user_dict/search when no limit is given.
const defaultSearchLimit = 20

// attachDictionary pushes the dictionary into the analyzer and records its
// size. Callers mutating the dictionary must hold dictMu.
func (s *Server) attachDictionary(ctx context.Context) {
	if a := s.synth.Analyzer(); a != nil {
		a.Attach(s.dict.Snapshot())
	}
	s.metrics.UserDictWords.Record(ctx, int64(s.dict.Len()))
}

// commit persists the dictionary after a mutation and only then attaches it
// to the analyzer. When the save fails the dictionary is rolled back to prev,
// the entries captured before the mutation. Callers must hold dictMu.
func (s *Server) commit(ctx context.Context, prev []userdict.Entry) error {
	if s.store != nil {
		if err := s.dict.SaveTo(ctx, s.store); err != nil {
			if rerr := s.dict.LoadFrom(ctx, entryList(prev)); rerr != nil {
				slog.Error("server: roll back user dictionary", "err", rerr)
			}
			return err
		}
	}
	s.attachDictionary(ctx)
	return nil
}

func (s *Server) handleGetUserDict(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := userdict.Encode(&buf, s.dict.Words()); err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// searchHit is one entry of GET /user_dict/search.
type searchHit struct {
	ID            uuid.UUID `json:"id"`
	Surface       string    `json:"surface"`
	Pronunciation string    `json:"pronunciation"`
	Score         float64   `json:"score"`
}

func (s *Server) handleSearchUserDict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultSearchLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, r, fmt.Errorf("%w: limit must be a non-negative integer", types.ErrValidation))
			return
		}
		limit = n
	}

	hits := []searchHit{}
	for _, m := range s.dict.Search(q.Get("q"), limit) {
		hits = append(hits, searchHit{
			ID:            m.Entry.ID,
			Surface:       m.Entry.Word.Surface,
			Pronunciation: m.Entry.Word.Pronunciation,
			Score:         m.Score,
		})
	}
	writeJSON(w, http.StatusOK, hits)
}

// wordParams builds a word from the query string. accent_type is required;
// word_type and priority fall back to the dictionary defaults.
func wordParams(r *http.Request) (userdict.Word, error) {
	q := r.URL.Query()
	accent, err := strconv.Atoi(q.Get("accent_type"))
	if err != nil {
		return userdict.Word{}, fmt.Errorf("%w: accent_type must be an integer", types.ErrValidation)
	}
	w := userdict.NewWord(q.Get("surface"), q.Get("pronunciation"), accent)

	if w.WordType, err = userdict.ParseWordType(q.Get("word_type")); err != nil {
		return userdict.Word{}, err
	}
	if v := q.Get("priority"); v != "" {
		if w.Priority, err = strconv.Atoi(v); err != nil {
			return userdict.Word{}, fmt.Errorf("%w: priority must be an integer", types.ErrValidation)
		}
	}
	return w, nil
}

func wordID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a word id", types.ErrValidation, r.PathValue("uuid"))
	}
	return id, nil
}

func (s *Server) handleAddWord(w http.ResponseWriter, r *http.Request) {
	word, err := wordParams(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	s.dictMu.Lock()
	defer s.dictMu.Unlock()
	prev := s.dict.Words()
	id, err := s.dict.Add(word)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.commit(r.Context(), prev); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (s *Server) handleUpdateWord(w http.ResponseWriter, r *http.Request) {
	id, err := wordID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	word, err := wordParams(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	s.dictMu.Lock()
	defer s.dictMu.Unlock()
	prev := s.dict.Words()
	if err := s.dict.Update(id, word); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.commit(r.Context(), prev); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteWord(w http.ResponseWriter, r *http.Request) {
	id, err := wordID(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	s.dictMu.Lock()
	defer s.dictMu.Unlock()
	prev := s.dict.Words()
	if _, err := s.dict.Remove(id); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.commit(r.Context(), prev); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// entryList serves decoded entries through the [userdict.Store] interface so
// imports get the same validation as loads. Rollbacks in commit use it too.
type entryList []userdict.Entry

func (l entryList) LoadWords(context.Context) ([]userdict.Entry, error) { return l, nil }

func (l entryList) SaveWords(context.Context, []userdict.Entry) error {
	return errors.New("server: import source is read-only")
}

// handleImportUserDict merges a dictionary document into the user
// dictionary. Entries whose id already exists are kept as they are.
func (s *Server) handleImportUserDict(w http.ResponseWriter, r *http.Request) {
	entries, err := userdict.Decode(r.Body)
	if err != nil {
		fail(w, r, fmt.Errorf("%w: %w", types.ErrValidation, err))
		return
	}
	incoming := userdict.New()
	if err := incoming.LoadFrom(r.Context(), entryList(entries)); err != nil {
		fail(w, r, fmt.Errorf("%w: %w", types.ErrValidation, err))
		return
	}

	s.dictMu.Lock()
	defer s.dictMu.Unlock()
	prev := s.dict.Words()
	s.dict.Import(incoming)
	if err := s.commit(r.Context(), prev); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReplaceStore reloads the user dictionary from store and persists later
// changes there. A store with no file yet receives the current words. On any
// other error the current dictionary and store are kept.
func (s *Server) ReplaceStore(ctx context.Context, store userdict.Store) error {
	s.dictMu.Lock()
	defer s.dictMu.Unlock()
	if store != nil {
		err := s.dict.LoadFrom(ctx, store)
		if errors.Is(err, fs.ErrNotExist) {
			err = s.dict.SaveTo(ctx, store)
		}
		if err != nil {
			return err
		}
	}
	s.store = store
	s.attachDictionary(ctx)
	return nil
}
