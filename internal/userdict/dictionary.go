package userdict

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// Entry pairs a word with its identifier.
type Entry struct {
	ID   uuid.UUID
	Word Word
}

// Dictionary is an insertion-ordered mapping from UUID to [Word]. It is safe
// for concurrent use. The zero value is ready to use.
type Dictionary struct {
	mu    sync.RWMutex
	order []uuid.UUID
	words map[uuid.UUID]Word
}

// New returns an empty [Dictionary].
func New() *Dictionary {
	return &Dictionary{words: make(map[uuid.UUID]Word)}
}

// Add validates w, stores it under a freshly generated UUID and returns the id.
func (d *Dictionary) Add(w Word) (uuid.UUID, error) {
	if err := Validate(w); err != nil {
		return uuid.Nil, fmt.Errorf("userdict: add: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("userdict: generate id: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.words == nil {
		d.words = make(map[uuid.UUID]Word)
	}
	d.words[id] = w
	d.order = append(d.order, id)
	return id, nil
}

// Update replaces the word stored under id. The word is re-validated and its
// position is kept.
func (d *Dictionary) Update(id uuid.UUID, w Word) error {
	if err := Validate(w); err != nil {
		return fmt.Errorf("userdict: update %s: %w", id, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.words[id]; !ok {
		return fmt.Errorf("userdict: update %s: %w", id, types.ErrNotFound)
	}
	d.words[id] = w
	return nil
}

// Remove deletes the word stored under id and returns it so the caller can
// undo the removal.
func (d *Dictionary) Remove(id uuid.UUID) (Word, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.words[id]
	if !ok {
		return Word{}, fmt.Errorf("userdict: remove %s: %w", id, types.ErrNotFound)
	}
	delete(d.words, id)
	d.order = slices.DeleteFunc(d.order, func(x uuid.UUID) bool { return x == id })
	return w, nil
}

// Get returns the word stored under id.
func (d *Dictionary) Get(id uuid.UUID) (Word, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w, ok := d.words[id]
	if !ok {
		return Word{}, fmt.Errorf("userdict: get %s: %w", id, types.ErrNotFound)
	}
	return w, nil
}

// Len returns the number of words.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Words returns the entries in insertion order.
func (d *Dictionary) Words() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entriesLocked()
}

func (d *Dictionary) entriesLocked() []Entry {
	out := make([]Entry, len(d.order))
	for i, id := range d.order {
		out[i] = Entry{ID: id, Word: d.words[id]}
	}
	return out
}

// Import merges other into d. Entries whose id already exists in d are
// skipped; new entries are appended in other's order.
func (d *Dictionary) Import(other *Dictionary) {
	if other == nil || other == d {
		return
	}
	src := other.Words()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.words == nil {
		d.words = make(map[uuid.UUID]Word)
	}
	for _, e := range src {
		if _, exists := d.words[e.ID]; exists {
			continue
		}
		d.words[e.ID] = e.Word
		d.order = append(d.order, e.ID)
	}
}

// Snapshot captures the current contents as an immutable [Snapshot].
func (d *Dictionary) Snapshot() *Snapshot {
	return &Snapshot{entries: d.Words()}
}

// Load replaces the contents with the dictionary file at path. On any error
// the dictionary is left unchanged.
func (d *Dictionary) Load(path string) error {
	return d.LoadFrom(context.Background(), NewFileStore(path))
}

// Save writes the contents to path, preserving order.
func (d *Dictionary) Save(path string) error {
	return d.SaveTo(context.Background(), NewFileStore(path))
}

// LoadFrom replaces the contents with the words held by s. Every word is
// validated and ids must be unique; on any error the dictionary is left
// unchanged.
func (d *Dictionary) LoadFrom(ctx context.Context, s Store) error {
	entries, err := s.LoadWords(ctx)
	if err != nil {
		return fmt.Errorf("userdict: load: %w", err)
	}

	words := make(map[uuid.UUID]Word, len(entries))
	order := make([]uuid.UUID, 0, len(entries))
	for i, e := range entries {
		if _, dup := words[e.ID]; dup {
			return fmt.Errorf("userdict: load: %w: duplicate id %s at index %d", types.ErrFormat, e.ID, i)
		}
		if err := Validate(e.Word); err != nil {
			return fmt.Errorf("userdict: load: %w: word %s: %v", types.ErrFormat, e.ID, err)
		}
		words[e.ID] = e.Word
		order = append(order, e.ID)
	}

	d.mu.Lock()
	d.words = words
	d.order = order
	d.mu.Unlock()
	return nil
}

// SaveTo writes the contents to s, preserving order.
func (d *Dictionary) SaveTo(ctx context.Context, s Store) error {
	if err := s.SaveWords(ctx, d.Words()); err != nil {
		return fmt.Errorf("userdict: save: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot
// ─────────────────────────────────────────────────────────────────────────────

// Snapshot is an immutable, point-in-time view of a [Dictionary].
type Snapshot struct {
	entries []Entry
}

// Entries returns a copy of the snapshot's entries in dictionary order.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	return slices.Clone(s.entries)
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}
