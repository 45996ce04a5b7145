package userdict

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// sqliteSchema creates the word table. position records dictionary order.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS user_dict_words (
    id            TEXT PRIMARY KEY,
    position      INTEGER NOT NULL,
    surface       TEXT NOT NULL,
    pronunciation TEXT NOT NULL,
    accent_type   INTEGER NOT NULL DEFAULT 0,
    word_type     TEXT NOT NULL DEFAULT 'COMMON_NOUN',
    priority      INTEGER NOT NULL DEFAULT 5
);
CREATE INDEX IF NOT EXISTS idx_user_dict_words_position ON user_dict_words(position);
`

// SQLiteStore is a [Store] backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the SQLite database at path and ensures
// the schema exists. The caller must call [SQLiteStore.Close].
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %q: %w", types.ErrIO, path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite %q: enable WAL: %w", types.ErrIO, path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite %q: create schema: %w", types.ErrIO, path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadWords implements [Store.LoadWords].
func (s *SQLiteStore) LoadWords(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, surface, pronunciation, accent_type, word_type, priority
		FROM user_dict_words
		ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite query words: %w", types.ErrIO, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			idStr, wordType string
			w               Word
		)
		if err := rows.Scan(&idStr, &w.Surface, &w.Pronunciation, &w.AccentType, &wordType, &w.Priority); err != nil {
			return nil, fmt.Errorf("%w: sqlite scan word: %w", types.ErrIO, err)
		}
		e, err := rowEntry(idStr, wordType, w)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite iterate words: %w", types.ErrIO, err)
	}
	return entries, nil
}

// SaveWords implements [Store.SaveWords]. The table is replaced inside one
// transaction.
func (s *SQLiteStore) SaveWords(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: sqlite begin: %w", types.ErrIO, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_dict_words`); err != nil {
		return fmt.Errorf("%w: sqlite clear words: %w", types.ErrIO, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user_dict_words (id, position, surface, pronunciation, accent_type, word_type, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: sqlite prepare insert: %w", types.ErrIO, err)
	}
	defer stmt.Close()

	for i, e := range entries {
		w := e.Word
		if _, err := stmt.ExecContext(ctx, e.ID.String(), i, w.Surface, w.Pronunciation, w.AccentType, string(w.WordType), w.Priority); err != nil {
			return fmt.Errorf("%w: sqlite insert word %s: %w", types.ErrIO, e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: sqlite commit: %w", types.ErrIO, err)
	}
	return nil
}

// rowEntry converts database columns into an [Entry].
func rowEntry(idStr, wordType string, w Word) (Entry, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: stored id %q is not a UUID", types.ErrFormat, idStr)
	}
	wt, err := ParseWordType(wordType)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: word %s: %v", types.ErrFormat, id, err)
	}
	w.WordType = wt
	return Entry{ID: id, Word: w}, nil
}
