package userdict

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// PostgresSchema is the SQL DDL for the user_dict_words table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS user_dict_words (
    dict_name     TEXT NOT NULL,
    id            UUID NOT NULL,
    position      INTEGER NOT NULL,
    surface       TEXT NOT NULL,
    pronunciation TEXT NOT NULL,
    accent_type   INTEGER NOT NULL DEFAULT 0,
    word_type     TEXT NOT NULL DEFAULT 'COMMON_NOUN',
    priority      INTEGER NOT NULL DEFAULT 5,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (dict_name, id)
);
CREATE INDEX IF NOT EXISTS idx_user_dict_words_order ON user_dict_words(dict_name, position);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Several dictionaries can
// share one table; each is addressed by name.
type PostgresStore struct {
	db   DB
	name string
}

// NewPostgresStore creates a [PostgresStore] for the dictionary called name.
// The caller is responsible for calling [PostgresStore.Migrate] to ensure the
// schema exists before issuing queries.
func NewPostgresStore(db DB, name string) *PostgresStore {
	if name == "" {
		name = "default"
	}
	return &PostgresStore{db: db, name: name}
}

// Migrate executes [PostgresSchema] against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("userdict: migrate: %w", err)
	}
	return nil
}

// LoadWords implements [Store.LoadWords].
func (s *PostgresStore) LoadWords(ctx context.Context) ([]Entry, error) {
	const query = `
		SELECT id::text, surface, pronunciation, accent_type, word_type, priority
		FROM user_dict_words
		WHERE dict_name = $1
		ORDER BY position`

	rows, err := s.db.Query(ctx, query, s.name)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres query words of %q: %w", types.ErrIO, s.name, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			idStr, wordType string
			accent, prio    int32
			w               Word
		)
		if err := rows.Scan(&idStr, &w.Surface, &w.Pronunciation, &accent, &wordType, &prio); err != nil {
			return nil, fmt.Errorf("%w: postgres scan word: %w", types.ErrIO, err)
		}
		w.AccentType = int(accent)
		w.Priority = int(prio)
		e, err := rowEntry(idStr, wordType, w)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: postgres iterate words: %w", types.ErrIO, err)
	}
	return entries, nil
}

// SaveWords implements [Store.SaveWords]. The dictionary's rows are replaced
// inside one transaction.
func (s *PostgresStore) SaveWords(ctx context.Context, entries []Entry) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: postgres begin: %w", types.ErrIO, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM user_dict_words WHERE dict_name = $1`, s.name); err != nil {
		return fmt.Errorf("%w: postgres clear words of %q: %w", types.ErrIO, s.name, err)
	}

	const insert = `
		INSERT INTO user_dict_words (
			dict_name, id, position, surface, pronunciation, accent_type, word_type, priority
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, e := range entries {
		w := e.Word
		if _, err := tx.Exec(ctx, insert,
			s.name, e.ID.String(), int32(i), w.Surface, w.Pronunciation,
			int32(w.AccentType), string(w.WordType), int32(w.Priority),
		); err != nil {
			return fmt.Errorf("%w: postgres insert word %s: %w", types.ErrIO, e.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: postgres commit: %w", types.ErrIO, err)
	}
	return nil
}
