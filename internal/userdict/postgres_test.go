package userdict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/takejohn/voicevox-core/pkg/types"
)

// ---------------------------------------------------------------------------
// Test helpers: mock DB types
// ---------------------------------------------------------------------------

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data    [][]any
	idx     int
	err     error
	closed  bool
	scanErr error
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int32:
			*d = v.(int32)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// execCall records one Exec invocation.
type execCall struct {
	sql  string
	args []any
}

// mockTx implements the pgx.Tx methods used by PostgresStore. Unused methods
// panic through the nil embedded interface.
type mockTx struct {
	pgx.Tx
	execs      []execCall
	execErrAt  int // 1-based index of the Exec call that fails; 0 disables
	committed  bool
	rolledBack bool
}

func (tx *mockTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, execCall{sql: sql, args: args})
	if tx.execErrAt == len(tx.execs) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	return pgconn.CommandTag{}, nil
}

func (tx *mockTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *mockTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	tx        *mockTx
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockDB) Begin(context.Context) (pgx.Tx, error) {
	if m.tx == nil {
		return nil, errors.New("begin failed")
	}
	return m.tx, nil
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	var gotSQL string
	db := &mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}}
	if err := NewPostgresStore(db, "").Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS user_dict_words") {
		t.Errorf("unexpected DDL: %s", gotSQL)
	}
}

func TestPostgresStore_LoadWords(t *testing.T) {
	t.Parallel()

	id1 := uuid.New()
	id2 := uuid.New()
	var gotArgs []any
	db := &mockDB{queryFunc: func(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
		if !strings.Contains(sql, "ORDER BY position") {
			t.Errorf("query does not order by position: %s", sql)
		}
		gotArgs = args
		return &mockRows{data: [][]any{
			{id1.String(), "南", "ミナミ", int32(1), "COMMON_NOUN", int32(5)},
			{id2.String(), "走る", "ハシル", int32(2), "VERB", int32(0)},
		}}, nil
	}}

	entries, err := NewPostgresStore(db, "main").LoadWords(context.Background())
	if err != nil {
		t.Fatalf("LoadWords: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "main" {
		t.Errorf("args = %v, want [main]", gotArgs)
	}
	if len(entries) != 2 || entries[0].ID != id1 || entries[1].ID != id2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].Word.WordType != WordTypeVerb || entries[1].Word.AccentType != 2 {
		t.Errorf("word = %+v", entries[1].Word)
	}
}

func TestPostgresStore_LoadWords_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rows    *mockRows
		qErr    error
		wantErr error
	}{
		{name: "query error", qErr: errors.New("down"), wantErr: types.ErrIO},
		{name: "scan error", rows: &mockRows{data: [][]any{{"x"}}, scanErr: errors.New("bad")}, wantErr: types.ErrIO},
		{name: "bad uuid", rows: &mockRows{data: [][]any{{"nope", "a", "ア", int32(0), "COMMON_NOUN", int32(5)}}}, wantErr: types.ErrFormat},
		{name: "bad word type", rows: &mockRows{data: [][]any{{uuid.NewString(), "a", "ア", int32(0), "NOUN", int32(5)}}}, wantErr: types.ErrFormat},
		{name: "iteration error", rows: &mockRows{err: errors.New("conn reset")}, wantErr: types.ErrIO},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
				if tc.qErr != nil {
					return nil, tc.qErr
				}
				return tc.rows, nil
			}}
			_, err := NewPostgresStore(db, "").LoadWords(context.Background())
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.rows != nil && !tc.rows.closed {
				t.Error("rows not closed")
			}
		})
	}
}

func TestPostgresStore_SaveWords(t *testing.T) {
	t.Parallel()

	tx := &mockTx{}
	db := &mockDB{tx: tx}
	entries := []Entry{
		{ID: uuid.New(), Word: NewWord("南", "ミナミ", 1)},
		{ID: uuid.New(), Word: NewWord("北", "キタ", 0)},
	}

	if err := NewPostgresStore(db, "main").SaveWords(context.Background(), entries); err != nil {
		t.Fatalf("SaveWords: %v", err)
	}
	if !tx.committed || tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if len(tx.execs) != 3 {
		t.Fatalf("exec calls = %d, want 3", len(tx.execs))
	}
	if !strings.HasPrefix(strings.TrimSpace(tx.execs[0].sql), "DELETE") {
		t.Errorf("first statement = %s", tx.execs[0].sql)
	}
	for i, call := range tx.execs[1:] {
		if call.args[0] != "main" || call.args[1] != entries[i].ID.String() || call.args[2] != int32(i) {
			t.Errorf("insert %d args = %v", i, call.args)
		}
	}
}

func TestPostgresStore_SaveWords_RollsBackOnError(t *testing.T) {
	t.Parallel()

	tx := &mockTx{execErrAt: 2}
	db := &mockDB{tx: tx}
	err := NewPostgresStore(db, "").SaveWords(context.Background(), []Entry{{ID: uuid.New(), Word: NewWord("南", "ミナミ", 1)}})
	if !errors.Is(err, types.ErrIO) {
		t.Fatalf("err = %v, want ErrIO", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Errorf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}

	if err := NewPostgresStore(&mockDB{}, "").SaveWords(context.Background(), nil); !errors.Is(err, types.ErrIO) {
		t.Errorf("begin failure err = %v, want ErrIO", err)
	}
}

func TestDictionary_LoadFromPostgres(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	db := &mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{data: [][]any{{id.String(), "南", "ミナミ", int32(1), "PROPER_NOUN", int32(5)}}}, nil
	}}
	d := New()
	if err := d.LoadFrom(context.Background(), NewPostgresStore(db, "")); err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	w, err := d.Get(id)
	if err != nil || w.WordType != WordTypeProperNoun {
		t.Errorf("Get = %+v, %v", w, err)
	}
}
