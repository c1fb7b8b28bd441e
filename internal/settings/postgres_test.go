package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// Test helpers — mock DB types
// ---------------------------------------------------------------------------

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *[]byte:
			*d = v.([]byte)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

func (r *mockRows) Values() ([]any, error) { return nil, nil }

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
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

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
				if !strings.Contains(sql, "CREATE TABLE") {
					t.Errorf("Migrate SQL should contain CREATE TABLE, got: %s", sql)
				}
				return pgconn.CommandTag{}, nil
			},
		}
		store := NewPostgresStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() unexpected error: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection refused")
			},
		}
		store := NewPostgresStore(db)
		err := store.Migrate(context.Background())
		if err == nil {
			t.Fatal("Migrate() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "settings: migrate:") {
			t.Errorf("error = %q, want prefix 'settings: migrate:'", err.Error())
		}
	})
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
				if args[0] != "guild-1" || args[1] != "speech.voice" {
					t.Errorf("args = %v, want [guild-1 speech.voice]", args)
				}
				return &mockRow{
					scanFunc: func(dest ...any) error {
						*(dest[0].(*[]byte)) = []byte(`"zoe"`)
						return nil
					},
				}
			},
		}

		store := NewPostgresStore(db)
		v, ok, err := store.Get(context.Background(), "guild-1", "speech.voice")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if !ok {
			t.Fatal("Get() ok = false, want true")
		}
		if string(v) != `"zoe"` {
			t.Errorf("value = %q, want %q", v, `"zoe"`)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{scanFunc: func(_ ...any) error { return pgx.ErrNoRows }}
			},
		}
		store := NewPostgresStore(db)
		_, ok, err := store.Get(context.Background(), "guild-1", "missing")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if ok {
			t.Error("Get() ok = true, want false for missing key")
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{scanFunc: func(_ ...any) error { return errors.New("timeout") }}
			},
		}
		store := NewPostgresStore(db)
		_, _, err := store.Get(context.Background(), "guild-1", "k")
		if err == nil {
			t.Fatal("Get() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "settings: get guild-1/k:") {
			t.Errorf("error = %q, want prefix 'settings: get guild-1/k:'", err.Error())
		}
	})
}

func TestPostgresStore_Set(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var capturedSQL string
		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				capturedSQL = sql
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}

		store := NewPostgresStore(db)
		err := store.Set(context.Background(), "guild-1", "speech.voice", []byte(`"zoe"`))
		if err != nil {
			t.Fatalf("Set() unexpected error: %v", err)
		}
		if !strings.Contains(capturedSQL, "ON CONFLICT") {
			t.Errorf("SQL should contain ON CONFLICT, got: %s", capturedSQL)
		}
		if len(capturedArgs) != 3 || capturedArgs[0] != "guild-1" || capturedArgs[1] != "speech.voice" {
			t.Errorf("args = %v, want [guild-1 speech.voice value]", capturedArgs)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("disk full")
			},
		}
		store := NewPostgresStore(db)
		err := store.Set(context.Background(), "g", "k", []byte(`1`))
		if err == nil {
			t.Fatal("Set() expected error, got nil")
		}
		if !strings.Contains(err.Error(), "settings: set g/k:") {
			t.Errorf("error = %q, want prefix 'settings: set g/k:'", err.Error())
		}
	})
}

func TestPostgresStore_Delete(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		var capturedSQL string
		var capturedArgs []any
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
				capturedSQL = sql
				capturedArgs = args
				return pgconn.CommandTag{}, nil
			},
		}

		store := NewPostgresStore(db)
		if err := store.Delete(context.Background(), "guild-1", "speech.voice"); err != nil {
			t.Fatalf("Delete() unexpected error: %v", err)
		}
		if !strings.Contains(capturedSQL, "DELETE FROM settings") {
			t.Errorf("SQL = %q, want DELETE statement", capturedSQL)
		}
		if len(capturedArgs) != 2 || capturedArgs[0] != "guild-1" {
			t.Errorf("args = %v, want [guild-1 speech.voice]", capturedArgs)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection reset")
			},
		}
		store := NewPostgresStore(db)
		if err := store.Delete(context.Background(), "g", "k"); err == nil {
			t.Fatal("Delete() expected error, got nil")
		}
	})
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
				if len(args) != 1 || args[0] != "guild-1" {
					t.Errorf("args = %v, want [guild-1]", args)
				}
				return &mockRows{
					data: [][]any{
						{"speech.voice", []byte(`"zoe"`)},
						{"recognition.locale", []byte(`"de-DE"`)},
					},
				}, nil
			},
		}

		store := NewPostgresStore(db)
		got, err := store.List(context.Background(), "guild-1")
		if err != nil {
			t.Fatalf("List() unexpected error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("List() returned %d entries, want 2", len(got))
		}
		if string(got["speech.voice"]) != `"zoe"` {
			t.Errorf("speech.voice = %q, want %q", got["speech.voice"], `"zoe"`)
		}
	})

	t.Run("empty result", func(t *testing.T) {
		t.Parallel()
		store := NewPostgresStore(&mockDB{})
		got, err := store.List(context.Background(), "guild-1")
		if err != nil {
			t.Fatalf("List() unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("List() = %v, want empty map", got)
		}
	})

	t.Run("query error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
				return nil, errors.New("connection reset")
			},
		}
		store := NewPostgresStore(db)
		if _, err := store.List(context.Background(), "g"); err == nil {
			t.Fatal("List() expected error, got nil")
		}
	})

	t.Run("rows error after iteration", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryFunc: func(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
				return &mockRows{err: errors.New("stream interrupted")}, nil
			},
		}
		store := NewPostgresStore(db)
		_, err := store.List(context.Background(), "g")
		if err == nil {
			t.Fatal("List() expected error from rows.Err()")
		}
		if !strings.Contains(err.Error(), "settings: list g:") {
			t.Errorf("error = %q, want prefix 'settings: list g:'", err.Error())
		}
	})
}
