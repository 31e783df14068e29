package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s, err := New(conn, "")
	require.NoError(t, err)
	require.NoError(t, s.Ensure(ctx))
	return s
}

func TestEnsureIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ensure(context.Background()))
	assert.Equal(t, DefaultCollection, s.Collection())
}

func TestNewRejectsInvalidCollection(t *testing.T) {
	_, err := New(nil, "migrations; DROP TABLE users")
	require.Error(t, err)

	s, err := New(nil, "schema_history")
	require.NoError(t, err)
	assert.Equal(t, "schema_history", s.Collection())
}

func TestInsertAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.UnixMilli(1700000000123)
	r := &Record{Name: "create-users", Filename: "1700000000123-create-users.sql", CreatedAt: created}
	require.NoError(t, s.Insert(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StateDown, r.State)

	got, err := s.FindByName(ctx, "create-users")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "1700000000123-create-users.sql", got.Filename)
	assert.Equal(t, StateDown, got.State)
	assert.True(t, got.CreatedAt.Equal(created), "created_at %v != %v", got.CreatedAt, created)
}

func TestFindNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	r, err := s.FindByName(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestInsertDuplicateName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &Record{Name: "dup", Filename: "1-dup.sql"}))
	err := s.Insert(ctx, &Record{Name: "dup", Filename: "2-dup.sql"})
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestListOrderedByCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	inserts := []struct {
		name   string
		offset time.Duration
	}{
		{"third", 2 * time.Second},
		{"first", 0},
		{"second", time.Second},
	}
	for _, in := range inserts {
		r := &Record{Name: in.name, Filename: in.name + ".sql", CreatedAt: base.Add(in.offset)}
		require.NoError(t, s.Insert(ctx, r))
	}

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Name)
	assert.Equal(t, "second", records[1].Name)
	assert.Equal(t, "third", records[2].Name)
}

func TestSetState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &Record{Name: "flip", Filename: "1-flip.sql"}))

	ok, err := s.SetState(ctx, "flip", StateUp)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := s.FindByName(ctx, "flip")
	require.NoError(t, err)
	assert.Equal(t, StateUp, r.State)

	ok, err = s.SetState(ctx, "nobody", StateUp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Record{Name: "a", Filename: "1-a.sql"}
	b := &Record{Name: "b", Filename: "2-b.sql"}
	c := &Record{Name: "c", Filename: "3-c.sql"}
	for _, r := range []*Record{a, b, c} {
		require.NoError(t, s.Insert(ctx, r))
	}

	n, err := s.Delete(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].Name)

	n, err = s.Delete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		driver string
		dsn    string
	}{
		{"sqlite:///var/lib/app.db", DriverSQLite, "/var/lib/app.db"},
		{"sqlite::memory:", DriverSQLite, ":memory:"},
		{"file:app.db?mode=rwc", DriverSQLite, "file:app.db?mode=rwc"},
		{"duckdb://data/app.duckdb", DriverDuckDB, "data/app.duckdb"},
		{"duckdb:app.duckdb", DriverDuckDB, "app.duckdb"},
		{"app.db", DriverSQLite, "app.db"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			driver, dsn, err := ParseURI(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}

	_, _, err := ParseURI("mongodb://localhost:27017/app")
	require.Error(t, err)
	_, _, err = ParseURI("  ")
	require.Error(t, err)
}

func TestWithSQLitePragmas(t *testing.T) {
	assert.Equal(t, "app.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withSQLitePragmas("app.db"))
	assert.Equal(t, "file:app.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", withSQLitePragmas("file:app.db?mode=rwc"))
	assert.Equal(t, "app.db?_pragma=journal_mode(wal)", withSQLitePragmas("app.db?_pragma=journal_mode(wal)"))
}
