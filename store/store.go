// Package store persists migration records in a single table (the
// "collection") of the database being migrated.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	duckdb "github.com/marcboeker/go-duckdb/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultCollection is the table used when none is configured.
const DefaultCollection = "migrations"

// ErrDuplicateName is returned when a record with the same name already exists.
var ErrDuplicateName = errors.New("duplicate migration name")

// State is the applied state of a migration.
type State string

const (
	StateUp   State = "up"
	StateDown State = "down"
)

// Record is one row of the collection.
type Record struct {
	ID        string
	Name      string
	Filename  string
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

// timeLayout is fixed width so created_at sorts lexically in both engines.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store reads and writes migration records.
type Store struct {
	conn       *sql.DB
	collection string
}

// New returns a Store over conn. The collection name is interpolated into
// SQL, so it must be a plain identifier.
func New(conn *sql.DB, collection string) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if !identRe.MatchString(collection) {
		return nil, fmt.Errorf("invalid collection name %q", collection)
	}
	return &Store{conn: conn, collection: collection}, nil
}

// Collection returns the table name backing the store.
func (s *Store) Collection() string {
	return s.collection
}

// Ensure creates the collection and its unique name index if missing.
func (s *Store) Ensure(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR PRIMARY KEY,
			name VARCHAR NOT NULL,
			filename VARCHAR NOT NULL,
			state VARCHAR NOT NULL,
			created_at VARCHAR NOT NULL,
			updated_at VARCHAR NOT NULL
		)`, s.collection),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_name_idx ON %s(name)`, s.collection, s.collection),
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure collection %s: %w", s.collection, err)
		}
	}
	return nil
}

const recordColumns = `id, name, filename, state, created_at, updated_at`

func scanRecord(scanner interface{ Scan(...any) error }, r *Record) error {
	var state, createdAt, updatedAt string
	if err := scanner.Scan(&r.ID, &r.Name, &r.Filename, &state, &createdAt, &updatedAt); err != nil {
		return err
	}
	r.State = State(state)

	var err error
	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if r.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return nil
}

// Insert stores r, filling in ID, CreatedAt and UpdatedAt when unset. A name
// conflict is reported as ErrDuplicateName.
func (s *Store) Insert(ctx context.Context, r *Record) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = now
	if r.State == "" {
		r.State = StateDown
	}

	_, err := s.conn.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?)`, s.collection, recordColumns),
		r.ID, r.Name, r.Filename, string(r.State), r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert record %q: %w", r.Name, ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("insert record %q: %w", r.Name, err)
	}
	return nil
}

// FindByName retrieves a record by name. It returns nil, nil when none exists.
func (s *Store) FindByName(ctx context.Context, name string) (*Record, error) {
	r := &Record{}
	row := s.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE name = ?`, recordColumns, s.collection), name)
	if err := scanRecord(row, r); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find record %q: %w", name, err)
	}
	return r, nil
}

// List returns every record ordered by created_at ascending.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at ASC, name ASC`, recordColumns, s.collection))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var records []Record
	for rows.Next() {
		var r Record
		if err := scanRecord(rows, &r); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SetState updates the state of the named record. It reports whether a
// record was updated.
func (s *Store) SetState(ctx context.Context, name string, state State) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET state = ?, updated_at = ? WHERE name = ?`, s.collection),
		string(state), time.Now().UTC().Format(timeLayout), name,
	)
	if err != nil {
		return false, fmt.Errorf("set state of %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set state of %q: %w", name, err)
	}
	return n > 0, nil
}

// Delete removes the records with the given IDs and returns how many rows
// were deleted.
func (s *Store) Delete(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.conn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.collection, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		return duckErr.Type == duckdb.ErrorTypeConstraint
	}
	return false
}
