package script

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rubenv/sql-migrate/sqlparse"
)

// sqlScript is one version of a SQL file, identified by its size and
// modification time. It is parsed the first time either direction runs.
type sqlScript struct {
	path    string
	size    int64
	modTime time.Time

	once   sync.Once
	err    error
	up     []string
	upTx   bool
	down   []string
	downTx bool
}

// sameVersion reports whether fi describes the file this entry was built for.
func (s *sqlScript) sameVersion(fi os.FileInfo) bool {
	return fi.Size() == s.size && fi.ModTime().Equal(s.modTime)
}

func (s *sqlScript) load() error {
	s.once.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.path, err)
			return
		}
		parsed, err := sqlparse.ParseMigration(bytes.NewReader(data))
		if err != nil {
			s.err = fmt.Errorf("parse %s: %w", s.path, err)
			return
		}
		s.up, s.upTx = parsed.UpStatements, !parsed.DisableTransactionUp
		s.down, s.downTx = parsed.DownStatements, !parsed.DisableTransactionDown
	})
	return s.err
}

func (s *sqlScript) Up(ctx context.Context, db *sql.DB) error {
	if err := s.load(); err != nil {
		return err
	}
	return execStatements(ctx, db, s.up, s.upTx)
}

func (s *sqlScript) Down(ctx context.Context, db *sql.DB) error {
	if err := s.load(); err != nil {
		return err
	}
	return execStatements(ctx, db, s.down, s.downTx)
}

func execStatements(ctx context.Context, db *sql.DB, stmts []string, useTx bool) error {
	if len(stmts) == 0 {
		return nil
	}
	if !useTx {
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", abbreviate(stmt), err)
			}
		}
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec %q: %w", abbreviate(stmt), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func abbreviate(stmt string) string {
	if len(stmt) > 40 {
		return stmt[:40]
	}
	return stmt
}
