package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/joestump/migrator/script"
	"github.com/joestump/migrator/store"
)

// Runner executes migration functions and records their outcome.
type Runner struct {
	conn    *sql.DB
	records RecordStore
	logger  *slog.Logger
}

// NewRunner returns a Runner that executes scripts against conn.
func NewRunner(conn *sql.DB, records RecordStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{conn: conn, records: records, logger: logger}
}

// Apply runs one direction of s and then sets its record state, inserting
// the record if it does not exist yet. A failing script returns its error
// unchanged and leaves the record untouched.
func (r *Runner) Apply(ctx context.Context, s script.Script, direction Direction) (*store.Record, error) {
	fn := s.Up
	if direction == Down {
		fn = s.Down
	}

	start := time.Now()
	if err := fn(ctx, r.conn); err != nil {
		r.logger.Error("migration failed", "migration", s.Name, "direction", direction, "file", s.Filename, "error", err)
		return nil, err
	}

	updated, err := r.records.SetState(ctx, s.Name, direction.State())
	if err != nil {
		return nil, err
	}
	if !updated {
		rec := &store.Record{
			Name:      s.Name,
			Filename:  s.Filename,
			State:     direction.State(),
			CreatedAt: time.UnixMilli(s.Timestamp),
		}
		if err := r.records.Insert(ctx, rec); err != nil {
			return nil, err
		}
	}

	rec, err := r.records.FindByName(ctx, s.Name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("record for %q vanished after %s", s.Name, direction)
	}
	r.logger.Info("migration applied", "migration", s.Name, "direction", direction, "duration", time.Since(start))
	return rec, nil
}

// ApplyAll runs scripts in the given order and stops at the first failure.
// It returns the records migrated before the failure.
func (r *Runner) ApplyAll(ctx context.Context, scripts []script.Script, direction Direction) ([]store.Record, error) {
	var done []store.Record
	for _, s := range scripts {
		rec, err := r.Apply(ctx, s, direction)
		if err != nil {
			return done, err
		}
		done = append(done, *rec)
	}
	return done, nil
}
