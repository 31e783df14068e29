package migrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joestump/migrator/script"
	"github.com/joestump/migrator/store"
)

// Direction selects which function of a migration runs.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// State is the record state a successful run in this direction leaves.
func (d Direction) State() store.State {
	return store.State(d)
}

// RecordStore is the persistence the reconciler and runner need.
// *store.Store satisfies it.
type RecordStore interface {
	Ensure(ctx context.Context) error
	Insert(ctx context.Context, r *store.Record) error
	FindByName(ctx context.Context, name string) (*store.Record, error)
	List(ctx context.Context) ([]store.Record, error)
	SetState(ctx context.Context, name string, state store.State) (bool, error)
	Delete(ctx context.Context, ids ...string) (int64, error)
}

// Reconciler joins on-disk scripts with stored records by name.
type Reconciler struct {
	records RecordStore
	scanner *script.Scanner
}

// NewReconciler returns a Reconciler over records and scanner.
func NewReconciler(records RecordStore, scanner *script.Scanner) *Reconciler {
	return &Reconciler{records: records, scanner: scanner}
}

// ValidateDirection accepts exactly "up" or "down".
func ValidateDirection(direction string) (Direction, error) {
	switch Direction(direction) {
	case Up, Down:
		return Direction(direction), nil
	}
	return "", fmt.Errorf("direction %q: %w", direction, ErrUnsupportedDirection)
}

// ValidateCreate fails if name is malformed or already taken by a record or
// a script on disk.
func (r *Reconciler) ValidateCreate(ctx context.Context, name string) error {
	if err := script.ValidateName(name); err != nil {
		return err
	}
	rec, err := r.records.FindByName(ctx, name)
	if err != nil {
		return err
	}
	if rec != nil {
		return fmt.Errorf("migration %q: %w", name, ErrDuplicateMigrationName)
	}
	scripts, err := r.scanner.Scan()
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if s.Name == name {
			return fmt.Errorf("migration %q (%s): %w", name, s.Filename, ErrDuplicateMigrationName)
		}
	}
	return nil
}

// FindByName returns the record for name. Reverting a migration that has
// no record fails with ErrMigrationNotFound; for up the record may be nil.
func (r *Reconciler) FindByName(ctx context.Context, name string, direction Direction) (*store.Record, error) {
	rec, err := r.records.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if rec == nil && direction == Down {
		return nil, fmt.Errorf("migration %q: %w", name, ErrMigrationNotFound)
	}
	return rec, nil
}

// ListPending returns the scripts to run up: those without a record or
// whose record is down, ordered by timestamp. With a name, only that
// script is considered.
func (r *Reconciler) ListPending(ctx context.Context, name string) ([]script.Script, error) {
	scripts, err := r.scanner.Scan()
	if err != nil {
		return nil, err
	}
	recs, err := r.recordsByName(ctx)
	if err != nil {
		return nil, err
	}

	var pending []script.Script
	found := false
	for _, s := range scripts {
		if name != "" && s.Name != name {
			continue
		}
		found = true
		if rec, ok := recs[s.Name]; ok && rec.State == store.StateUp {
			continue
		}
		pending = append(pending, s)
	}

	if name != "" && !found {
		rec, ok := recs[name]
		switch {
		case !ok:
			return nil, fmt.Errorf("migration %q: %w", name, ErrMigrationNotFound)
		case rec.State != store.StateUp:
			return nil, fmt.Errorf("migration %q (%s): %w", name, rec.Filename, ErrScriptNotFound)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNoPendingMigrations
	}
	return pending, nil
}

// ListApplied returns the script to run down. With a name it is that
// migration; otherwise the most recent one in state up.
func (r *Reconciler) ListApplied(ctx context.Context, name string) ([]script.Script, error) {
	var target *store.Record
	if name != "" {
		rec, err := r.FindByName(ctx, name, Down)
		if err != nil {
			return nil, err
		}
		if rec.State == store.StateUp {
			target = rec
		}
	} else {
		recs, err := r.records.List(ctx)
		if err != nil {
			return nil, err
		}
		for i := len(recs) - 1; i >= 0; i-- {
			if recs[i].State == store.StateUp {
				target = &recs[i]
				break
			}
		}
	}
	if target == nil {
		return nil, ErrNoPendingMigrations
	}

	scripts, err := r.scanner.Scan()
	if err != nil {
		return nil, err
	}
	for _, s := range scripts {
		if s.Name == target.Name {
			return []script.Script{s}, nil
		}
	}
	return nil, fmt.Errorf("migration %q (%s): %w", target.Name, target.Filename, ErrScriptNotFound)
}

// Prune deletes every record whose script file is no longer in the
// directory and returns the deleted records.
func (r *Reconciler) Prune(ctx context.Context) ([]store.Record, error) {
	files, err := r.scanner.Filenames()
	if err != nil {
		return nil, err
	}
	recs, err := r.records.List(ctx)
	if err != nil {
		return nil, err
	}

	var stale []store.Record
	var ids []string
	for _, rec := range recs {
		if !files[rec.Filename] {
			stale = append(stale, rec)
			ids = append(ids, rec.ID)
		}
	}
	if _, err := r.records.Delete(ctx, ids...); err != nil {
		return nil, err
	}
	return stale, nil
}

// Unrecorded returns the scripts on disk that have no record.
func (r *Reconciler) Unrecorded(ctx context.Context) ([]script.Script, error) {
	scripts, err := r.scanner.Scan()
	if err != nil {
		return nil, err
	}
	recs, err := r.recordsByName(ctx)
	if err != nil {
		return nil, err
	}

	var missing []script.Script
	for _, s := range scripts {
		if _, ok := recs[s.Name]; !ok {
			missing = append(missing, s)
		}
	}
	return missing, nil
}

// Sync inserts a down record for every script that has none and returns
// the inserted records.
func (r *Reconciler) Sync(ctx context.Context) ([]store.Record, error) {
	missing, err := r.Unrecorded(ctx)
	if err != nil {
		return nil, err
	}

	var created []store.Record
	for _, s := range missing {
		rec := &store.Record{
			Name:      s.Name,
			Filename:  s.Filename,
			State:     store.StateDown,
			CreatedAt: time.UnixMilli(s.Timestamp),
		}
		if err := r.records.Insert(ctx, rec); errors.Is(err, store.ErrDuplicateName) {
			continue
		} else if err != nil {
			return created, err
		}
		created = append(created, *rec)
	}
	return created, nil
}

func (r *Reconciler) recordsByName(ctx context.Context) (map[string]store.Record, error) {
	recs, err := r.records.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]store.Record, len(recs))
	for _, rec := range recs {
		byName[rec.Name] = rec
	}
	return byName, nil
}
