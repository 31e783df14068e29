// Package migrator tracks named, ordered migration scripts and their
// applied state in a collection of the database being migrated.
//
//	m := migrator.New(migrator.Options{URI: "sqlite://app.db", Autosync: true})
//	defer m.Close()
//
//	if _, err := m.Create(ctx, "create-users"); err != nil {
//		return err
//	}
//	if _, err := m.Run(ctx, "up", ""); err != nil {
//		return err
//	}
package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/joestump/migrator/script"
	"github.com/joestump/migrator/store"
)

// DefaultMigrationsPath is used when Options.MigrationsPath is empty.
const DefaultMigrationsPath = "./migrations"

// Options configures a Migrator. Either DB or URI must be set before any
// operation that touches the database.
type Options struct {
	// DB is an existing connection. Close leaves it open; the caller that
	// opened it closes it.
	DB *sql.DB
	// URI is opened on first use when DB is nil.
	URI string

	Collection     string
	MigrationsPath string
	// Autosync registers on-disk scripts that have no record before an
	// unnamed run, and enables Prune.
	Autosync bool

	// TemplatePath overrides the built-in template used by Create.
	TemplatePath string
	// Ext is the extension of scripts written by Create: "sql" or "go".
	Ext string

	// Registry resolves Go scripts. Nil means the registry populated by
	// script.Register.
	Registry *script.Registry
	Logger   *slog.Logger
}

// Migrator composes the record store, scanner, reconciler and runner.
// Its methods are safe for concurrent use; calls run one at a time.
type Migrator struct {
	opts    Options
	logger  *slog.Logger
	scanner *script.Scanner

	mu         sync.Mutex
	conn       *sql.DB
	owned      bool
	records    *store.Store
	reconciler *Reconciler
	runner     *Runner
}

// New returns a Migrator. It does not connect; see Connected.
func New(opts Options) *Migrator {
	if opts.MigrationsPath == "" {
		opts.MigrationsPath = DefaultMigrationsPath
	}
	if opts.Collection == "" {
		opts.Collection = store.DefaultCollection
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		opts:    opts,
		logger:  logger,
		scanner: script.NewScanner(opts.MigrationsPath, opts.Registry),
	}
}

// Connected returns the live connection, opening it from the URI on first
// use and making sure the collection exists.
func (m *Migrator) Connected(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected(ctx)
}

func (m *Migrator) connected(ctx context.Context) (*sql.DB, error) {
	if m.conn != nil {
		return m.conn, nil
	}

	conn, owned := m.opts.DB, false
	if conn == nil {
		if m.opts.URI == "" {
			return nil, ErrMissingConnectionURI
		}
		var err error
		conn, err = store.Open(ctx, m.opts.URI)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		owned = true
	} else if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	records, err := store.New(conn, m.opts.Collection)
	if err == nil {
		err = records.Ensure(ctx)
	}
	if err != nil {
		if owned {
			_ = conn.Close()
		}
		return nil, err
	}

	m.conn, m.owned, m.records = conn, owned, records
	m.reconciler = NewReconciler(records, m.scanner)
	m.runner = NewRunner(conn, records, m.logger)
	m.logger.Debug("connected", "collection", records.Collection(), "migrations_path", m.opts.MigrationsPath)
	return conn, nil
}

// Close releases the connection. Connections passed in through Options.DB
// are left open. Calling Close again is a no-op.
func (m *Migrator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	conn, owned := m.conn, m.owned
	m.conn, m.owned, m.records, m.reconciler, m.runner = nil, false, nil, nil, nil
	if owned {
		return conn.Close()
	}
	return nil
}

// MigrationsPath returns the scanned directory.
func (m *Migrator) MigrationsPath() string {
	return m.opts.MigrationsPath
}

// Create writes a new script for name and records it in state down.
func (m *Migrator) Create(ctx context.Context, name string) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}
	if err := m.reconciler.ValidateCreate(ctx, name); err != nil {
		return nil, err
	}

	s, err := m.scanner.Create(name, script.CreateOptions{Ext: m.opts.Ext, TemplatePath: m.opts.TemplatePath})
	if err != nil {
		return nil, fmt.Errorf("create migration %q: %w", name, err)
	}

	rec := &store.Record{
		Name:      s.Name,
		Filename:  s.Filename,
		State:     store.StateDown,
		CreatedAt: time.UnixMilli(s.Timestamp),
	}
	if err := m.records.Insert(ctx, rec); err != nil {
		if rmErr := os.Remove(s.Path); rmErr != nil {
			m.logger.Warn("remove orphaned script", "file", s.Path, "error", rmErr)
		}
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, fmt.Errorf("migration %q: %w", name, ErrDuplicateMigrationName)
		}
		return nil, err
	}

	m.logger.Info("migration created", "migration", rec.Name, "file", s.Path)
	return rec, nil
}

// Run migrates in direction ("up" or "down"). With a name, exactly that
// migration runs. Without one, up runs every pending migration in
// timestamp order and down reverts the most recently applied one. The
// returned records are those migrated before any failure.
func (m *Migrator) Run(ctx context.Context, direction string, name string) ([]store.Record, error) {
	dir, err := ValidateDirection(direction)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}

	if name == "" && m.opts.Autosync {
		if _, err := m.sync(ctx); err != nil {
			return nil, err
		}
	}

	var plan []script.Script
	if dir == Up {
		plan, err = m.reconciler.ListPending(ctx, name)
	} else {
		plan, err = m.reconciler.ListApplied(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Debug("running migrations", "direction", dir, "count", len(plan))
	return m.runner.ApplyAll(ctx, plan, dir)
}

// List returns every record ordered by creation time.
func (m *Migrator) List(ctx context.Context) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}
	return m.records.List(ctx)
}

// Prune removes records whose script file no longer exists and returns
// them. It requires autosync mode.
func (m *Migrator) Prune(ctx context.Context) ([]store.Record, error) {
	if !m.opts.Autosync {
		return nil, ErrPruneRequiresAutosync
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}
	pruned, err := m.reconciler.Prune(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range pruned {
		m.logger.Info("migration pruned", "migration", rec.Name, "file", rec.Filename)
	}
	return pruned, nil
}

// Sync records every on-disk script that has no record yet, in state down.
func (m *Migrator) Sync(ctx context.Context) ([]store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sync(ctx)
}

func (m *Migrator) sync(ctx context.Context) ([]store.Record, error) {
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}
	created, err := m.reconciler.Sync(ctx)
	for _, rec := range created {
		m.logger.Info("migration synced", "migration", rec.Name, "file", rec.Filename)
	}
	return created, err
}

// Unrecorded returns the scripts on disk that have no record yet, in
// timestamp order.
func (m *Migrator) Unrecorded(ctx context.Context) ([]script.Script, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.connected(ctx); err != nil {
		return nil, err
	}
	return m.reconciler.Unrecorded(ctx)
}
