package migrator

import "errors"

var (
	ErrMissingConnectionURI   = errors.New("no database connection: provide the connection URI to persist migration status (--uri / -d)")
	ErrDuplicateMigrationName = errors.New("there is already a migration with that name in the database")
	ErrUnsupportedDirection   = errors.New("direction is not supported, use the 'up' or 'down' direction")
	ErrMigrationNotFound      = errors.New("could not find that migration in the database")
	ErrNoPendingMigrations    = errors.New("there are no pending migrations")
	ErrPruneRequiresAutosync  = errors.New("prune requires autosync mode (--autosync / -a)")
	ErrScriptNotFound         = errors.New("migration script file not found")
)
