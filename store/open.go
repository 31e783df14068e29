package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Driver names registered with database/sql.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// ParseURI maps a connection URI to a database/sql driver and DSN.
//
//	sqlite:///var/lib/app.db  -> sqlite, /var/lib/app.db
//	sqlite::memory:           -> sqlite, :memory:
//	file:app.db?mode=rwc      -> sqlite, file:app.db?mode=rwc
//	duckdb://data/app.duckdb  -> duckdb, data/app.duckdb
//	app.db                    -> sqlite, app.db
func ParseURI(uri string) (driver, dsn string, err error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", "", fmt.Errorf("empty connection URI")
	}

	switch {
	case strings.HasPrefix(uri, "sqlite://"):
		driver, dsn = DriverSQLite, strings.TrimPrefix(uri, "sqlite://")
	case strings.HasPrefix(uri, "sqlite:"):
		driver, dsn = DriverSQLite, strings.TrimPrefix(uri, "sqlite:")
	case strings.HasPrefix(uri, "duckdb://"):
		driver, dsn = DriverDuckDB, strings.TrimPrefix(uri, "duckdb://")
	case strings.HasPrefix(uri, "duckdb:"):
		driver, dsn = DriverDuckDB, strings.TrimPrefix(uri, "duckdb:")
	case strings.HasPrefix(uri, "file:"):
		driver, dsn = DriverSQLite, uri
	case strings.Contains(uri, "://"):
		return "", "", fmt.Errorf("unsupported connection URI scheme in %q", uri)
	default:
		driver, dsn = DriverSQLite, uri
	}
	return driver, dsn, nil
}

// Open connects to the database named by uri and verifies the connection.
func Open(ctx context.Context, uri string) (*sql.DB, error) {
	driver, dsn, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		dsn = withSQLitePragmas(dsn)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return conn, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}
