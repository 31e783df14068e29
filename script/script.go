// Package script discovers migration scripts on disk and resolves their up
// and down functions.
//
// A script file is named <timestamp>-<name>.<ext>, where timestamp is Unix
// milliseconds. SQL scripts (.sql) carry sql-migrate annotations
// (-- +migrate Up / -- +migrate Down) and are parsed on first use, and again
// whenever the file changes. Go scripts (.go) register their functions from
// an init function:
//
//	func init() {
//		script.Register(upCreateUsers, downCreateUsers)
//	}
package script

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
)

// Func is one direction of a migration.
type Func func(ctx context.Context, db *sql.DB) error

// Script is a migration file found on disk.
type Script struct {
	Timestamp int64
	Name      string
	Filename  string
	Path      string
	Up        Func
	Down      Func
}

var (
	filenameRe = regexp.MustCompile(`^(\d+)-(.+)\.([A-Za-z0-9]+)$`)
	nameRe     = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

// ParseFilename splits a script filename into its timestamp, name and
// extension.
func ParseFilename(filename string) (timestamp int64, name, ext string, err error) {
	m := filenameRe.FindStringSubmatch(filename)
	if m == nil {
		return 0, "", "", fmt.Errorf("invalid migration filename: %s", filename)
	}
	timestamp, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid migration timestamp in %s: %w", filename, err)
	}
	return timestamp, m[2], m[3], nil
}

// FormatFilename is the inverse of ParseFilename.
func FormatFilename(timestamp int64, name, ext string) string {
	return fmt.Sprintf("%d-%s.%s", timestamp, name, ext)
}

// ValidateName rejects names that cannot be used in a filename.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid migration name %q: use letters, digits, '-', '_' or '.'", name)
	}
	return nil
}
