// Package upgrade checks the Memory Store schema against what this binary
// requires, and runs Go-side data migrations (hooks) that SQL alone can't
// express. Schema DDL itself lives in the memstore package; this package
// only verifies and supplements it.
package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the Memory Store schema version this binary
// was built against. Bump together with memstore's migration list.
const RequiredSchemaVersion = 5

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  int
	RequiredVersion int
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads the schema_version table and compares against
// RequiredSchemaVersion.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version sql.NullInt64
	err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version)
	if err != nil || !version.Valid {
		// Table missing or empty: a fresh database that has never been
		// opened by the memstore.
		return &SchemaStatus{
			RequiredVersion: RequiredSchemaVersion,
			NeedsMigration:  true,
		}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  int(version.Int64),
		RequiredVersion: RequiredSchemaVersion,
	}

	switch {
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	default:
		// Schema is ahead — binary is too old.
	}

	return s, nil
}

// FormatError returns a user-friendly message for an incompatible status.
func FormatError(s *SchemaStatus) string {
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n"+
				"Upgrade your gulama binary to the latest version.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n"+
			"Run `gulama migrate` to apply pending migrations.\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
