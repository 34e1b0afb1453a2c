package db

import (
	"database/sql"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const dbSchemaVersion = 1

//go:embed db_schema_v1.sql
var dbSchema string

// Store is the persisted catalog of images, stacks and source-cache
// entries. It is the single mutable resource shared between invocations;
// callers serialize whole passes with a process-level lock, the Store
// itself only guarantees per-operation consistency.
type Store struct {
	db *sql.DB
}

func (s *Store) Init(databasePath string) error {
	var err error
	s.db, err = sql.Open("sqlite3", databasePath)
	if err != nil {
		return errors.Wrap(err, "opening state store")
	}

	// Check the user version of the DB to see if we need to create the tables
	var userVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&userVersion); err != nil {
		return errors.Wrap(err, "reading schema version")
	}
	if userVersion == dbSchemaVersion {
		// The DB is already initialized
		return nil
	} else if userVersion != 0 {
		return errors.Errorf("state store schema version is %d, expected %d", userVersion, dbSchemaVersion)
	}

	if _, err := s.db.Exec(dbSchema); err != nil {
		return errors.Wrap(err, "creating state store tables")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scannableRow interface {
	Scan(dest ...any) error
}
