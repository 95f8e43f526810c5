package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection holding the contact snapshot, watermarks,
// the scheduled job registry and run history.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, &PersistenceError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, &PersistenceError{Op: "ping", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return &DB{db}, nil
}
