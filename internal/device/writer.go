package device

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/matheus3301/crmsync/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS contacts (
    _id                            INTEGER PRIMARY KEY AUTOINCREMENT,
    display_name                   TEXT,
    contact_last_updated_timestamp INTEGER
);
CREATE TABLE IF NOT EXISTS phones (
    contact_id INTEGER NOT NULL REFERENCES contacts(_id) ON DELETE CASCADE,
    number     TEXT
);
CREATE TABLE IF NOT EXISTS emails (
    contact_id INTEGER NOT NULL REFERENCES contacts(_id) ON DELETE CASCADE,
    address    TEXT
);
CREATE TABLE IF NOT EXISTS calls (
    number   TEXT,
    type     INTEGER,
    date     INTEGER NOT NULL,
    duration INTEGER
);
CREATE INDEX IF NOT EXISTS idx_calls_date ON calls(date DESC);
`

// Writer mutates a device database. It backs the control CLI's demo
// commands and test fixtures; the sync path only ever reads.
type Writer struct {
	db *sql.DB
}

// OpenWriter opens path read-write, creating the file and schema if needed.
func OpenWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &DataSourceError{Op: "create dir", Err: err}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &DataSourceError{Op: "open writer", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, &DataSourceError{Op: "create schema", Err: err}
	}
	return &Writer{db: db}, nil
}

// Close releases the connection.
func (w *Writer) Close() error {
	return w.db.Close()
}

// AddContact inserts a contact with one phone and an optional email and
// returns its device id.
func (w *Writer) AddContact(ctx context.Context, name, phone, email string) (string, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &DataSourceError{Op: "add contact", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO contacts (display_name, contact_last_updated_timestamp) VALUES (?, ?)`,
		nullable(name), time.Now().UnixMilli())
	if err != nil {
		return "", &DataSourceError{Op: "add contact", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", &DataSourceError{Op: "add contact", Err: err}
	}
	if phone != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO phones (contact_id, number) VALUES (?, ?)`, id, phone); err != nil {
			return "", &DataSourceError{Op: "add phone", Err: err}
		}
	}
	if email != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO emails (contact_id, address) VALUES (?, ?)`, id, email); err != nil {
			return "", &DataSourceError{Op: "add email", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", &DataSourceError{Op: "add contact", Err: err}
	}
	return strconv.FormatInt(id, 10), nil
}

// DeleteContactsByName removes every contact with the given display name
// and returns how many were deleted.
func (w *Writer) DeleteContactsByName(ctx context.Context, name string) (int64, error) {
	res, err := w.db.ExecContext(ctx, `DELETE FROM contacts WHERE display_name = ?`, name)
	if err != nil {
		return 0, &DataSourceError{Op: "delete contacts", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &DataSourceError{Op: "delete contacts", Err: err}
	}
	return n, nil
}

// AddCall appends an entry to the device call log.
func (w *Writer) AddCall(ctx context.Context, c store.CallLog) error {
	if c.Timestamp <= 0 {
		return &DataSourceError{Op: "add call", Err: fmt.Errorf("invalid timestamp %d", c.Timestamp)}
	}
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO calls (number, type, date, duration) VALUES (?, ?, ?, ?)`,
		nullable(c.PhoneNumber), callTypeCode(c.Type), c.Timestamp, c.DurationSeconds)
	if err != nil {
		return &DataSourceError{Op: "add call", Err: err}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
