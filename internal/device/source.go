package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Reader enumerates the device's contacts and call history.
type Reader interface {
	// ReadContacts returns every contact on the device.
	ReadContacts(ctx context.Context) ([]store.Contact, error)
	// ReadCallsSince returns calls strictly newer than since, newest first.
	ReadCallsSince(ctx context.Context, since int64) ([]store.CallLog, error)
}

// SQLiteSource reads a SQLite export of the device contact and call-log
// providers. The file is opened read-only.
type SQLiteSource struct {
	path   string
	db     *sql.DB
	perms  Permissions
	logger *zap.Logger
}

var _ Reader = (*SQLiteSource)(nil)

// OpenSource opens the device database at path. The file does not have to
// exist yet; reads fail with ErrUnavailable until it does.
func OpenSource(path string, perms Permissions, logger *zap.Logger) (*SQLiteSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perms == nil {
		perms = StaticPermissions{Contacts: true, CallLog: true}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, &DataSourceError{Op: "open", Err: err}
	}
	return &SQLiteSource{path: path, db: db, perms: perms, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// Permissions returns the grant the source enforces.
func (s *SQLiteSource) Permissions() Permissions {
	return s.perms
}

// ReadContacts enumerates all contacts in provider order together with
// their phone numbers and email addresses.
func (s *SQLiteSource) ReadContacts(ctx context.Context) ([]store.Contact, error) {
	if !s.perms.CanReadContacts() {
		return nil, &DataSourceError{Op: "read contacts", Err: ErrPermissionDenied}
	}
	if err := s.available(); err != nil {
		return nil, &DataSourceError{Op: "read contacts", Err: err}
	}

	phones, err := s.readValues(ctx, `SELECT contact_id, number FROM phones ORDER BY rowid`)
	if err != nil {
		return nil, &DataSourceError{Op: "read phones", Err: err}
	}
	emails, err := s.readValues(ctx, `SELECT contact_id, address FROM emails ORDER BY rowid`)
	if err != nil {
		return nil, &DataSourceError{Op: "read emails", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST(_id AS TEXT), display_name, contact_last_updated_timestamp
		FROM contacts
		ORDER BY rowid`)
	if err != nil {
		return nil, &DataSourceError{Op: "read contacts", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var contacts []store.Contact
	for rows.Next() {
		var r contactRow
		if err := rows.Scan(&r.ID, &r.Name, &r.LastModified); err != nil {
			return nil, &DataSourceError{Op: "scan contact", Err: err}
		}
		contacts = append(contacts, r.toContact(phones[r.ID], emails[r.ID]))
	}
	if err := rows.Err(); err != nil {
		return nil, &DataSourceError{Op: "read contacts", Err: err}
	}

	s.logger.Debug("device contacts read", zap.Int("count", len(contacts)))
	return contacts, nil
}

// ReadCallsSince returns call-log entries with a start time strictly after
// since, newest first.
func (s *SQLiteSource) ReadCallsSince(ctx context.Context, since int64) ([]store.CallLog, error) {
	if !s.perms.CanReadCallLog() {
		return nil, &DataSourceError{Op: "read calls", Err: ErrPermissionDenied}
	}
	if err := s.available(); err != nil {
		return nil, &DataSourceError{Op: "read calls", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT number, type, date, duration
		FROM calls
		WHERE date > ?
		ORDER BY date DESC`, since)
	if err != nil {
		return nil, &DataSourceError{Op: "read calls", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var calls []store.CallLog
	for rows.Next() {
		var r callRow
		if err := rows.Scan(&r.Number, &r.Type, &r.Date, &r.Duration); err != nil {
			return nil, &DataSourceError{Op: "scan call", Err: err}
		}
		calls = append(calls, r.toCallLog())
	}
	if err := rows.Err(); err != nil {
		return nil, &DataSourceError{Op: "read calls", Err: err}
	}

	s.logger.Debug("device calls read", zap.Int64("since", since), zap.Int("count", len(calls)))
	return calls, nil
}

func (s *SQLiteSource) available() error {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrUnavailable, s.path)
		}
		return err
	}
	return nil
}

// readValues groups a (contact_id, value) query by contact id, dropping
// null and empty values.
func (s *SQLiteSource) readValues(ctx context.Context, query string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var (
			id    string
			value sql.NullString
		)
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		if !value.Valid || value.String == "" {
			continue
		}
		out[id] = append(out[id], value.String)
	}
	return out, rows.Err()
}
