package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AllContacts returns the committed snapshot ordered by id.
func (db *DB) AllContacts(ctx context.Context) ([]Contact, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, phones, emails, last_modified
		FROM snapshot_contacts
		ORDER BY id ASC`)
	if err != nil {
		return nil, wrap("list contacts", err)
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var (
			c              Contact
			phones, emails string
		)
		if err := rows.Scan(&c.ID, &c.Name, &phones, &emails, &c.LastModified); err != nil {
			return nil, wrap("scan contact", err)
		}
		if c.Phones, err = decodeSet(phones); err != nil {
			return nil, wrap("decode phones", fmt.Errorf("contact %q: %w", c.ID, err))
		}
		if c.Emails, err = decodeSet(emails); err != nil {
			return nil, wrap("decode emails", fmt.Errorf("contact %q: %w", c.ID, err))
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list contacts", err)
	}
	return contacts, nil
}

// ContactCount returns the number of contacts in the snapshot.
func (db *DB) ContactCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshot_contacts`).Scan(&count)
	return count, wrap("count contacts", err)
}

// ReplaceContacts clears the snapshot and rewrites it in one transaction.
func (db *DB) ReplaceContacts(ctx context.Context, contacts []Contact) error {
	return db.inTx(ctx, "replace contacts", func(tx *sql.Tx) error {
		return replaceContacts(ctx, tx, contacts, time.Now().UnixMilli())
	})
}

// CommitContacts rewrites the snapshot and advances the contacts watermark
// in a single transaction, so a concurrent run never sees one without the
// other.
func (db *DB) CommitContacts(ctx context.Context, contacts []Contact, watermark int64) error {
	return db.inTx(ctx, "commit contacts", func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		if err := replaceContacts(ctx, tx, contacts, now); err != nil {
			return err
		}
		return setWatermark(ctx, tx, StreamContacts, watermark, now)
	})
}

func replaceContacts(ctx context.Context, tx *sql.Tx, contacts []Contact, now int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_contacts`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_contacts (id, name, phones, emails, last_modified, status, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phones = excluded.phones,
			emails = excluded.emails,
			last_modified = excluded.last_modified,
			status = excluded.status,
			synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range contacts {
		phones, err := encodeSet(c.Phones)
		if err != nil {
			return fmt.Errorf("encode phones %q: %w", c.ID, err)
		}
		emails, err := encodeSet(c.Emails)
		if err != nil {
			return fmt.Errorf("encode emails %q: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, phones, emails, c.LastModified, StatusSynced, now); err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ID, err)
		}
	}
	return nil
}

func (db *DB) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func encodeSet(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSet(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
