package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertJob registers a periodic job. When replace is false and a job with
// the same name exists, the stored definition is kept and returned
// unchanged. The returned bool reports whether the stored row changed.
func (db *DB) UpsertJob(ctx context.Context, j Job, replace bool) (Job, bool, error) {
	var (
		out     Job
		changed bool
	)
	err := db.inTx(ctx, "upsert job", func(tx *sql.Tx) error {
		existing, err := getJob(ctx, tx, j.Name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		now := time.Now().UnixMilli()
		if existing != nil && !replace {
			out = *existing
			return nil
		}
		createdAt := now
		if existing != nil {
			createdAt = existing.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scheduled_jobs (name, interval_ms, require_unmetered, require_charging, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				interval_ms = excluded.interval_ms,
				require_unmetered = excluded.require_unmetered,
				require_charging = excluded.require_charging,
				updated_at = excluded.updated_at`,
			j.Name, j.Interval.Milliseconds(), j.RequireUnmetered, j.RequireCharging, createdAt, now); err != nil {
			return err
		}
		out = j
		out.CreatedAt = createdAt
		out.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return Job{}, false, err
	}
	return out, changed, nil
}

// ListJobs returns all registered jobs ordered by name.
func (db *DB) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, interval_ms, require_unmetered, require_charging, created_at, updated_at
		FROM scheduled_jobs ORDER BY name ASC`)
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, wrap("scan job", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, wrap("list jobs", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getJob(ctx context.Context, q rowQueryer, name string) (*Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT name, interval_ms, require_unmetered, require_charging, created_at, updated_at
		FROM scheduled_jobs WHERE name = ?`, name)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func scanJob(s rowScanner) (*Job, error) {
	var (
		j          Job
		intervalMS int64
	)
	if err := s.Scan(&j.Name, &intervalMS, &j.RequireUnmetered, &j.RequireCharging, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Interval = time.Duration(intervalMS) * time.Millisecond
	return &j, nil
}
