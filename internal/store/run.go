package store

import "context"

// RecordRun appends a stream outcome to the run history.
func (db *DB) RecordRun(ctx context.Context, r Run) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, triggered_by, stream, count, success, skipped, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Trigger, string(r.Stream), r.Count, r.Success, r.Skipped, r.Error, r.StartedAt, r.FinishedAt)
	return wrap("record run", err)
}

// RecentRuns returns the most recent stream outcomes, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, run_id, triggered_by, stream, count, success, skipped, error, started_at, finished_at
		FROM sync_runs
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r      Run
			stream string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Trigger, &stream, &r.Count, &r.Success, &r.Skipped, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, wrap("scan run", err)
		}
		r.Stream = Stream(stream)
		runs = append(runs, r)
	}
	return runs, wrap("list runs", rows.Err())
}
