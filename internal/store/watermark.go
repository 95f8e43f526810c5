package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Watermark returns the last committed sync time for stream. ok is false
// when the stream has never been synced.
func (db *DB) Watermark(ctx context.Context, stream Stream) (ts int64, ok bool, err error) {
	err = db.QueryRowContext(ctx, `SELECT last_sync_time FROM sync_state WHERE stream = ?`, string(stream)).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("get watermark", err)
	}
	return ts, true, nil
}

// SetWatermark advances the watermark for stream. A value lower than the
// stored one is ignored, so the watermark never moves backwards.
func (db *DB) SetWatermark(ctx context.Context, stream Stream, ts int64) error {
	return db.inTx(ctx, "set watermark", func(tx *sql.Tx) error {
		return setWatermark(ctx, tx, stream, ts, time.Now().UnixMilli())
	})
}

// Watermarks returns every recorded watermark keyed by stream.
func (db *DB) Watermarks(ctx context.Context) (map[Stream]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT stream, last_sync_time FROM sync_state`)
	if err != nil {
		return nil, wrap("list watermarks", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[Stream]int64)
	for rows.Next() {
		var (
			stream string
			ts     int64
		)
		if err := rows.Scan(&stream, &ts); err != nil {
			return nil, wrap("scan watermark", err)
		}
		out[Stream(stream)] = ts
	}
	return out, wrap("list watermarks", rows.Err())
}

// SyncTimes returns, per stream, the wall-clock time of the last commit
// that touched its watermark.
func (db *DB) SyncTimes(ctx context.Context) (map[Stream]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT stream, updated_at FROM sync_state`)
	if err != nil {
		return nil, wrap("list sync times", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[Stream]int64)
	for rows.Next() {
		var (
			stream string
			at     int64
		)
		if err := rows.Scan(&stream, &at); err != nil {
			return nil, wrap("scan sync time", err)
		}
		out[Stream(stream)] = at
	}
	return out, wrap("list sync times", rows.Err())
}

func setWatermark(ctx context.Context, tx *sql.Tx, stream Stream, ts, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (stream, last_sync_time, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			last_sync_time = MAX(sync_state.last_sync_time, excluded.last_sync_time),
			updated_at = excluded.updated_at`,
		string(stream), ts, now)
	return err
}
