package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for a missing row.
var ErrNotFound = errors.New("record not found")

// PersistenceError wraps any failure of the local store. A lost snapshot
// rewrite corrupts future diffs, so callers must treat it as fatal for the
// commit in progress.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err carries a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
