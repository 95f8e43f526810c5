package device

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the profile is not allowed to read a stream.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnavailable means the device store cannot be reached.
	ErrUnavailable = errors.New("device store unavailable")
)

// DataSourceError wraps a failure to read device data. It is never used to
// signal an empty result.
type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DataSourceError) Unwrap() error {
	return e.Err
}
