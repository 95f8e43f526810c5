package crm

import (
	"errors"
	"fmt"
)

// TransportError is any failure to get a 2xx acknowledgement for a batch:
// network errors, timeouts and non-2xx responses alike. The batch is never
// partially accepted.
type TransportError struct {
	Stream     string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("crm %s sync: status %d: %s", e.Stream, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("crm %s sync: %v", e.Stream, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SerializationError means the payload could not be built. Nothing was sent.
type SerializationError struct {
	Stream string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("crm %s payload: %v", e.Stream, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is the cause of every send through Unconfigured.
var ErrNotConfigured = errors.New("crm endpoint not configured")
