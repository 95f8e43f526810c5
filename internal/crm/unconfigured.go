package crm

import (
	"context"

	"github.com/matheus3301/crmsync/internal/store"
)

// Unconfigured stands in for a Client when the profile has no CRM endpoint
// or credentials. Every send fails as a transport error, so runs report
// failure and the scheduler retries once the profile is configured and the
// daemon restarted.
type Unconfigured struct{}

func (Unconfigured) SendContacts(context.Context, []store.ContactChange) error {
	return &TransportError{Stream: string(store.StreamContacts), Err: ErrNotConfigured}
}

func (Unconfigured) SendCalls(context.Context, []store.CallLog) error {
	return &TransportError{Stream: string(store.StreamCalls), Err: ErrNotConfigured}
}
