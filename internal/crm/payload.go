package crm

import "github.com/matheus3301/crmsync/internal/store"

// ContactItem is one entry of the contacts sync payload.
type ContactItem struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Phones       []string `json:"phones"`
	Emails       []string `json:"emails"`
	Status       string   `json:"status"`
	LastModified int64    `json:"lastModified"`
}

// ContactsPayload is the body POSTed to the contacts endpoint.
type ContactsPayload struct {
	Contacts []ContactItem `json:"contacts"`
}

// CallItem is one entry of the calls sync payload.
type CallItem struct {
	PhoneNumber     string `json:"phoneNumber"`
	Type            string `json:"type"`
	Timestamp       int64  `json:"timestamp"`
	DurationSeconds int64  `json:"durationSeconds"`
}

// CallsPayload is the body POSTed to the calls endpoint.
type CallsPayload struct {
	Calls []CallItem `json:"calls"`
}

// NewContactsPayload converts classified changes to the wire shape.
func NewContactsPayload(changes []store.ContactChange) ContactsPayload {
	items := make([]ContactItem, 0, len(changes))
	for _, c := range changes {
		items = append(items, ContactItem{
			ID:           c.ID,
			Name:         c.Name,
			Phones:       nonNil(c.Phones),
			Emails:       nonNil(c.Emails),
			Status:       string(c.Status),
			LastModified: c.LastModified,
		})
	}
	return ContactsPayload{Contacts: items}
}

// NewCallsPayload converts call-log entries to the wire shape.
func NewCallsPayload(calls []store.CallLog) CallsPayload {
	items := make([]CallItem, 0, len(calls))
	for _, c := range calls {
		items = append(items, CallItem{
			PhoneNumber:     c.PhoneNumber,
			Type:            string(c.Type),
			Timestamp:       c.Timestamp,
			DurationSeconds: c.DurationSeconds,
		})
	}
	return CallsPayload{Calls: items}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
