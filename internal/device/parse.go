package device

import (
	"database/sql"

	"github.com/matheus3301/crmsync/internal/store"
)

// UnnamedContact is substituted when the device has no display name.
const UnnamedContact = "Unnamed"

// Android CallLog.Calls type codes.
const (
	typeIncoming = 1
	typeOutgoing = 2
	typeMissed   = 3
)

// contactRow is one raw row of the device contacts table.
type contactRow struct {
	ID           string
	Name         sql.NullString
	LastModified sql.NullInt64
}

// callRow is one raw row of the device call log.
type callRow struct {
	Number   sql.NullString
	Type     sql.NullInt64
	Date     int64
	Duration sql.NullInt64
}

// toContact normalizes a raw row, applying defaults for absent fields.
func (r contactRow) toContact(phones, emails []string) store.Contact {
	name := UnnamedContact
	if r.Name.Valid && r.Name.String != "" {
		name = r.Name.String
	}
	if phones == nil {
		phones = []string{}
	}
	if emails == nil {
		emails = []string{}
	}
	return store.Contact{
		ID:           r.ID,
		Name:         name,
		Phones:       phones,
		Emails:       emails,
		LastModified: r.LastModified.Int64,
	}
}

func (r callRow) toCallLog() store.CallLog {
	duration := r.Duration.Int64
	if duration < 0 {
		duration = 0
	}
	return store.CallLog{
		PhoneNumber:     r.Number.String,
		Type:            callType(r.Type),
		Timestamp:       r.Date,
		DurationSeconds: duration,
	}
}

func callType(code sql.NullInt64) store.CallType {
	if !code.Valid {
		return store.CallOther
	}
	switch code.Int64 {
	case typeIncoming:
		return store.CallIncoming
	case typeOutgoing:
		return store.CallOutgoing
	case typeMissed:
		return store.CallMissed
	default:
		return store.CallOther
	}
}

// callTypeCode is the inverse of callType, used when writing fixtures.
func callTypeCode(t store.CallType) int64 {
	switch t {
	case store.CallIncoming:
		return typeIncoming
	case store.CallOutgoing:
		return typeOutgoing
	case store.CallMissed:
		return typeMissed
	default:
		return 0
	}
}
