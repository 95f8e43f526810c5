package store

import "time"

// SyncStatus is the classification of a contact against the last snapshot.
type SyncStatus string

const (
	StatusNew     SyncStatus = "new"
	StatusUpdated SyncStatus = "updated"
	StatusDeleted SyncStatus = "deleted"
	StatusSynced  SyncStatus = "synced"
)

// Stream names one independent sync pipeline and keys its watermark.
type Stream string

const (
	StreamContacts Stream = "contacts"
	StreamCalls    Stream = "calls"
)

// Streams lists every stream in run order.
var Streams = []Stream{StreamContacts, StreamCalls}

// CallType is the direction of a call-log entry.
type CallType string

const (
	CallIncoming CallType = "INCOMING"
	CallOutgoing CallType = "OUTGOING"
	CallMissed   CallType = "MISSED"
	CallOther    CallType = "OTHER"
)

// Contact is a device contact as enumerated or as last committed.
// Phones and Emails are sets; their order carries no meaning.
type Contact struct {
	ID           string
	Name         string
	Phones       []string
	Emails       []string
	LastModified int64
}

// ContactChange is a contact tagged with its classification for a delta.
type ContactChange struct {
	Contact
	Status SyncStatus
}

// CallLog is one immutable call-history entry. (PhoneNumber, Timestamp)
// identifies it.
type CallLog struct {
	PhoneNumber     string
	Type            CallType
	Timestamp       int64
	DurationSeconds int64
}

// Job is a registered periodic sync job.
type Job struct {
	Name             string
	Interval         time.Duration
	RequireUnmetered bool
	RequireCharging  bool
	CreatedAt        int64
	UpdatedAt        int64
}

// Run is one stream's outcome within a sync run.
type Run struct {
	ID         int64
	RunID      string
	Trigger    string
	Stream     Stream
	Count      int
	Success    bool
	Skipped    bool
	Error      string
	StartedAt  int64
	FinishedAt int64
}
