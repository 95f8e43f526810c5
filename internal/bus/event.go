package bus

import "time"

// Event kinds published by the sync daemon. Subscribers filter by prefix,
// e.g. "sync." or "run.".
const (
	KindRunStarted      = "sync.run_started"
	KindStreamCompleted = "sync.stream_completed"
	KindRunFinished     = "sync.run_finished"
	KindRunDeferred     = "sync.run_deferred"
	KindStatusChanged   = "run.status_changed"
	KindJobRegistered   = "scheduler.job_registered"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
