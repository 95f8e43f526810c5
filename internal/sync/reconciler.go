package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"
)

// Snapshot is the durable state the reconciler diffs against and the
// transmitter commits to.
type Snapshot interface {
	AllContacts(ctx context.Context) ([]store.Contact, error)
	Watermark(ctx context.Context, stream store.Stream) (int64, bool, error)
	CommitContacts(ctx context.Context, contacts []store.Contact, watermark int64) error
	SetWatermark(ctx context.Context, stream store.Stream, ts int64) error
}

// Reconciler turns the current device state into per-stream deltas.
type Reconciler struct {
	reader device.Reader
	snap   Snapshot
	logger *zap.Logger
}

// NewReconciler creates a reconciler over the given device reader and store.
func NewReconciler(reader device.Reader, snap Snapshot, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{reader: reader, snap: snap, logger: logger}
}

// Delta computes the delta for stream.
func (r *Reconciler) Delta(ctx context.Context, stream store.Stream) (Delta, error) {
	switch stream {
	case store.StreamContacts:
		return r.ContactsDelta(ctx)
	case store.StreamCalls:
		return r.CallsDelta(ctx)
	default:
		return Delta{}, fmt.Errorf("unknown stream %q", stream)
	}
}

// ContactsDelta enumerates the device, diffs it against the snapshot and
// carries the deduplicated device state for the commit.
func (r *Reconciler) ContactsDelta(ctx context.Context) (Delta, error) {
	current, err := r.reader.ReadContacts(ctx)
	if err != nil {
		return Delta{}, err
	}
	snapshot, err := r.snap.AllContacts(ctx)
	if err != nil {
		return Delta{}, err
	}

	current = dedupe(current)
	changes := DiffContacts(current, snapshot)
	d := Delta{Stream: store.StreamContacts, Contacts: changes, Snapshot: current}

	counts := d.Counts()
	r.logger.Info("contacts reconciled",
		zap.Int("device", len(current)),
		zap.Int("snapshot", len(snapshot)),
		zap.Int("new", counts[store.StatusNew]),
		zap.Int("updated", counts[store.StatusUpdated]),
		zap.Int("deleted", counts[store.StatusDeleted]),
	)
	return d, nil
}

// CallsDelta reads every call newer than the committed calls watermark.
func (r *Reconciler) CallsDelta(ctx context.Context) (Delta, error) {
	since, _, err := r.snap.Watermark(ctx, store.StreamCalls)
	if err != nil {
		return Delta{}, err
	}
	calls, err := r.reader.ReadCallsSince(ctx, since)
	if err != nil {
		return Delta{}, err
	}
	// The reader already filters; this guards the watermark invariant
	// against sources that do not.
	calls = FilterCalls(calls, since)

	r.logger.Info("calls reconciled", zap.Int64("since", since), zap.Int("new", len(calls)))
	return Delta{Stream: store.StreamCalls, Calls: calls}, nil
}

// DiffContacts classifies each device contact against the snapshot and
// returns only the changed ones: device order first, then a tombstone for
// each snapshot contact missing from the device, in snapshot order.
// Tombstones carry the snapshot's last-known fields.
func DiffContacts(current, snapshot []store.Contact) []store.ContactChange {
	prev := make(map[string]store.Contact, len(snapshot))
	for _, c := range snapshot {
		prev[c.ID] = c
	}

	var changes []store.ContactChange
	seen := make(map[string]struct{}, len(current))
	for _, c := range current {
		seen[c.ID] = struct{}{}
		var status store.SyncStatus
		if p, ok := prev[c.ID]; ok {
			status = Classify(c, &p)
		} else {
			status = Classify(c, nil)
		}
		if status == store.StatusSynced {
			continue
		}
		changes = append(changes, store.ContactChange{Contact: c, Status: status})
	}

	emitted := make(map[string]struct{})
	for _, p := range snapshot {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		if _, ok := emitted[p.ID]; ok {
			continue
		}
		emitted[p.ID] = struct{}{}
		changes = append(changes, store.ContactChange{Contact: p, Status: store.StatusDeleted})
	}
	return changes
}

// Classify returns NEW when prev is nil, UPDATED when the name, phone set or
// email set differ, and SYNCED otherwise. LastModified is not compared.
func Classify(current store.Contact, prev *store.Contact) store.SyncStatus {
	switch {
	case prev == nil:
		return store.StatusNew
	case current.Name != prev.Name,
		!sameSet(current.Phones, prev.Phones),
		!sameSet(current.Emails, prev.Emails):
		return store.StatusUpdated
	default:
		return store.StatusSynced
	}
}

// FilterCalls keeps calls strictly newer than watermark, preserving order.
func FilterCalls(calls []store.CallLog, watermark int64) []store.CallLog {
	out := make([]store.CallLog, 0, len(calls))
	for _, c := range calls {
		if c.Timestamp > watermark {
			out = append(out, c)
		}
	}
	return out
}

// sameSet compares a and b as sets: order and duplicates are ignored.
func sameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, v := range a {
		as[v] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, ok := as[v]; !ok {
			return false
		}
		bs[v] = struct{}{}
	}
	return len(as) == len(bs)
}

// dedupe keeps the first occurrence of each id.
func dedupe(contacts []store.Contact) []store.Contact {
	seen := make(map[string]struct{}, len(contacts))
	out := contacts[:0:0]
	for _, c := range contacts {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
