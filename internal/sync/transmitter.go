package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"
)

// Sender delivers one batch per stream to the remote endpoint.
type Sender interface {
	SendContacts(ctx context.Context, changes []store.ContactChange) error
	SendCalls(ctx context.Context, calls []store.CallLog) error
}

// Outcome reports one stream's transmission.
type Outcome struct {
	Stream  store.Stream
	Count   int
	Success bool
	Skipped bool
}

// Transmitter sends deltas and commits the store once the remote has
// acknowledged the whole batch.
type Transmitter struct {
	sender Sender
	snap   Snapshot
	logger *zap.Logger
	now    func() time.Time
}

// NewTransmitter creates a transmitter.
func NewTransmitter(sender Sender, snap Snapshot, logger *zap.Logger) *Transmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transmitter{sender: sender, snap: snap, logger: logger, now: time.Now}
}

// Transmit sends d and, on success, commits: the full device snapshot plus
// the contacts watermark for contacts, the newest transmitted timestamp for
// calls. An empty delta succeeds without a network call. On any failure the
// store is left untouched so the next run recomputes the same delta.
func (t *Transmitter) Transmit(ctx context.Context, d Delta) (Outcome, error) {
	out := Outcome{Stream: d.Stream, Count: d.Len()}
	if d.Empty() {
		out.Success = true
		t.logger.Info("nothing to sync", zap.String("stream", string(d.Stream)))
		return out, nil
	}

	var err error
	switch d.Stream {
	case store.StreamContacts:
		err = t.sender.SendContacts(ctx, d.Contacts)
	case store.StreamCalls:
		err = t.sender.SendCalls(ctx, d.Calls)
	default:
		return out, fmt.Errorf("unknown stream %q", d.Stream)
	}
	if err != nil {
		t.logger.Warn("transmit failed",
			zap.String("stream", string(d.Stream)),
			zap.Int("count", out.Count),
			zap.Error(err),
		)
		return out, err
	}

	if err := t.commit(ctx, d); err != nil {
		t.logger.Error("commit after acknowledged sync failed",
			zap.String("stream", string(d.Stream)),
			zap.Error(err),
		)
		return out, fmt.Errorf("commit %s: %w", d.Stream, err)
	}

	out.Success = true
	t.logger.Info("stream synced", zap.String("stream", string(d.Stream)), zap.Int("count", out.Count))
	return out, nil
}

func (t *Transmitter) commit(ctx context.Context, d Delta) error {
	switch d.Stream {
	case store.StreamContacts:
		return t.snap.CommitContacts(ctx, d.Snapshot, t.now().UnixMilli())
	case store.StreamCalls:
		return t.snap.SetWatermark(ctx, store.StreamCalls, d.MaxTimestamp())
	}
	return nil
}
