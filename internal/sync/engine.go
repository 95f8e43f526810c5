package sync

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/crm"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/metrics"
	"github.com/matheus3301/crmsync/internal/store"
	"go.uber.org/zap"
)

// Error classes used in logs, metrics and run history.
const (
	ClassDataSource    = "data_source"
	ClassTransport     = "transport"
	ClassSerialization = "serialization"
	ClassPersistence   = "persistence"
	ClassCanceled      = "canceled"
	ClassOther         = "other"
)

// StreamCompleted is the payload of bus.KindStreamCompleted.
type StreamCompleted struct {
	Outcome Outcome
	Class   string
	Err     string
}

// Engine runs one stream end to end: reconcile, transmit, commit.
type Engine struct {
	reconciler  *Reconciler
	transmitter *Transmitter
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewEngine creates a new sync engine.
func NewEngine(reconciler *Reconciler, transmitter *Transmitter, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		reconciler:  reconciler,
		transmitter: transmitter,
		bus:         b,
		logger:      logger,
	}
}

// SyncStream performs one attempt for stream. A device read failure skips
// the stream: the outcome is Skipped and counts as successful, and the error
// is still returned for reporting. Transport, serialization and persistence
// failures return an unsuccessful outcome with nothing committed.
func (e *Engine) SyncStream(ctx context.Context, stream store.Stream) (Outcome, error) {
	start := time.Now()
	logger := e.logger.With(zap.String("stream", string(stream)))

	out, err := e.syncStream(ctx, stream)
	class := ErrorClass(err)
	if class == ClassDataSource {
		out = Outcome{Stream: stream, Skipped: true, Success: true}
		logger.Warn("device data unavailable, stream skipped", zap.Error(err))
	} else if err != nil {
		logger.Error("stream sync failed", zap.String("class", class), zap.Error(err))
	}

	metrics.ObserveStream(string(stream), out.Count, out.Success, class, start)
	if out.Success && !out.Skipped && out.Count > 0 {
		if ts, ok, werr := e.reconciler.snap.Watermark(ctx, stream); werr == nil && ok {
			metrics.SetWatermark(string(stream), ts)
		}
	}

	payload := StreamCompleted{Outcome: out, Class: class}
	if err != nil {
		payload.Err = err.Error()
	}
	e.bus.Emit(bus.KindStreamCompleted, payload)
	return out, err
}

func (e *Engine) syncStream(ctx context.Context, stream store.Stream) (Outcome, error) {
	d, err := e.reconciler.Delta(ctx, stream)
	if err != nil {
		return Outcome{Stream: stream}, err
	}
	return e.transmitter.Transmit(ctx, d)
}

// ErrorClass maps an error to its class. nil maps to "".
func ErrorClass(err error) string {
	if err == nil {
		return ""
	}
	var (
		dse *device.DataSourceError
		te  *crm.TransportError
		se  *crm.SerializationError
		pe  *store.PersistenceError
	)
	switch {
	case errors.As(err, &dse):
		return ClassDataSource
	case errors.As(err, &se):
		return ClassSerialization
	case errors.As(err, &te):
		if errors.Is(err, context.Canceled) {
			return ClassCanceled
		}
		return ClassTransport
	case errors.As(err, &pe):
		return ClassPersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	default:
		return ClassOther
	}
}
