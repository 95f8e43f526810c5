package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/device"
	"github.com/matheus3301/crmsync/internal/metrics"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
	crmsync "github.com/matheus3301/crmsync/internal/sync"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// DefaultJob names the periodic contact and call-log sync. On-demand runs
// share the name so they join an in-flight periodic run.
const DefaultJob = "crm-sync"

// Run triggers.
const (
	TriggerPeriodic = "periodic"
	TriggerManual   = "manual"
)

const (
	messageSuccess = "Sync successful."
	messageFailure = "Sync completed with errors. Check CRM endpoint or permissions."
)

// StreamSyncer performs one attempt for a single stream.
type StreamSyncer interface {
	SyncStream(ctx context.Context, stream store.Stream) (crmsync.Outcome, error)
}

// RunRecorder persists run history.
type RunRecorder interface {
	RecordRun(ctx context.Context, r store.Run) error
}

// RunOptions selects what a run covers.
type RunOptions struct {
	Job          string
	Trigger      string
	IncludeCalls bool
}

// StreamResult is the outcome of one stream within a run.
type StreamResult struct {
	Stream  store.Stream
	Count   int
	Success bool
	Skipped bool
	Error   string
}

// Result is the outcome of one run.
type Result struct {
	RunID      string
	Job        string
	Trigger    string
	Streams    []StreamResult
	Success    bool
	Retry      bool
	Message    string
	Shared     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns the number of records sent for stream, 0 when absent.
func (r Result) Count(stream store.Stream) int {
	for _, s := range r.Streams {
		if s.Stream == stream {
			return s.Count
		}
	}
	return 0
}

// Coordinator runs each stream of a sync attempt and reports a combined
// result. It never retries in-process; the scheduler decides when to run
// again.
type Coordinator struct {
	syncer  StreamSyncer
	perms   device.Permissions
	runs    RunRecorder
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	group singleflight.Group
	runMu sync.Mutex

	mu   sync.RWMutex
	last *Result
}

// NewCoordinator creates a coordinator. nil perms grants every stream.
func NewCoordinator(syncer StreamSyncer, perms device.Permissions, runs RunRecorder, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perms == nil {
		perms = device.StaticPermissions{Contacts: true, CallLog: true}
	}
	if machine == nil {
		machine = status.NewMachine(b)
	}
	return &Coordinator{
		syncer:  syncer,
		perms:   perms,
		runs:    runs,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// RunOnce performs one sync attempt. Concurrent calls for the same job join
// the run already in flight and receive its result.
func (c *Coordinator) RunOnce(ctx context.Context, opts RunOptions) Result {
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	v, _, shared := c.group.Do(opts.Job, func() (any, error) {
		return c.run(ctx, opts), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

// Last returns the most recent finished run, or nil.
func (c *Coordinator) Last() *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return nil
	}
	res := *c.last
	return &res
}

// State returns the run state machine's current state.
func (c *Coordinator) State() status.State {
	return c.machine.Current()
}

func (c *Coordinator) run(ctx context.Context, opts RunOptions) Result {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	res := Result{
		RunID:     uuid.NewString(),
		Job:       opts.Job,
		Trigger:   opts.Trigger,
		StartedAt: time.Now(),
	}
	logger := c.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("job", opts.Job),
		zap.String("trigger", opts.Trigger),
	)
	if err := c.machine.Transition(status.Running); err != nil {
		logger.Warn("unexpected run state", zap.Error(err))
	}
	c.bus.Emit(bus.KindRunStarted, res)
	logger.Info("sync run started", zap.Bool("include_calls", opts.IncludeCalls))

	streams := []store.Stream{store.StreamContacts}
	if opts.IncludeCalls {
		streams = append(streams, store.StreamCalls)
	}

	// Streams are independent: a failing stream must not cancel the other,
	// so goroutines never return an error to the group.
	results := make([]StreamResult, len(streams))
	var g errgroup.Group
	for i, stream := range streams {
		i, stream := i, stream
		g.Go(func() error {
			results[i] = c.syncStream(ctx, stream)
			return nil
		})
	}
	_ = g.Wait()

	res.Streams = results
	res.Success = true
	for _, s := range results {
		if !s.Success {
			res.Success = false
		}
	}
	res.Retry = !res.Success
	res.Message = messageSuccess
	if !res.Success {
		res.Message = messageFailure
	}
	res.FinishedAt = time.Now()

	c.record(ctx, res, logger)
	metrics.ObserveRun(opts.Trigger, res.Success)
	if err := c.machine.Finish(res.Success); err != nil {
		logger.Warn("unexpected run state", zap.Error(err))
	}

	c.mu.Lock()
	last := res
	c.last = &last
	c.mu.Unlock()

	c.bus.Emit(bus.KindRunFinished, res)
	logger.Info("sync run finished",
		zap.Bool("success", res.Success),
		zap.Int("contacts", res.Count(store.StreamContacts)),
		zap.Int("calls", res.Count(store.StreamCalls)),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res
}

func (c *Coordinator) syncStream(ctx context.Context, stream store.Stream) StreamResult {
	if !c.permitted(stream) {
		c.logger.Info("permission not granted, stream skipped", zap.String("stream", string(stream)))
		return StreamResult{Stream: stream, Success: true, Skipped: true}
	}
	out, err := c.syncer.SyncStream(ctx, stream)
	r := StreamResult{
		Stream:  stream,
		Count:   out.Count,
		Success: out.Success,
		Skipped: out.Skipped,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

func (c *Coordinator) permitted(stream store.Stream) bool {
	switch stream {
	case store.StreamContacts:
		return c.perms.CanReadContacts()
	case store.StreamCalls:
		return c.perms.CanReadCallLog()
	}
	return false
}

// record writes run history. History is informational; a failed write is
// logged and does not change the run's result.
func (c *Coordinator) record(ctx context.Context, res Result, logger *zap.Logger) {
	if c.runs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, s := range res.Streams {
		err := c.runs.RecordRun(ctx, store.Run{
			RunID:      res.RunID,
			Trigger:    res.Trigger,
			Stream:     s.Stream,
			Count:      s.Count,
			Success:    s.Success,
			Skipped:    s.Skipped,
			Error:      s.Error,
			StartedAt:  res.StartedAt.UnixMilli(),
			FinishedAt: res.FinishedAt.UnixMilli(),
		})
		if err != nil {
			logger.Warn("failed to record run", zap.String("stream", string(s.Stream)), zap.Error(err))
		}
	}
}
