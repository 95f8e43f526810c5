package api

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/scheduler"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultScheduleInterval = 2 * time.Hour
	defaultRunsLimit        = 20
	maxRunsLimit            = 500
	watchBuffer             = 256
)

// KindWatchSubscribed opens every WatchEvents stream.
const KindWatchSubscribed = "watch.subscribed"

// ControlOptions carries profile settings the control API reports or
// applies as defaults.
type ControlOptions struct {
	IncludeCalls  bool
	CRMConfigured bool
}

// ControlService implements the SyncControl gRPC service.
type ControlService struct {
	profile     string
	startedAt   time.Time
	machine     *status.Machine
	coordinator *scheduler.Coordinator
	scheduler   *scheduler.Scheduler
	db          *store.DB
	bus         *bus.Bus
	opts        ControlOptions
}

// NewControlService creates a new control service.
func NewControlService(profile string, machine *status.Machine, coordinator *scheduler.Coordinator, sched *scheduler.Scheduler, db *store.DB, b *bus.Bus, opts ControlOptions) *ControlService {
	return &ControlService{
		profile:     profile,
		startedAt:   time.Now(),
		machine:     machine,
		coordinator: coordinator,
		scheduler:   sched,
		db:          db,
		bus:         b,
		opts:        opts,
	}
}

// GetStatus reports run state, the last run, committed watermarks and the
// registered jobs.
func (s *ControlService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	marks, err := s.db.Watermarks(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read watermarks: %v", err)
	}
	count, err := s.db.ContactCount(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count snapshot: %v", err)
	}

	times, err := s.db.SyncTimes(ctx)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read sync times: %v", err)
	}

	watermarks := make(map[string]any, len(marks))
	for stream, ts := range marks {
		watermarks[string(stream)] = ts
	}
	var lastSync int64
	syncedAt := make(map[string]any, len(times))
	for stream, at := range times {
		syncedAt[string(stream)] = at
		lastSync = max(lastSync, at)
	}

	jobs := []any{}
	for _, j := range s.scheduler.Jobs() {
		jobs = append(jobs, jobStatusMap(j))
	}

	resp := map[string]any{
		"profile":           s.profile,
		"state":             string(s.machine.Current()),
		"state_since_ms":    s.machine.Since().UnixMilli(),
		"uptime_ms":         time.Since(s.startedAt).Milliseconds(),
		"crm_configured":    s.opts.CRMConfigured,
		"include_calls":     s.opts.IncludeCalls,
		"last_sync_ms":      lastSync,
		"watermarks":        watermarks,
		"synced_at_ms":      syncedAt,
		"snapshot_contacts": count,
		"jobs":              jobs,
		"events_dropped":    int64(s.bus.Dropped()),
	}
	if last := s.coordinator.Last(); last != nil {
		resp["last_run"] = resultMap(*last)
	}
	return toStruct(resp)
}

// SyncNow runs a sync immediately and returns its result. Request fields:
// include_calls (bool, profile default).
func (s *ControlService) SyncNow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res := s.scheduler.Trigger(ctx, scheduler.RunOptions{
		Trigger:      scheduler.TriggerManual,
		IncludeCalls: boolField(req, "include_calls", s.opts.IncludeCalls),
	})
	return toStruct(resultMap(res))
}

// Schedule registers a periodic job. Request fields: job, interval (Go
// duration), policy (KEEP or UPDATE), require_unmetered, require_charging.
// Defaults follow an interactive reschedule: every two hours on an
// unmetered network while charging, replacing any existing definition.
func (s *ControlService) Schedule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	interval := defaultScheduleInterval
	if raw := stringField(req, "interval", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "interval: %v", err)
		}
		interval = d
	}
	policy, err := scheduler.ParsePolicy(stringField(req, "policy", string(scheduler.Update)))
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}

	spec := scheduler.JobSpec{
		Name:     stringField(req, "job", scheduler.DefaultJob),
		Interval: interval,
		Constraints: scheduler.Constraints{
			RequireUnmetered: boolField(req, "require_unmetered", true),
			RequireCharging:  boolField(req, "require_charging", true),
		},
	}
	job, changed, err := s.scheduler.Register(ctx, spec, policy)
	if err != nil {
		if store.IsPersistence(err) {
			return nil, grpcstatus.Errorf(codes.Internal, "register job: %v", err)
		}
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}

	resp := jobMap(job)
	resp["changed"] = changed
	resp["policy"] = string(policy)
	return toStruct(resp)
}

// ListRuns returns recent per-stream run history, newest first. Request
// fields: limit (default 20).
func (s *ControlService) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(numberField(req, "limit", defaultRunsLimit))
	if limit <= 0 || limit > maxRunsLimit {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "limit must be between 1 and %d", maxRunsLimit)
	}
	runs, err := s.db.RecentRuns(ctx, limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list runs: %v", err)
	}
	items := make([]any, 0, len(runs))
	for _, r := range runs {
		items = append(items, runMap(r))
	}
	return toStruct(map[string]any{"runs": items})
}

// WatchEvents streams daemon events until the client goes away. The first
// envelope has kind "watch.subscribed" and is sent once the subscription is
// live. Request fields: namespace (kind prefix, default all).
func (s *ControlService) WatchEvents(req *structpb.Struct, stream ControlWatchEventsServer) error {
	ch, unsub := s.bus.Subscribe(stringField(req, "namespace", ""), watchBuffer)
	defer unsub()

	if err := s.sendEvent(stream, bus.Event{Kind: KindWatchSubscribed, Timestamp: time.Now()}); err != nil {
		return err
	}
	for {
		select {
		case evt := <-ch:
			if err := s.sendEvent(stream, evt); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *ControlService) sendEvent(stream ControlWatchEventsServer, evt bus.Event) error {
	env, err := toStruct(map[string]any{
		"event_id":       uuid.NewString(),
		"profile":        s.profile,
		"kind":           evt.Kind,
		"occurred_at_ms": evt.Timestamp.UnixMilli(),
		"payload":        eventPayload(evt.Payload),
	})
	if err != nil {
		return err
	}
	return stream.Send(env)
}
