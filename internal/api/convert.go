package api

import (
	"github.com/matheus3301/crmsync/internal/scheduler"
	"github.com/matheus3301/crmsync/internal/status"
	"github.com/matheus3301/crmsync/internal/store"
	crmsync "github.com/matheus3301/crmsync/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}

func resultMap(r scheduler.Result) map[string]any {
	streams := make([]any, 0, len(r.Streams))
	for _, s := range r.Streams {
		streams = append(streams, map[string]any{
			"stream":  string(s.Stream),
			"count":   s.Count,
			"success": s.Success,
			"skipped": s.Skipped,
			"error":   s.Error,
		})
	}
	return map[string]any{
		"run_id":         r.RunID,
		"job":            r.Job,
		"trigger":        r.Trigger,
		"success":        r.Success,
		"retry":          r.Retry,
		"message":        r.Message,
		"shared":         r.Shared,
		"contacts":       r.Count(store.StreamContacts),
		"calls":          r.Count(store.StreamCalls),
		"streams":        streams,
		"started_at_ms":  r.StartedAt.UnixMilli(),
		"finished_at_ms": r.FinishedAt.UnixMilli(),
	}
}

func jobMap(j store.Job) map[string]any {
	return map[string]any{
		"job":               j.Name,
		"interval":          j.Interval.String(),
		"require_unmetered": j.RequireUnmetered,
		"require_charging":  j.RequireCharging,
		"updated_at_ms":     j.UpdatedAt,
	}
}

func jobStatusMap(j scheduler.JobStatus) map[string]any {
	m := jobMap(j.Job)
	m["next_run_ms"] = j.Next.UnixMilli()
	m["failures"] = j.Failures
	m["deferred"] = j.Deferred
	return m
}

func runMap(r store.Run) map[string]any {
	return map[string]any{
		"run_id":         r.RunID,
		"trigger":        r.Trigger,
		"stream":         string(r.Stream),
		"count":          r.Count,
		"success":        r.Success,
		"skipped":        r.Skipped,
		"error":          r.Error,
		"started_at_ms":  r.StartedAt,
		"finished_at_ms": r.FinishedAt,
	}
}

// eventPayload converts a bus payload into Struct-compatible values.
func eventPayload(p any) map[string]any {
	switch v := p.(type) {
	case scheduler.Result:
		return resultMap(v)
	case crmsync.StreamCompleted:
		return map[string]any{
			"stream":  string(v.Outcome.Stream),
			"count":   v.Outcome.Count,
			"success": v.Outcome.Success,
			"skipped": v.Outcome.Skipped,
			"class":   v.Class,
			"error":   v.Err,
		}
	case status.StatusChange:
		return map[string]any{"from": string(v.From), "to": string(v.To)}
	case scheduler.JobRegistered:
		m := jobMap(v.Job)
		m["changed"] = v.Changed
		return m
	case scheduler.RunDeferred:
		return map[string]any{"job": v.Job, "reason": v.Reason}
	default:
		return map[string]any{}
	}
}

func stringField(s *structpb.Struct, key, def string) string {
	if v, ok := s.GetFields()[key]; ok {
		if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return def
}

func boolField(s *structpb.Struct, key string, def bool) bool {
	if v, ok := s.GetFields()[key]; ok {
		if bv, ok := v.GetKind().(*structpb.Value_BoolValue); ok {
			return bv.BoolValue
		}
	}
	return def
}

func numberField(s *structpb.Struct, key string, def float64) float64 {
	if v, ok := s.GetFields()[key]; ok {
		if nv, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
			return nv.NumberValue
		}
	}
	return def
}
