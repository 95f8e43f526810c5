package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to a profile daemon.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials the daemon's Unix domain socket.
func NewClient(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetStatus returns the daemon status document.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	return c.invoke(ctx, GetStatusMethod, nil)
}

// SyncNow runs a sync and returns its result. A nil includeCalls uses the
// profile default.
func (c *Client) SyncNow(ctx context.Context, includeCalls *bool) (map[string]any, error) {
	req := map[string]any{}
	if includeCalls != nil {
		req["include_calls"] = *includeCalls
	}
	return c.invoke(ctx, SyncNowMethod, req)
}

// Schedule registers a periodic job. Zero-valued fields of req are left to
// the daemon's defaults.
func (c *Client) Schedule(ctx context.Context, req ScheduleRequest) (map[string]any, error) {
	m := map[string]any{
		"require_unmetered": req.RequireUnmetered,
		"require_charging":  req.RequireCharging,
	}
	if req.Job != "" {
		m["job"] = req.Job
	}
	if req.Interval != "" {
		m["interval"] = req.Interval
	}
	if req.Policy != "" {
		m["policy"] = req.Policy
	}
	return c.invoke(ctx, ScheduleMethod, m)
}

// ListRuns returns up to limit recent stream outcomes.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]map[string]any, error) {
	resp, err := c.invoke(ctx, ListRunsMethod, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	raw, _ := resp["runs"].([]any)
	runs := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			runs = append(runs, m)
		}
	}
	return runs, nil
}

// EventStream receives envelopes from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event envelope.
func (e *EventStream) Recv() (map[string]any, error) {
	out := new(structpb.Struct)
	if err := e.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// WatchEvents subscribes to daemon events whose kind starts with namespace.
// An empty namespace receives everything. The stream ends when ctx is done.
func (c *Client) WatchEvents(ctx context.Context, namespace string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &ControlServiceDesc.Streams[0], WatchEventsMethod)
	if err != nil {
		return nil, err
	}
	in, err := structpb.NewStruct(map[string]any{"namespace": namespace})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// ScheduleRequest is the client-side form of a Schedule call.
type ScheduleRequest struct {
	Job              string
	Interval         string
	Policy           string
	RequireUnmetered bool
	RequireCharging  bool
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
