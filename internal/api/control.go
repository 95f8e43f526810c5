package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name of the control API.
const ServiceName = "crmsync.v1.SyncControl"

// Full method names.
const (
	GetStatusMethod = "/" + ServiceName + "/GetStatus"
	SyncNowMethod   = "/" + ServiceName + "/SyncNow"
	ScheduleMethod  = "/" + ServiceName + "/Schedule"
	ListRunsMethod  = "/" + ServiceName + "/ListRuns"

	WatchEventsMethod = "/" + ServiceName + "/WatchEvents"
)

// ControlServer is the server API for the SyncControl service. Requests and
// responses are google.protobuf.Struct documents.
type ControlServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncNow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Schedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, ControlWatchEventsServer) error
}

// ControlWatchEventsServer is the server side of the WatchEvents stream.
type ControlWatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type controlWatchEventsServer struct {
	grpc.ServerStream
}

func (x *controlWatchEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, &controlWatchEventsServer{stream})
}

// ControlServiceDesc describes the SyncControl service for grpc.Server.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unaryHandler(GetStatusMethod, ControlServer.GetStatus)},
		{MethodName: "SyncNow", Handler: unaryHandler(SyncNowMethod, ControlServer.SyncNow)},
		{MethodName: "Schedule", Handler: unaryHandler(ScheduleMethod, ControlServer.Schedule)},
		{MethodName: "ListRuns", Handler: unaryHandler(ListRunsMethod, ControlServer.ListRuns)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchEvents", Handler: watchEventsHandler, ServerStreams: true},
	},
	Metadata: "crmsync/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

type unaryMethod func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
