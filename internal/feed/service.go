package feed

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Method names of the Feed service. Messages on both sides are
// google.protobuf.Struct, so no generated code is involved.
const (
	ServiceName         = "eye3d.feed.v1.Feed"
	StreamResultsMethod = "/" + ServiceName + "/StreamResults"
	GetStateMethod      = "/" + ServiceName + "/GetState"
)

// FeedServer is the server API for the Feed service.
type FeedServer interface {
	// StreamResults sends one message per published frame until the client
	// goes away or the publisher stops.
	StreamResults(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
	// GetState returns the latest published frame with model state.
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Feed service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetState", Handler: getStateHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamResults", Handler: streamResultsHandler, ServerStreams: true},
	},
}

// RegisterFeedServer registers srv with s.
func RegisterFeedServer(s grpc.ServiceRegistrar, srv FeedServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetStateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FeedServer).GetState(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamResultsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FeedServer).StreamResults(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// FeedClient is the client API for the Feed service.
type FeedClient interface {
	StreamResults(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	GetState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type feedClient struct {
	cc grpc.ClientConnInterface
}

func NewFeedClient(cc grpc.ClientConnInterface) FeedClient {
	return &feedClient{cc: cc}
}

func (c *feedClient) StreamResults(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamResultsMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *feedClient) GetState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetStateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
