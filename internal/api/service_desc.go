package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "crowdleaf.v1.SimulationService"

const (
	getStateMethod      = "/" + ServiceName + "/GetState"
	getMetricsMethod    = "/" + ServiceName + "/GetMetrics"
	getDoorStatesMethod = "/" + ServiceName + "/GetDoorStates"
)

// SimulationServer is the read-only view of the live comparison.
type SimulationServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetMetrics(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetDoorStates(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterSimulationServer attaches srv to a gRPC server.
func RegisterSimulationServer(s grpc.ServiceRegistrar, srv SimulationServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

func unaryHandler(fullMethod string, call func(SimulationServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SimulationServer), ctx, req.(*emptypb.Empty))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SimulationServiceDesc describes crowdleaf.v1.SimulationService. The
// messages are protobuf well-known types, so no generated code is needed.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetState",
			Handler:    unaryHandler(getStateMethod, SimulationServer.GetState),
		},
		{
			MethodName: "GetMetrics",
			Handler:    unaryHandler(getMetricsMethod, SimulationServer.GetMetrics),
		},
		{
			MethodName: "GetDoorStates",
			Handler:    unaryHandler(getDoorStatesMethod, SimulationServer.GetDoorStates),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crowdleaf/v1/simulation.proto",
}

// SimulationClient calls SimulationService over a client connection.
type SimulationClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationClient wraps cc.
func NewSimulationClient(cc grpc.ClientConnInterface) *SimulationClient {
	return &SimulationClient{cc: cc}
}

func (c *SimulationClient) invoke(ctx context.Context, method string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetState fetches the current positions and densities of both modes.
func (c *SimulationClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getStateMethod, opts...)
}

// GetMetrics fetches both metric series and the comparison report.
func (c *SimulationClient) GetMetrics(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getMetricsMethod, opts...)
}

// GetDoorStates fetches the adaptive controller's door map and chokepoints.
func (c *SimulationClient) GetDoorStates(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getDoorStatesMethod, opts...)
}
