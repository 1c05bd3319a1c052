// Package gatev1 defines the actiongate.v1.Gate gRPC service. Messages
// travel as google.protobuf.Struct; the typed request and response shapes
// below are their JSON views.
package gatev1

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "actiongate.v1.Gate"

const (
	MethodEvaluate    = "/" + ServiceName + "/Evaluate"
	MethodExecute     = "/" + ServiceName + "/Execute"
	MethodApprove     = "/" + ServiceName + "/Approve"
	MethodReject      = "/" + ServiceName + "/Reject"
	MethodListPending = "/" + ServiceName + "/ListPending"
)

// GateServer is the server API for the Gate service.
type GateServer interface {
	Evaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Approve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListPending(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(GateServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GateServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(GateServer), ctx, req.(*structpb.Struct))
		})
	}
}

// Gate_ServiceDesc is the grpc.ServiceDesc for the Gate service.
var Gate_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GateServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: handler(MethodEvaluate, GateServer.Evaluate)},
		{MethodName: "Execute", Handler: handler(MethodExecute, GateServer.Execute)},
		{MethodName: "Approve", Handler: handler(MethodApprove, GateServer.Approve)},
		{MethodName: "Reject", Handler: handler(MethodReject, GateServer.Reject)},
		{MethodName: "ListPending", Handler: handler(MethodListPending, GateServer.ListPending)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "actiongate/v1/gate.proto",
}

// RegisterGateServer registers srv on s.
func RegisterGateServer(s grpc.ServiceRegistrar, srv GateServer) {
	s.RegisterService(&Gate_ServiceDesc, srv)
}

// GateClient is the client API for the Gate service.
type GateClient struct {
	cc grpc.ClientConnInterface
}

func NewGateClient(cc grpc.ClientConnInterface) *GateClient {
	return &GateClient{cc: cc}
}

// Invoke calls method with in encoded as a Struct and decodes the reply into out.
func (c *GateClient) Invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	req, err := Encode(in)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp, opts...); err != nil {
		return err
	}
	return Decode(resp, out)
}

// Encode converts any JSON-encodable value with object shape into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// Decode converts a Struct into v through its JSON form.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		s = new(structpb.Struct)
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
