package cluster

/*
* gRPC service carrying the protocol messages between nodes, one unary method per message type
 */

import (
	context "context"
	"fmt"

	"github.com/Hy3z/paxos/paxos"

	grpc "google.golang.org/grpc"
	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
)

const serviceName = "paxos.Process"

// ProcessServer is the server API of the paxos.Process service
type ProcessServer interface {
	Read(context.Context, *paxos.Read) (*emptypb.Empty, error)
	Gather(context.Context, *paxos.Gather) (*emptypb.Empty, error)
	Impose(context.Context, *paxos.Impose) (*emptypb.Empty, error)
	Ack(context.Context, *paxos.Ack) (*emptypb.Empty, error)
	Abort(context.Context, *paxos.Abort) (*emptypb.Empty, error)
	Decide(context.Context, *paxos.Decide) (*emptypb.Empty, error)
	// Launch carries a client proposal forwarded to the leader
	Launch(context.Context, *paxos.Launch) (*emptypb.Empty, error)
}

// UnimplementedProcessServer can be embedded to have forward compatible implementations
type UnimplementedProcessServer struct{}

func (UnimplementedProcessServer) Read(context.Context, *paxos.Read) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Read not implemented")
}
func (UnimplementedProcessServer) Gather(context.Context, *paxos.Gather) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Gather not implemented")
}
func (UnimplementedProcessServer) Impose(context.Context, *paxos.Impose) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Impose not implemented")
}
func (UnimplementedProcessServer) Ack(context.Context, *paxos.Ack) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Ack not implemented")
}
func (UnimplementedProcessServer) Abort(context.Context, *paxos.Abort) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Abort not implemented")
}
func (UnimplementedProcessServer) Decide(context.Context, *paxos.Decide) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Decide not implemented")
}
func (UnimplementedProcessServer) Launch(context.Context, *paxos.Launch) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Launch not implemented")
}

func RegisterProcessServer(s grpc.ServiceRegistrar, srv ProcessServer) {
	s.RegisterService(&Process_ServiceDesc, srv)
}

func unaryMethod[Req any](name string, call func(ProcessServer, context.Context, *Req) (*emptypb.Empty, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ProcessServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ProcessServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Process_ServiceDesc is the grpc.ServiceDesc for the paxos.Process service
var Process_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ProcessServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Read", ProcessServer.Read),
		unaryMethod("Gather", ProcessServer.Gather),
		unaryMethod("Impose", ProcessServer.Impose),
		unaryMethod("Ack", ProcessServer.Ack),
		unaryMethod("Abort", ProcessServer.Abort),
		unaryMethod("Decide", ProcessServer.Decide),
		unaryMethod("Launch", ProcessServer.Launch),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cluster/service.go",
}

// ProcessClient is the client API of the paxos.Process service
type ProcessClient struct {
	cc grpc.ClientConnInterface
}

func NewProcessClient(cc grpc.ClientConnInterface) *ProcessClient {
	return &ProcessClient{cc: cc}
}

// Deliver calls the method matching the type of msg
func (c *ProcessClient) Deliver(ctx context.Context, msg any, opts ...grpc.CallOption) error {
	method, err := methodFor(msg)
	if err != nil {
		return err
	}
	out := new(emptypb.Empty)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, msg, out, opts...)
}

var errUnsupportedMessage = status.Error(codes.InvalidArgument, "not a message of the service")

func methodFor(msg any) (string, error) {
	switch msg.(type) {
	case paxos.Read:
		return "Read", nil
	case paxos.Gather:
		return "Gather", nil
	case paxos.Impose:
		return "Impose", nil
	case paxos.Ack:
		return "Ack", nil
	case paxos.Abort:
		return "Abort", nil
	case paxos.Decide:
		return "Decide", nil
	case paxos.Launch:
		return "Launch", nil
	}
	return "", fmt.Errorf("%w: %T", errUnsupportedMessage, msg)
}
