package cluster

/*
* gRPC endpoints receiving the messages of the peers, every message is handed to the local process
 */

import (
	context "context"
	"log/slog"

	"github.com/Hy3z/paxos/paxos"

	codes "google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
)

func (node *Node) Read(ctx context.Context, msg *paxos.Read) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

func (node *Node) Gather(ctx context.Context, msg *paxos.Gather) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

func (node *Node) Impose(ctx context.Context, msg *paxos.Impose) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

func (node *Node) Ack(ctx context.Context, msg *paxos.Ack) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

func (node *Node) Abort(ctx context.Context, msg *paxos.Abort) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

func (node *Node) Decide(ctx context.Context, msg *paxos.Decide) (*emptypb.Empty, error) {
	return node.forward(msg.From, *msg)
}

// Launch receives a proposal that a follower forwarded to this node
func (node *Node) Launch(ctx context.Context, msg *paxos.Launch) (*emptypb.Empty, error) {
	slog.Debug("Received forwarded proposal", slog.Uint64("instance", msg.Instance))
	node.launchLocally(msg.Instance, msg.Value)
	return &emptypb.Empty{}, nil
}

// forward hands msg to the local process, the sender is carried by the From field of the message
func (node *Node) forward(from int, msg any) (*emptypb.Empty, error) {
	if from < 0 || from >= len(node.peers) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown sender %d", from)
	}
	node.send(node.process, msg)
	return &emptypb.Empty{}, nil
}
