package cluster

/*
* Setup functions for the node
 */

import (
	context "context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var ErrInvalidOptions = errors.New("invalid node options")

// Setup creates the node and starts its leader loop, the gRPC endpoints are served by Serve
func Setup(ctx context.Context, opts Options) (*Node, error) {
	n := len(opts.Addresses)
	if n == 0 {
		return nil, fmt.Errorf("%w: no peer address", ErrInvalidOptions)
	}
	if opts.ID < 0 || opts.ID >= n {
		return nil, fmt.Errorf("%w: ID %d is not in [0, %d)", ErrInvalidOptions, opts.ID, n)
	}
	if opts.CrashProbability < 0 || opts.CrashProbability > 1 {
		return nil, fmt.Errorf("%w: crash probability %g", ErrInvalidOptions, opts.CrashProbability)
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	interval := opts.ElectionInterval
	if interval <= 0 {
		interval = DefaultElectionInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	node := &Node{
		ctx:         ctx,
		cancel:      cancel,
		id:          opts.ID,
		system:      actor.NewActorSystem(),
		decisions:   newDecisionLog(),
		connections: make([]*grpc.ClientConn, n),
		peers:       make([]*actor.PID, n),
		interval:    interval,
	}
	node.leaderID.Store(-1)
	fail := func(err error) (*Node, error) {
		cancel()
		for _, conn := range node.connections {
			if conn != nil {
				conn.Close()
			}
		}
		node.wg.Wait()
		node.system.Shutdown()
		return nil, err
	}

	decisionsPID, err := node.system.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor { return node.decisions }), "decisions")
	if err != nil {
		return fail(err)
	}
	process := paxos.NewProcess(paxos.Config{ID: opts.ID, N: n, Storage: opts.Storage})
	node.process, err = node.system.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor { return process }), "process")
	if err != nil {
		return fail(err)
	}
	dialOptions := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts.DialOptions...)
	for peerID, address := range opts.Addresses {
		if peerID == opts.ID {
			node.peers[peerID] = node.process
			continue
		}
		conn, err := grpc.NewClient(address, dialOptions...)
		if err != nil {
			return fail(fmt.Errorf("creating grpc client for peer %d: %w", peerID, err))
		}
		node.connections[peerID] = conn
		remote := newPeer(ctx, peerID, conn, retryDelay, timeout)
		node.peers[peerID], err = node.system.Root.SpawnNamed(actor.PropsFromProducer(func() actor.Actor { return remote }), fmt.Sprintf("peer-%d", peerID))
		if err != nil {
			return fail(err)
		}
		node.wg.Add(1)
		go func() {
			defer node.wg.Done()
			remote.run()
		}()
	}
	node.send(node.process, paxos.Members{Peers: node.peers, Report: decisionsPID})
	if opts.CrashProbability > 0 {
		node.send(node.process, paxos.Crash{Alpha: opts.CrashProbability})
	}

	node.grpcServer = grpc.NewServer()
	RegisterProcessServer(node.grpcServer, node)
	node.health = health.NewServer()
	healthpb.RegisterHealthServer(node.grpcServer, node.health)
	node.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	node.oracle = opts.Oracle
	if node.oracle == nil {
		node.oracle = NewHealthOracle(opts.ID, node.connections)
	}
	node.wg.Add(1)
	go node.runLeaderLoop()
	slog.Info("Node set up", slog.Int("ID", opts.ID), slog.Int("members", n))
	return node, nil
}

// Serve serves the gRPC endpoints on lis until the node is closed
func (node *Node) Serve(lis net.Listener) error {
	err := node.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// ListenAndServe listens on the gRPC address of the node and serves it
func (node *Node) ListenAndServe(address string) error {
	listen, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return node.Serve(listen)
}
