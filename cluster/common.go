/*
Package cluster runs one paxos process per node and connects the nodes with gRPC.
*/
package cluster

/*
* The node structure itself and common functions used by other files in the package
 */

import (
	context "context"
	"fmt"
	"log/slog"
	sync "sync"
	"sync/atomic"
	"time"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Options configures a Node, zero durations pick the defaults below
type Options struct {
	// ID of this node, index into Addresses
	ID int
	// gRPC targets of every node ordered by ID, the entry of this node is not dialed
	Addresses []string
	// delay between attempts to deliver a message to a peer
	RetryDelay time.Duration
	// bounds a single attempt to deliver a message
	DeliveryTimeout time.Duration
	// interval between two questions to the Oracle
	ElectionInterval time.Duration
	// defaults to a MemoryStorage
	Storage paxos.Storage
	// defaults to a HealthOracle over the connections of the node
	Oracle LeaderOracle
	// crash probability handed to the local process, 0 never crashes
	CrashProbability float64
	// extra options for the connections to the peers
	DialOptions []grpc.DialOption
}

const (
	DefaultRetryDelay       = 100 * time.Millisecond
	DefaultDeliveryTimeout  = time.Second
	DefaultElectionInterval = time.Second
)

// Node is one member of the cluster
type Node struct {
	UnimplementedProcessServer
	// general context of the node, cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	id     int
	// actor system hosting the local process and the decision log
	system  *actor.ActorSystem
	process *actor.PID
	// decisions learned by the local process
	decisions *decisionLog
	// grpc connections to peers, nil for this node
	connections []*grpc.ClientConn
	// actors standing for every member indexed by ID, the local process included
	peers      []*actor.PID
	grpcServer *grpc.Server
	health     *health.Server
	oracle     LeaderOracle
	interval   time.Duration
	// who is the current leader(as far as we currently are up to date), -1 when unknown
	leaderID atomic.Int64
	// serializes leader changes
	leaderLock sync.Mutex
	// set once the local process crashed and the node stopped claiming leadership
	resigned bool
	// background goroutines of the node
	wg sync.WaitGroup
}

// NodeStatus is a snapshot of the local process and of the leader the node follows
type NodeStatus struct {
	paxos.Status
	Leader int
}

// ID returns the ID of the node
func (node *Node) ID() int {
	return node.id
}

// Leader returns the leader the node currently follows, -1 if none is known yet
func (node *Node) Leader() int {
	return int(node.leaderID.Load())
}

// Status asks the local process for a snapshot of its state
func (node *Node) Status(ctx context.Context) (NodeStatus, error) {
	timeout := statusTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return NodeStatus{}, context.DeadlineExceeded
	}
	result, err := node.system.Root.RequestFuture(node.process, paxos.StatusRequest{}, timeout).Result()
	if err != nil {
		return NodeStatus{}, err
	}
	status, ok := result.(paxos.Status)
	if !ok {
		return NodeStatus{}, fmt.Errorf("unexpected status reply %T", result)
	}
	return NodeStatus{Status: status, Leader: node.Leader()}, nil
}

const statusTimeout = 5 * time.Second

func (node *Node) send(pid *actor.PID, msg any) {
	node.system.Root.Send(pid, msg)
}

// Close shuts down the node
func (node *Node) Close() {
	node.health.Shutdown()
	node.cancel()
	node.wg.Wait()
	node.grpcServer.Stop()
	for peerID, conn := range node.connections {
		if conn == nil {
			continue
		}
		err := conn.Close()
		if err != nil {
			slog.Error("Error disconnecting from peer", slog.Int("peer ID", peerID), slog.String("error", err.Error()))
		}
	}
	node.system.Shutdown()
}
