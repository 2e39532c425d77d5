package cluster

/*
* Leader selection: only the leader keeps retrying its aborted proposals, every other node is put on hold
 */

import (
	context "context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Hy3z/paxos/paxos"

	grpc "google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// LeaderOracle tells which node should lead, answers may differ between nodes for a while
type LeaderOracle interface {
	Leader(ctx context.Context) (int, error)
}

// Resigner is implemented by the oracles a node can withdraw from, a resigned node is never elected again
type Resigner interface {
	Resign(ctx context.Context) error
}

// StaticOracle always elects the same node, the zero value elects node 0
type StaticOracle struct {
	LeaderID int
}

func (oracle StaticOracle) Leader(context.Context) (int, error) {
	return oracle.LeaderID, nil
}

// HealthOracle elects the node with the lowest ID whose gRPC health service reports it as serving
type HealthOracle struct {
	id       int
	clients  []healthpb.HealthClient
	resigned atomic.Bool
}

// NewHealthOracle checks the peers through connections, the entry of node id is never used
func NewHealthOracle(id int, connections []*grpc.ClientConn) *HealthOracle {
	clients := make([]healthpb.HealthClient, len(connections))
	for peerID, conn := range connections {
		if conn != nil {
			clients[peerID] = healthpb.NewHealthClient(conn)
		}
	}
	return &HealthOracle{id: id, clients: clients}
}

var errNoServingNode = errors.New("no serving node")

func (oracle *HealthOracle) Leader(ctx context.Context) (int, error) {
	for peerID, client := range oracle.clients {
		if peerID == oracle.id {
			if oracle.resigned.Load() {
				continue
			}
			return peerID, nil
		}
		if client == nil {
			continue
		}
		res, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
		if err != nil {
			slog.Debug("Peer failed health check", slog.Int("peer ID", peerID), slog.String("error", err.Error()))
			continue
		}
		if res.Status == healthpb.HealthCheckResponse_SERVING {
			return peerID, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if oracle.resigned.Load() {
		return 0, errNoServingNode
	}
	return oracle.id, nil
}

// Resign stops the oracle from electing its own node, the node also reports NOT_SERVING to its peers
func (oracle *HealthOracle) Resign(context.Context) error {
	oracle.resigned.Store(true)
	return nil
}

// keep asking the oracle who leads until the node shuts down
func (node *Node) runLeaderLoop() {
	defer node.wg.Done()
	ticker := time.NewTicker(node.interval)
	defer ticker.Stop()
	node.refreshLeader()
	for {
		select {
		case <-node.ctx.Done():
			return
		case <-ticker.C:
			node.refreshLeader()
		}
	}
}

func (node *Node) refreshLeader() {
	ctx, cancel := context.WithTimeout(node.ctx, node.interval)
	defer cancel()
	if !node.resigned && node.crashed(ctx) {
		node.resign(ctx)
	}
	leaderID, err := node.oracle.Leader(ctx)
	if err != nil {
		if node.ctx.Err() == nil {
			slog.Warn("Error refreshing leader", slog.String("error", err.Error()))
		}
		return
	}
	node.setLeader(leaderID)
}

// crashed asks the local process whether it crashed, an unanswered question counts as alive
func (node *Node) crashed(ctx context.Context) bool {
	status, err := node.Status(ctx)
	if err != nil {
		if node.ctx.Err() == nil {
			slog.Warn("Error asking the local process for its status", slog.String("error", err.Error()))
		}
		return false
	}
	return status.Crashed
}

// resign withdraws a node whose process crashed from the election, so a live node takes over
func (node *Node) resign(ctx context.Context) {
	node.resigned = true
	slog.Warn("Local process crashed, resigning", slog.Int("ID", node.id))
	node.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	if resigner, ok := node.oracle.(Resigner); ok {
		if err := resigner.Resign(ctx); err != nil {
			slog.Error("Error resigning from the oracle", slog.String("error", err.Error()))
		}
	}
}

// setLeader puts the local process on hold unless it leads,
// proposals submitted to this node and still undecided are forwarded to a new leader
func (node *Node) setLeader(leaderID int) {
	if leaderID < 0 || leaderID >= len(node.peers) {
		slog.Warn("Oracle elected an unknown node", slog.Int("leader", leaderID))
		return
	}
	node.leaderLock.Lock()
	defer node.leaderLock.Unlock()
	previous := node.leaderID.Swap(int64(leaderID))
	if previous == int64(leaderID) {
		return
	}
	slog.Info("Leader changed", slog.Int64("previous", previous), slog.Int("leader", leaderID))
	if leaderID == node.id {
		node.send(node.process, paxos.Resume{})
		return
	}
	node.send(node.process, paxos.Hold{})
	node.forwardPending(leaderID)
}
