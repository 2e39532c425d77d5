package cluster

/*
* Proposals sent to the leader by the other nodes
 */

import (
	"log/slog"

	"github.com/Hy3z/paxos/paxos"
)

// ask the leader to propose value in an instance
func (node *Node) forwardToLeader(leaderID int, instance uint64, value paxos.Value) {
	slog.Debug("Forwarding proposal to leader", slog.Int("leader", leaderID), slog.Uint64("instance", instance))
	node.send(node.peers[leaderID], paxos.Launch{Instance: instance, Value: &value})
}

// forward every undecided proposal submitted to this node
func (node *Node) forwardPending(leaderID int) {
	for instance, value := range node.decisions.pending() {
		node.forwardToLeader(leaderID, instance, value)
	}
}

func (node *Node) launchLocally(instance uint64, value *paxos.Value) {
	node.send(node.process, paxos.Launch{Instance: instance, Value: value})
}
