package cluster

/*
* Functions intended for clients to call in order to propose values and read decisions
* Used by the http endpoints
 */

import (
	context "context"

	"github.com/Hy3z/paxos/paxos"
)

// Submit starts proposing value in an instance without waiting for the decision.
// The proposal is also forwarded to the leader when another node leads
func (node *Node) Submit(instance uint64, value paxos.Value) {
	if !node.decisions.submit(instance, value) {
		return
	}
	node.launchLocally(instance, &value)
	leaderID := node.Leader()
	if leaderID >= 0 && leaderID != node.id {
		node.forwardToLeader(leaderID, instance, value)
	}
}

// Propose submits value and waits until this node learns the decision of the instance,
// which may be a value proposed by another node
func (node *Node) Propose(ctx context.Context, instance uint64, value paxos.Value) (paxos.Value, error) {
	node.Submit(instance, value)
	return node.decisions.wait(ctx, instance)
}

// Decision returns the value decided in an instance, if this node learned it
func (node *Node) Decision(instance uint64) (paxos.Value, bool) {
	return node.decisions.get(instance)
}

// Decisions returns every decision this node learned
func (node *Node) Decisions() map[uint64]paxos.Value {
	return node.decisions.all()
}
