package paxos

import "time"

// instance holds what one process knows about one consensus instance, in all three roles
type instance struct {
	id    uint64
	state InstanceState

	// proposer side, only meaningful once launched
	launched  bool
	proposing bool
	parked    bool
	ballot    Ballot
	value     Value
	attempts  int
	startedAt time.Time
	// per round: which members answered and the highest accepted proposal among them
	gathered    []bool
	gatherCount int
	highest     *Proposal
	imposed     bool
	acked       []bool
	ackCount    int

	// learner side
	decided *Value
}

func newInstance(id uint64, state InstanceState, proposerID, n int) *instance {
	return &instance{
		id:       id,
		state:    state,
		ballot:   InitialBallot(proposerID, n),
		gathered: make([]bool, n),
		acked:    make([]bool, n),
	}
}

// resetRound forgets the answers of the previous round
func (inst *instance) resetRound() {
	clear(inst.gathered)
	clear(inst.acked)
	inst.gatherCount = 0
	inst.ackCount = 0
	inst.highest = nil
	inst.imposed = false
}

// recordGather returns false for a duplicate answer
func (inst *instance) recordGather(from int, accepted *Proposal) bool {
	if inst.gathered[from] {
		return false
	}
	inst.gathered[from] = true
	inst.gatherCount++
	if accepted != nil && (inst.highest == nil || accepted.Ballot > inst.highest.Ballot) {
		highest := *accepted
		inst.highest = &highest
	}
	return true
}

// recordAck returns false for a duplicate answer
func (inst *instance) recordAck(from int) bool {
	if inst.acked[from] {
		return false
	}
	inst.acked[from] = true
	inst.ackCount++
	return true
}
