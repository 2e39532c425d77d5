package paxos

import "log/slog"

// admits reports whether a Read or an Impose with ballot b may be answered positively
func (s InstanceState) admits(b Ballot) bool {
	return s.ReadBallot <= b && s.ImposeBallot <= b
}

// onRead answers a READ with a GATHER, or an ABORT if a higher ballot was already seen
func (p *Process) onRead(msg Read) {
	inst := p.instance(msg.Instance)
	if inst == nil {
		return
	}
	if inst.decided != nil {
		// the proposer is late, tell it the outcome instead
		p.send(msg.From, Decide{Instance: inst.id, Value: *inst.decided, From: p.id})
		return
	}
	if !inst.state.admits(msg.Ballot) {
		p.logger.Debug("Aborting read", slog.Uint64("instance", inst.id), slog.Int64("ballot", int64(msg.Ballot)), slog.Int("from", msg.From))
		p.send(msg.From, Abort{Instance: inst.id, Ballot: msg.Ballot, From: p.id})
		return
	}
	next := inst.state
	next.ReadBallot = msg.Ballot
	if !p.persist(inst, next) {
		return
	}
	var accepted *Proposal
	if next.Accepted != nil {
		copied := *next.Accepted
		accepted = &copied
	}
	p.send(msg.From, Gather{Instance: inst.id, Ballot: msg.Ballot, ImposeBallot: next.ImposeBallot, Accepted: accepted, From: p.id})
}

// onImpose accepts the imposed value and answers ACK, or ABORT if a higher ballot was already seen
func (p *Process) onImpose(msg Impose) {
	inst := p.instance(msg.Instance)
	if inst == nil {
		return
	}
	if inst.decided != nil {
		p.send(msg.From, Decide{Instance: inst.id, Value: *inst.decided, From: p.id})
		return
	}
	if !inst.state.admits(msg.Ballot) {
		p.logger.Debug("Aborting impose", slog.Uint64("instance", inst.id), slog.Int64("ballot", int64(msg.Ballot)), slog.Int("from", msg.From))
		p.send(msg.From, Abort{Instance: inst.id, Ballot: msg.Ballot, From: p.id})
		return
	}
	next := inst.state
	next.ImposeBallot = msg.Ballot
	next.Accepted = &Proposal{Ballot: msg.Ballot, Value: msg.Value}
	if !p.persist(inst, next) {
		return
	}
	p.send(msg.From, Ack{Instance: inst.id, Ballot: msg.Ballot, From: p.id})
}

// persist saves the new state before it is acted upon, nothing changes if saving fails
func (p *Process) persist(inst *instance, next InstanceState) bool {
	if err := p.storage.Save(inst.id, next); err != nil {
		p.logger.Error("Error saving instance state", slog.Uint64("instance", inst.id), slog.String("error", err.Error()))
		return false
	}
	inst.state = next
	return true
}
