package paxos

import (
	"log/slog"
	"time"
)

// onLaunch starts proposing in an instance unless it is already decided or being proposed in
func (p *Process) onLaunch(msg Launch) {
	inst := p.instance(msg.Instance)
	if inst == nil {
		return
	}
	if inst.decided != nil {
		p.logger.Debug("Launch ignored, instance already decided", slog.Uint64("instance", inst.id))
		return
	}
	if inst.proposing {
		p.logger.Debug("Launch ignored, already proposing", slog.Uint64("instance", inst.id))
		return
	}
	if msg.Value != nil {
		inst.value = *msg.Value
	} else {
		inst.value = Value(p.rand.Intn(2))
	}
	if !inst.launched {
		inst.launched = true
		inst.startedAt = time.Now()
	}
	inst.parked = false
	p.propose(inst)
}

// propose starts a new round with a fresh ballot, saved first so it is never reused after a restart
func (p *Process) propose(inst *instance) {
	ballot := inst.ballot.Next(p.n)
	next := inst.state
	next.Proposed = ballot
	if !p.persist(inst, next) {
		inst.proposing = false
		inst.parked = true
		return
	}
	inst.attempts++
	inst.ballot = ballot
	inst.resetRound()
	inst.proposing = true
	p.logger.Debug("Proposing", slog.Uint64("instance", inst.id), slog.Int64("ballot", int64(inst.ballot)), slog.Int64("value", int64(inst.value)), slog.Int("attempt", inst.attempts))
	p.broadcast(Read{Instance: inst.id, Ballot: inst.ballot, From: p.id})
}

// current returns the instance if msg answers the round it is running now
func (p *Process) current(instanceID uint64, ballot Ballot, from int) *instance {
	if from < 0 || from >= p.n {
		p.logger.Warn("Message from unknown member", slog.Int("from", from))
		return nil
	}
	inst := p.instances[instanceID]
	if inst == nil || !inst.proposing || inst.ballot != ballot {
		// stale answer to an earlier round
		return nil
	}
	return inst
}

// onGather collects GATHER answers, a majority moves the round to IMPOSE
func (p *Process) onGather(msg Gather) {
	inst := p.current(msg.Instance, msg.Ballot, msg.From)
	if inst == nil || inst.imposed {
		return
	}
	if !inst.recordGather(msg.From, msg.Accepted) || !quorum(inst.gatherCount, p.n) {
		return
	}
	if inst.highest != nil {
		// a value may already be chosen, it is the one with the highest ballot
		inst.value = inst.highest.Value
	}
	inst.imposed = true
	p.logger.Debug("Gathered a majority, imposing", slog.Uint64("instance", inst.id), slog.Int64("ballot", int64(inst.ballot)), slog.Int64("value", int64(inst.value)))
	p.broadcast(Impose{Instance: inst.id, Ballot: inst.ballot, Value: inst.value, From: p.id})
}

// onAck collects ACK answers, a majority decides the imposed value
func (p *Process) onAck(msg Ack) {
	inst := p.current(msg.Instance, msg.Ballot, msg.From)
	if inst == nil || !inst.imposed {
		return
	}
	if !inst.recordAck(msg.From) || !quorum(inst.ackCount, p.n) {
		return
	}
	inst.proposing = false
	p.logger.Info("Value chosen", slog.Uint64("instance", inst.id), slog.Int64("ballot", int64(inst.ballot)), slog.Int64("value", int64(inst.value)))
	p.broadcast(Decide{Instance: inst.id, Value: inst.value, From: p.id})
}

// onAbort ends the current round, it is retried right away unless the process is on hold
func (p *Process) onAbort(msg Abort) {
	inst := p.current(msg.Instance, msg.Ballot, msg.From)
	if inst == nil {
		return
	}
	inst.proposing = false
	if p.onHold {
		inst.parked = true
		p.logger.Debug("Proposal aborted while on hold", slog.Uint64("instance", inst.id), slog.Int("attempt", inst.attempts))
		return
	}
	p.logger.Debug("Proposal aborted, retrying", slog.Uint64("instance", inst.id), slog.Int("attempt", inst.attempts), slog.Int("by", msg.From))
	p.propose(inst)
}

// onResume retries every instance whose proposal was aborted during the hold
func (p *Process) onResume() {
	p.onHold = false
	for _, inst := range p.instances {
		if inst.parked && inst.decided == nil {
			inst.parked = false
			p.propose(inst)
		}
	}
}
