package paxos

import (
	"log/slog"
	"time"
)

// onDecide learns the value of an instance, only the first DECIDE counts
func (p *Process) onDecide(msg Decide) {
	inst := p.instance(msg.Instance)
	if inst == nil {
		return
	}
	if inst.decided != nil {
		if *inst.decided != msg.Value {
			p.logger.Error("Conflicting decision", slog.Uint64("instance", inst.id), slog.Int64("decided", int64(*inst.decided)), slog.Int64("received", int64(msg.Value)), slog.Int("from", msg.From))
		}
		return
	}
	value := msg.Value
	inst.decided = &value
	inst.proposing = false
	inst.parked = false
	p.decidedCount++
	p.logger.Info("Instance decided", slog.Uint64("instance", inst.id), slog.Int64("value", int64(value)), slog.Int("attempts", inst.attempts))
	if p.report != nil {
		p.ctx.Send(p.report, Decided{Instance: inst.id, Value: value, Process: p.id, At: time.Now(), Attempts: inst.attempts})
	}
}
