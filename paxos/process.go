package paxos

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

// Config configures a Process, zero values pick sensible defaults
type Config struct {
	ID int
	N  int
	// defaults to a MemoryStorage
	Storage Storage
	// source of the random proposals and crash draws, defaults to a time seeded source
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Process is the actor running every role of the protocol for one member
type Process struct {
	id           int
	n            int
	ctx          actor.Context
	peers        []*actor.PID
	report       *actor.PID
	storage      Storage
	rand         *rand.Rand
	logger       *slog.Logger
	instances    map[uint64]*instance
	crashProb    float64
	crashed      bool
	onHold       bool
	decidedCount int
}

func NewProcess(conf Config) *Process {
	storage := conf.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	random := conf.Rand
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano() + int64(conf.ID)))
	}
	logger := conf.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		id:        conf.ID,
		n:         conf.N,
		storage:   storage,
		rand:      random,
		logger:    logger.With(slog.Int("process", conf.ID)),
		instances: make(map[uint64]*instance),
	}
}

func (p *Process) Receive(ctx actor.Context) {
	p.ctx = ctx
	switch m := ctx.Message().(type) {
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
	case Members:
		p.peers = m.Peers
		p.report = m.Report
	case Crash:
		p.logger.Debug("Received crash message", slog.Float64("alpha", m.Alpha))
		p.crashProb = m.Alpha
	case Hold:
		p.logger.Info("On hold")
		p.onHold = true
	case Resume:
		p.logger.Info("Resumed")
		if !p.crashed {
			p.onResume()
		} else {
			p.onHold = false
		}
	case StatusRequest:
		ctx.Respond(p.status())
	case Launch:
		if !p.crashNow() {
			p.onLaunch(m)
		}
	case Read:
		if !p.crashNow() {
			p.onRead(m)
		}
	case Gather:
		if !p.crashNow() {
			p.onGather(m)
		}
	case Impose:
		if !p.crashNow() {
			p.onImpose(m)
		}
	case Ack:
		if !p.crashNow() {
			p.onAck(m)
		}
	case Abort:
		if !p.crashNow() {
			p.onAbort(m)
		}
	case Decide:
		if !p.crashNow() {
			p.onDecide(m)
		}
	default:
		p.logger.Warn("Unknown message", slog.Any("msg", m))
	}
}

// crashNow draws whether the process crashes on this message, a crashed process stays silent forever
func (p *Process) crashNow() bool {
	if p.crashed {
		return true
	}
	if p.crashProb > 0 && p.rand.Float64() < p.crashProb {
		p.crashed = true
		p.logger.Info("Crashing")
		return true
	}
	return false
}

// instance returns the state of an instance, loading it from storage on first use
func (p *Process) instance(id uint64) *instance {
	inst, exists := p.instances[id]
	if exists {
		return inst
	}
	state, saved, err := p.storage.Load(id)
	if err != nil {
		p.logger.Error("Error loading instance state", slog.Uint64("instance", id), slog.String("error", err.Error()))
		return nil
	}
	if !saved {
		state = NewInstanceState(p.id, p.n)
	}
	inst = newInstance(id, state, p.id, p.n)
	// after a restart, resume above the last ballot proposed and every ballot already promised
	if state.Proposed > inst.ballot {
		inst.ballot = state.Proposed
	}
	for inst.ballot < state.ReadBallot {
		inst.ballot = inst.ballot.Next(p.n)
	}
	p.instances[id] = inst
	return inst
}

func (p *Process) send(to int, msg any) {
	if to < 0 || to >= len(p.peers) {
		p.logger.Warn("Dropping message to unknown member", slog.Int("to", to))
		return
	}
	p.ctx.Send(p.peers[to], msg)
}

// broadcast sends msg to every member, this process included
func (p *Process) broadcast(msg any) {
	for _, peer := range p.peers {
		p.ctx.Send(peer, msg)
	}
}

func (p *Process) status() Status {
	return Status{ID: p.id, Crashed: p.crashed, OnHold: p.onHold, Instances: len(p.instances), Decided: p.decidedCount}
}
