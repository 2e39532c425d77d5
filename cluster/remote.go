package cluster

/*
* Delivery of the messages of the local process to the peers
 */

import (
	context "context"
	"log/slog"
	sync "sync"
	"time"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"

	grpc "google.golang.org/grpc"
)

type queued struct {
	seq uint64
	msg any
}

// peer is the actor standing for the process of a remote node.
// Its messages wait in a queue drained by a single goroutine, which retries each one until it is delivered,
// superseded by a newer message, or the node shuts down
type peer struct {
	ctx        context.Context
	id         int
	client     *ProcessClient
	retryDelay time.Duration
	timeout    time.Duration

	lock    sync.Mutex
	queue   []queued
	nextSeq uint64
	// wakes the sender up, holds at most one signal
	signal chan struct{}
}

func newPeer(ctx context.Context, id int, conn grpc.ClientConnInterface, retryDelay, timeout time.Duration) *peer {
	return &peer{
		ctx:        ctx,
		id:         id,
		client:     NewProcessClient(conn),
		retryDelay: retryDelay,
		timeout:    timeout,
		signal:     make(chan struct{}, 1),
	}
}

func (p *peer) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
	default:
		if _, err := methodFor(msg); err != nil {
			slog.Warn("Dropping message that can't be sent to a peer", slog.Int("peer ID", p.id), slog.String("error", err.Error()))
			return
		}
		p.enqueue(msg)
	}
}

// enqueue appends msg and drops the queued messages it makes useless
func (p *peer) enqueue(msg any) {
	p.lock.Lock()
	kept := p.queue[:0]
	for _, item := range p.queue {
		if !supersedes(msg, item.msg) {
			kept = append(kept, item)
		}
	}
	clear(p.queue[len(kept):])
	p.nextSeq++
	p.queue = append(kept, queued{seq: p.nextSeq, msg: msg})
	p.lock.Unlock()
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *peer) front() (queued, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.queue) == 0 {
		return queued{}, false
	}
	return p.queue[0], true
}

// remove drops seq from the queue, returns false if it was superseded already
func (p *peer) remove(seq uint64) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	for i, item := range p.queue {
		if item.seq == seq {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (p *peer) contains(seq uint64) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, item := range p.queue {
		if item.seq == seq {
			return true
		}
	}
	return false
}

func (p *peer) pending() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.queue)
}

// run sends the queued messages in order until the node shuts down
func (p *peer) run() {
	for {
		item, ok := p.front()
		if !ok {
			select {
			case <-p.ctx.Done():
				return
			case <-p.signal:
			}
			continue
		}
		if !p.deliver(item) {
			return
		}
		p.remove(item.seq)
	}
}

// RELIABLY send a message to the peer
// To ensure the message arrives even if the peer is down for a while, it retries until the peer replies,
// the message is superseded, or the node shuts down. Returns false on shut down
func (p *peer) deliver(item queued) bool {
	slog.Debug("Sending message", slog.Int("peer ID", p.id), slog.Any("msg", item.msg))
	for {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		err := p.client.Deliver(ctx, item.msg)
		cancel()
		if err == nil {
			return true
		}
		if p.ctx.Err() != nil {
			// node has shut down already
			return false
		}
		slog.Warn("Error sending to peer, retrying", slog.Int("peer ID", p.id), slog.String("error", err.Error()))
		select {
		case <-p.ctx.Done():
			return false
		case <-time.After(p.retryDelay):
		}
		if !p.contains(item.seq) {
			return true
		}
	}
}

type messageKind int

const (
	kindLaunch messageKind = iota
	// Read and Impose
	kindRequest
	// Gather, Ack and Abort
	kindReply
	kindDecide
)

func describe(msg any) (instance uint64, ballot paxos.Ballot, kind messageKind) {
	switch m := msg.(type) {
	case paxos.Read:
		return m.Instance, m.Ballot, kindRequest
	case paxos.Impose:
		return m.Instance, m.Ballot, kindRequest
	case paxos.Gather:
		return m.Instance, m.Ballot, kindReply
	case paxos.Ack:
		return m.Instance, m.Ballot, kindReply
	case paxos.Abort:
		return m.Instance, m.Ballot, kindReply
	case paxos.Decide:
		return m.Instance, 0, kindDecide
	case paxos.Launch:
		return m.Instance, 0, kindLaunch
	}
	return 0, 0, kindLaunch
}

// supersedes reports whether older is useless to the peer once newer is sent.
// A decision answers everything about its instance, and a request or reply is obsolete
// once the same proposer moves to a higher ballot
func supersedes(newer, older any) bool {
	newInstance, newBallot, newKind := describe(newer)
	oldInstance, oldBallot, oldKind := describe(older)
	switch {
	case newInstance != oldInstance:
		return false
	case newKind == kindDecide:
		return true
	case oldKind == kindLaunch || oldKind == kindDecide:
		return false
	}
	return newKind == oldKind && newBallot > oldBallot
}
