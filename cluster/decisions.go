package cluster

import (
	context "context"
	"log/slog"
	sync "sync"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"
)

// decisionLog is the actor receiving the decisions of the local process.
// It also remembers the proposals submitted to the node until they are decided
type decisionLog struct {
	lock    sync.Mutex
	decided map[uint64]paxos.Value
	// undecided proposals submitted to this node
	submitted map[uint64]paxos.Value
	// closed when the instance is decided
	waiters map[uint64]chan struct{}
}

func newDecisionLog() *decisionLog {
	return &decisionLog{decided: make(map[uint64]paxos.Value), submitted: make(map[uint64]paxos.Value), waiters: make(map[uint64]chan struct{})}
}

func (log *decisionLog) Receive(ctx actor.Context) {
	decided, ok := ctx.Message().(paxos.Decided)
	if !ok {
		return
	}
	slog.Info("Decided", slog.Uint64("instance", decided.Instance), slog.Int64("value", int64(decided.Value)), slog.Int("attempts", decided.Attempts))
	log.lock.Lock()
	defer log.lock.Unlock()
	if _, exists := log.decided[decided.Instance]; exists {
		return
	}
	log.decided[decided.Instance] = decided.Value
	delete(log.submitted, decided.Instance)
	if waiter, exists := log.waiters[decided.Instance]; exists {
		close(waiter)
		delete(log.waiters, decided.Instance)
	}
}

func (log *decisionLog) get(instance uint64) (paxos.Value, bool) {
	log.lock.Lock()
	defer log.lock.Unlock()
	value, decided := log.decided[instance]
	return value, decided
}

func (log *decisionLog) all() map[uint64]paxos.Value {
	log.lock.Lock()
	defer log.lock.Unlock()
	decisions := make(map[uint64]paxos.Value, len(log.decided))
	for instance, value := range log.decided {
		decisions[instance] = value
	}
	return decisions
}

// submit records a proposal, returns false if the instance is already decided
func (log *decisionLog) submit(instance uint64, value paxos.Value) bool {
	log.lock.Lock()
	defer log.lock.Unlock()
	if _, decided := log.decided[instance]; decided {
		return false
	}
	if _, exists := log.submitted[instance]; !exists {
		log.submitted[instance] = value
	}
	return true
}

func (log *decisionLog) pending() map[uint64]paxos.Value {
	log.lock.Lock()
	defer log.lock.Unlock()
	pending := make(map[uint64]paxos.Value, len(log.submitted))
	for instance, value := range log.submitted {
		pending[instance] = value
	}
	return pending
}

// wait blocks until the instance is decided
func (log *decisionLog) wait(ctx context.Context, instance uint64) (paxos.Value, error) {
	log.lock.Lock()
	if value, decided := log.decided[instance]; decided {
		log.lock.Unlock()
		return value, nil
	}
	waiter, exists := log.waiters[instance]
	if !exists {
		waiter = make(chan struct{})
		log.waiters[instance] = waiter
	}
	log.lock.Unlock()
	select {
	case <-waiter:
		value, _ := log.get(instance)
		return value, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
