package simulation

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"
)

// InstanceResult is the outcome of one consensus instance in a run
type InstanceResult struct {
	Instance uint64
	Decided  bool
	Value    paxos.Value
	// time between the launch and the first decision
	Latency time.Duration
	// value learned by each process that decided
	Decisions map[int]paxos.Value
	// proposals started by the deciding processes, summed
	Attempts int
}

// Result is the outcome of a run
type Result struct {
	Params Params
	Seed   int64
	// process left proposing after the timeout, -1 if the run ended before
	Leader int
	Faulty []int
	// every correct process decided every instance before the deadline
	Completed bool
	// no instance was decided with two different values
	Agreement bool
	Instances []InstanceResult
}

// MeanLatency averages the latency of the decided instances
func (r *Result) MeanLatency() time.Duration {
	var total time.Duration
	decided := 0
	for _, instance := range r.Instances {
		if instance.Decided {
			total += instance.Latency
			decided++
		}
	}
	if decided == 0 {
		return 0
	}
	return total / time.Duration(decided)
}

func (r *Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("N", r.Params.N),
		slog.Int("f", r.Params.F),
		slog.Float64("alpha", r.Params.Alpha),
		slog.Duration("tle", r.Params.Timeout),
		slog.Int("leader", r.Leader),
		slog.Bool("completed", r.Completed),
		slog.Bool("agreement", r.Agreement),
		slog.Duration("latency", r.MeanLatency()),
	}
	for _, instance := range r.Instances {
		attrs = append(attrs, slog.Group("instance "+strconv.FormatUint(instance.Instance, 10),
			slog.Bool("decided", instance.Decided),
			slog.Int64("value", int64(instance.Value)),
			slog.Int("deciders", len(instance.Decisions)),
			slog.Any("processes", sortedKeys(instance.Decisions)),
		))
	}
	return slog.GroupValue(attrs...)
}

// Run executes one run of the experiment in a fresh actor system
func Run(ctx context.Context, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	system := actor.NewActorSystem()
	defer system.Shutdown()
	done := make(chan outcome, 1)
	manager, err := system.Root.SpawnNamed(managerProps(newManager(params, seed, done)), "manager")
	if err != nil {
		return nil, err
	}
	defer system.Root.StopFuture(manager).Wait()
	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
