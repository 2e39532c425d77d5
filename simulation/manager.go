package simulation

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/Hy3z/paxos/paxos"
	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
)

// messages the manager schedules to itself
type (
	launch   struct{}
	holdRest struct{}
	deadline struct{}
)

type outcome struct {
	result *Result
	err    error
}

// manager sets the processes up, launches them, elects the leader by putting everyone else on hold,
// and collects the decisions
type manager struct {
	params     Params
	seed       int64
	rand       *rand.Rand
	ctx        actor.Context
	timers     *scheduler.TimerScheduler
	processes  []*actor.PID
	faulty     []bool
	leader     int
	launchedAt time.Time
	decisions  map[uint64]map[int]paxos.Decided
	// (correct process, instance) pairs still undecided
	pending  int
	finished bool
	cancels  []scheduler.CancelFunc
	done     chan<- outcome
}

func newManager(params Params, seed int64, done chan<- outcome) *manager {
	return &manager{
		params:    params,
		seed:      seed,
		rand:      rand.New(rand.NewSource(seed)),
		leader:    -1,
		decisions: make(map[uint64]map[int]paxos.Decided),
		done:      done,
	}
}

// managerProps resumes a process that panics, its state stays as it was
func managerProps(m *manager) *actor.Props {
	resume := actor.NewOneForOneStrategy(10, time.Second, func(reason interface{}) actor.Directive {
		slog.Error("Process failed", slog.Any("reason", reason))
		return actor.ResumeDirective
	})
	return actor.PropsFromProducer(func() actor.Actor { return m }, actor.WithSupervisor(resume))
}

func (m *manager) start(ctx actor.Context) {
	m.timers = scheduler.NewTimerScheduler(ctx)
	slog.Debug("Creating processes", slog.Int("N", m.params.N))
	m.processes = make([]*actor.PID, m.params.N)
	for i := range m.processes {
		process := paxos.NewProcess(paxos.Config{ID: i, N: m.params.N, Rand: rand.New(rand.NewSource(m.seed + int64(i) + 1))})
		pid, err := ctx.SpawnNamed(actor.PropsFromProducer(func() actor.Actor { return process }), "p"+strconv.Itoa(i))
		if err != nil {
			m.fail(fmt.Errorf("spawning process %d: %w", i, err))
			return
		}
		m.processes[i] = pid
	}
	for _, process := range m.processes {
		ctx.Send(process, paxos.Members{Peers: m.processes, Report: ctx.Self()})
	}

	m.faulty = make([]bool, m.params.N)
	for _, i := range m.rand.Perm(m.params.N)[:m.params.F] {
		m.faulty[i] = true
		ctx.Send(m.processes[i], paxos.Crash{Alpha: m.params.Alpha})
	}
	m.pending = (m.params.N - m.params.F) * m.params.Instances
	slog.Debug("Processes ready", slog.Int("faulty", m.params.F), slog.Float64("alpha", m.params.Alpha))
	m.schedule(m.params.Hold, launch{})
}

func (m *manager) Receive(ctx actor.Context) {
	m.ctx = ctx
	if m.finished {
		return
	}
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		m.start(ctx)
	case launch:
		m.onLaunch()
	case holdRest:
		m.onHoldRest()
	case paxos.Decided:
		m.onDecided(msg)
	case deadline:
		slog.Warn("Deadline reached before every correct process decided", slog.Int("undecided", m.pending))
		m.finish(false)
	}
}

func (m *manager) onLaunch() {
	slog.Debug("Launching processes")
	m.launchedAt = time.Now()
	for instance := uint64(1); instance <= uint64(m.params.Instances); instance++ {
		for _, process := range m.processes {
			m.ctx.Send(process, paxos.Launch{Instance: instance})
		}
	}
	m.schedule(m.params.Timeout, holdRest{})
	m.schedule(m.params.Deadline, deadline{})
}

// onHoldRest leaves a single correct process proposing
func (m *manager) onHoldRest() {
	correct := make([]int, 0, m.params.N-m.params.F)
	for i, faulty := range m.faulty {
		if !faulty {
			correct = append(correct, i)
		}
	}
	m.leader = correct[m.rand.Intn(len(correct))]
	slog.Debug("Holding every process but the leader", slog.Int("leader", m.leader))
	for i, process := range m.processes {
		if i != m.leader {
			m.ctx.Send(process, paxos.Hold{})
		}
	}
}

func (m *manager) onDecided(msg paxos.Decided) {
	byProcess, exists := m.decisions[msg.Instance]
	if !exists {
		byProcess = make(map[int]paxos.Decided)
		m.decisions[msg.Instance] = byProcess
	}
	if _, seen := byProcess[msg.Process]; seen {
		return
	}
	byProcess[msg.Process] = msg
	if !m.faulty[msg.Process] {
		m.pending--
	}
	if m.pending == 0 {
		m.finish(true)
	}
}

func (m *manager) schedule(d time.Duration, msg any) {
	m.cancels = append(m.cancels, m.timers.SendOnce(d, m.ctx.Self(), msg))
}

func (m *manager) fail(err error) {
	m.finished = true
	m.done <- outcome{err: err}
}

func (m *manager) finish(completed bool) {
	m.finished = true
	for _, cancel := range m.cancels {
		cancel()
	}
	result := &Result{Params: m.params, Seed: m.seed, Leader: m.leader, Completed: completed, Agreement: true}
	for i, faulty := range m.faulty {
		if faulty {
			result.Faulty = append(result.Faulty, i)
		}
	}
	for instance := uint64(1); instance <= uint64(m.params.Instances); instance++ {
		result.Instances = append(result.Instances, m.summarize(instance, result))
	}
	m.done <- outcome{result: result}
}

func (m *manager) summarize(instance uint64, result *Result) InstanceResult {
	summary := InstanceResult{Instance: instance, Decisions: make(map[int]paxos.Value)}
	var first time.Time
	for process, decided := range m.decisions[instance] {
		summary.Decisions[process] = decided.Value
		summary.Attempts += decided.Attempts
		if !summary.Decided {
			summary.Decided = true
			summary.Value = decided.Value
		} else if decided.Value != summary.Value {
			result.Agreement = false
		}
		if first.IsZero() || decided.At.Before(first) {
			first = decided.At
		}
	}
	if summary.Decided {
		summary.Latency = first.Sub(m.launchedAt)
	}
	return summary
}

// sortedKeys is used to log decisions in a stable order
func sortedKeys(decisions map[int]paxos.Value) []int {
	keys := make([]int, 0, len(decisions))
	for k := range decisions {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
