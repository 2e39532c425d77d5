package paxos

import (
	"math/rand"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
)

type delivery struct {
	to  int
	msg any
}

func lifecycle(msg any) bool {
	switch msg.(type) {
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
		return true
	}
	return false
}

func newSystem(t *testing.T) *actor.ActorSystem {
	t.Helper()
	system := actor.NewActorSystem()
	t.Cleanup(system.Shutdown)
	return system
}

// captures spawns n actors standing in for members, each forwards whatever it receives to out
func captures(system *actor.ActorSystem, n int, out chan<- delivery) []*actor.PID {
	peers := make([]*actor.PID, n)
	for i := range peers {
		id := i
		peers[i] = system.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
			if !lifecycle(ctx.Message()) {
				out <- delivery{to: id, msg: ctx.Message()}
			}
		}))
	}
	return peers
}

// collector spawns an actor receiving Decided reports
func collector(system *actor.ActorSystem, out chan<- Decided) *actor.PID {
	return system.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if decided, ok := ctx.Message().(Decided); ok {
			out <- decided
		}
	}))
}

// member is a process under test together with the system it runs in
type member struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func (m member) tell(msg any) {
	m.system.Root.Send(m.pid, msg)
}

func spawnProcess(system *actor.ActorSystem, conf Config, peers []*actor.PID, report *actor.PID) member {
	process := NewProcess(conf)
	pid := system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return process }))
	m := member{system: system, pid: pid}
	m.tell(Members{Peers: peers, Report: report})
	return m
}

// isolated spawns a single process whose members are all captures
func isolated(t *testing.T, id, n int) (member, <-chan delivery) {
	t.Helper()
	system := newSystem(t)
	out := make(chan delivery, 100)
	peers := captures(system, n, out)
	return spawnProcess(system, Config{ID: id, N: n, Rand: rand.New(rand.NewSource(1))}, peers, nil), out
}

func next(t *testing.T, out <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-out:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return delivery{}
	}
}

func nextN(t *testing.T, out <-chan delivery, n int) []delivery {
	t.Helper()
	deliveries := make([]delivery, n)
	for i := range deliveries {
		deliveries[i] = next(t, out)
	}
	return deliveries
}

func silent(t *testing.T, out <-chan delivery) {
	t.Helper()
	select {
	case d := <-out:
		t.Fatalf("unexpected message %#v to %d", d.msg, d.to)
	case <-time.After(50 * time.Millisecond):
	}
}

func value(v Value) *Value {
	return &v
}

func TestProposerBroadcastsRead(t *testing.T) {
	process, out := isolated(t, 2, 3)
	process.tell(Launch{Instance: 1, Value: value(4)})
	seen := make(map[int]bool)
	for _, d := range nextN(t, out, 3) {
		read, ok := d.msg.(Read)
		if !ok {
			t.Fatalf("expected a Read, got %#v", d.msg)
		}
		if read.Ballot != 2 || read.From != 2 || read.Instance != 1 {
			t.Errorf("unexpected read %#v", read)
		}
		seen[d.to] = true
	}
	if len(seen) != 3 {
		t.Errorf("read not sent to every member: %v", seen)
	}
}

func TestProposerAdoptsHighestAcceptedValue(t *testing.T) {
	process, out := isolated(t, 2, 3)
	process.tell(Launch{Instance: 1, Value: value(4)})
	nextN(t, out, 3)
	process.tell(Gather{Instance: 1, Ballot: 2, Accepted: &Proposal{Ballot: -2, Value: 5}, From: 2})
	process.tell(Gather{Instance: 1, Ballot: 2, Accepted: &Proposal{Ballot: 1, Value: 9}, From: 0})
	for _, d := range nextN(t, out, 3) {
		impose, ok := d.msg.(Impose)
		if !ok {
			t.Fatalf("expected an Impose, got %#v", d.msg)
		}
		if impose.Value != 9 || impose.Ballot != 2 {
			t.Errorf("expected value 9 at ballot 2, got %#v", impose)
		}
	}
	// a third gather must not impose twice
	process.tell(Gather{Instance: 1, Ballot: 2, From: 1})
	silent(t, out)
}

func TestProposerKeepsOwnValueWithoutAcceptedProposals(t *testing.T) {
	process, out := isolated(t, 0, 3)
	process.tell(Launch{Instance: 3, Value: value(7)})
	nextN(t, out, 3)
	process.tell(Gather{Instance: 3, Ballot: 0, From: 1})
	// duplicate answers are not counted twice
	process.tell(Gather{Instance: 3, Ballot: 0, From: 1})
	silent(t, out)
	process.tell(Gather{Instance: 3, Ballot: 0, From: 2})
	for _, d := range nextN(t, out, 3) {
		if impose, ok := d.msg.(Impose); !ok || impose.Value != 7 {
			t.Fatalf("expected Impose of 7, got %#v", d.msg)
		}
	}
	process.tell(Ack{Instance: 3, Ballot: 0, From: 0})
	silent(t, out)
	process.tell(Ack{Instance: 3, Ballot: 0, From: 2})
	for _, d := range nextN(t, out, 3) {
		if decide, ok := d.msg.(Decide); !ok || decide.Value != 7 || decide.Instance != 3 {
			t.Fatalf("expected Decide of 7, got %#v", d.msg)
		}
	}
}

func TestAcceptorRefusesLowerBallots(t *testing.T) {
	process, out := isolated(t, 0, 3)
	process.tell(Read{Instance: 1, Ballot: 5, From: 2})
	d := next(t, out)
	if gather, ok := d.msg.(Gather); !ok || d.to != 2 || gather.Accepted != nil || gather.Ballot != 5 || gather.ImposeBallot != -3 {
		t.Fatalf("expected an empty Gather to 2, got %#v to %d", d.msg, d.to)
	}
	process.tell(Read{Instance: 1, Ballot: 4, From: 1})
	d = next(t, out)
	if abort, ok := d.msg.(Abort); !ok || d.to != 1 || abort.Ballot != 4 {
		t.Fatalf("expected an Abort to 1, got %#v to %d", d.msg, d.to)
	}
	process.tell(Impose{Instance: 1, Ballot: 4, Value: 1, From: 1})
	if _, ok := next(t, out).msg.(Abort); !ok {
		t.Fatal("expected the impose to be aborted")
	}
	process.tell(Impose{Instance: 1, Ballot: 5, Value: 8, From: 2})
	if ack, ok := next(t, out).msg.(Ack); !ok || ack.Ballot != 5 {
		t.Fatal("expected the impose to be acknowledged")
	}
	process.tell(Read{Instance: 1, Ballot: 7, From: 1})
	gather, ok := next(t, out).msg.(Gather)
	if !ok || gather.Accepted == nil || *gather.Accepted != (Proposal{Ballot: 5, Value: 8}) || gather.ImposeBallot != 5 {
		t.Fatalf("expected the accepted proposal and its ballot in the gather, got %#v", gather)
	}
	// instances are independent
	process.tell(Read{Instance: 2, Ballot: 1, From: 1})
	if _, ok := next(t, out).msg.(Gather); !ok {
		t.Fatal("expected a Gather in a fresh instance")
	}
}

func TestStaleAbortIsIgnored(t *testing.T) {
	process, out := isolated(t, 1, 3)
	process.tell(Launch{Instance: 1, Value: value(1)})
	nextN(t, out, 3)
	process.tell(Abort{Instance: 1, Ballot: 1, From: 0})
	for _, d := range nextN(t, out, 3) {
		if read, ok := d.msg.(Read); !ok || read.Ballot != 4 {
			t.Fatalf("expected a retry at ballot 4, got %#v", d.msg)
		}
	}
	// a late abort for the first round changes nothing
	process.tell(Abort{Instance: 1, Ballot: 1, From: 2})
	silent(t, out)
}

func TestHoldParksAbortedProposals(t *testing.T) {
	process, out := isolated(t, 1, 3)
	process.tell(Hold{})
	process.tell(Launch{Instance: 1, Value: value(1)})
	nextN(t, out, 3)
	process.tell(Abort{Instance: 1, Ballot: 1, From: 0})
	silent(t, out)
	process.tell(Resume{})
	for _, d := range nextN(t, out, 3) {
		if read, ok := d.msg.(Read); !ok || read.Ballot != 4 {
			t.Fatalf("expected a retry at ballot 4 after resume, got %#v", d.msg)
		}
	}
}

func TestDecidedAcceptorAnswersWithDecision(t *testing.T) {
	process, out := isolated(t, 0, 3)
	process.tell(Decide{Instance: 1, Value: 3, From: 2})
	process.tell(Read{Instance: 1, Ballot: 10, From: 1})
	d := next(t, out)
	if decide, ok := d.msg.(Decide); !ok || d.to != 1 || decide.Value != 3 {
		t.Fatalf("expected the decision to be sent to 1, got %#v to %d", d.msg, d.to)
	}
	process.tell(Launch{Instance: 1, Value: value(0)})
	silent(t, out)
}

func TestCrashedProcessIsSilent(t *testing.T) {
	process, out := isolated(t, 0, 3)
	process.tell(Crash{Alpha: 1})
	process.tell(Read{Instance: 1, Ballot: 1, From: 1})
	process.tell(Launch{Instance: 1})
	silent(t, out)
	result, err := process.system.Root.RequestFuture(process.pid, StatusRequest{}, 2*time.Second).Result()
	if err != nil {
		t.Fatal("no status reply:", err)
	}
	if status, ok := result.(Status); !ok || !status.Crashed {
		t.Errorf("expected the process to report a crash, got %#v", result)
	}
}

// group spawns n connected processes and returns them with the channel their decisions are reported on
func group(t *testing.T, n int, seed int64) ([]member, <-chan Decided) {
	t.Helper()
	system := newSystem(t)
	decisions := make(chan Decided, 10*n)
	report := collector(system, decisions)
	processes := make([]*Process, n)
	pids := make([]*actor.PID, n)
	for i := range processes {
		process := NewProcess(Config{ID: i, N: n, Rand: rand.New(rand.NewSource(seed + int64(i)))})
		processes[i] = process
		pids[i] = system.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return process }))
	}
	members := make([]member, n)
	for i, pid := range pids {
		members[i] = member{system: system, pid: pid}
		members[i].tell(Members{Peers: pids, Report: report})
	}
	return members, decisions
}

func awaitDecisions(t *testing.T, decisions <-chan Decided, count int) []Decided {
	t.Helper()
	got := make([]Decided, 0, count)
	timeout := time.After(5 * time.Second)
	for len(got) < count {
		select {
		case d := <-decisions:
			got = append(got, d)
		case <-timeout:
			t.Fatalf("only %d out of %d decisions arrived", len(got), count)
		}
	}
	return got
}

func TestSingleProposerDecides(t *testing.T) {
	processes, decisions := group(t, 3, 1)
	processes[1].tell(Launch{Instance: 1, Value: value(42)})
	for _, d := range awaitDecisions(t, decisions, 3) {
		if d.Value != 42 {
			t.Errorf("process %d decided %d instead of 42", d.Process, d.Value)
		}
	}
}

func TestConcurrentProposersAgree(t *testing.T) {
	for seed := int64(0); seed < 10; seed++ {
		n := 5
		processes, decisions := group(t, n, seed*100)
		for i, process := range processes {
			process.tell(Launch{Instance: 1, Value: value(Value(100 + i))})
		}
		// let them compete, then leave a single proposer
		time.Sleep(5 * time.Millisecond)
		for _, process := range processes[1:] {
			process.tell(Hold{})
		}
		got := awaitDecisions(t, decisions, n)
		for _, d := range got {
			if d.Value != got[0].Value {
				t.Fatalf("seed %d: agreement violated, %d and %d", seed, got[0].Value, d.Value)
			}
		}
		if got[0].Value < 100 || got[0].Value >= Value(100+n) {
			t.Fatalf("seed %d: decided %d which nobody proposed", seed, got[0].Value)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	processes, decisions := group(t, 3, 7)
	processes[0].tell(Launch{Instance: 1, Value: value(10)})
	processes[2].tell(Launch{Instance: 2, Value: value(20)})
	for _, d := range awaitDecisions(t, decisions, 6) {
		expected := Value(d.Instance * 10)
		if d.Value != expected {
			t.Errorf("instance %d decided %d, expected %d", d.Instance, d.Value, expected)
		}
	}
}

func TestBallotOwner(t *testing.T) {
	tests := []struct {
		id, n int
	}{
		{0, 1}, {0, 3}, {2, 3}, {4, 5}, {17, 50},
	}
	for _, test := range tests {
		b := InitialBallot(test.id, test.n)
		for round := 0; round < 4; round++ {
			if owner := b.Owner(test.n); owner != test.id {
				t.Errorf("ballot %d of %d/%d owned by %d", b, test.id, test.n, owner)
			}
			next := b.Next(test.n)
			if next <= b {
				t.Errorf("ballots must increase, %d then %d", b, next)
			}
			b = next
		}
	}
}

func TestQuorum(t *testing.T) {
	tests := []struct {
		count, n int
		want     bool
	}{
		{1, 1, true}, {1, 2, false}, {2, 2, true}, {1, 3, false}, {2, 3, true}, {2, 4, false}, {3, 4, true}, {3, 5, true},
	}
	for _, test := range tests {
		if got := quorum(test.count, test.n); got != test.want {
			t.Errorf("quorum(%d, %d) = %t", test.count, test.n, got)
		}
	}
}
