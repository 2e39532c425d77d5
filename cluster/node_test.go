package cluster

import (
	context "context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Hy3z/paxos/paxos"

	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	emptypb "google.golang.org/protobuf/types/known/emptypb"
)

// startCluster starts n nodes connected through in-memory listeners, oracle(i) picks the oracle of node i
func startCluster(t *testing.T, n int, oracle func(id int) LeaderOracle) ([]*Node, []*bufconn.Listener) {
	t.Helper()
	return startClusterWith(t, n, func(opts *Options) {
		if oracle != nil {
			opts.Oracle = oracle(opts.ID)
		}
	})
}

// startClusterWith lets tweak adjust the options of every node before it is set up
func startClusterWith(t *testing.T, n int, tweak func(opts *Options)) ([]*Node, []*bufconn.Listener) {
	t.Helper()
	listeners := make([]*bufconn.Listener, n)
	addresses := make([]string, n)
	for i := range n {
		listeners[i] = bufconn.Listen(1 << 20)
		addresses[i] = "passthrough:///bufnet-" + strconv.Itoa(i)
	}
	dialer := grpc.WithContextDialer(func(ctx context.Context, address string) (net.Conn, error) {
		i, err := strconv.Atoi(strings.TrimPrefix(address, "bufnet-"))
		if err != nil {
			return nil, err
		}
		return listeners[i].DialContext(ctx)
	})
	nodes := make([]*Node, n)
	for i := range n {
		opts := Options{
			ID:               i,
			Addresses:        addresses,
			RetryDelay:       10 * time.Millisecond,
			ElectionInterval: 20 * time.Millisecond,
			DialOptions:      []grpc.DialOption{dialer},
		}
		tweak(&opts)
		node, err := Setup(context.Background(), opts)
		if err != nil {
			t.Fatal("Error setting up node:", err)
		}
		nodes[i] = node
		go node.Serve(listeners[i])
	}
	t.Cleanup(func() {
		for _, node := range nodes {
			if node != nil {
				node.Close()
			}
		}
	})
	return nodes, listeners
}

func static(leader int) func(int) LeaderOracle {
	return func(int) LeaderOracle { return StaticOracle{LeaderID: leader} }
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNodesAgree(t *testing.T) {
	nodes, _ := startCluster(t, 3, static(0))
	waitFor(t, "leader", func() bool { return nodes[1].Leader() == 0 && nodes[2].Leader() == 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	results := make([]paxos.Value, 3)
	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = node.Propose(ctx, 1, paxos.Value(10+i))
		}()
	}
	wg.Wait()
	for i := range nodes {
		if errs[i] != nil {
			t.Fatalf("node %d failed to propose: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("disagreement: %v", results)
		}
	}
	if results[0] < 10 || results[0] > 12 {
		t.Errorf("decided %d which was never proposed", results[0])
	}
}

func TestFollowerProposalIsDecided(t *testing.T) {
	nodes, _ := startCluster(t, 3, static(0))
	waitFor(t, "leader", func() bool { return nodes[2].Leader() == 0 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for instance := uint64(1); instance <= 3; instance++ {
		value, err := nodes[2].Propose(ctx, instance, paxos.Value(instance*100))
		if err != nil {
			t.Fatal("Error proposing:", err)
		}
		if value != paxos.Value(instance*100) {
			t.Errorf("instance %d: only one value was proposed but %d was decided", instance, value)
		}
	}
	waitFor(t, "every node to learn", func() bool {
		for _, node := range nodes {
			if len(node.Decisions()) != 3 {
				return false
			}
		}
		return true
	})
	if value, decided := nodes[0].Decision(2); !decided || value != 200 {
		t.Errorf("leader learned %d, %t for instance 2", value, decided)
	}
	if _, decided := nodes[0].Decision(4); decided {
		t.Error("instance 4 was never proposed")
	}
}

func TestStatusReportsHold(t *testing.T) {
	nodes, _ := startCluster(t, 3, static(1))
	waitFor(t, "leader", func() bool { return nodes[0].Leader() == 1 && nodes[1].Leader() == 1 })
	ctx := context.Background()
	waitFor(t, "hold", func() bool {
		status, err := nodes[0].Status(ctx)
		return err == nil && status.OnHold
	})
	status, err := nodes[1].Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.OnHold || status.ID != 1 || status.Leader != 1 {
		t.Errorf("unexpected leader status %+v", status)
	}
}

func TestHealthOracleFailover(t *testing.T) {
	nodes, _ := startCluster(t, 3, nil)
	waitFor(t, "node 0 to lead", func() bool { return nodes[1].Leader() == 0 && nodes[2].Leader() == 0 })

	nodes[0].Close()
	nodes[0] = nil
	waitFor(t, "node 1 to lead", func() bool { return nodes[1].Leader() == 1 && nodes[2].Leader() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := nodes[2].Propose(ctx, 7, 70)
	if err != nil {
		t.Fatal("a majority is still alive but proposing failed:", err)
	}
	if value != 70 {
		t.Errorf("expected 70, got %d", value)
	}
}

func TestCrashedLeaderResigns(t *testing.T) {
	nodes, _ := startClusterWith(t, 3, func(opts *Options) {
		if opts.ID == 0 {
			opts.CrashProbability = 1
		}
	})
	// node 0 crashes on the first protocol message it handles
	nodes[0].Submit(1, 10)
	waitFor(t, "node 0 to crash", func() bool {
		status, err := nodes[0].Status(context.Background())
		return err == nil && status.Crashed
	})
	waitFor(t, "node 1 to lead", func() bool {
		return nodes[0].Leader() == 1 && nodes[1].Leader() == 1 && nodes[2].Leader() == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := nodes[2].Propose(ctx, 2, 20)
	if err != nil {
		t.Fatal("two live nodes out of three should decide:", err)
	}
	if value != 20 {
		t.Errorf("expected 20, got %d", value)
	}
	if _, err := nodes[1].Propose(ctx, 1, 11); err != nil {
		t.Error("the proposal submitted to the crashed node was not decided:", err)
	}
}

func TestProposeHonoursContext(t *testing.T) {
	// node 1 is never served, so node 0 alone has no majority
	listener := bufconn.Listen(1 << 20)
	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return nil, context.DeadlineExceeded
	})
	node, err := Setup(context.Background(), Options{
		ID:          0,
		Addresses:   []string{"passthrough:///self", "passthrough:///nowhere"},
		RetryDelay:  10 * time.Millisecond,
		Oracle:      StaticOracle{},
		DialOptions: []grpc.DialOption{dialer},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer node.Close()
	go node.Serve(listener)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := node.Propose(ctx, 1, 1); err != context.DeadlineExceeded {
		t.Errorf("expected a timeout, got %v", err)
	}
}

func TestSetupRejectsInvalidOptions(t *testing.T) {
	tests := []Options{
		{ID: 0},
		{ID: 2, Addresses: []string{"a", "b"}},
		{ID: -1, Addresses: []string{"a"}},
		{ID: 0, Addresses: []string{"a"}, CrashProbability: 2},
	}
	for _, opts := range tests {
		if _, err := Setup(context.Background(), opts); err == nil {
			t.Errorf("expected an error for %+v", opts)
		}
	}
}

func TestCodec(t *testing.T) {
	accepted := paxos.Proposal{Ballot: 4, Value: 1}
	msg := paxos.Gather{Instance: 3, Ballot: 7, ImposeBallot: 4, Accepted: &accepted, From: 2}
	data, err := codec{}.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded paxos.Gather
	if err := (codec{}).Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Instance != 3 || decoded.Ballot != 7 || decoded.ImposeBallot != 4 || decoded.From != 2 || decoded.Accepted == nil || *decoded.Accepted != accepted {
		t.Errorf("unexpected decoded message %+v", decoded)
	}
	// replies stay protobuf
	data, err = codec{}.Marshal(&emptypb.Empty{})
	if err != nil || len(data) != 0 {
		t.Errorf("expected an empty reply, got %v, %v", data, err)
	}
	if _, err := (codec{}).Marshal(paxos.Hold{}); err == nil {
		t.Error("control messages have no wire format")
	}
	if _, err := methodFor(paxos.Hold{}); err == nil {
		t.Error("control messages should not be sent to peers")
	}
}

func TestPeerQueueDropsSupersededMessages(t *testing.T) {
	p := newPeer(context.Background(), 1, nil, time.Millisecond, time.Millisecond)
	one := paxos.Value(1)
	p.enqueue(paxos.Launch{Instance: 1, Value: &one})
	p.enqueue(paxos.Read{Instance: 1, Ballot: 2, From: 0})
	p.enqueue(paxos.Gather{Instance: 2, Ballot: 4, From: 0})
	p.enqueue(paxos.Read{Instance: 1, Ballot: 5, From: 0})
	p.enqueue(paxos.Abort{Instance: 2, Ballot: 7, From: 0})
	p.enqueue(paxos.Read{Instance: 3, Ballot: 2, From: 0})
	if got := p.pending(); got != 4 {
		t.Fatalf("expected the older read and gather to be dropped, %d messages queued", got)
	}
	p.enqueue(paxos.Decide{Instance: 1, Value: 1, From: 0})
	want := []any{
		paxos.Abort{Instance: 2, Ballot: 7, From: 0},
		paxos.Read{Instance: 3, Ballot: 2, From: 0},
		paxos.Decide{Instance: 1, Value: 1, From: 0},
	}
	if len(p.queue) != len(want) {
		t.Fatalf("expected %v, got %v", want, p.queue)
	}
	for i, item := range p.queue {
		if item.msg != want[i] {
			t.Errorf("message %d: expected %#v, got %#v", i, want[i], item.msg)
		}
	}
	first := p.queue[0].seq
	if !p.remove(first) || p.remove(first) || p.contains(first) {
		t.Error("a message is removed once")
	}
}

func TestSupersedes(t *testing.T) {
	tests := []struct {
		newer, older any
		want         bool
	}{
		{paxos.Decide{Instance: 1}, paxos.Launch{Instance: 1}, true},
		{paxos.Decide{Instance: 1}, paxos.Ack{Instance: 1, Ballot: 9}, true},
		{paxos.Decide{Instance: 2}, paxos.Read{Instance: 1}, false},
		{paxos.Impose{Instance: 1, Ballot: 5}, paxos.Read{Instance: 1, Ballot: 2}, true},
		{paxos.Impose{Instance: 1, Ballot: 2}, paxos.Read{Instance: 1, Ballot: 2}, false},
		{paxos.Read{Instance: 1, Ballot: 5}, paxos.Ack{Instance: 1, Ballot: 2}, false},
		{paxos.Ack{Instance: 1, Ballot: 5}, paxos.Gather{Instance: 1, Ballot: 2}, true},
		{paxos.Read{Instance: 1, Ballot: 5}, paxos.Launch{Instance: 1}, false},
		{paxos.Read{Instance: 1, Ballot: 5}, paxos.Decide{Instance: 1}, false},
	}
	for _, test := range tests {
		if got := supersedes(test.newer, test.older); got != test.want {
			t.Errorf("supersedes(%#v, %#v) = %t", test.newer, test.older, got)
		}
	}
}
