/*
Package config is responsible for parsing and storing command line derived configuration values
*/
package config

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/Hy3z/paxos/util"
)

const (
	ModeSimulate = "simulate"
	ModeSweep    = "sweep"
	ModeNode     = "node"
)

var (
	Mode    string = ModeSimulate
	Verbose bool   = false

	// experiment parameters
	ProcessCount     int           = 50
	FaultyCount      int           = 10
	CrashProbability float64       = 0.1
	HoldDuration     time.Duration = 100 * time.Millisecond
	LeaderTimeout    time.Duration = 50 * time.Millisecond
	RunDeadline      time.Duration = 10 * time.Second
	InstanceCount    int           = 1
	Seed             int64         = 0
	Runs             int           = 1

	// sweep grid
	SweepProcessCounts     []int
	SweepCrashProbs        []float64
	SweepLeaderTimeouts    []time.Duration
	OutputPath             string = ""
	sweepProcessCountsStr  string
	sweepCrashProbsStr     string
	sweepLeaderTimeoutsStr string

	// node parameters
	MyPeerID            int           = 0
	PeerAddresses       []string      = nil
	GRPCListenAddress   string        = ""
	NodeCrashProb       float64       = 0
	HTTPListenAddress   string        = ""
	DataPath            string        = ""
	EtcdEndpoints       []string      = nil
	EtcdLeaseTTL        int64         = 5
	PaxosRetryDelay     time.Duration = 100 * time.Millisecond
	LeaderCheckInterval time.Duration = time.Second
)

func SetupConf() {
	peerID := flag.Int("id", -1, "process ID of this node, index into --peers")
	peers := flag.String("peers", "", "comma separated gRPC addresses of every node, ordered by ID")
	etcdEndpoints := flag.String("etcd", "", "comma separated etcd endpoints used for leader election, static election if empty")
	flag.StringVar(&Mode, "mode", ModeSimulate, "one of simulate, sweep, node")
	flag.BoolVar(&Verbose, "v", false, "verbose output, activates debug level logging")
	flag.IntVar(&ProcessCount, "n", ProcessCount, "number of processes")
	flag.IntVar(&FaultyCount, "f", FaultyCount, "number of processes that may crash")
	flag.Float64Var(&CrashProbability, "alpha", CrashProbability, "probability for a faulty process to crash on each message")
	flag.DurationVar(&HoldDuration, "hold", HoldDuration, "pause between setting up the processes and launching them")
	flag.DurationVar(&LeaderTimeout, "tle", LeaderTimeout, "time after launch at which every process but one is put on hold")
	flag.DurationVar(&RunDeadline, "deadline", RunDeadline, "maximum duration of a single run")
	flag.IntVar(&InstanceCount, "instances", InstanceCount, "number of consensus instances per run")
	flag.Int64Var(&Seed, "seed", Seed, "random seed, 0 seeds from the clock")
	flag.IntVar(&Runs, "runs", Runs, "number of runs averaged per sweep point")
	flag.StringVar(&sweepProcessCountsStr, "sweep-n", "3,10,100", "process counts of the sweep")
	flag.StringVar(&sweepCrashProbsStr, "sweep-alpha", "0,0.1,1", "crash probabilities of the sweep")
	flag.StringVar(&sweepLeaderTimeoutsStr, "sweep-tle", "500ms,1s,1.5s,2s", "leader timeouts of the sweep")
	flag.StringVar(&OutputPath, "out", "", "file receiving the sweep CSV, stdout if empty")
	flag.StringVar(&GRPCListenAddress, "listen", "", "gRPC listen address of the node, its entry in --peers if empty")
	flag.Float64Var(&NodeCrashProb, "node-alpha", NodeCrashProb, "probability for the node process to crash on each message")
	flag.StringVar(&HTTPListenAddress, "http", ":8080", "HTTP listen address of the node")
	flag.StringVar(&DataPath, "data", "", "bbolt database persisting the instance state of the node, memory only if empty")
	flag.Int64Var(&EtcdLeaseTTL, "lease", EtcdLeaseTTL, "etcd lease TTL in seconds")
	flag.DurationVar(&PaxosRetryDelay, "retry", PaxosRetryDelay, "delay between attempts to deliver a message to a peer")
	flag.DurationVar(&LeaderCheckInterval, "election", LeaderCheckInterval, "interval between leader checks of the node")
	flag.Parse()

	PeerAddresses = util.SplitList(*peers)
	EtcdEndpoints = util.SplitList(*etcdEndpoints)
	var err error
	if SweepProcessCounts, err = ParseInts(sweepProcessCountsStr); err != nil {
		util.SlogPanic("invalid --sweep-n", "error", err.Error())
	}
	if SweepCrashProbs, err = ParseFloats(sweepCrashProbsStr); err != nil {
		util.SlogPanic("invalid --sweep-alpha", "error", err.Error())
	}
	if SweepLeaderTimeouts, err = ParseDurations(sweepLeaderTimeoutsStr); err != nil {
		util.SlogPanic("invalid --sweep-tle", "error", err.Error())
	}
	switch Mode {
	case ModeSimulate, ModeSweep:
	case ModeNode:
		if *peerID < 0 || *peerID >= len(PeerAddresses) {
			util.SlogPanic("node mode requires --id <process id> indexing into --peers")
		}
		MyPeerID = *peerID
		if GRPCListenAddress == "" {
			GRPCListenAddress = PeerAddresses[MyPeerID]
		}
	default:
		util.SlogPanic("unknown --mode", "mode", Mode)
	}
}

func ParseInts(s string) ([]int, error) {
	var values []int
	for _, item := range util.SplitList(s) {
		v, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", item, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func ParseFloats(s string) ([]float64, error) {
	var values []float64
	for _, item := range util.SplitList(s) {
		v, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", item, err)
		}
		values = append(values, v)
	}
	return values, nil
}

func ParseDurations(s string) ([]time.Duration, error) {
	var values []time.Duration
	for _, item := range util.SplitList(s) {
		v, err := time.ParseDuration(item)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", item, err)
		}
		values = append(values, v)
	}
	return values, nil
}
