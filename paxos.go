package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/Hy3z/paxos/cluster"
	"github.com/Hy3z/paxos/config"
	"github.com/Hy3z/paxos/etcd"
	"github.com/Hy3z/paxos/httpserver"
	"github.com/Hy3z/paxos/paxos"
	"github.com/Hy3z/paxos/simulation"
	"github.com/Hy3z/paxos/util"
)

func main() {
	config.SetupConf()
	if config.Verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
	switch config.Mode {
	case config.ModeSimulate:
		simulate()
	case config.ModeSweep:
		sweep()
	case config.ModeNode:
		runNode()
	}
}

func experimentParams() simulation.Params {
	return simulation.Params{
		N:         config.ProcessCount,
		F:         config.FaultyCount,
		Alpha:     config.CrashProbability,
		Hold:      config.HoldDuration,
		Timeout:   config.LeaderTimeout,
		Deadline:  config.RunDeadline,
		Instances: config.InstanceCount,
		Seed:      config.Seed,
	}
}

func simulate() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	params := experimentParams()
	for run := 0; run < config.Runs; run++ {
		if config.Seed != 0 {
			params.Seed = config.Seed + int64(run)
		}
		result, err := simulation.Run(ctx, params)
		if err != nil {
			util.SlogPanic("Error running the experiment", slog.String("error", err.Error()))
		}
		slog.Info("Run finished", slog.Int("run", run), slog.Any("result", result))
		if !result.Agreement {
			util.SlogPanic("Agreement violated", slog.Int64("seed", result.Seed))
		}
	}
}

func sweep() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	grid := simulation.Grid{ProcessCounts: config.SweepProcessCounts, CrashProbs: config.SweepCrashProbs, LeaderTimeouts: config.SweepLeaderTimeouts}
	rows, err := simulation.Sweep(ctx, experimentParams(), grid, config.Runs)
	if err != nil {
		util.SlogPanic("Error sweeping", slog.String("error", err.Error()))
	}
	var out io.Writer = os.Stdout
	if config.OutputPath != "" {
		file, err := os.Create(config.OutputPath)
		if err != nil {
			util.SlogPanic("Error creating output file", slog.String("error", err.Error()))
		}
		defer file.Close()
		out = file
	}
	if err := simulation.WriteCSV(out, rows); err != nil {
		util.SlogPanic("Error writing CSV", slog.String("error", err.Error()))
	}
}

func runNode() {
	slog.Info("Node starting", slog.Int("Peer ID", config.MyPeerID))
	opts := cluster.Options{
		ID:               config.MyPeerID,
		Addresses:        config.PeerAddresses,
		RetryDelay:       config.PaxosRetryDelay,
		ElectionInterval: config.LeaderCheckInterval,
		CrashProbability: config.NodeCrashProb,
	}
	var storage *paxos.BoltStorage
	if config.DataPath != "" {
		var err error
		storage, err = paxos.OpenBoltStorage(config.DataPath)
		if err != nil {
			util.SlogPanic("Error opening instance state", slog.String("error", err.Error()))
		}
		opts.Storage = storage
	}
	var oracle *etcd.Oracle
	if len(config.EtcdEndpoints) > 0 {
		var err error
		oracle, err = etcd.New(context.Background(), etcd.Config{
			Endpoints: config.EtcdEndpoints,
			ID:        config.MyPeerID,
			Address:   config.GRPCListenAddress,
			LeaseTTL:  config.EtcdLeaseTTL,
		})
		if err != nil {
			util.SlogPanic("Error connecting to etcd", slog.String("error", err.Error()))
		}
		opts.Oracle = oracle
	}
	node, err := cluster.Setup(context.Background(), opts)
	if err != nil {
		util.SlogPanic("Error setting up node", slog.String("error", err.Error()))
	}
	go func() {
		err := node.ListenAndServe(config.GRPCListenAddress)
		if err != nil {
			util.SlogPanic("Error serving gRPC", slog.String("error", err.Error()))
		}
	}()
	httpServer := httpserver.StartHTTPServer(config.HTTPListenAddress, node)
	awaitInterrupt()
	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("Error shutting down HTTP server", slog.String("error", err.Error()))
	}
	node.Close()
	if oracle != nil {
		oracle.Close()
	}
	if storage != nil {
		if err := storage.Close(); err != nil {
			slog.Error("Error closing instance state", slog.String("error", err.Error()))
		}
	}
	slog.Info("Shutdown complete")
}

func awaitInterrupt() {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
}
