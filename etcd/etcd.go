/*
Package etcd elects the leader of the cluster with an etcd lease, the node holding the leader key leads until its lease expires
*/
package etcd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	aliveKeyPrefix = "alive/"
	leaderKey      = "leader"
)

var (
	ErrDuplicateID = errors.New("node ID already registered")
	ErrNoLeader    = errors.New("no leader assigned")
)

type Config struct {
	Endpoints []string
	// ID of the node, registered under alive/<ID>
	ID int
	// address published next to the ID
	Address string
	// lease TTL in seconds, the leader key disappears this long after the leader died
	LeaseTTL    int64
	DialTimeout time.Duration
	// keys are prefixed with Namespace, so several clusters can share an etcd
	Namespace string
}

// Oracle is a cluster.LeaderOracle backed by etcd
type Oracle struct {
	client          *clientv3.Client
	id              int
	namespace       string
	leaseID         clientv3.LeaseID
	keepAliveCancel context.CancelFunc
	keepAliveDone   chan byte
	// set once the lease is revoked, the node only reads the leader key from then on
	resigned atomic.Bool
}

// Resign revokes the lease of the node, which drops its registration and its leadership.
// The oracle keeps answering with the leader elected by the other nodes
func (oracle *Oracle) Resign(ctx context.Context) error {
	oracle.resigned.Store(true)
	oracle.keepAliveCancel()
	select {
	case <-oracle.keepAliveDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the keep alive loop, which revokes the lease and drops the leadership of the node
func (oracle *Oracle) Close() {
	oracle.resigned.Store(true)
	oracle.keepAliveCancel()
	<-oracle.keepAliveDone
	err := oracle.client.Close()
	if err != nil {
		slog.Error("Error closing etcd client", slog.String("error", err.Error()))
	}
}

// hand written keep alive loop instead of session to allow revoking on manual disconnection
func keepAlive(keepaliveCh <-chan *clientv3.LeaseKeepAliveResponse, cli *clientv3.Client, leaseID clientv3.LeaseID, doneChannel chan byte) {
	for range keepaliveCh {
	}
	slog.Debug("Revoking lease")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := cli.Revoke(ctx, leaseID)
	if err != nil {
		slog.Error("Error revoking lease", slog.String("error", err.Error()))
	}
	slog.Debug("Lease revoked")
	close(doneChannel)
}

// New connects to etcd and registers the node under a lease kept alive until Close
func New(ctx context.Context, conf Config) (*Oracle, error) {
	slog.Info("Starting etcd client", slog.Any("endpoints", conf.Endpoints))
	dialTimeout := conf.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ttl := conf.LeaseTTL
	if ttl <= 0 {
		ttl = 5
	}
	cli, err := clientv3.New(clientv3.Config{Endpoints: conf.Endpoints, DialTimeout: dialTimeout})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("granting lease: %w", err)
	}
	aliveKey := conf.Namespace + aliveKeyPrefix + strconv.Itoa(conf.ID)
	cmp := clientv3.Compare(clientv3.CreateRevision(aliveKey), "=", 0)
	put := clientv3.OpPut(aliveKey, conf.Address, clientv3.WithLease(lease.ID))
	res, err := cli.Txn(ctx).If(cmp).Then(put).Commit()
	if err == nil && !res.Succeeded {
		err = fmt.Errorf("%w: %d", ErrDuplicateID, conf.ID)
	}
	if err != nil {
		cli.Revoke(context.Background(), lease.ID)
		cli.Close()
		return nil, fmt.Errorf("registering self: %w", err)
	}
	kaCtx, kaCancel := context.WithCancel(context.Background())
	keepaliveCh, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		kaCancel()
		cli.Revoke(context.Background(), lease.ID)
		cli.Close()
		return nil, fmt.Errorf("starting keep alive: %w", err)
	}
	keepAliveDone := make(chan byte)
	go keepAlive(keepaliveCh, cli, lease.ID, keepAliveDone)
	slog.Info("etcd client connected", slog.Int("ID", conf.ID))
	return &Oracle{client: cli, id: conf.ID, namespace: conf.Namespace, leaseID: lease.ID, keepAliveCancel: kaCancel, keepAliveDone: keepAliveDone}, nil
}

// Leader returns the current leader, or makes this node the leader if there is none
func (oracle *Oracle) Leader(ctx context.Context) (int, error) {
	leader, found, err := oracle.tryGetLeader(ctx)
	if err != nil || found {
		return leader, err
	}
	if oracle.resigned.Load() {
		return 0, ErrNoLeader
	}
	return oracle.tryBecomeLeader(ctx)
}

func (oracle *Oracle) tryBecomeLeader(ctx context.Context) (int, error) {
	key := oracle.namespace + leaderKey
	cmp := clientv3.Compare(clientv3.CreateRevision(key), "=", 0)
	put := clientv3.OpPut(key, strconv.Itoa(oracle.id), clientv3.WithLease(oracle.leaseID))
	get := clientv3.OpGet(key)
	res, err := oracle.client.Txn(ctx).If(cmp).Then(put).Else(get).Commit()
	if err != nil {
		return 0, fmt.Errorf("trying to become leader: %w", err)
	}
	if res.Succeeded {
		slog.Info("Became leader", slog.Int("ID", oracle.id))
		return oracle.id, nil
	}
	rangeRes := res.Responses[0].GetResponseRange()
	if rangeRes == nil || len(rangeRes.Kvs) == 0 {
		// the leader key expired between the comparison and the read
		return 0, ErrNoLeader
	}
	return parseLeader(rangeRes.Kvs[0].Value)
}

func (oracle *Oracle) tryGetLeader(ctx context.Context) (int, bool, error) {
	res, err := oracle.client.Get(ctx, oracle.namespace+leaderKey)
	if err != nil {
		return 0, false, fmt.Errorf("checking leader: %w", err)
	}
	if res.Count == 0 {
		return 0, false, nil
	}
	leader, err := parseLeader(res.Kvs[0].Value)
	return leader, err == nil, err
}

func parseLeader(value []byte) (int, error) {
	leader, err := strconv.Atoi(string(value))
	if err != nil || leader < 0 {
		return 0, fmt.Errorf("malformed leader key %q", value)
	}
	return leader, nil
}
