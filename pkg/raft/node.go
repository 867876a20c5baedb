package raft

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	"github.com/pixperk/flowkey/pkg/fsm"
	"github.com/pixperk/flowkey/pkg/lock"
	"github.com/pixperk/flowkey/pkg/metrics"
	"github.com/pixperk/flowkey/pkg/storage"
	ftime "github.com/pixperk/flowkey/pkg/time"
	"github.com/pixperk/flowkey/pkg/types"
)

var _ lock.Store = (*Node)(nil)

// returned when a write reaches a follower; carries the leader address if known
var ErrNotLeader = errors.New("not the raft leader")

const (
	defaultApplyTimeout  = 5 * time.Second
	defaultSweepInterval = 500 * time.Millisecond
)

// wraps a raft inst with our lock fsm and exposes it as a lock.Store
type Node struct {
	raft    *raft.Raft
	fsm     *fsm.FSM
	raftFSM *fsm.RaftFSM
	storage *storage.BoltDBStorage
	cfg     *Config
	clock   ftime.Clock
	logger  *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

type Config struct {
	NodeID        uuid.UUID     //unique ID for this node
	BindAddr      string        //net addr to bind Raft communication
	AdvertiseAddr string        //addr peers dial, defaults to the bound listener
	DataDir       string        //data directory for Raft storage
	Bootstrap     bool          //if this is the first node in the cluster
	ApplyTimeout  time.Duration //upper bound for one replicated command
	SweepInterval time.Duration //how often the leader drops expired locks
	LogOutput     io.Writer     //raft's own log output, defaults to stderr
	Logger        *slog.Logger
	Clock         ftime.Clock
}

func NewNode(cfg *Config) (*Node, error) {
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.LogOutput == nil {
		cfg.LogOutput = os.Stderr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = ftime.NewClock()
	}

	raftFSM := fsm.NewRaftFSM()
	stateMachine := raftFSM.GetFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID.String())
	raftCfg.LogOutput = cfg.LogOutput

	raftCfg.HeartbeatTimeout = 1000 * time.Millisecond
	raftCfg.ElectionTimeout = 1000 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond //time to wait before committing entries
	raftCfg.SnapshotThreshold = 8192              // snapshot after 8K log entries

	//add boltDB storage
	raftStorage, err := storage.Open(cfg.DataDir, storage.Options{LogOutput: cfg.LogOutput})
	if err != nil {
		return nil, fmt.Errorf("failed to create stores: %w", err)
	}

	//tcp transport for inter-node communication
	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		advertise, err = net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			raftStorage.Close()
			return nil, fmt.Errorf("failed to resolve advertise addr: %w", err)
		}
	}

	transport, err := raft.NewTCPTransport(cfg.BindAddr, advertise, 3, 10*time.Second, cfg.LogOutput)
	if err != nil {
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, raftFSM, raftStorage.LogStore, raftStorage.StableStore, raftStorage.SnapshotStore, transport)
	if err != nil {
		transport.Close()
		raftStorage.Close()
		return nil, fmt.Errorf("failed to create raft: %w", err)
	}

	//bootstrap if needed
	if cfg.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raftCfg.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}

		//already bootstrapped on a previous start
		if err := r.BootstrapCluster(configuration).Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			r.Shutdown()
			raftStorage.Close()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	n := &Node{
		raft:    r,
		fsm:     stateMachine,
		raftFSM: raftFSM,
		storage: raftStorage,
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger.With("node_id", cfg.NodeID.String()),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go n.sweepLoop()

	return n, nil
}

// apply a command to the Raft cluster
// domain errors returned by the fsm come back unwrapped, so callers can compare them
func (n *Node) Apply(cmd types.Command) (any, error) {
	return n.apply(context.Background(), cmd)
}

func (n *Node) apply(ctx context.Context, cmd types.Command) (any, error) {
	if !n.IsLeader() {
		return nil, n.notLeader()
	}

	data, err := types.EncodeCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	timeout := n.cfg.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	//replicate to cluster via Raft
	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, n.notLeader()
		}
		return nil, fmt.Errorf("failed to apply command: %w", err)
	}

	resp := future.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}

func (n *Node) notLeader() error {
	return fmt.Errorf("%w, leader is at %q", ErrNotLeader, n.GetLeader())
}

// claims key for holder, stamped with the leader's clock
func (n *Node) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	result, err := n.apply(ctx, types.AcquireLockCmd{Key: key, Holder: holder, TTL: ttl, Now: n.clock.Now()})
	if err != nil {
		return types.Lock{}, err
	}
	return result.(fsm.AcquireLockResponse).Lock, nil
}

func (n *Node) Release(ctx context.Context, key, holder string) error {
	_, err := n.apply(ctx, types.ReleaseLockCmd{Key: key, Holder: holder})
	return err
}

func (n *Node) Renew(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	result, err := n.apply(ctx, types.RenewLockCmd{Key: key, Holder: holder, TTL: ttl, Now: n.clock.Now()})
	if err != nil {
		return types.Lock{}, err
	}
	return result.(fsm.RenewLockResponse).Lock, nil
}

// adds a voter to the cluster, must be called on the leader
func (n *Node) Join(nodeID, addr string) error {
	if !n.IsLeader() {
		return n.notLeader()
	}

	cfgFuture := n.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	for _, srv := range cfgFuture.Configuration().Servers {
		if srv.ID == raft.ServerID(nodeID) && srv.Address == raft.ServerAddress(addr) {
			//already a member
			return nil
		}
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(addr) {
			if err := n.raft.RemoveServer(srv.ID, 0, 0).Error(); err != nil {
				return fmt.Errorf("failed to remove stale member %s: %w", srv.ID, err)
			}
		}
	}

	if err := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0).Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}
	n.logger.Info("node joined cluster", "peer_id", nodeID, "peer_addr", addr)
	return nil
}

// drops expired locks while this node leads
func (n *Node) sweepLoop() {
	defer close(n.doneCh)

	ticker := time.NewTicker(n.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.recordMetrics()
			if !n.IsLeader() {
				continue
			}
			n.sweep()
		case <-n.stopCh:
			return
		}
	}
}

func (n *Node) sweep() {
	now := n.clock.Now()
	for _, exp := range n.fsm.GetExpiredLocks(now) {
		result, err := n.Apply(types.ExpireLockCmd{Key: exp.Key, FencingToken: exp.FencingToken, Now: now})
		if err != nil {
			if errors.Is(err, types.ErrLockNotFound) {
				continue
			}
			n.logger.Warn("failed to expire lock", "key", exp.Key, "error", err)
			return
		}
		if result.(fsm.ExpireLockResponse).Expired {
			metrics.LockExpireTotal.Inc()
			n.logger.Info("lock expired", "key", exp.Key, "fencing_token", exp.FencingToken)
		}
	}
}

func (n *Node) recordMetrics() {
	metrics.RaftIsLeader.Set(metrics.BoolGauge(n.IsLeader()))
	metrics.RaftAppliedIndex.Set(float64(n.raft.AppliedIndex()))
	metrics.LocksActive.Set(float64(n.fsm.Stats().Locks))
}

// returns true if this node is the leader
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// returns the leader's address
func (n *Node) GetLeader() string {
	leaderAddr, _ := n.raft.LeaderWithID()
	return string(leaderAddr)
}

func (n *Node) GetNodeID() uuid.UUID {
	return n.cfg.NodeID
}

func (n *Node) GetState() raft.RaftState {
	return n.raft.State()
}

// number of servers in the latest configuration
func (n *Node) GetClusterSize() int {
	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return 0
	}
	return len(future.Configuration().Servers)
}

// blocks until a leader is elected
func (n *Node) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	timeoutCh := time.After(timeout)

	for {
		select {
		case <-timeoutCh:
			return fmt.Errorf("no leader elected within timeout")
		case <-ticker.C:
			if n.GetLeader() != "" {
				return nil
			}
		}
	}
}

// returns FSM statistics
func (n *Node) Stats() fsm.Stats {
	return n.fsm.Stats()
}

// returns the current claim on key as seen by this node's fsm
func (n *Node) GetLock(key string) (types.Lock, bool) {
	return n.fsm.GetLock(key)
}

// gracefully shuts down the Raft node
func (n *Node) Shutdown() error {
	select {
	case <-n.stopCh:
		return nil
	default:
	}
	close(n.stopCh)
	<-n.doneCh

	err := n.raft.Shutdown().Error()
	if cerr := n.storage.Close(); err == nil {
		err = cerr
	}
	return err
}
