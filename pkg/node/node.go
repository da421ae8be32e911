// Package node ties the cluster services and the partition group manager
// into a single runnable unit.
package node

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/criticalstack/partd/pkg/cluster"
	"github.com/criticalstack/partd/pkg/log"
	"github.com/criticalstack/partd/pkg/partition"
)

type Config struct {
	MemberID cluster.MemberID

	// host/port pair used for cluster messaging
	Host string
	Port int

	// gossip network binding and seed addresses
	GossipHost      string
	GossipPort      int
	GossipSecretKey []byte
	BootstrapAddrs  []string

	// partition groups this node starts with
	Groups partition.GroupsConfig

	// configures the level of the logger used by memberlist
	MemberlistLogLevel zapcore.Level
}

// Node runs the gossip membership service, the cluster messenger, and the
// partition group manager as one unit.
type Node struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg       *Config
	gossip    *cluster.Gossip
	messenger *cluster.Messenger
	manager   *partition.Manager
}

func New(cfg *Config) *Node {
	gossip := cluster.NewGossip(&cluster.GossipConfig{
		ID:         cfg.MemberID,
		Host:       cfg.Host,
		Port:       cfg.Port,
		GossipHost: cfg.GossipHost,
		GossipPort: cfg.GossipPort,
		SecretKey:  cfg.GossipSecretKey,
		LogLevel:   cfg.MemberlistLogLevel,
	})
	messenger := cluster.NewMessenger(gossip)
	n := &Node{
		cfg:       cfg,
		gossip:    gossip,
		messenger: messenger,
		manager: partition.NewManager(partition.ManagerConfig{
			Cluster:   gossip,
			Messaging: messenger,
		}),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n
}

// Manager exposes the group membership service.
func (n *Node) Manager() *partition.Manager { return n.manager }

// Run starts all services and blocks until the node is stopped. It returns
// once the partition group view has converged and the node has subsequently
// been stopped, or earlier on a startup failure.
func (n *Node) Run() error {
	if err := n.messenger.Start(); err != nil {
		return errors.Wrap(err, "cannot start cluster messenger")
	}
	if err := n.gossip.Start(n.ctx, n.cfg.BootstrapAddrs); err != nil {
		return errors.Wrap(err, "cannot join cluster")
	}
	if err := n.manager.Start(n.cfg.Groups); err != nil {
		return errors.Wrap(err, "cannot bootstrap partition groups")
	}
	select {
	case <-n.ctx.Done():
		return nil
	default:
	}
	log.Info("partition group view converged",
		zap.String("member-id", string(n.cfg.MemberID)),
		zap.Int("groups", len(n.manager.Memberships())),
	)
	<-n.ctx.Done()
	return nil
}

// Stop tears the node down. Safe to call while Run is blocked.
func (n *Node) Stop() {
	n.manager.Stop()
	if err := n.gossip.Shutdown(); err != nil {
		log.Debugf("gossip shutdown failed: %v", err)
	}
	if err := n.messenger.Close(); err != nil {
		log.Debugf("messenger close failed: %v", err)
	}
	n.cancel()
}
