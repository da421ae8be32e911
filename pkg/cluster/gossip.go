package cluster

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	stdlog "log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/criticalstack/partd/pkg/log"
	"github.com/criticalstack/partd/pkg/netutil"
)

const DefaultGossipPort = 5679

type GossipConfig struct {
	ID         MemberID
	Host       string
	Port       int
	GossipHost string
	GossipPort int
	SecretKey  []byte
	LogLevel   zapcore.Level
}

// meta is the member metadata propagated through the gossip network. It
// carries the host/port pair used for cluster messaging.
type meta struct {
	ID   MemberID
	Host string
	Port int
}

func (m *meta) Marshal() ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(*m); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (m *meta) Unmarshal(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(m)
}

type memberlister interface {
	Join([]string) (int, error)
	LocalNode() *memberlist.Node
	Members() []*memberlist.Node
	NumMembers() int
	Shutdown() error
}

type noopMemberlist struct{}

func (noopMemberlist) Join([]string) (int, error) {
	return 0, nil
}

func (noopMemberlist) LocalNode() *memberlist.Node {
	return &memberlist.Node{}
}

func (noopMemberlist) Members() []*memberlist.Node {
	return nil
}

func (noopMemberlist) NumMembers() int {
	return 0
}

func (noopMemberlist) Shutdown() error {
	return nil
}

type logger struct {
	l *zap.Logger
}

func (l *logger) Write(p []byte) (n int, err error) {
	msg := string(p)
	parts := strings.SplitN(msg, " ", 2)
	lvl := "[DEBUG]"
	if len(parts) > 1 {
		lvl = parts[0]
		msg = strings.TrimPrefix(parts[1], "memberlist: ")
	}

	switch lvl {
	case "[DEBUG]":
		l.l.Debug(msg)
	case "[WARN]":
		l.l.Warn(msg)
	case "[INFO]":
		l.l.Info(msg)
	}
	return len(p), nil
}

// Gossip implements Membership on top of a memberlist gossip network.
type Gossip struct {
	m memberlister

	config *memberlist.Config
	events chan memberlist.NodeEvent
	done   chan struct{}

	self Member

	mu        sync.Mutex
	listeners []*gossipListener
}

type gossipListener struct {
	fn      func(MemberEvent)
	removed bool
}

func NewGossip(cfg *GossipConfig) *Gossip {
	c := memberlist.DefaultLANConfig()
	c.Name = string(cfg.ID)
	c.BindAddr = cfg.GossipHost
	c.BindPort = cfg.GossipPort
	c.Logger = stdlog.New(&logger{log.NewLoggerWithLevel("memberlist", cfg.LogLevel)}, "", 0)
	c.SecretKey = cfg.SecretKey

	g := &Gossip{
		m:      &noopMemberlist{},
		config: c,
		events: make(chan memberlist.NodeEvent, 100),
		done:   make(chan struct{}),
		self: Member{
			ID:      cfg.ID,
			Address: netutil.Address{Host: cfg.Host, Port: cfg.Port},
		},
	}
	c.Delegate = &gossipDelegate{g}
	c.Events = &memberlist.ChannelEventDelegate{Ch: g.events}
	return g
}

// Start joins the gossip network using the given bootstrap addresses and
// begins dispatching member events.
func (g *Gossip) Start(ctx context.Context, baddrs []string) error {
	m, err := memberlist.Create(g.config)
	if err != nil {
		return err
	}
	g.m = m

	data, err := (&meta{ID: g.self.ID, Host: g.self.Address.Host, Port: g.self.Address.Port}).Marshal()
	if err != nil {
		return err
	}
	g.m.LocalNode().Meta = data

	go g.dispatchEvents()

	if len(baddrs) == 0 {
		return nil
	}
	peers := make([]string, 0)
	for _, addr := range baddrs {
		host, port, err := netutil.SplitHostPort(addr)
		if err != nil {
			return errors.Wrapf(err, "cannot split bootstrap address: %#v", addr)
		}
		if host == "" {
			host = "127.0.0.1"
		}
		if port == 0 {
			port = DefaultGossipPort
		}
		peers = append(peers, fmt.Sprintf("%s:%d", host, port))
	}

	log.Debug("attempting to join gossip network ...",
		zap.String("bootstrap-addrs", strings.Join(peers, ",")),
	)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, err := g.m.Join(peers)
			if err != nil {
				log.Errorf("cannot join gossip network: %v", err)
				continue
			}
			log.Debug("joined gossip network successfully")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Gossip) Shutdown() error {
	select {
	case <-g.done:
		return nil
	default:
	}
	if err := g.m.Shutdown(); err != nil {
		return err
	}
	close(g.done)
	return nil
}

func (g *Gossip) dispatchEvents() {
	for {
		select {
		case ev := <-g.events:
			// A nil Node is possible when starting and stopping the
			// server quickly, mostly observed during testing.
			if ev.Node == nil || ev.Node.Meta == nil {
				continue
			}
			m := &meta{}
			if err := m.Unmarshal(ev.Node.Meta); err != nil {
				log.Debugf("cannot unmarshal node meta: %v", err)
				continue
			}
			member := Member{ID: m.ID, Address: netutil.Address{Host: m.Host, Port: m.Port}}
			switch ev.Event {
			case memberlist.NodeJoin:
				g.post(MemberEvent{Type: MemberAdded, Member: member})
			case memberlist.NodeLeave:
				g.post(MemberEvent{Type: MemberRemoved, Member: member})
			case memberlist.NodeUpdate:
			}
		case <-g.done:
			return
		}
	}
}

func (g *Gossip) post(ev MemberEvent) {
	g.mu.Lock()
	listeners := make([]*gossipListener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()
	for _, l := range listeners {
		g.mu.Lock()
		removed := l.removed
		g.mu.Unlock()
		if !removed {
			l.fn(ev)
		}
	}
}

// LocalMember implements Membership.
func (g *Gossip) LocalMember() Member { return g.self }

// Members implements Membership. A member present in the memberlist whose
// metadata has not yet propagated is considered not ready and is omitted.
func (g *Gossip) Members() []Member {
	members := make([]Member, 0)
	for _, n := range g.m.Members() {
		if n.Meta == nil {
			continue
		}
		m := &meta{}
		if err := m.Unmarshal(n.Meta); err != nil {
			log.Debugf("cannot unmarshal member: %v", err)
			continue
		}
		members = append(members, Member{ID: m.ID, Address: netutil.Address{Host: m.Host, Port: m.Port}})
	}
	return members
}

// Member implements Membership.
func (g *Gossip) Member(id MemberID) *Member {
	for _, m := range g.Members() {
		if m.ID == id {
			m := m
			return &m
		}
	}
	return nil
}

// AddListener implements Membership.
func (g *Gossip) AddListener(fn func(MemberEvent)) (cancel func()) {
	l := &gossipListener{fn: fn}
	g.mu.Lock()
	g.listeners = append(g.listeners, l)
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		l.removed = true
		for i, e := range g.listeners {
			if e == l {
				g.listeners = append(g.listeners[:i], g.listeners[i+1:]...)
				break
			}
		}
		g.mu.Unlock()
	}
}

// gossipDelegate implements the memberlist.Delegate interface. Only node
// metadata is exchanged; no user-level broadcasts are needed.
type gossipDelegate struct {
	g *Gossip
}

func (d *gossipDelegate) NodeMeta(limit int) []byte             { return d.g.m.LocalNode().Meta }
func (d *gossipDelegate) NotifyMsg(data []byte)                 {}
func (d *gossipDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *gossipDelegate) LocalState(join bool) []byte           { return nil }
func (d *gossipDelegate) MergeRemoteState(buf []byte, join bool) {}
