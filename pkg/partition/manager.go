package partition

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/criticalstack/partd/pkg/cluster"
	"github.com/criticalstack/partd/pkg/executor"
	"github.com/criticalstack/partd/pkg/log"
)

const (
	// BootstrapSubject is the messaging subject for the bootstrap exchange.
	// The literal value is shared by every node in a cluster.
	BootstrapSubject = "partition-group-bootstrap"

	// maxGroupAttempts bounds how many bootstrap rounds are retried solely
	// because no data groups have been discovered. System group discovery
	// is retried indefinitely.
	maxGroupAttempts = 5
)

// fibDelays is the bootstrap retry schedule in backoff units; attempts past
// the end of the table stay at the final value.
var fibDelays = [...]int64{1, 1, 2, 3, 5}

func backoff(attempt int, unit time.Duration) time.Duration {
	if attempt >= len(fibDelays) {
		attempt = len(fibDelays) - 1
	}
	return time.Duration(fibDelays[attempt]) * unit
}

// GroupsConfig is the static partition group configuration a node starts
// with. Groups this node does not configure are still discovered from peers
// during bootstrap.
type GroupsConfig struct {
	// System is the system management group descriptor, present only on
	// nodes participating in system metadata management.
	System *GroupConfig

	// Groups holds the data group descriptors, keyed by group name.
	Groups map[string]GroupConfig
}

type ManagerConfig struct {
	Cluster   cluster.Membership
	Messaging cluster.Messaging

	// RPCTimeout bounds a single bootstrap request.
	RPCTimeout time.Duration
}

// record is the manager-owned form of a group membership. A stored record is
// never modified: changes store a new record, under Manager.mu and on the
// manager context.
type record struct {
	config  GroupConfig
	members memberSet
	system  bool
}

func (r *record) snapshot() GroupMembership {
	return GroupMembership{
		Config:  r.config,
		Members: r.members.sorted(),
		System:  r.system,
	}
}

// Manager converges the local view of partition group membership with the
// rest of the cluster. All state mutation and event dispatch is serialized
// on a single executor, the manager context; reads may happen from any
// goroutine and return copies.
type Manager struct {
	clusterSvc cluster.Membership
	messaging  cluster.Messaging
	rpcTimeout time.Duration

	// retry pacing, overridable in tests
	backoffUnit   time.Duration
	retryInterval time.Duration

	exec      *executor.Serial
	listeners listenerList

	mu             sync.RWMutex
	system         *record
	groups         map[string]*record
	started        bool
	cancelListener func()

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 5 * time.Second
	}
	return &Manager{
		clusterSvc:    cfg.Cluster,
		messaging:     cfg.Messaging,
		rpcTimeout:    cfg.RPCTimeout,
		backoffUnit:   time.Second,
		retryInterval: time.Second,
		exec:          executor.New(),
		groups:        make(map[string]*record),
		stopCh:        make(chan struct{}),
	}
}

// Start seeds local state from cfg, subscribes to cluster membership events
// and the bootstrap subject, and drives the bootstrap loop. It returns once
// the loop terminates: the system group is known and either a data group is
// known or the data-group attempt limit is reached. When no peer supplies
// a system group, Start blocks and retries until Stop is called.
func (m *Manager) Start(cfg GroupsConfig) error {
	if m.stopped() {
		return errors.New("partition group manager is stopped")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("partition group manager already started")
	}
	m.started = true
	m.mu.Unlock()

	local := m.clusterSvc.LocalMember().ID

	seeded := make(chan struct{})
	err := m.exec.Execute(func() {
		defer close(seeded)
		if cfg.System != nil {
			m.store(&record{config: *cfg.System, members: newMemberSet(local), system: true})
		}
		names := make([]string, 0, len(cfg.Groups))
		for name := range cfg.Groups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			m.store(&record{config: cfg.Groups[name], members: newMemberSet(local)})
		}
	})
	if err != nil {
		return errors.Wrap(err, "cannot seed partition groups")
	}
	select {
	case <-seeded:
	case <-m.stopCh:
		// a concurrent Stop discards the seed task
		return errors.New("partition group manager is stopped")
	}

	if err := m.messaging.Subscribe(BootstrapSubject, m.handleBootstrap, m.exec); err != nil {
		return errors.Wrap(err, "cannot subscribe bootstrap handler")
	}
	cancel := m.clusterSvc.AddListener(m.handleMemberEvent)
	m.mu.Lock()
	m.cancelListener = cancel
	m.mu.Unlock()

	return m.bootstrap()
}

// Stop tears down the manager. Idempotent, and safe to call while Start is
// still in flight; pending retries observe the stop and exit without
// touching state.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.messaging.Unsubscribe(BootstrapSubject)
		m.mu.Lock()
		cancel := m.cancelListener
		m.cancelListener = nil
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		m.exec.Close()
	})
}

func (m *Manager) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

// Ready reports whether the system group is known yet.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.system != nil
}

// SystemMembership returns the system group record, or nil when none is
// known yet.
func (m *Manager) SystemMembership() *GroupMembership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.system == nil {
		return nil
	}
	s := m.system.snapshot()
	return &s
}

// Membership returns the named group record. The system group is returned
// when the name matches it.
func (m *Manager) Membership(name string) *GroupMembership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.groups[name]; ok {
		s := r.snapshot()
		return &s
	}
	if m.system != nil && m.system.config.Name == name {
		s := m.system.snapshot()
		return &s
	}
	return nil
}

// Memberships returns a snapshot of all non-system group records, sorted by
// group name.
func (m *Manager) Memberships() []GroupMembership {
	m.mu.RLock()
	defer m.mu.RUnlock()
	memberships := make([]GroupMembership, 0, len(m.groups))
	for _, r := range m.groups {
		memberships = append(memberships, r.snapshot())
	}
	sort.Slice(memberships, func(i, j int) bool { return memberships[i].Name() < memberships[j].Name() })
	return memberships
}

// AddListener registers a membership event listener and returns a function
// removing it.
func (m *Manager) AddListener(l Listener) (cancel func()) {
	return m.listeners.add(l)
}

// store saves the record and posts a MEMBERS_CHANGED event. Callers only
// invoke it for genuine changes; runs on the manager context.
func (m *Manager) store(r *record) {
	m.mu.Lock()
	if r.system {
		m.system = r
	} else {
		m.groups[r.config.Name] = r
	}
	m.mu.Unlock()
	m.listeners.post(Event{Type: MembersChanged, Membership: r.snapshot()})
}

// handleMemberEvent reacts to cluster arrivals and departures. Arrivals
// trigger a targeted bootstrap of the new peer; departures shrink every
// group the peer was a member of.
func (m *Manager) handleMemberEvent(ev cluster.MemberEvent) {
	if ev.Member.ID == m.clusterSvc.LocalMember().ID {
		return
	}
	switch ev.Type {
	case cluster.MemberAdded:
		go m.bootstrapPeer(ev.Member.ID)
	case cluster.MemberRemoved:
		if err := m.exec.Execute(func() { m.removeMember(ev.Member.ID) }); err != nil {
			log.Debugf("dropping member removal for %s: %v", ev.Member.ID, err)
		}
	}
}

// removeMember drops the departed member from the system group and every
// data group it participates in. Runs on the manager context.
func (m *Manager) removeMember(id cluster.MemberID) {
	m.mu.RLock()
	records := make([]*record, 0, len(m.groups)+1)
	if m.system != nil {
		records = append(records, m.system)
	}
	for _, r := range m.groups {
		records = append(records, r)
	}
	m.mu.RUnlock()

	for _, r := range records {
		if !r.members.has(id) {
			continue
		}
		members := r.members.clone()
		delete(members, id)
		log.Debug("removing departed member from partition group",
			zap.String("group", r.config.Name),
			zap.String("member", string(id)),
		)
		m.store(&record{config: r.config, members: members, system: r.system})
	}
}

// localInfo builds the bootstrap envelope describing the local view.
func (m *Manager) localInfo() *Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := &Info{MemberID: m.clusterSvc.LocalMember().ID}
	if m.system != nil {
		s := m.system.snapshot()
		info.System = &s
	}
	for _, r := range m.groups {
		info.Groups = append(info.Groups, r.snapshot())
	}
	sort.Slice(info.Groups, func(i, j int) bool { return info.Groups[i].Name() < info.Groups[j].Name() })
	return info
}

// handleBootstrap serves the bootstrap subject: merge the peer's view, then
// reply with the local view. Runs on the manager context; merge failures are
// logged, never propagated to the peer.
func (m *Manager) handleBootstrap(from cluster.MemberID, body []byte) ([]byte, error) {
	info, err := DecodeInfo(body)
	if err != nil {
		log.Warn("cannot decode bootstrap request",
			zap.String("from", string(from)),
			zap.Error(err),
		)
	} else if err := m.merge(info); err != nil {
		log.Warn("rejected bootstrap delta",
			zap.String("from", string(from)),
			zap.Error(err),
		)
	}
	return EncodeInfo(m.localInfo())
}

// bootstrap drives rounds of peer queries until the local view has a system
// group and either a data group or an exhausted attempt limit. The retry
// delay follows the fibonacci schedule.
func (m *Manager) bootstrap() error {
	for attempt := 0; ; attempt++ {
		m.bootstrapRound()
		if m.stopped() {
			return nil
		}

		m.mu.RLock()
		hasSystem := m.system != nil
		ngroups := len(m.groups)
		m.mu.RUnlock()

		if hasSystem && (ngroups > 0 || attempt >= maxGroupAttempts) {
			log.Debug("partition group bootstrap complete",
				zap.Int("attempts", attempt),
				zap.Int("groups", ngroups),
			)
			return nil
		}
		delay := backoff(attempt, m.backoffUnit)
		if !hasSystem {
			log.Warn("no system partition group found, retrying ...",
				zap.Duration("delay", delay),
			)
		} else {
			log.Debug("no data partition groups found, retrying ...",
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt),
			)
		}
		select {
		case <-time.After(delay):
		case <-m.stopCh:
			return nil
		}
	}
}

// bootstrapRound queries every other known cluster member in parallel and
// waits for each exchange to settle.
func (m *Manager) bootstrapRound() {
	local := m.clusterSvc.LocalMember().ID
	var wg sync.WaitGroup
	for _, member := range m.clusterSvc.Members() {
		if member.ID == local {
			continue
		}
		wg.Add(1)
		go func(id cluster.MemberID) {
			defer wg.Done()
			m.bootstrapPeer(id)
		}(member.ID)
	}
	wg.Wait()
}

// bootstrapPeer performs the bootstrap exchange with one peer. A peer that
// has no handler registered yet, or that times out, is retried every
// retryInterval until it answers or the manager stops; other transport
// failures drop the peer's contribution.
func (m *Manager) bootstrapPeer(id cluster.MemberID) {
	for {
		if m.stopped() {
			return
		}
		body, err := EncodeInfo(m.localInfo())
		if err != nil {
			log.Errorf("cannot encode partition group info: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.rpcTimeout)
		reply, err := m.messaging.Send(ctx, id, BootstrapSubject, body)
		cancel()
		if err == nil {
			info, err := DecodeInfo(reply)
			if err != nil {
				log.Warn("malformed bootstrap reply",
					zap.String("peer", string(id)),
					zap.Error(err),
				)
				return
			}
			m.apply(info)
			return
		}
		switch errors.Cause(err) {
		case cluster.ErrNoRemoteHandler, cluster.ErrTimeout:
			log.Debug("peer not ready, retrying bootstrap ...",
				zap.String("peer", string(id)),
				zap.Duration("delay", m.retryInterval),
			)
			select {
			case <-time.After(m.retryInterval):
			case <-m.stopCh:
				return
			}
		default:
			log.Debug("bootstrap failed",
				zap.String("peer", string(id)),
				zap.Error(err),
			)
			return
		}
	}
}

// apply marshals a merge onto the manager context and waits for it to land,
// so that a settled bootstrap round has fully observed its replies.
func (m *Manager) apply(info *Info) {
	done := make(chan struct{})
	err := m.exec.Execute(func() {
		defer close(done)
		if err := m.merge(info); err != nil {
			log.Warn("rejected bootstrap delta",
				zap.String("from", string(info.MemberID)),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return
	}
	select {
	case <-done:
	case <-m.stopCh:
	}
}

// merge folds a peer's view into the local one. A merge changes a group only
// when it adds members; the stored set is then filtered by current cluster
// liveness, so local members no longer live are dropped with it. Runs on the
// manager context. The returned error reports configuration
// conflicts; the remaining groups are still merged.
func (m *Manager) merge(info *Info) error {
	var conflict error

	live := newMemberSet()
	for _, member := range m.clusterSvc.Members() {
		live[member.ID] = struct{}{}
	}

	if info.System != nil {
		if err := m.mergeSystem(info.System, live); err != nil && conflict == nil {
			conflict = err
		}
	}
	for i := range info.Groups {
		g := info.Groups[i]
		if err := m.mergeGroup(g, live); err != nil && conflict == nil {
			conflict = err
		}
	}
	return conflict
}

func (m *Manager) mergeSystem(peer *GroupMembership, live memberSet) error {
	m.mu.RLock()
	sys := m.system
	collision := m.groups[peer.Config.Name]
	m.mu.RUnlock()

	if sys == nil {
		if collision != nil {
			return &ConfigurationConflictError{
				Name:       peer.Config.Name,
				LocalType:  collision.config.Type,
				RemoteType: peer.Config.Type,
			}
		}
		// adopt the peer's record; the local member joins the management
		// group it just learned of
		members := newMemberSet(peer.Members...)
		members[m.clusterSvc.LocalMember().ID] = struct{}{}
		log.Debug("adopted system partition group",
			zap.String("group", peer.Config.Name),
			zap.String("type", peer.Config.Type),
		)
		m.store(&record{config: peer.Config, members: members, system: true})
		return nil
	}
	if sys.config.Name != peer.Config.Name || sys.config.Type != peer.Config.Type {
		return &ConfigurationConflictError{
			Name:       sys.config.Name,
			LocalType:  sys.config.Type,
			RemoteType: peer.Config.Type,
		}
	}
	if members, grew := mergeMembers(sys.members, peer.Members, live); grew {
		m.store(&record{config: sys.config, members: members, system: true})
	}
	return nil
}

func (m *Manager) mergeGroup(peer GroupMembership, live memberSet) error {
	m.mu.RLock()
	cur := m.groups[peer.Config.Name]
	sys := m.system
	m.mu.RUnlock()

	if cur == nil {
		if sys != nil && sys.config.Name == peer.Config.Name {
			return &ConfigurationConflictError{
				Name:       peer.Config.Name,
				LocalType:  sys.config.Type,
				RemoteType: peer.Config.Type,
			}
		}
		log.Debug("discovered partition group",
			zap.String("group", peer.Config.Name),
			zap.String("type", peer.Config.Type),
		)
		m.store(&record{config: peer.Config, members: newMemberSet(peer.Members...)})
		return nil
	}
	if cur.config.Type != peer.Config.Type {
		return &ConfigurationConflictError{
			Name:       cur.config.Name,
			LocalType:  cur.config.Type,
			RemoteType: peer.Config.Type,
		}
	}
	if members, grew := mergeMembers(cur.members, peer.Members, live); grew {
		m.store(&record{config: cur.config, members: members})
	}
	return nil
}

// mergeMembers unions the local and peer member sets, filtered by current
// cluster liveness. grew reports whether the result holds members the local
// set did not; a merge that does not grow the set is a no-op so stale peers
// cannot shrink membership.
func mergeMembers(local memberSet, peer []cluster.MemberID, live memberSet) (memberSet, bool) {
	union := local.clone()
	for _, id := range peer {
		union[id] = struct{}{}
	}
	for id := range union {
		if !live.has(id) {
			delete(union, id)
		}
	}
	grew := false
	for id := range union {
		if !local.has(id) {
			grew = true
			break
		}
	}
	return union, grew
}
