// Package partition implements cluster-wide convergence on partition group
// membership: a unique system management group and a set of named data
// groups, each with the cluster members participating in it.
package partition

import (
	"sort"

	"github.com/criticalstack/partd/pkg/cluster"
)

// GroupConfig is the immutable configuration of one partition group. Config
// is an opaque blob interpreted by the group type registry.
type GroupConfig struct {
	Name   string
	Type   string
	Config []byte
}

// GroupMembership is a partition group record: the group configuration plus
// the set of members currently participating in the group. Members is kept
// sorted and free of duplicates.
type GroupMembership struct {
	Config  GroupConfig
	Members []cluster.MemberID
	System  bool
}

func (g GroupMembership) Name() string { return g.Config.Name }

func (g GroupMembership) Has(id cluster.MemberID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Info is the bootstrap envelope exchanged between peers. Groups holds the
// non-system group records; the system group, when known, travels separately
// so that at most one exists per node.
type Info struct {
	MemberID cluster.MemberID
	System   *GroupMembership
	Groups   []GroupMembership
}

// memberSet is the manager's internal member-set representation.
type memberSet map[cluster.MemberID]struct{}

func newMemberSet(ids ...cluster.MemberID) memberSet {
	s := make(memberSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s memberSet) has(id cluster.MemberID) bool {
	_, ok := s[id]
	return ok
}

func (s memberSet) clone() memberSet {
	c := make(memberSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// sorted returns the members as a sorted slice, the canonical form used in
// snapshots and on the wire.
func (s memberSet) sorted() []cluster.MemberID {
	ids := make([]cluster.MemberID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
