// Package cluster provides the cluster-level services that partition group
// management is built on: member identity, a liveness membership service
// backed by gossip, and a request/response messaging service between
// members.
package cluster

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/criticalstack/partd/pkg/netutil"
)

// MemberID uniquely identifies a member of the cluster. The identifier is an
// opaque string, optionally carrying a namespace prefix separated by a dot.
type MemberID string

// NewMemberID builds a MemberID from an optional namespace and an id.
func NewMemberID(namespace, id string) MemberID {
	if namespace == "" {
		return MemberID(id)
	}
	return MemberID(namespace + "." + id)
}

// Namespace returns the namespace portion of the identifier, if any.
func (m MemberID) Namespace() string {
	if i := strings.IndexByte(string(m), '.'); i >= 0 {
		return string(m)[:i]
	}
	return ""
}

// ID returns the identifier portion without the namespace.
func (m MemberID) ID() string {
	if i := strings.IndexByte(string(m), '.'); i >= 0 {
		return string(m)[i+1:]
	}
	return string(m)
}

func (m MemberID) String() string { return string(m) }

// Member is a process participating in the cluster.
type Member struct {
	ID      MemberID
	Address netutil.Address
}

type MemberEventType int

const (
	MemberAdded MemberEventType = iota
	MemberRemoved
)

func (t MemberEventType) String() string {
	switch t {
	case MemberAdded:
		return "ADDED"
	case MemberRemoved:
		return "REMOVED"
	}
	return ""
}

// MemberEvent describes a cluster member arriving or departing.
type MemberEvent struct {
	Type   MemberEventType
	Member Member
}

// Membership lists the currently-known cluster members and emits events as
// members arrive and depart.
type Membership interface {
	// LocalMember returns the member representing this process.
	LocalMember() Member

	// Members returns all currently-known members, the local member
	// included.
	Members() []Member

	// Member returns the member with the given id, or nil when the member
	// is not currently part of the cluster.
	Member(id MemberID) *Member

	// AddListener registers fn to receive member events and returns a
	// function removing the registration.
	AddListener(fn func(MemberEvent)) (cancel func())
}

// Executor serializes execution of messaging handlers onto a caller-owned
// context.
type Executor interface {
	Execute(fn func()) error
}

// Handler serves a request body received on a subject and produces the reply
// body.
type Handler func(from MemberID, body []byte) ([]byte, error)

// Messaging is the request/response substrate between cluster members.
// Subjects are registered per-member; sending to a member that has not
// subscribed the subject fails with ErrNoRemoteHandler.
type Messaging interface {
	Subscribe(subject string, handler Handler, exec Executor) error
	Unsubscribe(subject string)
	Send(ctx context.Context, to MemberID, subject string, body []byte) ([]byte, error)
}

var (
	// ErrNoRemoteHandler indicates the remote member has no handler
	// registered for the subject.
	ErrNoRemoteHandler = errors.New("no remote handler registered for subject")

	// ErrTimeout indicates the request was not answered in time.
	ErrTimeout = errors.New("request timed out")

	// ErrUnknownMember indicates the target member is not currently part of
	// the cluster.
	ErrUnknownMember = errors.New("unknown member")
)
