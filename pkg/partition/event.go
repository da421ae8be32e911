package partition

import "sync"

type EventType int

const (
	// MembersChanged is posted whenever a group's membership record is
	// created or its member set changes.
	MembersChanged EventType = iota
)

func (t EventType) String() string {
	switch t {
	case MembersChanged:
		return "MEMBERS_CHANGED"
	}
	return ""
}

// Event carries the post-change membership record of the affected group.
type Event struct {
	Type       EventType
	Membership GroupMembership
}

// Listener receives membership events in post order.
type Listener func(Event)

type listenerEntry struct {
	fn      Listener
	removed bool
}

// listenerList is a copy-on-write listener registry. Listeners added during
// a dispatch do not observe the event in progress; listeners removed during
// a dispatch do not receive it.
type listenerList struct {
	mu      sync.Mutex
	entries []*listenerEntry
}

func (l *listenerList) add(fn Listener) (cancel func()) {
	e := &listenerEntry{fn: fn}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		e.removed = true
		for i, cur := range l.entries {
			if cur == e {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
	}
}

func (l *listenerList) post(ev Event) {
	l.mu.Lock()
	entries := make([]*listenerEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.Unlock()
	for _, e := range entries {
		l.mu.Lock()
		removed := e.removed
		l.mu.Unlock()
		if !removed {
			e.fn(ev)
		}
	}
}
