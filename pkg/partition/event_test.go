package partition

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestListenerOrder(t *testing.T) {
	var l listenerList
	got := make([]string, 0)
	l.add(func(ev Event) { got = append(got, "first:"+ev.Membership.Name()) })
	l.add(func(ev Event) { got = append(got, "second:"+ev.Membership.Name()) })

	l.post(Event{Type: MembersChanged, Membership: GroupMembership{Config: GroupConfig{Name: "a"}}})
	l.post(Event{Type: MembersChanged, Membership: GroupMembership{Config: GroupConfig{Name: "b"}}})

	want := []string{"first:a", "second:a", "first:b", "second:b"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("listener delivery order: (-want +got)\n%s", diff)
	}
}

func TestListenerAddedDuringDispatch(t *testing.T) {
	var l listenerList
	added := 0
	l.add(func(ev Event) {
		l.add(func(ev Event) { added++ })
	})
	l.post(Event{})
	if added != 0 {
		t.Errorf("listener added during dispatch observed the event in progress")
	}
	l.post(Event{})
	if added != 1 {
		t.Errorf("listener added during dispatch missed the following event")
	}
}

func TestListenerRemovedDuringDispatch(t *testing.T) {
	var l listenerList
	calls := 0
	var cancel func()
	l.add(func(ev Event) { cancel() })
	cancel = l.add(func(ev Event) { calls++ })
	l.post(Event{})
	if calls != 0 {
		t.Errorf("listener removed during dispatch still received the event")
	}
}

func TestListenerRemove(t *testing.T) {
	var l listenerList
	calls := 0
	cancel := l.add(func(ev Event) { calls++ })
	l.post(Event{})
	cancel()
	l.post(Event{})
	if calls != 1 {
		t.Errorf("removed listener received events: calls = %d", calls)
	}
}
