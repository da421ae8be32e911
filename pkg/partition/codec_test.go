package partition

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/criticalstack/partd/pkg/cluster"
)

func TestInfoEncodeDecode(t *testing.T) {
	expected := &Info{
		MemberID: "node1",
		System: &GroupMembership{
			Config:  GroupConfig{Name: "system", Type: "raft", Config: []byte("partitions: 1\n")},
			Members: []cluster.MemberID{"node1", "node2"},
			System:  true,
		},
		Groups: []GroupMembership{
			{
				Config:  GroupConfig{Name: "data", Type: "primary-backup"},
				Members: []cluster.MemberID{"node1"},
			},
		},
	}
	data, err := EncodeInfo(expected)
	if err != nil {
		t.Fatal(err)
	}
	info, err := DecodeInfo(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(expected, info); diff != "" {
		t.Errorf("Info: after DecodeInfo differs: (-want +got)\n%s", diff)
	}
}

func TestInfoEncodeDecodeNoSystem(t *testing.T) {
	expected := &Info{
		MemberID: "node1",
		Groups: []GroupMembership{
			{
				Config:  GroupConfig{Name: "data", Type: "raft"},
				Members: []cluster.MemberID{"node1"},
			},
		},
	}
	data, err := EncodeInfo(expected)
	if err != nil {
		t.Fatal(err)
	}
	info, err := DecodeInfo(data)
	if err != nil {
		t.Fatal(err)
	}
	if info.System != nil {
		t.Fatalf("System: expected nil, got %+v", info.System)
	}
	if diff := cmp.Diff(expected, info); diff != "" {
		t.Errorf("Info: after DecodeInfo differs: (-want +got)\n%s", diff)
	}
}

func TestInfoEncodeDeterministic(t *testing.T) {
	a := &Info{
		MemberID: "node1",
		System: &GroupMembership{
			Config:  GroupConfig{Name: "system", Type: "raft"},
			Members: []cluster.MemberID{"node2", "node1", "node3"},
			System:  true,
		},
		Groups: []GroupMembership{
			{Config: GroupConfig{Name: "b", Type: "raft"}, Members: []cluster.MemberID{"node1"}},
			{Config: GroupConfig{Name: "a", Type: "raft"}, Members: []cluster.MemberID{"node2", "node1"}},
		},
	}
	// same content, different ordering
	b := &Info{
		MemberID: "node1",
		System: &GroupMembership{
			Config:  GroupConfig{Name: "system", Type: "raft"},
			Members: []cluster.MemberID{"node1", "node3", "node2"},
			System:  true,
		},
		Groups: []GroupMembership{
			{Config: GroupConfig{Name: "a", Type: "raft"}, Members: []cluster.MemberID{"node1", "node2"}},
			{Config: GroupConfig{Name: "b", Type: "raft"}, Members: []cluster.MemberID{"node1"}},
		},
	}
	adata, err := EncodeInfo(a)
	if err != nil {
		t.Fatal(err)
	}
	bdata, err := EncodeInfo(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(adata, bdata) {
		t.Error("identical content produced different encodings")
	}
}
