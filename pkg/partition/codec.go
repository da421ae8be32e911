package partition

import (
	"bytes"
	"encoding/gob"
	"sort"

	"github.com/pkg/errors"

	"github.com/criticalstack/partd/pkg/cluster"
)

// wireInfo is the gob form of the bootstrap envelope. The optional system
// record is carried as a value plus presence flag so the encoding never
// depends on pointer handling.
type wireInfo struct {
	MemberID  cluster.MemberID
	HasSystem bool
	System    GroupMembership
	Groups    []GroupMembership
}

// EncodeInfo serializes a bootstrap envelope. Group lists and member sets
// are sorted before encoding so identical content always produces identical
// bytes.
func EncodeInfo(info *Info) ([]byte, error) {
	w := wireInfo{
		MemberID: info.MemberID,
		Groups:   make([]GroupMembership, len(info.Groups)),
	}
	if info.System != nil {
		w.HasSystem = true
		w.System = canonical(*info.System)
	}
	copy(w.Groups, info.Groups)
	for i := range w.Groups {
		w.Groups[i] = canonical(w.Groups[i])
	}
	sort.Slice(w.Groups, func(i, j int) bool { return w.Groups[i].Name() < w.Groups[j].Name() })

	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(w); err != nil {
		return nil, errors.Wrap(err, "cannot encode partition group info")
	}
	return b.Bytes(), nil
}

// DecodeInfo deserializes a bootstrap envelope.
func DecodeInfo(data []byte) (*Info, error) {
	var w wireInfo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, errors.Wrap(err, "cannot decode partition group info")
	}
	info := &Info{
		MemberID: w.MemberID,
		Groups:   w.Groups,
	}
	if w.HasSystem {
		sys := w.System
		info.System = &sys
	}
	return info, nil
}

func canonical(g GroupMembership) GroupMembership {
	g.Members = newMemberSet(g.Members...).sorted()
	return g
}
