package partition

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultTypeRegistry(t *testing.T) {
	r := DefaultTypeRegistry()
	want := []string{"primary-backup", "raft"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("registered types: (-want +got)\n%s", diff)
	}
}

func TestTypeRegistryDuplicate(t *testing.T) {
	r := NewTypeRegistry()
	if err := r.Register(TypeSpec{Name: "raft"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(TypeSpec{Name: "raft"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestValidateGroupConfig(t *testing.T) {
	r := DefaultTypeRegistry()
	tests := []struct {
		name    string
		gtype   string
		config  string
		wantErr bool
	}{
		{
			"valid raft",
			"raft",
			"partitions: 1\npartitionSize: 3\nstorageLevel: disk\n",
			false,
		},
		{
			"negative raft partitions",
			"raft",
			"partitions: -1\n",
			true,
		},
		{
			"unknown raft field",
			"raft",
			"replicas: 3\n",
			true,
		},
		{
			"valid primary-backup",
			"primary-backup",
			"partitions: 71\nbackups: 2\n",
			false,
		},
	}
	for _, tt := range tests {
		spec, ok := r.Get(tt.gtype)
		if !ok {
			t.Fatalf("%s: type not registered: %v", tt.name, tt.gtype)
		}
		err := spec.ValidateConfig([]byte(tt.config))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: ValidateConfig() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
