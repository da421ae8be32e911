package partition

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// TypeSpec describes one partition group type. ValidateConfig checks the
// type-specific config blob carried by a GroupConfig.
type TypeSpec struct {
	Name           string
	ValidateConfig func(data []byte) error
}

// TypeRegistry is a lookup table of the partition group types known to this
// node, keyed by type name.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]TypeSpec
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]TypeSpec)}
}

func (r *TypeRegistry) Register(spec TypeSpec) error {
	if spec.Name == "" {
		return errors.New("group type name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[spec.Name]; ok {
		return errors.Errorf("group type already registered: %#v", spec.Name)
	}
	r.types[spec.Name] = spec
	return nil
}

func (r *TypeRegistry) Get(name string) (TypeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.types[name]
	return spec, ok
}

func (r *TypeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RaftOptions is the config blob understood by the raft group type.
type RaftOptions struct {
	Partitions    int    `yaml:"partitions"`
	PartitionSize int    `yaml:"partitionSize"`
	StorageLevel  string `yaml:"storageLevel"`
}

// PrimaryBackupOptions is the config blob understood by the primary-backup
// group type.
type PrimaryBackupOptions struct {
	Partitions int `yaml:"partitions"`
	Backups    int `yaml:"backups"`
}

// DefaultTypeRegistry returns a registry with the built-in group types.
func DefaultTypeRegistry() *TypeRegistry {
	r := NewTypeRegistry()
	_ = r.Register(TypeSpec{
		Name: "raft",
		ValidateConfig: func(data []byte) error {
			opts := RaftOptions{}
			if err := yaml.UnmarshalStrict(data, &opts); err != nil {
				return errors.Wrap(err, "invalid raft group config")
			}
			if opts.Partitions < 0 || opts.PartitionSize < 0 {
				return errors.New("raft group partition counts must not be negative")
			}
			return nil
		},
	})
	_ = r.Register(TypeSpec{
		Name: "primary-backup",
		ValidateConfig: func(data []byte) error {
			opts := PrimaryBackupOptions{}
			if err := yaml.UnmarshalStrict(data, &opts); err != nil {
				return errors.Wrap(err, "invalid primary-backup group config")
			}
			if opts.Partitions < 0 || opts.Backups < 0 {
				return errors.New("primary-backup group counts must not be negative")
			}
			return nil
		},
	})
	return r
}
