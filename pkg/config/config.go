// Package config defines the partd node configuration file format.
package config

import (
	"fmt"
	"io/ioutil"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/criticalstack/partd/pkg/cluster"
	"github.com/criticalstack/partd/pkg/netutil"
	"github.com/criticalstack/partd/pkg/partition"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

const (
	// DefaultPort is the default cluster messaging port.
	DefaultPort = 5678
)

// Group describes one partition group in the configuration file. Config is
// the free-form, type-specific option block validated through the group type
// registry.
type Group struct {
	Name   string                 `yaml:"name"`
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config,omitempty"`
}

type Config struct {
	// name used as the member identifier, should generally be left alone so
	// that a random name is generated
	Name string `yaml:"name,omitempty"`

	// optional namespace prefix for the member identifier
	Namespace string `yaml:"namespace,omitempty"`

	// allows for explicit setting of the host ip
	Host string `yaml:"host,omitempty"`

	// port used for cluster messaging
	Port int `yaml:"port,omitempty"`

	// address used for the gossip network
	GossipAddr string `yaml:"gossipAddr,omitempty"`

	// addresses used to bootstrap the gossip network
	BootstrapAddrs []string `yaml:"bootstrapAddrs,omitempty"`

	// the system management group descriptor, present only on nodes
	// participating in system metadata management
	ManagementGroup *Group `yaml:"managementGroup,omitempty"`

	// data partition group descriptors
	PartitionGroups []Group `yaml:"partitionGroups,omitempty"`
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config file: %#v", path)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config file: %#v", path)
	}
	return cfg, nil
}

// Validate applies defaults and checks every partition group against the
// registry of known group types.
func (c *Config) Validate(r *partition.TypeRegistry) error {
	if c.Name == "" {
		c.Name = fmt.Sprintf("%X", rand.Uint64())
	}

	// If the host is not set the IPv4 of the first non-loopback network
	// adapter is used. The host is used for cluster messaging, and as the
	// gossip host when the gossip address is unset or its host unspecified.
	if c.Host == "" {
		var err error
		c.Host, err = netutil.DetectHostIPv4()
		if err != nil {
			return err
		}
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	if c.GossipAddr == "" {
		c.GossipAddr = fmt.Sprintf("%s:%d", c.Host, cluster.DefaultGossipPort)
	}
	gaddr, err := netutil.ParseAddr(c.GossipAddr)
	if err != nil {
		return errors.Wrapf(err, "cannot parse gossipAddr: %#v", c.GossipAddr)
	}
	if gaddr.IsUnspecified() {
		gaddr.Host = c.Host
	}
	if gaddr.Port == 0 {
		gaddr.Port = cluster.DefaultGossipPort
	}
	c.GossipAddr = gaddr.String()

	for i, baddr := range c.BootstrapAddrs {
		addr, err := netutil.FixUnspecifiedHostAddr(baddr)
		if err != nil {
			return errors.Wrapf(err, "cannot determine ipv4 address from host string: %#v", baddr)
		}
		c.BootstrapAddrs[i] = addr
	}

	if c.ManagementGroup != nil {
		if err := c.ManagementGroup.validate(r); err != nil {
			return err
		}
	}
	names := make(map[string]struct{})
	for i := range c.PartitionGroups {
		g := &c.PartitionGroups[i]
		if err := g.validate(r); err != nil {
			return err
		}
		if _, ok := names[g.Name]; ok {
			return errors.Errorf("duplicate partition group name: %#v", g.Name)
		}
		names[g.Name] = struct{}{}
		if c.ManagementGroup != nil && g.Name == c.ManagementGroup.Name {
			return errors.Errorf("partition group name collides with management group: %#v", g.Name)
		}
	}
	return nil
}

func (g *Group) validate(r *partition.TypeRegistry) error {
	if g.Name == "" {
		return errors.New("partition group name must not be empty")
	}
	spec, ok := r.Get(g.Type)
	if !ok {
		return errors.Errorf("unknown partition group type: %#v", g.Type)
	}
	if g.Config != nil {
		data, err := yaml.Marshal(g.Config)
		if err != nil {
			return errors.Wrapf(err, "cannot encode config for group %#v", g.Name)
		}
		if err := spec.ValidateConfig(data); err != nil {
			return errors.Wrapf(err, "group %#v", g.Name)
		}
	}
	return nil
}

// MemberID returns the member identifier derived from namespace and name.
func (c *Config) MemberID() cluster.MemberID {
	return cluster.NewMemberID(c.Namespace, c.Name)
}

// GossipHostPort splits the validated gossip address.
func (c *Config) GossipHostPort() (string, int, error) {
	return netutil.SplitHostPort(c.GossipAddr)
}

// GroupsConfig converts the file representation into the manager's group
// configuration.
func (c *Config) GroupsConfig() (partition.GroupsConfig, error) {
	gc := partition.GroupsConfig{Groups: make(map[string]partition.GroupConfig)}
	if c.ManagementGroup != nil {
		g, err := c.ManagementGroup.groupConfig()
		if err != nil {
			return gc, err
		}
		gc.System = &g
	}
	for i := range c.PartitionGroups {
		g, err := c.PartitionGroups[i].groupConfig()
		if err != nil {
			return gc, err
		}
		gc.Groups[g.Name] = g
	}
	return gc, nil
}

func (g *Group) groupConfig() (partition.GroupConfig, error) {
	cfg := partition.GroupConfig{Name: g.Name, Type: g.Type}
	if g.Config != nil {
		data, err := yaml.Marshal(g.Config)
		if err != nil {
			return cfg, errors.Wrapf(err, "cannot encode config for group %#v", g.Name)
		}
		cfg.Config = data
	}
	return cfg, nil
}
