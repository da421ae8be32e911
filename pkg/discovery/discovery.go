// Package discovery provides bootstrap peer discovery for joining the
// cluster gossip network.
package discovery

import (
	"context"
)

type PeerGetter interface {
	GetAddrs(context.Context) ([]string, error)
}

type NoopGetter struct{}

func (*NoopGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return []string{}, nil
}

// StaticGetter returns a fixed peer list, the common case when seed
// addresses are provided in configuration.
type StaticGetter struct {
	Addrs []string
}

func (g *StaticGetter) GetAddrs(ctx context.Context) ([]string, error) {
	return g.Addrs, nil
}
