package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/provider"
	"github.com/tbkit-project/tbkit/pkg/remote"
	"github.com/tbkit-project/tbkit/pkg/settings"
	"github.com/tbkit-project/tbkit/pkg/topology"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// topologyDB is the Redis database holding topology snapshots.
const topologyDB = 0

// fromRedis makes commands read the topology snapshot from Redis instead
// of contacting the hosts.
var fromRedis bool

// testbed is what a provider returned plus the synced topology.
type testbed struct {
	roles    inventory.Roles
	networks inventory.Networks
	topo     topology.Map
}

func (tb *testbed) hosts() []*inventory.Host {
	return tb.roles.All().Sorted()
}

// rolesOf lists the roles alias holds, sorted.
func (tb *testbed) rolesOf(alias string) []string {
	var out []string
	for _, name := range tb.roles.Names() {
		if tb.roles[name].Contains(alias) {
			out = append(out, name)
		}
	}
	return out
}

func newProvider() (provider.Provider, error) {
	return provider.New(provider.Kind(providerKind), provider.Options{
		InventoryFile: inventoryFile,
		Alias:         localAlias,
		Roles:         localRoles,
	})
}

// openTestbed runs the provider and syncs the topology of its hosts with
// exec (or from Redis with --from-redis).
func openTestbed(ctx context.Context, cfg settings.Config, exec remote.Executor) (*testbed, error) {
	p, err := newProvider()
	if err != nil {
		return nil, err
	}
	roles, networks, err := p.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", providerKind, err)
	}
	tb := &testbed{roles: roles, networks: networks}

	syncer, done, err := newSyncer(ctx, cfg, exec)
	if err != nil {
		return nil, err
	}
	defer done()

	tb.topo, err = syncer.Sync(ctx, tb.hosts())
	if err != nil {
		return nil, fmt.Errorf("topology sync: %w", err)
	}
	tb.topo.Bind(networks)
	util.WithField("hosts", len(tb.topo)).Debug("topology synced")
	return tb, nil
}

// newSyncer picks where the topology comes from. done releases it.
func newSyncer(ctx context.Context, cfg settings.Config, exec remote.Executor) (topology.Syncer, func(), error) {
	nop := func() {}
	util.Debugf("topology source: provider=%s from-redis=%v", providerKind, fromRedis)
	switch {
	case fromRedis:
		store, err := openTopologyStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case provider.Kind(providerKind) == provider.KindLocal:
		return topology.LocalSyncer{}, nop, nil
	default:
		return topology.NewSSHSyncer(exec), nop, nil
	}
}

func openTopologyStore(ctx context.Context, cfg settings.Config) (*topology.RedisStore, error) {
	if cfg.TopologyRedis == "" {
		return nil, fmt.Errorf("no topology Redis configured: use 'tbkit settings set topology_redis <addr>' or TBKIT_TOPOLOGY_REDIS")
	}
	store := topology.NewRedisStore(cfg.TopologyRedis, topologyDB)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// bindings renders the addresses of d as "10.0.0.1/24 (lan)".
func bindings(d topology.Device) string {
	parts := make([]string, 0, len(d.Bindings))
	for _, b := range d.Bindings {
		s := fmt.Sprintf("%s/%d", b.Addr, b.Prefix.Bits())
		if len(b.Networks) > 0 {
			s += " (" + strings.Join(b.Networks, ",") + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
