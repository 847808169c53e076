package topology

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/tbkit-project/tbkit/pkg/inventory"
	"github.com/tbkit-project/tbkit/pkg/util"
)

// TopologyTable is the key prefix of stored devices: "TOPOLOGY|<alias>|<device>".
const TopologyTable = "TOPOLOGY"

// RedisStore keeps topology snapshots in Redis so later runs can resolve
// addresses without contacting the hosts. Each device is a hash with the
// fields "addresses" (comma-separated prefixes, address bits kept) and
// "loopback".
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func deviceKey(alias, device string) string {
	return TopologyTable + "|" + alias + "|" + device
}

// Save replaces the stored devices of every host in m.
func (s *RedisStore) Save(ctx context.Context, m Map) error {
	for _, alias := range m.Aliases() {
		stale, err := s.keys(ctx, alias)
		if err != nil {
			return err
		}

		pipe := s.client.TxPipeline()
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for _, d := range m[alias].Devices {
			addrs := make([]string, len(d.Bindings))
			for i, b := range d.Bindings {
				addrs[i] = netip.PrefixFrom(b.Addr, b.Prefix.Bits()).String()
			}
			pipe.HSet(ctx, deviceKey(alias, d.Name),
				"addresses", strings.Join(addrs, ","),
				"loopback", fmt.Sprintf("%t", d.Loopback))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis save %s: %w", alias, err)
		}
		util.WithHost(alias).Debugf("stored %d device(s)", len(m[alias].Devices))
	}
	return nil
}

// Sync implements Syncer by loading the stored snapshot. A host with no
// stored devices is absent from the result.
func (s *RedisStore) Sync(ctx context.Context, hosts []*inventory.Host) (Map, error) {
	m := make(Map)
	for _, h := range hosts {
		keys, err := s.keys(ctx, h.Alias)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			util.WithHost(h.Alias).Warnf("no stored topology")
			continue
		}
		ht := &HostTopology{}
		for _, key := range keys {
			vals, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
			}
			d, err := parseDeviceHash(strings.TrimPrefix(key, deviceKey(h.Alias, "")), vals)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			ht.Devices = append(ht.Devices, d)
		}
		sortDevices(ht.Devices)
		m[h.Alias] = ht
	}
	return m, nil
}

func (s *RedisStore) keys(ctx context.Context, alias string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, deviceKey(alias, "*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", alias, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func parseDeviceHash(name string, vals map[string]string) (Device, error) {
	d := Device{Name: name, Loopback: vals["loopback"] == "true"}
	for _, s := range util.SplitCommaSeparated(vals["addresses"]) {
		p, err := util.ParseIPWithMask(s)
		if err != nil {
			return Device{}, err
		}
		d.Bindings = append(d.Bindings, Binding{Addr: p.Addr(), Prefix: p.Masked()})
	}
	return d, nil
}
