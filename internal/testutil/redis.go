//go:build integration || e2e

package testutil

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
)

// Client opens a connection to database db, closed when the test ends.
func Client(t *testing.T, addr string, db int) *redis.Client {
	t.Helper()
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	t.Cleanup(func() { c.Close() })
	return c
}

// Seed writes hashes into a Redis database. The map is
// { "TABLE": { "key": { "field": "value", ... }, ... }, ... }; each entry
// becomes a hash at "TABLE|key".
func Seed(t *testing.T, addr string, db int, tables map[string]map[string]map[string]string) {
	t.Helper()
	c := Client(t, addr, db)
	pipe := c.TxPipeline()
	for table, entries := range tables {
		for key, fields := range entries {
			vals := make(map[string]interface{}, len(fields))
			for k, v := range fields {
				vals[k] = v
			}
			pipe.HSet(context.Background(), table+"|"+key, vals)
		}
	}
	if _, err := pipe.Exec(context.Background()); err != nil {
		t.Fatalf("seeding db %d: %v", db, err)
	}
}

// FlushDB empties database db.
func FlushDB(t *testing.T, addr string, db int) {
	t.Helper()
	if err := Client(t, addr, db).FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flushing db %d: %v", db, err)
	}
}

// ReadEntry returns the hash at "table|key".
func ReadEntry(t *testing.T, addr string, db int, table, key string) map[string]string {
	t.Helper()
	vals, err := Client(t, addr, db).HGetAll(context.Background(), table+"|"+key).Result()
	if err != nil {
		t.Fatalf("reading %s|%s: %v", table, key, err)
	}
	return vals
}

// EntryExists reports whether "table|key" is present.
func EntryExists(t *testing.T, addr string, db int, table, key string) bool {
	t.Helper()
	n, err := Client(t, addr, db).Exists(context.Background(), table+"|"+key).Result()
	if err != nil {
		t.Fatalf("checking %s|%s: %v", table, key, err)
	}
	return n > 0
}
