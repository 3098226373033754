// Package cache holds the Redis-backed entitlement snapshot cache.
// Only the synchronization engine writes it; readers fall back to the store on miss.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbeaudouin05/sitterhub-billing/api/metrics"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
)

const (
	entitlementKeyPrefix = "sitterhub:entitlements:"
	defaultTTL           = 24 * time.Hour
	fieldData            = "data"
)

// putIfNewerScript writes the snapshot only if its version is newer than the stored one.
// KEYS[1] = snapshot hash key
// ARGV[1] = version (unix micros), ARGV[2] = JSON snapshot, ARGV[3] = TTL in ms
// Returns 1 if written, 0 if a newer or equal version is already cached.
var putIfNewerScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// invalidateScript drops the snapshot data but keeps the highest version seen, so a delayed
// write of an older snapshot is still rejected by putIfNewerScript.
// KEYS[1] = snapshot hash key
// ARGV[1] = version (unix micros), ARGV[2] = TTL in ms
var invalidateScript = redis.NewScript(`
redis.call('HDEL', KEYS[1], 'data')
local current = redis.call('HGET', KEYS[1], 'version')
if not current or tonumber(current) < tonumber(ARGV[1]) then
	redis.call('HSET', KEYS[1], 'version', ARGV[1])
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// EntitlementCache stores per-user entitlement snapshots in Redis hashes.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewEntitlementCache returns a cache writing snapshots with ttl. A non-positive ttl means 24h.
func NewEntitlementCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *EntitlementCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &EntitlementCache{client: client, ttl: ttl, logger: logger}
}

func (c *EntitlementCache) key(userID string) string {
	return entitlementKeyPrefix + userID
}

// Put stores plan for the user unless a snapshot with a newer version is already cached.
func (c *EntitlementCache) Put(ctx context.Context, plan billingdb.UserPlan, version time.Time) (bool, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return false, fmt.Errorf("failed to encode entitlement snapshot: %w", err)
	}
	res, err := putIfNewerScript.Run(ctx, c.client, []string{c.key(plan.UserID)},
		version.UnixMicro(), string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		metrics.CacheOperations.WithLabelValues("put", "error").Inc()
		return false, fmt.Errorf("failed to write entitlement snapshot: %w", err)
	}
	if res == 0 {
		metrics.CacheOperations.WithLabelValues("put", "stale").Inc()
		c.logger.Debug("entitlement snapshot not written, newer version cached", "user_id", plan.UserID)
		return false, nil
	}
	metrics.CacheOperations.WithLabelValues("put", "ok").Inc()
	return true, nil
}

// Get returns the cached snapshot. ok is false on a cache miss.
func (c *EntitlementCache) Get(ctx context.Context, userID string) (plan billingdb.UserPlan, ok bool, err error) {
	result, err := c.client.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return billingdb.UserPlan{}, false, fmt.Errorf("failed to read entitlement snapshot: %w", err)
	}
	raw, found := result[fieldData]
	if !found {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return billingdb.UserPlan{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return billingdb.UserPlan{}, false, fmt.Errorf("failed to decode entitlement snapshot: %w", err)
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return plan, true, nil
}

// Invalidate drops the cached snapshot for the user and remembers version.
func (c *EntitlementCache) Invalidate(ctx context.Context, userID string, version time.Time) error {
	if err := invalidateScript.Run(ctx, c.client, []string{c.key(userID)},
		version.UnixMicro(), c.ttl.Milliseconds()).Err(); err != nil {
		metrics.CacheOperations.WithLabelValues("invalidate", "error").Inc()
		return fmt.Errorf("failed to invalidate entitlement snapshot: %w", err)
	}
	metrics.CacheOperations.WithLabelValues("invalidate", "ok").Inc()
	return nil
}
