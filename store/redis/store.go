// Package redis implements the trigger-cache sink on Redis. Compiled
// triggers are written as msgpack payloads keyed per tenant and
// trigger, plus a per-tenant set index so consumers can enumerate a
// tenant's active triggers.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Lakakaku/alpha-sub015/rule"
)

// Compile-time interface check.
var _ rule.TriggerCache = (*TriggerCache)(nil)

const keyPrefix = "rulecache:trigger:"

// triggerKey returns the storage key for one compiled trigger.
func triggerKey(tenantID, triggerID string) string {
	return keyPrefix + tenantID + ":" + triggerID
}

// indexKey returns the per-tenant set indexing trigger IDs.
func indexKey(tenantID string) string {
	return keyPrefix + tenantID + ":index"
}

// TriggerCache writes compiled triggers to Redis.
type TriggerCache struct {
	client redis.Cmdable

	// ttl bounds entry lifetime. Zero means entries never expire.
	ttl time.Duration
}

// Option configures a TriggerCache.
type Option func(*TriggerCache)

// WithTTL sets an expiry on written trigger entries.
func WithTTL(d time.Duration) Option {
	return func(tc *TriggerCache) { tc.ttl = d }
}

// NewTriggerCache wraps a Redis client. Cmdable accepts both single
// clients and cluster clients.
func NewTriggerCache(client redis.Cmdable, opts ...Option) *TriggerCache {
	tc := &TriggerCache{client: client}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// PutTrigger stores a compiled trigger and registers it in the tenant's
// index set.
func (tc *TriggerCache) PutTrigger(ctx context.Context, compiled *rule.CompiledTrigger) error {
	payload, err := msgpack.Marshal(compiled)
	if err != nil {
		return fmt.Errorf("redis: encode trigger %s/%s: %w", compiled.TenantID, compiled.TriggerID, err)
	}

	pipe := tc.client.TxPipeline()
	pipe.Set(ctx, triggerKey(compiled.TenantID, compiled.TriggerID), payload, tc.ttl)
	pipe.SAdd(ctx, indexKey(compiled.TenantID), compiled.TriggerID)
	if tc.ttl > 0 {
		pipe.Expire(ctx, indexKey(compiled.TenantID), tc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put trigger %s/%s: %w", compiled.TenantID, compiled.TriggerID, err)
	}
	return nil
}

// GetTrigger reads back one compiled trigger. Returns redis.Nil-wrapped
// error when absent.
func (tc *TriggerCache) GetTrigger(ctx context.Context, tenantID, triggerID string) (*rule.CompiledTrigger, error) {
	payload, err := tc.client.Get(ctx, triggerKey(tenantID, triggerID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis: get trigger %s/%s: %w", tenantID, triggerID, err)
	}

	var compiled rule.CompiledTrigger
	if err := msgpack.Unmarshal(payload, &compiled); err != nil {
		return nil, fmt.Errorf("redis: decode trigger %s/%s: %w", tenantID, triggerID, err)
	}
	return &compiled, nil
}

// ListTriggerIDs returns the trigger IDs indexed for a tenant.
func (tc *TriggerCache) ListTriggerIDs(ctx context.Context, tenantID string) ([]string, error) {
	ids, err := tc.client.SMembers(ctx, indexKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list triggers %s: %w", tenantID, err)
	}
	return ids, nil
}

// DeleteTrigger removes one compiled trigger and its index entry.
func (tc *TriggerCache) DeleteTrigger(ctx context.Context, tenantID, triggerID string) error {
	pipe := tc.client.TxPipeline()
	pipe.Del(ctx, triggerKey(tenantID, triggerID))
	pipe.SRem(ctx, indexKey(tenantID), triggerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete trigger %s/%s: %w", tenantID, triggerID, err)
	}
	return nil
}
