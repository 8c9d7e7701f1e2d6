// Package cache is a Redis-backed read-through cache sitting in front of
// domain/registry.PeerRegistry lookups and inbound idempotency-key dedup,
// using prefixed keys with a TTL, backed by go-redis/redis/v8 so state
// survives an actor restart and can be shared across a broker's replicas.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/testbed-control-plane/domain/kernel"
	"github.com/R3E-Network/testbed-control-plane/domain/registry"
	cperrors "github.com/R3E-Network/testbed-control-plane/infrastructure/errors"
)

// ProxyCache is a read-through cache for registry.ProxyHandle lookups,
// fronting whatever registry.BrokerStore the actor is already using.
type ProxyCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	next      registry.BrokerStore
}

// NewProxyCache wraps next (typically a store/postgres.Store or
// store/memstore.Store) with a Redis read-through layer.
func NewProxyCache(client *redis.Client, next registry.BrokerStore, ttl time.Duration) *ProxyCache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &ProxyCache{client: client, keyPrefix: "proxy:brokers", ttl: ttl, next: next}
}

// GetBrokers serves from Redis when present, otherwise falls through to the
// backing store and repopulates the cache.
func (c *ProxyCache) GetBrokers(ctx context.Context) ([]registry.ProxyHandle, error) {
	raw, err := c.client.Get(ctx, c.keyPrefix).Bytes()
	if err == nil {
		var handles []registry.ProxyHandle
		if jerr := json.Unmarshal(raw, &handles); jerr == nil {
			return handles, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, cperrors.Internal("redis get brokers", err)
	}

	handles, err := c.next.GetBrokers(ctx)
	if err != nil {
		return nil, err
	}
	if payload, jerr := json.Marshal(handles); jerr == nil {
		_ = c.client.Set(ctx, c.keyPrefix, payload, c.ttl).Err()
	}
	return handles, nil
}

// PutBroker writes through to the backing store and invalidates the cached
// list so the next GetBrokers call repopulates it.
func (c *ProxyCache) PutBroker(ctx context.Context, handle registry.ProxyHandle) error {
	if err := c.next.PutBroker(ctx, handle); err != nil {
		return err
	}
	return c.client.Del(ctx, c.keyPrefix).Err()
}

var _ registry.BrokerStore = (*ProxyCache)(nil)

// IdempotencyCache deduplicates inbound protocol calls keyed by
// (reservation id, operation generation): a peer retrying a dropped reply
// gets back the reply this actor already computed instead of re-running the
// operation. Every PeerProxy call carries such a key.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyCache constructs a cache with a retention window: replies
// older than ttl are assumed to no longer need dedup (the caller has given
// up retrying).
func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

func idempotencyKey(op string, key kernel.IdempotencyKey) string {
	return "idem:" + op + ":" + key.ReservationID.String() + ":" + formatGeneration(key.Generation)
}

func formatGeneration(gen int64) string {
	const digits = "0123456789"
	if gen == 0 {
		return "0"
	}
	neg := gen < 0
	if neg {
		gen = -gen
	}
	var buf []byte
	for gen > 0 {
		buf = append([]byte{digits[gen%10]}, buf...)
		gen /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

// Lookup returns a previously cached reply payload for (op, key), if one was
// stored by a prior call to Store.
func (c *IdempotencyCache) Lookup(ctx context.Context, op string, key kernel.IdempotencyKey) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, idempotencyKey(op, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cperrors.Internal("redis get idempotency", err)
	}
	return raw, true, nil
}

// Store records payload as the canonical reply for (op, key), so a retried
// call within ttl gets the same answer without re-running the operation.
func (c *IdempotencyCache) Store(ctx context.Context, op string, key kernel.IdempotencyKey, payload []byte) error {
	if err := c.client.Set(ctx, idempotencyKey(op, key), payload, c.ttl).Err(); err != nil {
		return cperrors.Internal("redis set idempotency", err)
	}
	return nil
}

// NewClient constructs a go-redis client from addr (host:port), mirroring
// the daemon's other infrastructure constructors that take a plain DSN-like
// string rather than requiring callers to build redis.Options themselves.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
