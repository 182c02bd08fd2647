package continuation

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultLedgerPrefix namespaces continuation keys in a shared Redis.
const DefaultLedgerPrefix = "sinapsi:continuation:"

// RedisLedger is a continuation ledger shared by every process of a device,
// built on SET NX with an expiry. It implements engine.ContinuationLedger.
type RedisLedger struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger creates a ledger. A zero ttl keeps keys forever.
func NewRedisLedger(client *backend.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = DefaultLedgerPrefix
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

// Claim records key and reports true the first time it is seen.
func (l *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis error claiming continuation key: %w", err)
	}
	return ok, nil
}

// Ping checks the Redis connection.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
