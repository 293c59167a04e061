package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultIdempotencyTTL is how long a used key blocks replays.
	DefaultIdempotencyTTL = 10 * time.Minute

	minIdempotencyKeyLen = 8
	maxIdempotencyKeyLen = 128
)

// IdempotencyStore remembers idempotency keys for a TTL. Admit reports true
// the first time a key is seen within the TTL and false on every replay.
type IdempotencyStore interface {
	Admit(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryIdempotencyStore keeps keys in a process-local TTL cache.
type MemoryIdempotencyStore struct {
	cache *cache.Cache
}

// NewMemoryIdempotencyStore creates an in-process store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{cache: cache.New(DefaultIdempotencyTTL, time.Minute)}
}

// Admit records key unless it is already present.
func (s *MemoryIdempotencyStore) Admit(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.cache.Add(key, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisIdempotencyStore keeps keys in Redis so replays are caught across
// instances.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore creates a shared store.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "werkplatz:idempotency:"}
}

// Admit records key with SET NX PX.
func (s *RedisIdempotencyStore) Admit(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("admit idempotency key: %w", err)
	}
	return ok, nil
}

func validIdempotencyKey(key string) bool {
	return len(key) >= minIdempotencyKeyLen && len(key) <= maxIdempotencyKeyLen
}
