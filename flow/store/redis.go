package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints to Redis. Each session is a list of JSON
// checkpoints, which keeps Latest and History cheap and lets an atomic
// script enforce the append sequence.
type RedisStore[S any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithPrefix sets the key prefix. Default "flow".
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// WithTTL sets an expiry on session keys, refreshed on every append. Zero
// (the default) means sessions never expire.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *redisConfig) { c.ttl = ttl }
}

// appendScript pushes the checkpoint only when its seq is exactly one past
// the current list length, making the sequence check atomic on the server.
var appendScript = redis.NewScript(`
if tonumber(ARGV[1]) ~= redis.call('LLEN', KEYS[1]) + 1 then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// NewRedisStore connects to Redis at addr and verifies the connection.
func NewRedisStore[S any](ctx context.Context, addr string, opts ...RedisOption) (*RedisStore[S], error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStoreFromClient[S](client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client, which the caller remains
// responsible for closing.
func NewRedisStoreFromClient[S any](client *redis.Client, opts ...RedisOption) *RedisStore[S] {
	cfg := redisConfig{prefix: "flow"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[S]{client: client, prefix: cfg.prefix, ttl: cfg.ttl}
}

func (r *RedisStore[S]) key(sessionID string) string {
	return r.prefix + ":session:" + sessionID
}

// Append implements Store.
func (r *RedisStore[S]) Append(ctx context.Context, cp Checkpoint[S]) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	ok, err := appendScript.Run(ctx, r.client,
		[]string{r.key(cp.SessionID)},
		cp.Seq, data, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if ok != 1 {
		return fmt.Errorf("session %q seq %d: %w", cp.SessionID, cp.Seq, ErrSequenceConflict)
	}
	return nil
}

// Latest implements Store.
func (r *RedisStore[S]) Latest(ctx context.Context, sessionID string) (Checkpoint[S], error) {
	data, err := r.client.LIndex(ctx, r.key(sessionID), -1).Bytes()
	if err == redis.Nil {
		return Checkpoint[S]{}, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint[S](data)
}

// History implements Store.
func (r *RedisStore[S]) History(ctx context.Context, sessionID string) ([]Checkpoint[S], error) {
	raw, err := r.client.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	out := make([]Checkpoint[S], 0, len(raw))
	for _, data := range raw {
		cp, err := decodeCheckpoint[S]([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close releases the underlying client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}
