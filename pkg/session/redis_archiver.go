package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKV is the subset of the go-redis client the archiver uses.
type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// RedisArchiver stores each session as a JSON string under prefix+id with a TTL.
type RedisArchiver struct {
	client redisKV
	prefix string
	ttl    time.Duration
}

// NewRedisArchiver connects to the redis server at url.
func NewRedisArchiver(url, prefix string, ttl time.Duration) (*RedisArchiver, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return newRedisArchiver(redis.NewClient(opts), prefix, ttl), nil
}

func newRedisArchiver(client redisKV, prefix string, ttl time.Duration) *RedisArchiver {
	if prefix == "" {
		prefix = "nexus:session:"
	}
	return &RedisArchiver{client: client, prefix: prefix, ttl: ttl}
}

func (a *RedisArchiver) Name() string { return "redis" }

// Archive writes s, overwriting any earlier entry for the same id.
func (a *RedisArchiver) Archive(ctx context.Context, s Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := a.client.Set(ctx, a.prefix+s.ID, data, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Lookup reads an archived session.
func (a *RedisArchiver) Lookup(ctx context.Context, id string) (Session, error) {
	raw, err := a.client.Get(ctx, a.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("failed to unmarshal archived session: %w", err)
	}
	return s, nil
}

func (a *RedisArchiver) Close() error {
	return a.client.Close()
}
