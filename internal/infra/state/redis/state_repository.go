package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"listenparty/internal/repository"
)

// RedisStateRepository keeps session snapshots and rate-limit counters in
// redis. It implements repository.SessionRepository and repository.RateLimiter.
type RedisStateRepository struct {
	client     *redis.Client
	keyPrefix  string
	sessionTTL time.Duration
}

// NewRedisStateRepository creates a RedisStateRepository. Session
// snapshots expire after sessionTTL; zero keeps them forever.
func NewRedisStateRepository(client *redis.Client, keyPrefix string, sessionTTL time.Duration) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "lp:"
	}
	return &RedisStateRepository{
		client:     client,
		keyPrefix:  keyPrefix,
		sessionTTL: sessionTTL,
	}
}

// --- Key Generation Helpers ---
func (r *RedisStateRepository) roomSessionKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:session", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) rateLimitKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", r.keyPrefix, key)
}

// Save stores the snapshot and refreshes its expiry.
func (r *RedisStateRepository) Save(ctx context.Context, roomID string, data []byte) error {
	key := r.roomSessionKey(roomID)
	if err := r.client.Set(ctx, key, data, r.sessionTTL).Err(); err != nil {
		return fmt.Errorf("redis: failed to save session of room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

func (r *RedisStateRepository) Load(ctx context.Context, roomID string) ([]byte, error) {
	key := r.roomSessionKey(roomID)
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis: failed to load session of room %s from %s: %w", roomID, key, err)
	}
	return data, nil
}

func (r *RedisStateRepository) Delete(ctx context.Context, roomID string) error {
	key := r.roomSessionKey(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete session of room %s on key %s: %w", roomID, key, err)
	}
	return nil
}

// CheckRateLimit increments the counter of key inside a fixed window.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	key = r.rateLimitKey(key)
	// INCR and EXPIRE travel in one pipeline; the window restarts on every hit
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}
