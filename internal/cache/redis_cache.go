package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	Owner  string    `json:"owner"`
	SentAt time.Time `json:"sentAt"`
}

func sentKey(owner, id string) string {
	return fmt.Sprintf("sched:%s:sent:%s", owner, id)
}

func (c *RedisCache) StoreSent(ctx context.Context, owner, id string, sentAt time.Time) error {
	b, err := json.Marshal(sentValue{Owner: owner, SentAt: sentAt.UTC()})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(owner, id), b, c.ttl).Err()
}

// SentAt returns when id was sent, or false if the record is missing or expired.
func (c *RedisCache) SentAt(ctx context.Context, owner, id string) (time.Time, bool, error) {
	raw, err := c.rdb.Get(ctx, sentKey(owner, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	var v sentValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to decode sent record: %w", err)
	}
	return v.SentAt, true, nil
}
