package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	replayMaxEvents = 2048
	replayTTL       = 24 * time.Hour
)

// RedisEventCache is the EventCache backed by a Redis list per session.
// Events are appended in seq order and trimmed to the newest window; Since
// filters by seq so a reconnecting client only receives what it missed.
type RedisEventCache struct {
	client *redis.Client
}

// NewRedisEventCache verifies connectivity and returns the cache.
func NewRedisEventCache(ctx context.Context, client *redis.Client) (*RedisEventCache, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisEventCache{client: client}, nil
}

func eventListKey(sessionID string) string {
	return "session:" + sessionID + ":events"
}

// Store appends one serialized event to the session's replay window.
func (c *RedisEventCache) Store(ctx context.Context, sessionID string, _ uint64, data []byte) error {
	key := eventListKey(sessionID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(replayMaxEvents), -1)
	pipe.Expire(ctx, key, replayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	return nil
}

// Since returns the cached events with seq greater than afterSeq, oldest
// first. Entries that fail to decode are skipped.
func (c *RedisEventCache) Since(ctx context.Context, sessionID string, afterSeq uint64) ([][]byte, error) {
	raw, err := c.client.LRange(ctx, eventListKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	var out [][]byte
	for _, entry := range raw {
		var envelope struct {
			Seq uint64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(entry), &envelope); err != nil {
			continue
		}
		if envelope.Seq > afterSeq {
			out = append(out, []byte(entry))
		}
	}
	return out, nil
}

// Drop discards a session's replay window, called at session end.
func (c *RedisEventCache) Drop(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, eventListKey(sessionID)).Err()
}
