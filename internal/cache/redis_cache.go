package cache

import (
	"context"
	"encoding/json"
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
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func seenKey(botID, messageID string) string {
	return fmt.Sprintf("relay:seen:%s:%s", botID, messageID)
}

func sentKey(botID, messageID, destinationID string) string {
	return fmt.Sprintf("relay:%s:%s:%s", botID, messageID, destinationID)
}

// MarkSeen reports whether this is the first time messageID was seen for
// botID within the TTL.
func (c *RedisCache) MarkSeen(ctx context.Context, botID, messageID string) (bool, error) {
	return c.rdb.SetNX(ctx, seenKey(botID, messageID), time.Now().UTC().Unix(), c.ttl).Result()
}

func (c *RedisCache) StoreSent(ctx context.Context, botID, messageID, destinationID, remoteMessageID string, sentAt time.Time) error {
	val := sentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, sentKey(botID, messageID, destinationID), b, c.ttl).Err()
}
