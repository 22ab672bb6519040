package unread

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHints stores hints in one hash per user: unread:<userID> -> {conversationID: count}.
// Shared by every instance so a user's hints survive reconnecting to another node.
type RedisHints struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisHints builds a RedisHints. Keys expire after ttl of inactivity.
func NewRedisHints(client *redis.Client, prefix string, ttl time.Duration) *RedisHints {
	return &RedisHints{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisHints) key(userID int64) string {
	return fmt.Sprintf("%s:unread:%d", r.prefix, userID)
}

func (r *RedisHints) Incr(ctx context.Context, userID, conversationID int64, delta int) (int, error) {
	key := r.key(userID)
	field := strconv.FormatInt(conversationID, 10)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, field, int64(delta))
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	value := int(incr.Val())
	if value < 0 {
		if err := r.client.HSet(ctx, key, field, 0).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return value, nil
}

func (r *RedisHints) Set(ctx context.Context, userID, conversationID int64, value int) error {
	key := r.key(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.FormatInt(conversationID, 10), clamp(value))
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *RedisHints) Get(ctx context.Context, userID, conversationID int64) (int, bool, error) {
	v, err := r.client.HGet(ctx, r.key(userID), strconv.FormatInt(conversationID, 10)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return clamp(v), true, nil
}

func (r *RedisHints) All(ctx context.Context, userID int64) (map[int64]int, error) {
	raw, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(raw))
	for field, value := range raw {
		convID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		out[convID] = clamp(count)
	}
	return out, nil
}

func (r *RedisHints) Reset(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}
