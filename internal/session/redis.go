package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "genchat:"

// RedisStore keeps the key-value entries and the cost ledger in Redis so
// several machines can share one session identity.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{redis: client}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrStoreUnavailable, addr, err)
	}
	return NewRedisStore(client), nil
}

func kvKey(key string) string {
	return redisPrefix + "kv:" + key
}

func costListKey(sessionID string) string {
	return redisPrefix + "cost:" + sessionID
}

const costSessionsKey = redisPrefix + "cost:sessions"

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.redis.Get(ctx, kvKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.redis.Set(ctx, kvKey(key), value, 0).Err()
}

func (s *RedisStore) LogCost(ctx context.Context, entry *CostEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cost entry: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, costListKey(entry.SessionID), data)
	pipe.SAdd(ctx, costSessionsKey, entry.SessionID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) SessionCost(ctx context.Context, sessionID string) (*CostSummary, error) {
	var summary CostSummary
	if err := s.accumulate(ctx, sessionID, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *RedisStore) TotalCost(ctx context.Context) (*CostSummary, error) {
	sessions, err := s.redis.SMembers(ctx, costSessionsKey).Result()
	if err != nil {
		return nil, err
	}

	var summary CostSummary
	for _, id := range sessions {
		if err := s.accumulate(ctx, id, &summary); err != nil {
			return nil, err
		}
	}
	return &summary, nil
}

func (s *RedisStore) accumulate(ctx context.Context, sessionID string, summary *CostSummary) error {
	items, err := s.redis.LRange(ctx, costListKey(sessionID), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range items {
		var e CostEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return fmt.Errorf("failed to parse cost entry: %w", err)
		}
		summary.TotalCost += e.Cost
		summary.ImageCount += e.ImageCount
		summary.EntryCount++
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
