package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"courier/pkg/interfaces"
	"courier/pkg/types"
)

const redisConnectTimeout = 5 * time.Second

// RedisStore keeps queues and history in Redis lists, one list per identity
// and one per conversation key. Entries are JSON-encoded messages.
type RedisStore struct {
	client          *redis.Client
	queueCapacity   int
	historyCapacity int
	closed          atomic.Bool
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, queueCapacity, historyCapacity int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}

	return &RedisStore{
		client:          client,
		queueCapacity:   queueCapacity,
		historyCapacity: historyCapacity,
	}, nil
}

// queueKey returns the key for an identity's offline queue list.
func queueKey(identity string) string {
	return fmt.Sprintf("courier:queue:%s", identity)
}

// historyKey returns the key for a conversation's history list.
func historyKey(userA, userB string) string {
	return fmt.Sprintf("courier:history:%s", types.ConversationKey(userA, userB))
}

// Queue appends message to identity's queue and trims it to capacity
func (s *RedisStore) Queue(ctx context.Context, identity string, message *types.Message) error {
	if s.closed.Load() {
		return interfaces.ErrStoreClosed
	}
	return s.pushTrimmed(ctx, queueKey(identity), message, s.queueCapacity)
}

// DrainQueue reads and deletes identity's queue inside MULTI/EXEC
func (s *RedisStore) DrainQueue(ctx context.Context, identity string) ([]*types.Message, error) {
	if s.closed.Load() {
		return nil, interfaces.ErrStoreClosed
	}

	key := queueKey(identity)
	var rangeCmd *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}

	return decodeMessages(rangeCmd.Val())
}

// Record appends message to its conversation list and trims it to capacity
func (s *RedisStore) Record(ctx context.Context, message *types.Message) error {
	if s.closed.Load() {
		return interfaces.ErrStoreClosed
	}
	return s.pushTrimmed(ctx, historyKey(message.From, message.To), message, s.historyCapacity)
}

// History returns up to limit most recent messages, oldest first
func (s *RedisStore) History(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	if s.closed.Load() {
		return nil, interfaces.ErrStoreClosed
	}
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	entries, err := s.client.LRange(ctx, historyKey(userA, userB), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return decodeMessages(entries)
}

// HealthCheck pings the Redis server
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if s.closed.Load() {
		return interfaces.ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection. Safe to call repeatedly.
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) pushTrimmed(ctx context.Context, key string, message *types.Message, capacity int) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-capacity), -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

func decodeMessages(entries []string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0, len(entries))
	for _, entry := range entries {
		var m types.Message
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, nil
}
