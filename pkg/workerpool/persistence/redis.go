package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a Redis list, with a hash tracking items
// that have been popped but not yet acked. Survives process restarts;
// RecoverProcessing requeues work a crashed consumer left behind.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// NewRedisQueue connects to Redis at url (redis://...) and verifies the
// connection. keyPrefix namespaces the queue's keys.
func NewRedisQueue(ctx context.Context, url, keyPrefix string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("persistence: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("persistence: redis connection failed: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "taskpool"
	}
	return &RedisQueue{client: client, prefix: keyPrefix}, nil
}

func (q *RedisQueue) pendingKey() string    { return q.prefix + ":pending" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }

func (q *RedisQueue) Push(ctx context.Context, item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.pendingKey(), data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (*Item, error) {
	data, err := q.client.RPop(ctx, q.pendingKey()).Bytes()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}

	if err := q.client.HSet(ctx, q.processingKey(), item.ID, data).Err(); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisQueue) Peek(ctx context.Context) (*Item, error) {
	data, err := q.client.LIndex(ctx, q.pendingKey(), -1).Bytes()
	if err == redis.Nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, err
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisQueue) Ack(ctx context.Context, itemID string) error {
	n, err := q.client.HDel(ctx, q.processingKey(), itemID).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, itemID string) error {
	data, err := q.client.HGet(ctx, q.processingKey(), itemID).Bytes()
	if err == redis.Nil {
		return ErrNotProcessing
	}
	if err != nil {
		return err
	}

	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	item.Attempts++

	requeued, err := json.Marshal(&item)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.HDel(ctx, q.processingKey(), itemID)
	pipe.LPush(ctx, q.pendingKey(), requeued)
	_, err = pipe.Exec(ctx)
	return err
}

// RecoverProcessing moves every unacked item back onto the pending list.
// Call once at startup, before consumers run.
func (q *RedisQueue) RecoverProcessing(ctx context.Context) (int, error) {
	entries, err := q.client.HGetAll(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for id, data := range entries {
		pipe := q.client.TxPipeline()
		pipe.HDel(ctx, q.processingKey(), id)
		pipe.LPush(ctx, q.pendingKey(), data)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.pendingKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
