package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"costshield/internal/models"
)

// RedisQueue implements Queue using a Redis list
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a new Redis-backed queue
func NewRedisQueue(config *Config) (*RedisQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("queue:%s", config.Name),
	}, nil
}

// Enqueue adds a record to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}

	return nil
}

// DequeueBatch retrieves up to maxItems records, waiting up to wait for the
// first one
func (q *RedisQueue) DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]*models.UsageRecord, error) {
	result, err := q.client.BLPop(ctx, wait, q.key).Result()
	if err == redis.Nil {
		return []*models.UsageRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	batch, err := appendRecord(nil, result[1])
	if err != nil {
		return nil, err
	}

	// Drain more without blocking
	for len(batch) < maxItems {
		data, err := q.client.LPop(ctx, q.key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return batch, nil // Return what we have so far
		}
		if batch, err = appendRecord(batch, data); err != nil {
			return batch, err
		}
	}

	return batch, nil
}

func appendRecord(batch []*models.UsageRecord, data string) ([]*models.UsageRecord, error) {
	var record models.UsageRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return batch, fmt.Errorf("failed to unmarshal usage record: %w", err)
	}
	return append(batch, &record), nil
}

// Length returns the current queue length
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close shuts down the queue
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisDeadLetterQueue implements DeadLetterQueue using a Redis hash
type RedisDeadLetterQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDeadLetterQueue creates a new Redis-backed dead letter queue
func NewRedisDeadLetterQueue(config *Config) (*RedisDeadLetterQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDeadLetterQueue{
		client: client,
		key:    fmt.Sprintf("dlq:%s", config.Name),
	}, nil
}

// Add stores a failed record
func (q *RedisDeadLetterQueue) Add(ctx context.Context, record *models.UsageRecord, cause error) error {
	item := DeadLetterItem{
		ID:        generateID(),
		Record:    record,
		Error:     cause.Error(),
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", err)
	}

	if err := q.client.HSet(ctx, q.key, item.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}

	return nil
}

// List retrieves up to maxItems dead letter items
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var item DeadLetterItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue // Skip malformed items
		}
		items = append(items, item)

		if maxItems > 0 && len(items) >= maxItems {
			break
		}
	}

	return items, nil
}

// Remove deletes a dead letter item by ID
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	if err := q.client.HDel(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	return nil
}

// Close shuts down the dead letter queue
func (q *RedisDeadLetterQueue) Close() error {
	return q.client.Close()
}
