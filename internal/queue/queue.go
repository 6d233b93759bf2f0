// Package queue buffers usage records between the request path and the
// recorder worker, with two backends:
//
//  1. Memory queue (channel-based): no persistence, no external
//     dependencies. Suited to single-instance deployments.
//  2. Redis queue (list-based): survives restarts and supports multiple
//     gateway instances draining into one recorder.
//
// Both pair with a dead letter queue holding batches the worker gave up on
// after exhausting its retries.
package queue

import (
	"context"
	"time"

	"costshield/internal/models"
)

// Queue buffers usage records for asynchronous recording
type Queue interface {
	// Enqueue adds a record to the queue
	Enqueue(ctx context.Context, record *models.UsageRecord) error

	// DequeueBatch retrieves up to maxItems records, waiting up to wait for
	// the first one. Returns an empty slice on timeout.
	DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]*models.UsageRecord, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue
	Close() error
}

// DeadLetterQueue holds records that could not be persisted
type DeadLetterQueue interface {
	// Add stores a failed record with its error
	Add(ctx context.Context, record *models.UsageRecord, err error) error

	// List retrieves up to maxItems dead letter items
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Remove deletes a dead letter item by ID
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem is a failed record with failure context
type DeadLetterItem struct {
	ID        string              `json:"id"`
	Record    *models.UsageRecord `json:"record"`
	Error     string              `json:"error"`
	Timestamp time.Time           `json:"timestamp"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of records per batch
	BatchSize int

	// BatchTimeout is how long to wait before flushing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of persistence attempts per batch
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts; it doubles on
	// each retry
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend over the in-memory one
	UseRedis bool

	// RedisAddr is the Redis server address
	RedisAddr string

	// RedisPassword is the Redis password
	RedisPassword string

	// RedisDB is the Redis database number
	RedisDB int

	// Name is the queue name, used in Redis keys
	Name string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(name string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		Name:         name,
	}
}
