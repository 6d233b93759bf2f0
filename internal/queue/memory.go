package queue

import (
	"context"
	"sync"
	"time"

	"costshield/internal/models"
)

// MemoryQueue implements Queue with a buffered channel
type MemoryQueue struct {
	records chan *models.UsageRecord
	mu      sync.RWMutex
	closed  bool
}

// NewMemoryQueue creates a new in-memory queue
func NewMemoryQueue(config *Config) *MemoryQueue {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue{
		// Room for several batches so a slow worker does not stall requests
		records: make(chan *models.UsageRecord, config.BatchSize*10),
	}
}

// Enqueue adds a record to the queue
func (q *MemoryQueue) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.records <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DequeueBatch retrieves up to maxItems records, waiting up to wait for the
// first one
func (q *MemoryQueue) DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]*models.UsageRecord, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	var batch []*models.UsageRecord

	select {
	case record := <-q.records:
		batch = append(batch, record)
	case <-time.After(wait):
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(batch) < maxItems {
		select {
		case record := <-q.records:
			batch = append(batch, record)
		default:
			return batch, nil
		}
	}

	return batch, nil
}

// Length returns the current queue length
func (q *MemoryQueue) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	return len(q.records), nil
}

// Close shuts down the queue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.records)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in memory
type MemoryDeadLetterQueue struct {
	items  []DeadLetterItem
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{items: make([]DeadLetterItem, 0)}
}

// Add stores a failed record
func (q *MemoryDeadLetterQueue) Add(ctx context.Context, record *models.UsageRecord, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, DeadLetterItem{
		ID:        generateID(),
		Record:    record,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	return nil
}

// List retrieves up to maxItems dead letter items
func (q *MemoryDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem, maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove deletes a dead letter item by ID
func (q *MemoryDeadLetterQueue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return ErrItemNotFound
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

// generateID generates a unique ID for dead letter items
func generateID() string {
	return time.Now().Format("20060102150405.000000000")
}
