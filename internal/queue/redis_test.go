package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisConfig(t *testing.T, name string) *Config {
	t.Helper()

	srv := miniredis.RunT(t)

	config := DefaultConfig(name)
	config.UseRedis = true
	config.RedisAddr = srv.Addr()
	return config
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	config := newTestRedisConfig(t, "usage-test")

	q, err := NewRedisQueue(config)
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	defer q.Close()

	ctx := context.Background()

	record := testRecord("gpt-4o-mini")
	if err := q.Enqueue(ctx, record); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	batch, err := q.DequeueBatch(ctx, 1, time.Second)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}

	if len(batch) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(batch))
	}
	if batch[0].ID != record.ID {
		t.Errorf("Expected record %s, got %s", record.ID, batch[0].ID)
	}
	if batch[0].Model != record.Model {
		t.Errorf("Expected model %s, got %s", record.Model, batch[0].Model)
	}
}

func TestRedisQueue_BatchDrain(t *testing.T) {
	config := newTestRedisConfig(t, "usage-batch")
	config.BatchSize = 5

	q, err := NewRedisQueue(config)
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, testRecord("gpt-4o")); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 10 {
		t.Errorf("Expected length 10, got %d", length)
	}

	batch, err := q.DequeueBatch(ctx, 5, time.Second)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 5 {
		t.Errorf("Expected 5 records, got %d", len(batch))
	}

	length, err = q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 5 {
		t.Errorf("Expected length 5 after dequeue, got %d", length)
	}
}

func TestRedisQueue_DequeueTimeout(t *testing.T) {
	config := newTestRedisConfig(t, "usage-timeout")

	q, err := NewRedisQueue(config)
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	defer q.Close()

	batch, err := q.DequeueBatch(context.Background(), 1, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("Expected 0 records on timeout, got %d", len(batch))
	}
}

func TestRedisDeadLetterQueue_AddListRemove(t *testing.T) {
	config := newTestRedisConfig(t, "usage-dlq")

	dlq, err := NewRedisDeadLetterQueue(config)
	if err != nil {
		t.Fatalf("NewRedisDeadLetterQueue failed: %v", err)
	}
	defer dlq.Close()

	ctx := context.Background()

	record := testRecord("gpt-4o")
	if err := dlq.Add(ctx, record, ErrMaxRetriesExceeded); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Error == "" {
		t.Error("Expected non-empty error message")
	}
	if items[0].Record == nil || items[0].Record.ID != record.ID {
		t.Error("Expected record to round-trip through the dead letter queue")
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	items, err = dlq.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected 0 items after removal, got %d", len(items))
	}
}
