package recorder

import (
	"context"
	"time"

	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/queue"

	"github.com/google/uuid"
)

// Store persists usage records and credential bookkeeping
type Store interface {
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
	TouchLastUsed(ctx context.Context, credentialID uuid.UUID, usedAt time.Time) error
}

// Archive receives persisted batches for long-term storage
type Archive interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) (string, error)
}

// Worker drains the usage queue into the database in batches. Failed batches
// retry with exponential backoff and land in the dead letter queue when the
// retries run out, so a database outage costs durability of usage rows but
// never blocks the request path.
type Worker struct {
	queue   queue.Queue
	dlq     queue.DeadLetterQueue
	store   Store
	archive Archive
	config  *queue.Config
	logger  *logging.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewWorker creates a recorder worker. archive may be nil.
func NewWorker(q queue.Queue, dlq queue.DeadLetterQueue, store Store, archive Archive, config *queue.Config) *Worker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &Worker{
		queue:       q,
		dlq:         dlq,
		store:       store,
		archive:     archive,
		config:      config,
		logger:      logging.NewLogger("recorder"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// enqueueTimeout bounds how long Record may wait on a full queue. Past it
// the record is dropped and logged; accounting must never stall a response.
const enqueueTimeout = 250 * time.Millisecond

// Record queues a usage record for persistence. It returns as soon as the
// record is buffered, or with an error once enqueueTimeout passes.
func (w *Worker) Record(ctx context.Context, record *models.UsageRecord) error {
	ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()

	if err := w.queue.Enqueue(ctx, record); err != nil {
		w.logger.Error("dropping usage record", "request_id", record.RequestID, "error", err)
		return err
	}
	return nil
}

// TouchLastUsed updates credential bookkeeping outside the request path
func (w *Worker) TouchLastUsed(ctx context.Context, credentialID uuid.UUID, usedAt time.Time) {
	if err := w.store.TouchLastUsed(ctx, credentialID, usedAt); err != nil {
		w.logger.Warn("failed to update credential last used", "credential_id", credentialID, "error", err)
	}
}

// Start starts the worker goroutine
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop drains in-flight work and stops the worker
func (w *Worker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// QueueLength returns the current queue depth
func (w *Worker) QueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("recorder stopping, draining queue")
			w.drain(ctx)
			return
		case <-ctx.Done():
			w.logger.Info("recorder context cancelled")
			return
		default:
			w.processBatch(ctx)
		}
	}
}

// drain flushes whatever is left in the queue before shutdown
func (w *Worker) drain(ctx context.Context) {
	for {
		batch, err := w.queue.DequeueBatch(ctx, w.config.BatchSize, 100*time.Millisecond)
		if err != nil || len(batch) == 0 {
			return
		}
		w.persistBatch(ctx, batch)
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	batch, err := w.queue.DequeueBatch(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("failed to dequeue usage records", "error", err)
		time.Sleep(1 * time.Second) // Back off on error
		return
	}

	if len(batch) == 0 {
		return
	}

	w.logger.Debug("processing usage batch", "count", len(batch))
	w.persistBatch(ctx, batch)
}

// persistBatch inserts a batch with retries, then hands it to the archive.
// Records that cannot be persisted go to the dead letter queue.
func (w *Worker) persistBatch(ctx context.Context, batch []*models.UsageRecord) {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("retrying usage batch", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		if err := w.store.CreateBatch(ctx, batch); err != nil {
			lastErr = err
			w.logger.Error("failed to insert usage batch", "attempt", attempt, "count", len(batch), "error", err)
			continue
		}

		w.archiveBatch(ctx, batch)
		return
	}

	if w.dlq == nil {
		w.logger.Error("usage batch lost, no dead letter queue", "count", len(batch), "error", lastErr)
		return
	}

	for _, record := range batch {
		if err := w.dlq.Add(ctx, record, lastErr); err != nil {
			w.logger.Error("failed to add to dead letter queue", "request_id", record.RequestID, "error", err)
		}
	}
	w.logger.Warn("usage batch moved to DLQ", "count", len(batch), "error", lastErr)
}

func (w *Worker) archiveBatch(ctx context.Context, batch []*models.UsageRecord) {
	if w.archive == nil {
		return
	}

	key, err := w.archive.WriteBatch(ctx, batch)
	if err != nil {
		// Archive failures are not retried; the database copy is canonical
		w.logger.Warn("failed to archive usage batch", "count", len(batch), "error", err)
		return
	}
	w.logger.Debug("archived usage batch", "key", key, "count", len(batch))
}

// RetryDeadLetterItem moves a dead letter item back onto the queue
func (w *Worker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return queue.ErrItemNotFound
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return err
	}

	for _, item := range items {
		if item.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, item.Record); err != nil {
			return err
		}
		return w.dlq.Remove(ctx, id)
	}

	return queue.ErrItemNotFound
}
