package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"costshield/internal/models"
)

// UsageRepository handles usage record database operations
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a single usage record
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	query := `
		INSERT INTO usage_logs (id, account_id, api_key_id, request_id, model, endpoint,
		                        prompt_tokens, completion_tokens, cost, status_code,
		                        duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		record.ID, record.AccountID, record.APIKeyID, record.RequestID,
		record.Model, record.Endpoint, record.PromptTokens, record.CompletionTokens,
		record.Cost, record.StatusCode, record.DurationMs, record.ErrorMessage,
	).Scan(&record.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}

	return nil
}

// CreateBatch inserts a batch of usage records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO usage_logs (id, account_id, api_key_id, request_id, model, endpoint,
		                        prompt_tokens, completion_tokens, cost, status_code,
		                        duration_ms, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}

		_, err := stmt.ExecContext(
			ctx,
			record.ID, record.AccountID, record.APIKeyID, record.RequestID,
			record.Model, record.Endpoint, record.PromptTokens, record.CompletionTokens,
			record.Cost, record.StatusCode, record.DurationMs, record.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("failed to insert usage record %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage batch: %w", err)
	}

	return nil
}

// TotalCostSince sums the recorded cost for an account from the given time
func (r *UsageRepository) TotalCostSince(ctx context.Context, accountID uuid.UUID, since time.Time) (float64, error) {
	var total float64
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM usage_logs
		WHERE account_id = $1 AND created_at >= $2
	`

	err := r.db.conn.GetContext(ctx, &total, query, accountID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to sum usage cost: %w", err)
	}

	return total, nil
}

// GetByAccount returns usage records for an account within a time range,
// newest first
func (r *UsageRepository) GetByAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time, limit int) ([]*models.UsageRecord, error) {
	query := `
		SELECT id, account_id, api_key_id, request_id, model, endpoint,
		       prompt_tokens, completion_tokens, cost, status_code,
		       duration_ms, error_message, created_at
		FROM usage_logs
		WHERE account_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`

	var records []*models.UsageRecord
	err := r.db.conn.SelectContext(ctx, &records, query, accountID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}

	return records, nil
}
