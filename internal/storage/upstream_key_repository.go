package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"costshield/internal/models"
)

// UpstreamKeyRepository handles upstream provider credential operations.
// Encrypted key material is never cached.
type UpstreamKeyRepository struct {
	db *DB
}

// NewUpstreamKeyRepository creates a new upstream credential repository
func NewUpstreamKeyRepository(db *DB) *UpstreamKeyRepository {
	return &UpstreamKeyRepository{db: db}
}

// GetByAccount retrieves the upstream credential for an account
func (r *UpstreamKeyRepository) GetByAccount(ctx context.Context, accountID uuid.UUID) (*models.UpstreamCredential, error) {
	var cred models.UpstreamCredential
	query := `
		SELECT id, account_id, encrypted_key, key_prefix, updated_at
		FROM upstream_credentials
		WHERE account_id = $1
	`

	err := r.db.conn.GetContext(ctx, &cred, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUpstreamKeyNotFound
		}
		return nil, fmt.Errorf("failed to get upstream credential: %w", err)
	}

	return &cred, nil
}

// Upsert stores or replaces the upstream credential for an account
func (r *UpstreamKeyRepository) Upsert(ctx context.Context, cred *models.UpstreamCredential) error {
	query := `
		INSERT INTO upstream_credentials (id, account_id, encrypted_key, key_prefix, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET encrypted_key = EXCLUDED.encrypted_key,
		              key_prefix = EXCLUDED.key_prefix,
		              updated_at = NOW()
		RETURNING updated_at
	`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		cred.ID, cred.AccountID, cred.EncryptedKey, cred.KeyPrefix,
	).Scan(&cred.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert upstream credential: %w", err)
	}

	return nil
}
