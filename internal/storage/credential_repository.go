package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"costshield/internal/models"
)

// CredentialRepository handles proxy credential database operations with caching
type CredentialRepository struct {
	db    *DB
	cache *lruCache
}

// NewCredentialRepository creates a new proxy credential repository
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{
		db:    db,
		cache: db.credentialCache,
	}
}

// GetByHash retrieves an active proxy credential by its key hash (with caching)
func (r *CredentialRepository) GetByHash(ctx context.Context, keyHash string) (*models.ProxyCredential, error) {
	if cached, found := r.cache.Get(keyHash); found {
		return cached.(*models.ProxyCredential), nil
	}

	var cred models.ProxyCredential
	query := `
		SELECT id, account_id, name, key_hash, encrypted_key, key_prefix,
		       budget_id, is_active, last_used_at, created_at
		FROM proxy_credentials
		WHERE key_hash = $1 AND is_active = true
	`

	err := r.db.conn.GetContext(ctx, &cred, query, keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get proxy credential: %w", err)
	}

	r.cache.Set(keyHash, &cred)

	return &cred, nil
}

// TouchLastUsed updates the last-used timestamp of a credential. Lookup
// caches keep the stale timestamp until they expire, which is fine.
func (r *CredentialRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	query := "UPDATE proxy_credentials SET last_used_at = $2 WHERE id = $1"

	_, err := r.db.conn.ExecContext(ctx, query, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}

	return nil
}

// Create creates a new proxy credential
func (r *CredentialRepository) Create(ctx context.Context, cred *models.ProxyCredential) error {
	query := `
		INSERT INTO proxy_credentials (id, account_id, name, key_hash, encrypted_key,
		                               key_prefix, budget_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		cred.ID, cred.AccountID, cred.Name, cred.KeyHash, cred.EncryptedKey,
		cred.KeyPrefix, cred.BudgetID, cred.IsActive,
	).Scan(&cred.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create proxy credential: %w", err)
	}

	r.cache.Delete(cred.KeyHash)

	return nil
}

// Deactivate disables a proxy credential without deleting its history
func (r *CredentialRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	var keyHash string
	err := r.db.conn.GetContext(ctx, &keyHash, "SELECT key_hash FROM proxy_credentials WHERE id = $1", id)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("failed to get key hash: %w", err)
	}

	query := "UPDATE proxy_credentials SET is_active = false WHERE id = $1"
	if _, err := r.db.conn.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate proxy credential: %w", err)
	}

	r.cache.Delete(keyHash)

	return nil
}

// Delete removes a proxy credential
func (r *CredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var keyHash string
	err := r.db.conn.GetContext(ctx, &keyHash, "SELECT key_hash FROM proxy_credentials WHERE id = $1", id)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to get key hash: %w", err)
	}

	result, err := r.db.conn.ExecContext(ctx, "DELETE FROM proxy_credentials WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}

	if keyHash != "" {
		r.cache.Delete(keyHash)
	}

	return nil
}

// InvalidateCache removes a credential from the cache
func (r *CredentialRepository) InvalidateCache(keyHash string) {
	r.cache.Delete(keyHash)
}
