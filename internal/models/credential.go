package models

import (
	"time"

	"github.com/google/uuid"
)

// ProxyCredential is the caller-facing gateway key. The plaintext secret is
// never stored; lookups go through its SHA-256 hash, which is unique per
// credential. EncryptedKey holds a reversible display copy for dashboards.
type ProxyCredential struct {
	ID           uuid.UUID  `db:"id"`
	AccountID    uuid.UUID  `db:"account_id"`
	Name         string     `db:"name"`
	KeyHash      string     `db:"key_hash"` // SHA-256 hex
	EncryptedKey string     `db:"encrypted_key"`
	KeyPrefix    string     `db:"key_prefix"`
	BudgetID     *uuid.UUID `db:"budget_id"`
	IsActive     bool       `db:"is_active"`
	LastUsedAt   *time.Time `db:"last_used_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// UpstreamCredential is the account owner's provider API key, stored only in
// encrypted form. One per account; decrypted transiently per request.
type UpstreamCredential struct {
	ID           uuid.UUID `db:"id"`
	AccountID    uuid.UUID `db:"account_id"`
	EncryptedKey string    `db:"encrypted_key"`
	KeyPrefix    string    `db:"key_prefix"`
	UpdatedAt    time.Time `db:"updated_at"`
}
