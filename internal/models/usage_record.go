package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is the immutable accounting line written once per request
// attempt, success or failure. The core never mutates or deletes these.
type UsageRecord struct {
	ID               uuid.UUID `db:"id" json:"id"`
	AccountID        uuid.UUID `db:"account_id" json:"account_id"`
	APIKeyID         uuid.UUID `db:"api_key_id" json:"api_key_id"`
	RequestID        uuid.UUID `db:"request_id" json:"request_id"`
	Model            string    `db:"model" json:"model"`
	Endpoint         string    `db:"endpoint" json:"endpoint"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	Cost             float64   `db:"cost" json:"cost"`
	StatusCode       int       `db:"status_code" json:"status_code"`
	DurationMs       int64     `db:"duration_ms" json:"duration_ms"`
	ErrorMessage     string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// TotalTokens returns the combined token count for the request.
func (r *UsageRecord) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}
