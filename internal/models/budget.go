package models

import (
	"time"

	"github.com/google/uuid"
)

// Budget period types.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Budget is a spending ceiling for an account over a period. Spent is
// monotonically non-decreasing within a period and is incremented only by
// the ledger's atomic reservation.
type Budget struct {
	ID         uuid.UUID `db:"id"`
	AccountID  uuid.UUID `db:"account_id"`
	Amount     float64   `db:"amount"`
	Spent      float64   `db:"spent"`
	PeriodType string    `db:"period_type"`
	IsActive   bool      `db:"is_active"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Remaining returns the unreserved portion of the budget, clamped at zero.
func (b *Budget) Remaining() float64 {
	remaining := b.Amount - b.Spent
	if remaining < 0 {
		return 0
	}
	return remaining
}
