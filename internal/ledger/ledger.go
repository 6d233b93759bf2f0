package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/storage"
)

// ErrBudgetExceeded is returned when admitting a request would push spend
// past the limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// BudgetStore provides budget lookup and atomic reservation
type BudgetStore interface {
	ActiveByAccount(ctx context.Context, accountID uuid.UUID) (*models.Budget, error)
	Reserve(ctx context.Context, budgetID uuid.UUID, amount float64) (bool, error)
}

// UsageTotals sums recorded spend for accounts without a configured budget
type UsageTotals interface {
	TotalCostSince(ctx context.Context, accountID uuid.UUID, since time.Time) (float64, error)
}

// Ledger admits or rejects requests against account budgets. Admission
// charges the worst-case estimate up front; settlement after the upstream
// response adjusts the recorded usage, never the reservation.
type Ledger struct {
	budgets        BudgetStore
	usage          UsageTotals
	defaultCeiling float64
	logger         *logging.Logger
}

// New creates a ledger. defaultCeiling is the monthly USD limit applied to
// accounts that have no budget row.
func New(budgets BudgetStore, usage UsageTotals, defaultCeiling float64) *Ledger {
	return &Ledger{
		budgets:        budgets,
		usage:          usage,
		defaultCeiling: defaultCeiling,
		logger:         logging.NewLogger("ledger"),
	}
}

// Reserve charges estimatedCost against the account's budget. The
// credential's budget binding takes precedence; otherwise the account's
// active budget is used. With a budget the charge is a single conditional
// UPDATE, so two concurrent requests can never jointly overshoot the limit.
// Accounts without a budget fall back to a read-then-compare against the
// default ceiling, which is best-effort only.
func (l *Ledger) Reserve(ctx context.Context, accountID uuid.UUID, budgetID *uuid.UUID, estimatedCost float64) error {
	id := budgetID
	if id == nil {
		budget, err := l.budgets.ActiveByAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, storage.ErrBudgetNotFound) {
				return l.reserveAgainstCeiling(ctx, accountID, estimatedCost)
			}
			return fmt.Errorf("failed to load budget: %w", err)
		}
		id = &budget.ID
	}

	admitted, err := l.budgets.Reserve(ctx, *id, estimatedCost)
	if err != nil {
		return fmt.Errorf("failed to reserve budget: %w", err)
	}
	if !admitted {
		l.logger.Info("reservation rejected",
			"account_id", accountID,
			"budget_id", *id,
			"estimated_cost", estimatedCost,
		)
		return ErrBudgetExceeded
	}

	return nil
}

// reserveAgainstCeiling checks spend this calendar month against the default
// ceiling. There is no budget row to increment, so this path cannot be
// atomic; concurrent requests may each observe the old total.
func (l *Ledger) reserveAgainstCeiling(ctx context.Context, accountID uuid.UUID, estimatedCost float64) error {
	spent, err := l.usage.TotalCostSince(ctx, accountID, monthStart(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to sum monthly usage: %w", err)
	}

	if spent+estimatedCost > l.defaultCeiling {
		l.logger.Info("default ceiling rejected",
			"account_id", accountID,
			"spent", spent,
			"estimated_cost", estimatedCost,
			"ceiling", l.defaultCeiling,
		)
		return ErrBudgetExceeded
	}

	return nil
}

// monthStart returns midnight UTC on the first day of t's month
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
