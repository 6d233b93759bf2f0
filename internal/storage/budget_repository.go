package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"costshield/internal/models"
)

// BudgetRepository handles budget database operations. Budgets are never
// cached: admission decisions must see current spend.
type BudgetRepository struct {
	db *DB
}

// NewBudgetRepository creates a new budget repository
func NewBudgetRepository(db *DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// ActiveByAccount retrieves the active budget for an account
func (r *BudgetRepository) ActiveByAccount(ctx context.Context, accountID uuid.UUID) (*models.Budget, error) {
	var budget models.Budget
	query := `
		SELECT id, account_id, amount, spent, period_type, is_active, created_at, updated_at
		FROM budgets
		WHERE account_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`

	err := r.db.conn.GetContext(ctx, &budget, query, accountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}

	return &budget, nil
}

// GetByID retrieves a budget by ID
func (r *BudgetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Budget, error) {
	var budget models.Budget
	query := `
		SELECT id, account_id, amount, spent, period_type, is_active, created_at, updated_at
		FROM budgets
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &budget, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBudgetNotFound
		}
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}

	return &budget, nil
}

// Reserve atomically adds amount to the budget's spent column, but only if
// the new total stays within the limit. The conditional UPDATE is the single
// point where spent ever increases, so concurrent reservations serialize on
// the row and can never jointly overshoot. Returns true if the reservation
// was admitted.
func (r *BudgetRepository) Reserve(ctx context.Context, budgetID uuid.UUID, amount float64) (bool, error) {
	query := `
		UPDATE budgets
		SET spent = spent + $2, updated_at = NOW()
		WHERE id = $1 AND is_active = true AND spent + $2 <= amount
	`

	result, err := r.db.conn.ExecContext(ctx, query, budgetID, amount)
	if err != nil {
		return false, fmt.Errorf("failed to reserve budget: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// Create creates a new budget
func (r *BudgetRepository) Create(ctx context.Context, budget *models.Budget) error {
	query := `
		INSERT INTO budgets (id, account_id, amount, spent, period_type, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	if budget.ID == uuid.Nil {
		budget.ID = uuid.New()
	}

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		budget.ID, budget.AccountID, budget.Amount, budget.Spent,
		budget.PeriodType, budget.IsActive,
	).Scan(&budget.CreatedAt, &budget.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create budget: %w", err)
	}

	return nil
}

// ResetSpent zeroes a budget's spent counter, typically at a period boundary
func (r *BudgetRepository) ResetSpent(ctx context.Context, id uuid.UUID) error {
	query := "UPDATE budgets SET spent = 0, updated_at = NOW() WHERE id = $1"

	result, err := r.db.conn.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset budget: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBudgetNotFound
	}

	return nil
}
