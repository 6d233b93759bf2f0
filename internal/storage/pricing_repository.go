package storage

import (
	"context"
	"database/sql"
	"fmt"

	"costshield/internal/models"
)

// PricingRepository handles pricing table lookups with caching
type PricingRepository struct {
	db    *DB
	cache *lruCache
}

// NewPricingRepository creates a new pricing repository
func NewPricingRepository(db *DB) *PricingRepository {
	return &PricingRepository{
		db:    db,
		cache: db.pricingCache,
	}
}

// ActiveByModel retrieves the active pricing entry for a model (with caching)
func (r *PricingRepository) ActiveByModel(ctx context.Context, modelName string) (*models.PricingEntry, error) {
	if cached, found := r.cache.Get(modelName); found {
		return cached.(*models.PricingEntry), nil
	}

	var entry models.PricingEntry
	query := `
		SELECT id, model_name, provider, input_price_per_million, output_price_per_million,
		       is_active, updated_at
		FROM model_pricing
		WHERE model_name = $1 AND is_active = true
	`

	err := r.db.conn.GetContext(ctx, &entry, query, modelName)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPricingNotFound
		}
		return nil, fmt.Errorf("failed to get pricing entry: %w", err)
	}

	r.cache.Set(modelName, &entry)

	return &entry, nil
}

// Upsert stores or replaces the pricing entry for a model
func (r *PricingRepository) Upsert(ctx context.Context, entry *models.PricingEntry) error {
	query := `
		INSERT INTO model_pricing (id, model_name, provider, input_price_per_million,
		                           output_price_per_million, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (model_name)
		DO UPDATE SET provider = EXCLUDED.provider,
		              input_price_per_million = EXCLUDED.input_price_per_million,
		              output_price_per_million = EXCLUDED.output_price_per_million,
		              is_active = EXCLUDED.is_active,
		              updated_at = NOW()
		RETURNING updated_at
	`

	err := r.db.conn.QueryRowxContext(
		ctx, query,
		entry.ID, entry.ModelName, entry.Provider,
		entry.InputPricePerMillion, entry.OutputPricePerMillion, entry.IsActive,
	).Scan(&entry.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert pricing entry: %w", err)
	}

	r.cache.Delete(entry.ModelName)

	return nil
}
