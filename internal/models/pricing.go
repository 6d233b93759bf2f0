package models

import (
	"time"

	"github.com/google/uuid"
)

// PricingEntry is a row of the model pricing table. Prices are USD per
// million tokens, as quoted by the provider.
type PricingEntry struct {
	ID                    uuid.UUID `db:"id"`
	ModelName             string    `db:"model_name"`
	Provider              string    `db:"provider"`
	InputPricePerMillion  float64   `db:"input_price_per_million"`
	OutputPricePerMillion float64   `db:"output_price_per_million"`
	IsActive              bool      `db:"is_active"`
	UpdatedAt             time.Time `db:"updated_at"`
}
