// Package pricing maps (model, token counts) to USD cost. Lookups consult
// the pricing table first and a built-in fallback second; a model missing
// from both is an operator error, not a caller error.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"costshield/internal/logging"
	"costshield/internal/models"
	"costshield/internal/storage"
)

// ErrUnknownModel is returned when no pricing exists for a model in either
// the pricing table or the built-in fallback.
var ErrUnknownModel = errors.New("unknown model")

// price is a USD-per-million-tokens pair.
type price struct {
	Input  float64
	Output float64
}

// fallbackPrices mirrors the provider's published list pricing and is used
// when the pricing table has no active row for a model.
var fallbackPrices = map[string]price{
	"gpt-4o":                 {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":            {Input: 0.15, Output: 0.60},
	"gpt-4-turbo":            {Input: 10.00, Output: 30.00},
	"gpt-4":                  {Input: 30.00, Output: 60.00},
	"gpt-3.5-turbo":          {Input: 0.50, Output: 1.50},
	"text-embedding-3-small": {Input: 0.02, Output: 0.00},
	"text-embedding-3-large": {Input: 0.13, Output: 0.00},
}

// Source resolves active pricing table rows by model name.
type Source interface {
	ActiveByModel(ctx context.Context, modelName string) (*models.PricingEntry, error)
}

// Model computes estimated and settled request costs.
type Model struct {
	source Source
	logger *logging.Logger
}

// NewModel creates a cost model. source may be nil, in which case only the
// built-in fallback table is consulted.
func NewModel(source Source) *Model {
	return &Model{
		source: source,
		logger: logging.NewLogger("pricing"),
	}
}

// Estimate returns the worst-case cost of a request, assuming the full
// requested output budget is consumed. Used for admission control before
// the upstream call.
func (m *Model) Estimate(ctx context.Context, modelName string, inputTokens, maxOutputTokens int) (float64, error) {
	return m.cost(ctx, modelName, inputTokens, maxOutputTokens)
}

// Settle returns the actual cost of a request from measured token counts,
// used after the response completes.
func (m *Model) Settle(ctx context.Context, modelName string, inputTokens, outputTokens int) (float64, error) {
	return m.cost(ctx, modelName, inputTokens, outputTokens)
}

func (m *Model) cost(ctx context.Context, modelName string, inputTokens, outputTokens int) (float64, error) {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	p, err := m.resolve(ctx, modelName)
	if err != nil {
		return 0, err
	}

	inputCost := float64(inputTokens) / 1e6 * p.Input
	outputCost := float64(outputTokens) / 1e6 * p.Output

	return Round6(inputCost + outputCost), nil
}

// resolve finds pricing for a model: table row first, fallback second.
func (m *Model) resolve(ctx context.Context, modelName string) (price, error) {
	if m.source != nil {
		entry, err := m.source.ActiveByModel(ctx, modelName)
		switch {
		case err == nil:
			return price{Input: entry.InputPricePerMillion, Output: entry.OutputPricePerMillion}, nil
		case errors.Is(err, storage.ErrPricingNotFound):
			// Fall through to the static table.
		default:
			// A lookup failure is not a missing model; degrade to the
			// static table rather than failing the request.
			m.logger.Warn("Pricing lookup failed, using fallback table", "model", modelName, "error", err)
		}
	}

	if p, ok := fallbackPrices[modelName]; ok {
		return p, nil
	}

	return price{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
}

// Round6 rounds a USD amount to 6 decimal places. The pricing units are
// per-million-tokens, so sub-cent precision is significant.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
