package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// ModelLookup resolves pricing entries.
type ModelLookup interface {
	GetModel(ctx context.Context, modelID string) (*entities.Model, error)
}

// TokenCounter turns text into a token count.
type TokenCounter interface {
	Count(text string) int
}

// Engine prices input/output text pairs against the model catalog.
// It has no side effects and is safe for concurrent use.
type Engine struct {
	models  ModelLookup
	counter TokenCounter
}

// NewEngine creates a new Engine with the provided lookup and counter
func NewEngine(models ModelLookup, counter TokenCounter) *Engine {
	return &Engine{
		models:  models,
		counter: counter,
	}
}

// CalculatePrice returns the provider cost of sending input and receiving
// output on the given model. Margin is not applied.
func (e *Engine) CalculatePrice(ctx context.Context, input, output, modelID string) (entities.PriceQuote, error) {
	quote, _, err := e.Quote(ctx, input, output, modelID)
	return quote, err
}

// Quote is CalculatePrice that also returns the model the quote was priced
// against.
func (e *Engine) Quote(ctx context.Context, input, output, modelID string) (entities.PriceQuote, *entities.Model, error) {
	model, err := e.models.GetModel(ctx, modelID)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return entities.PriceQuote{}, nil, fmt.Errorf("%w: model %q", entities.ErrNotFound, modelID)
		}
		return entities.PriceQuote{}, nil, fmt.Errorf("failed to look up model %q: %w", modelID, err)
	}

	inputTokens := e.counter.Count(input)
	outputTokens := e.counter.Count(output)

	return entities.PriceQuote{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		InputPrice:   float64(inputTokens) * model.PriceIn,
		OutputPrice:  float64(outputTokens) * model.PriceOut,
	}, model, nil
}

// WithMargin applies a percentage markup for display.
func WithMargin(price, marginPercent float64) float64 {
	return price * (1 + marginPercent/100)
}
