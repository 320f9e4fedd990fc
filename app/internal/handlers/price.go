package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/pricing"
)

// PriceCalculator prices a text pair and returns the model it priced against.
type PriceCalculator interface {
	Quote(ctx context.Context, input, output, modelID string) (entities.PriceQuote, *entities.Model, error)
}

type ModelCatalog interface {
	ListModels(ctx context.Context) ([]entities.Model, error)
}

type priceRequest struct {
	Input   string `json:"input"`
	Output  string `json:"output"`
	ModelID string `json:"model_id"`
}

type displayPrices struct {
	InputPrice  float64 `json:"input_price"`
	OutputPrice float64 `json:"output_price"`
	TotalPrice  float64 `json:"total_price"`
}

type priceResponse struct {
	ModelID string `json:"model_id"`
	entities.PriceQuote
	TotalTokens int     `json:"total_tokens"`
	TotalPrice  float64 `json:"total_price"`
	Margin      float64 `json:"margin"`
	// Display holds the prices with the model margin applied.
	Display displayPrices `json:"display"`
}

// PriceHandler serves price quotes and the model catalog.
type PriceHandler struct {
	pricing PriceCalculator
	models  ModelCatalog
}

func NewPriceHandler(calc PriceCalculator, models ModelCatalog) *PriceHandler {
	return &PriceHandler{
		pricing: calc,
		models:  models,
	}
}

// HandlePrice handles POST /api/price.
func (h *PriceHandler) HandlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ModelID = strings.TrimSpace(req.ModelID)
	if req.ModelID == "" {
		writeError(w, r, fmt.Errorf("%w: model_id is required", entities.ErrValidation))
		return
	}

	quote, model, err := h.pricing.Quote(r.Context(), req.Input, req.Output, req.ModelID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	displayIn := pricing.WithMargin(quote.InputPrice, model.Margin)
	displayOut := pricing.WithMargin(quote.OutputPrice, model.Margin)
	writeJSON(w, http.StatusOK, priceResponse{
		ModelID:     model.ID,
		PriceQuote:  quote,
		TotalTokens: quote.InputTokens + quote.OutputTokens,
		TotalPrice:  quote.InputPrice + quote.OutputPrice,
		Margin:      model.Margin,
		Display: displayPrices{
			InputPrice:  displayIn,
			OutputPrice: displayOut,
			TotalPrice:  displayIn + displayOut,
		},
	})
}

// HandleModels handles GET /api/models.
func (h *PriceHandler) HandleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}
