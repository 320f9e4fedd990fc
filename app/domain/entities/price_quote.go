package entities

// PriceQuote is the provider-cost breakdown for an input/output text pair.
// It is computed per request and never stored.
type PriceQuote struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputPrice   float64 `json:"input_price"`
	OutputPrice  float64 `json:"output_price"`
}
