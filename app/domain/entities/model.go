package entities

// Model is a pricing entry for a language model.
// Prices are per single token; Margin is a percentage applied only when
// prices are displayed.
type Model struct {
	ID       string  `json:"id" toml:"id"`
	Label    string  `json:"label" toml:"label"`
	PriceIn  float64 `json:"price_in" toml:"price_in"`
	PriceOut float64 `json:"price_out" toml:"price_out"`
	Margin   float64 `json:"margin" toml:"margin"`
}
