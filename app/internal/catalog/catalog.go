package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

//go:embed models.toml
var defaultCatalog []byte

type file struct {
	Models []entities.Model `toml:"models"`
}

type Store interface {
	UpsertModel(ctx context.Context, model entities.Model) error
}

// Default returns the built-in catalog.
func Default() ([]entities.Model, error) {
	return Parse(defaultCatalog)
}

// Load reads a TOML catalog from path, or the built-in one when path is empty.
func Load(path string) ([]entities.Model, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML catalog. Unknown keys are rejected.
func Parse(data []byte) ([]entities.Model, error) {
	var f file
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode TOML catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown catalog keys: %s", entities.ErrValidation, strings.Join(keys, ", "))
	}

	seen := make(map[string]bool, len(f.Models))
	for i := range f.Models {
		m := &f.Models[i]
		m.ID = strings.TrimSpace(m.ID)
		if err := validate(*m); err != nil {
			return nil, fmt.Errorf("model #%d: %w", i+1, err)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("%w: duplicate model id %q", entities.ErrValidation, m.ID)
		}
		seen[m.ID] = true
		if m.Label == "" {
			m.Label = m.ID
		}
	}
	return f.Models, nil
}

// Seed upserts every model into the store.
func Seed(ctx context.Context, store Store, models []entities.Model) error {
	for _, m := range models {
		if err := store.UpsertModel(ctx, m); err != nil {
			return fmt.Errorf("failed to store model %q: %w", m.ID, err)
		}
	}
	return nil
}

func validate(m entities.Model) error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: model id is required", entities.ErrValidation)
	case m.PriceIn < 0 || m.PriceOut < 0:
		return fmt.Errorf("%w: model %q has a negative price", entities.ErrValidation, m.ID)
	case m.Margin < 0:
		return fmt.Errorf("%w: model %q has a negative margin", entities.ErrValidation, m.ID)
	}
	return nil
}
