package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// StringField is a required string property with optional length bounds
// counted in characters. Zero bounds are not enforced.
type StringField struct {
	Name        string
	Description string
	MinLength   int
	MaxLength   int
}

// ObjectSchema describes a flat JSON object of string fields.
type ObjectSchema struct {
	Name   string
	Fields []StringField
}

// ObjectRequest asks the model for a single object matching Schema.
type ObjectRequest struct {
	System   string
	Schema   ObjectSchema
	Messages []Message
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// jsonSchema renders the schema sent to the provider. Length keywords are
// not accepted in strict mode, so the provider treats the schema as guidance
// and Validate enforces it.
func (s ObjectSchema) jsonSchema() jsonSchema {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]any{"type": "string"}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if f.MinLength > 0 {
			prop["minLength"] = f.MinLength
		}
		if f.MaxLength > 0 {
			prop["maxLength"] = f.MaxLength
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}
	return jsonSchema{
		Name:   s.Name,
		Strict: false,
		Schema: map[string]any{
			"type":                 "object",
			"properties":           props,
			"required":             required,
			"additionalProperties": false,
		},
	}
}

// Validate decodes raw JSON and checks it against the schema.
// Failures wrap entities.ErrValidation.
func (s ObjectSchema) Validate(raw []byte) (map[string]string, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: object is not valid JSON: %v", entities.ErrValidation, err)
	}

	out := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		v, ok := decoded[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing field %q", entities.ErrValidation, f.Name)
		}
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field %q is not a string", entities.ErrValidation, f.Name)
		}
		n := utf8.RuneCountInString(str)
		if f.MinLength > 0 && n < f.MinLength {
			return nil, fmt.Errorf("%w: field %q has %d characters, minimum is %d", entities.ErrValidation, f.Name, n, f.MinLength)
		}
		if f.MaxLength > 0 && n > f.MaxLength {
			return nil, fmt.Errorf("%w: field %q has %d characters, maximum is %d", entities.ErrValidation, f.Name, n, f.MaxLength)
		}
		out[f.Name] = str
	}
	return out, nil
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateObject runs a non-streaming completion constrained to req.Schema
// and returns the validated object.
func (c *Client) GenerateObject(ctx context.Context, req ObjectRequest) (map[string]string, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	resp, err := c.post(ctx, chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: req.Schema.jsonSchema(),
		},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", entities.ErrUpstream, err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", entities.ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: no object generated", entities.ErrValidation)
	}
	choice := parsed.Choices[0].Message
	if choice.Refusal != "" {
		return nil, fmt.Errorf("%w: model refused: %s", entities.ErrValidation, choice.Refusal)
	}

	return req.Schema.Validate([]byte(strings.TrimSpace(choice.Content)))
}
