package entities

import "errors"

var (
	// ErrNotFound is returned for unknown models and for sessions or templates
	// that do not exist or belong to another user.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when caller input or generated output fails
	// its shape constraints.
	ErrValidation = errors.New("validation failed")
	// ErrUpstream is returned when the language-model provider errors or times out.
	ErrUpstream = errors.New("upstream failure")
)
