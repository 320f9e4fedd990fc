package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

type Repository interface {
	CreateTemplate(ctx context.Context, userID, name, body string) (*entities.Template, error)
	UpdateTemplate(ctx context.Context, templateID, userID, name, body string) (*entities.Template, error)
	DeleteTemplate(ctx context.Context, templateID, userID string) error
	GetTemplate(ctx context.Context, templateID, userID string) (*entities.Template, error)
	ListTemplates(ctx context.Context, userID string) ([]entities.Template, error)
}

// Service manages reusable prompt templates. Every operation is scoped to
// the owning user.
type Service struct {
	repository Repository
}

func NewService(repo Repository) *Service {
	return &Service{repository: repo}
}

func (s *Service) Create(ctx context.Context, userID, name, body string) (*entities.Template, error) {
	name, err := validate(name, body)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.repository.CreateTemplate(ctx, userID, name, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tmpl, nil
}

func (s *Service) Update(ctx context.Context, userID, templateID, name, body string) (*entities.Template, error) {
	name, err := validate(name, body)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.repository.UpdateTemplate(ctx, templateID, userID, name, body)
	if err != nil {
		return nil, wrap(err, "update", templateID)
	}
	return tmpl, nil
}

func (s *Service) Delete(ctx context.Context, userID, templateID string) error {
	if err := s.repository.DeleteTemplate(ctx, templateID, userID); err != nil {
		return wrap(err, "delete", templateID)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, userID, templateID string) (*entities.Template, error) {
	tmpl, err := s.repository.GetTemplate(ctx, templateID, userID)
	if err != nil {
		return nil, wrap(err, "get", templateID)
	}
	return tmpl, nil
}

// List returns the user's templates in creation order.
func (s *Service) List(ctx context.Context, userID string) ([]entities.Template, error) {
	templates, err := s.repository.ListTemplates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// validate returns the trimmed name. The body is kept verbatim.
func validate(name, body string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: template name is required", entities.ErrValidation)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: template body is required", entities.ErrValidation)
	}
	return name, nil
}

func wrap(err error, op, templateID string) error {
	if errors.Is(err, entities.ErrNotFound) {
		return fmt.Errorf("%w: template %q", entities.ErrNotFound, templateID)
	}
	return fmt.Errorf("failed to %s template: %w", op, err)
}
