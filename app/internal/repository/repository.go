package repository

import (
	"context"
	"time"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// Repository defines the persistence collaborator for pricing entries, chat
// sessions, chat messages and templates.
// This allows for different storage backends (in-memory, SQLite, Postgres).
type Repository interface {
	// Init performs any necessary initialization for the repository (e.g., DB connection, table creation).
	Init() error
	// Close performs cleanup tasks (e.g., closing DB connection).
	Close() error

	UpsertModel(ctx context.Context, model entities.Model) error
	GetModel(ctx context.Context, modelID string) (*entities.Model, error)
	ListModels(ctx context.Context) ([]entities.Model, error)

	CreateSession(ctx context.Context, userID string) (*entities.ChatSession, error)
	// GetSession returns the session without messages. Sessions owned by
	// another user are reported as entities.ErrNotFound.
	GetSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error)
	// FindLatestEmptySession returns the newest session of the user that has
	// no messages, or entities.ErrNotFound.
	FindLatestEmptySession(ctx context.Context, userID string) (*entities.ChatSession, error)
	// ListSessions returns the user's sessions, newest first, without messages.
	ListSessions(ctx context.Context, userID string) ([]entities.ChatSession, error)
	// SetSessionTitleIfEmpty stores the title only when none is set yet and
	// reports whether it did.
	SetSessionTitleIfEmpty(ctx context.Context, sessionID, title string) (bool, error)
	// DeleteSession removes an owned session and its messages.
	DeleteSession(ctx context.Context, sessionID, userID string) error

	// AppendMessage stores a message with a creation time strictly after every
	// message already in the session.
	AppendMessage(ctx context.Context, sessionID string, role entities.ChatMessageRole, content string) (*entities.ChatMessage, error)
	// ListMessages returns the session's messages in ascending creation order.
	ListMessages(ctx context.Context, sessionID string) ([]entities.ChatMessage, error)

	CreateTemplate(ctx context.Context, userID, name, body string) (*entities.Template, error)
	UpdateTemplate(ctx context.Context, templateID, userID, name, body string) (*entities.Template, error)
	DeleteTemplate(ctx context.Context, templateID, userID string) error
	GetTemplate(ctx context.Context, templateID, userID string) (*entities.Template, error)
	ListTemplates(ctx context.Context, userID string) ([]entities.Template, error)
}

// nextTimestamp returns now truncated to microseconds, moved past last when
// the clock has not advanced. Stores keep microsecond precision.
func nextTimestamp(now, last time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	return ts
}
