package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/llm"
)

type Repository interface {
	Close() error
	CreateSession(ctx context.Context, userID string) (*entities.ChatSession, error)
	GetSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error)
	FindLatestEmptySession(ctx context.Context, userID string) (*entities.ChatSession, error)
	ListSessions(ctx context.Context, userID string) ([]entities.ChatSession, error)
	SetSessionTitleIfEmpty(ctx context.Context, sessionID, title string) (bool, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
	AppendMessage(ctx context.Context, sessionID string, role entities.ChatMessageRole, content string) (*entities.ChatMessage, error)
	ListMessages(ctx context.Context, sessionID string) ([]entities.ChatMessage, error)
}

// LanguageModel is the completion collaborator.
type LanguageModel interface {
	StreamText(ctx context.Context, messages []llm.Message) (llm.ChunkStream, error)
	GenerateObject(ctx context.Context, req llm.ObjectRequest) (map[string]string, error)
}

type Options struct {
	// GenerationTimeout bounds a streamed completion. It is measured from
	// the start of Respond and is not shortened by the caller going away.
	GenerationTimeout time.Duration
	// TitleTimeout bounds title generation including retries.
	TitleTimeout time.Duration
	// TitleMaxAttempts is how many times a title that fails validation is
	// requested before giving up.
	TitleMaxAttempts int
	// StreamBuffer is the capacity of a reply's chunk channel.
	StreamBuffer int
	Logger       *log.Logger
}

func (o Options) withDefaults() Options {
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 2 * time.Minute
	}
	if o.TitleTimeout <= 0 {
		o.TitleTimeout = 30 * time.Second
	}
	if o.TitleMaxAttempts <= 0 {
		o.TitleMaxAttempts = 1
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = 16
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// SessionManager owns chat sessions and drives the respond workflow.
//
// Concurrent Respond calls against the same session are not serialized;
// their messages interleave by creation time.
type SessionManager struct {
	repository Repository
	model      LanguageModel
	opts       Options
	logger     *log.Logger

	// tracks generations and title tasks still running in the background
	tasks sync.WaitGroup
}

// NewSessionManager creates a new SessionManager with the provided repository and model
func NewSessionManager(repo Repository, model LanguageModel, opts Options) *SessionManager {
	opts = opts.withDefaults()
	return &SessionManager{
		repository: repo,
		model:      model,
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Wait blocks until background generations and title tasks have finished.
func (sm *SessionManager) Wait() {
	sm.tasks.Wait()
}

// Close waits for background work and closes the underlying repository connection if applicable.
func (sm *SessionManager) Close() error {
	sm.Wait()
	if sm.repository != nil {
		return sm.repository.Close()
	}
	return nil
}

// GetOrCreateEmptySession returns the user's newest session without
// messages, creating one when there is none.
func (sm *SessionManager) GetOrCreateEmptySession(ctx context.Context, userID string) (*entities.ChatSession, error) {
	sess, err := sm.repository.FindLatestEmptySession(ctx, userID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up empty session: %w", err)
	}
	return sm.CreateSession(ctx, userID)
}

// CreateSession starts a new empty session owned by userID.
func (sm *SessionManager) CreateSession(ctx context.Context, userID string) (*entities.ChatSession, error) {
	sess, err := sm.repository.CreateSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sess.Messages = []entities.ChatMessage{}
	return sess, nil
}

// GetSession returns the session with its messages in creation order.
// Sessions of other users are reported as not found.
func (sm *SessionManager) GetSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error) {
	sess, err := sm.getOwnedSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	msgs, err := sm.repository.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	sess.Messages = msgs
	return sess, nil
}

// GetHistory returns the messages of an owned session in creation order.
func (sm *SessionManager) GetHistory(ctx context.Context, sessionID, userID string) ([]entities.ChatMessage, error) {
	sess, err := sm.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return sess.Messages, nil
}

// ListSessions returns the user's sessions, newest first.
func (sm *SessionManager) ListSessions(ctx context.Context, userID string) ([]entities.ChatSession, error) {
	sessions, err := sm.repository.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes an owned session and its messages.
func (sm *SessionManager) DeleteSession(ctx context.Context, sessionID, userID string) error {
	err := sm.repository.DeleteSession(ctx, sessionID, userID)
	if errors.Is(err, entities.ErrNotFound) {
		return fmt.Errorf("%w: chat session %q", entities.ErrNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (sm *SessionManager) getOwnedSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error) {
	sess, err := sm.repository.GetSession(ctx, sessionID, userID)
	if errors.Is(err, entities.ErrNotFound) {
		return nil, fmt.Errorf("%w: chat session %q", entities.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve session: %w", err)
	}
	return sess, nil
}

func validateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message content is required", entities.ErrValidation)
	}
	return nil
}
