package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
)

// MemoryRepository is an in-memory implementation of the Repository interface.
type MemoryRepository struct {
	models    map[string]*entities.Model
	sessions  map[string]*entities.ChatSession
	messages  map[string][]entities.ChatMessage
	templates map[string]*entities.Template
	now       func() time.Time
	mu        sync.RWMutex
}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		models:    make(map[string]*entities.Model),
		sessions:  make(map[string]*entities.ChatSession),
		messages:  make(map[string][]entities.ChatMessage),
		templates: make(map[string]*entities.Template),
		now:       time.Now,
	}
}

// Init initializes the memory repository (no-op for memory repository).
func (r *MemoryRepository) Init() error {
	return nil
}

// Close closes the memory repository (no-op for memory repository).
func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) UpsertModel(_ context.Context, model entities.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := model
	r.models[model.ID] = &m
	return nil
}

func (r *MemoryRepository) GetModel(_ context.Context, modelID string) (*entities.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.models[modelID]
	if !exists {
		return nil, entities.ErrNotFound
	}
	// Return a copy to prevent modification outside of repository methods
	mCopy := *m
	return &mCopy, nil
}

func (r *MemoryRepository) ListModels(_ context.Context) ([]entities.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]entities.Model, 0, len(r.models))
	for _, m := range r.models {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *MemoryRepository) CreateSession(_ context.Context, userID string) (*entities.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest time.Time
	for _, s := range r.sessions {
		if s.UserID == userID && s.CreatedAt.After(latest) {
			latest = s.CreatedAt
		}
	}

	sess := &entities.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: nextTimestamp(r.now(), latest),
	}
	r.sessions[sess.ID] = sess
	return copySession(sess), nil
}

func (r *MemoryRepository) GetSession(_ context.Context, sessionID, userID string) (*entities.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, exists := r.sessions[sessionID]
	if !exists || sess.UserID != userID {
		return nil, entities.ErrNotFound
	}
	return copySession(sess), nil
}

func (r *MemoryRepository) FindLatestEmptySession(_ context.Context, userID string) (*entities.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *entities.ChatSession
	for _, s := range r.sessions {
		if s.UserID != userID || len(r.messages[s.ID]) > 0 {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			found = s
		}
	}
	if found == nil {
		return nil, entities.ErrNotFound
	}
	return copySession(found), nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, userID string) ([]entities.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]entities.ChatSession, 0)
	for _, s := range r.sessions {
		if s.UserID == userID {
			result = append(result, *copySession(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryRepository) SetSessionTitleIfEmpty(_ context.Context, sessionID, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[sessionID]
	if !exists {
		return false, entities.ErrNotFound
	}
	if sess.HasTitle() {
		return false, nil
	}
	t := title
	sess.Title = &t
	return true, nil
}

func (r *MemoryRepository) DeleteSession(_ context.Context, sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[sessionID]
	if !exists || sess.UserID != userID {
		return entities.ErrNotFound
	}
	delete(r.sessions, sessionID)
	delete(r.messages, sessionID)
	return nil
}

func (r *MemoryRepository) AppendMessage(_ context.Context, sessionID string, role entities.ChatMessageRole, content string) (*entities.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; !exists {
		return nil, entities.ErrNotFound
	}

	var last time.Time
	if msgs := r.messages[sessionID]; len(msgs) > 0 {
		last = msgs[len(msgs)-1].CreatedAt
	}

	msg := entities.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: nextTimestamp(r.now(), last),
	}
	r.messages[sessionID] = append(r.messages[sessionID], msg)
	return &msg, nil
}

func (r *MemoryRepository) ListMessages(_ context.Context, sessionID string) ([]entities.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msgs := r.messages[sessionID]
	result := make([]entities.ChatMessage, len(msgs))
	copy(result, msgs)
	return result, nil
}

func (r *MemoryRepository) CreateTemplate(_ context.Context, userID, name, body string) (*entities.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nextTimestamp(r.now(), time.Time{})
	tmpl := &entities.Template{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.templates[tmpl.ID] = tmpl
	tCopy := *tmpl
	return &tCopy, nil
}

func (r *MemoryRepository) UpdateTemplate(_ context.Context, templateID, userID, name, body string) (*entities.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, exists := r.templates[templateID]
	if !exists || tmpl.UserID != userID {
		return nil, entities.ErrNotFound
	}
	tmpl.Name = name
	tmpl.Body = body
	tmpl.UpdatedAt = nextTimestamp(r.now(), tmpl.UpdatedAt)
	tCopy := *tmpl
	return &tCopy, nil
}

func (r *MemoryRepository) DeleteTemplate(_ context.Context, templateID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, exists := r.templates[templateID]
	if !exists || tmpl.UserID != userID {
		return entities.ErrNotFound
	}
	delete(r.templates, templateID)
	return nil
}

func (r *MemoryRepository) GetTemplate(_ context.Context, templateID, userID string) (*entities.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tmpl, exists := r.templates[templateID]
	if !exists || tmpl.UserID != userID {
		return nil, entities.ErrNotFound
	}
	tCopy := *tmpl
	return &tCopy, nil
}

func (r *MemoryRepository) ListTemplates(_ context.Context, userID string) ([]entities.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]entities.Template, 0)
	for _, tmpl := range r.templates {
		if tmpl.UserID == userID {
			result = append(result, *tmpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func copySession(s *entities.ChatSession) *entities.ChatSession {
	sCopy := *s
	if s.Title != nil {
		t := *s.Title
		sCopy.Title = &t
	}
	sCopy.Messages = nil
	return &sCopy
}
