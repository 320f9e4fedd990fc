package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/marketconnect/llm-workbench/app/domain/entities"
	"github.com/marketconnect/llm-workbench/app/internal/session"
)

type SessionManager interface {
	Respond(ctx context.Context, userID, sessionID, text string) (*session.Reply, error)
	GetOrCreateEmptySession(ctx context.Context, userID string) (*entities.ChatSession, error)
	CreateSession(ctx context.Context, userID string) (*entities.ChatSession, error)
	GetSession(ctx context.Context, sessionID, userID string) (*entities.ChatSession, error)
	GetHistory(ctx context.Context, sessionID, userID string) ([]entities.ChatMessage, error)
	ListSessions(ctx context.Context, userID string) ([]entities.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID, userID string) error
}

type respondRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatEvent is one line of the newline-delimited JSON reply stream.
type chatEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatHandler serves chat sessions and streamed replies.
type ChatHandler struct {
	sessionManager SessionManager
}

func NewChatHandler(sessionManager SessionManager) *ChatHandler {
	return &ChatHandler{
		sessionManager: sessionManager,
	}
}

// HandleRespond handles POST /api/chat/respond. Validation and session
// errors are returned with a status code; once streaming has started,
// failures are reported as an error event.
func (h *ChatHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req respondRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.sessionManager.Respond(r.Context(), userID, req.SessionID, req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	send := func(ev chatEvent) bool {
		if err := enc.Encode(ev); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	connected := send(chatEvent{Type: "session", SessionID: reply.SessionID})
	for chunk := range reply.Chunks() {
		if connected {
			connected = send(chatEvent{Type: "chunk", Text: chunk})
		}
	}
	if !connected {
		log.Printf("Client disconnected from session %s", reply.SessionID)
		return
	}

	if err := reply.Err(); err != nil {
		send(chatEvent{Type: "error", Error: err.Error()})
		return
	}
	send(chatEvent{Type: "done"})
}

// HandleList handles GET /api/chat/sessions.
func (h *ChatHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sessions, err := h.sessionManager.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleCreate handles POST /api/chat/sessions.
func (h *ChatHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := h.sessionManager.CreateSession(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// HandleEmpty handles GET /api/chat/sessions/empty.
func (h *ChatHandler) HandleEmpty(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := h.sessionManager.GetOrCreateEmptySession(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleSingle handles GET /api/chat/sessions/{id}.
func (h *ChatHandler) HandleSingle(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := h.sessionManager.GetSession(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleMessages handles GET /api/chat/sessions/{id}/messages.
func (h *ChatHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.sessionManager.GetHistory(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []entities.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleDelete handles DELETE /api/chat/sessions/{id}.
func (h *ChatHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.sessionManager.DeleteSession(r.Context(), r.PathValue("id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
