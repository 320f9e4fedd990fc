package entities

import "time"

type ChatMessageRole string

const (
	RoleUser      ChatMessageRole = "user"
	RoleAssistant ChatMessageRole = "assistant"
)

// ChatMessage is a single persisted turn. Messages are immutable once stored
// and ordered by CreatedAt within their session.
type ChatMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"chat_session_id"`
	Role      ChatMessageRole `json:"role"`
	Content   string          `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
}
