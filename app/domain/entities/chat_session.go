package entities

import "time"

// ChatSession is a conversation thread owned by a single user.
type ChatSession struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Title     *string       `json:"title"`
	CreatedAt time.Time     `json:"created_at"`
	Messages  []ChatMessage `json:"messages,omitempty"`
}

// HasTitle reports whether a title has been derived for the session.
func (s *ChatSession) HasTitle() bool {
	return s.Title != nil && *s.Title != ""
}
