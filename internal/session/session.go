package session

import (
	"fmt"
	"time"
)

// Message roles understood by the model backends.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message represents a single chat message
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Session represents a chat session. History is append-only during a
// session and cleared entirely by Clear. The ID/UserID pair is used
// only as telemetry tags.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	StartTime time.Time `json:"start_time"`
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Streaming bool      `json:"-"`
}

// New creates an empty session for the given model.
func New(model, userID string) *Session {
	return &Session{
		ID:        fmt.Sprintf("session_%d", time.Now().Unix()),
		UserID:    userID,
		StartTime: time.Now(),
		Model:     model,
		Messages:  []Message{},
	}
}

// Append adds a message to the history.
func (s *Session) Append(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// Clear removes all messages from the history.
func (s *Session) Clear() {
	s.Messages = []Message{}
}

// History returns a copy of the message history so callers can build
// backend requests without holding a reference to the live slice.
func (s *Session) History() []Message {
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	return len(s.Messages)
}
