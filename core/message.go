package core

import (
	"time"

	"github.com/google/uuid"
)

// Message roles form a closed set; AppendMessage rejects anything else.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ValidRole reports whether role belongs to the closed role set.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessageMetadata carries optional per-message accounting plus free-form
// extra fields. Tokens and Cost are treated as zero when the whole struct is
// absent.
type MessageMetadata struct {
	Tokens int            `json:"tokens,omitempty"`
	Cost   float64        `json:"cost,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Message is one conversational turn. After being appended to a session it
// must be treated as immutable: turns are never edited or reordered, only
// evicted from the head of the bounded window.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Tokens returns the message's token count, zero when no metadata is attached.
func (m Message) Tokens() int {
	if m.Metadata == nil {
		return 0
	}
	return m.Metadata.Tokens
}

// Cost returns the message's cost, zero when no metadata is attached.
func (m Message) Cost() float64 {
	if m.Metadata == nil {
		return 0
	}
	return m.Metadata.Cost
}

// NewMessage creates a message with a fresh id and UTC timestamp. The role is
// not validated here; stores validate on append so malformed turns are
// rejected at the mutation boundary.
func NewMessage(role, content string, md *MessageMetadata) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Metadata:  md,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage is a convenience wrapper for a user-authored turn.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content, nil)
}

// NewAssistantMessage is a convenience wrapper for an assistant turn.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content, nil)
}

// NewSystemMessage is a convenience wrapper for a system turn.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content, nil)
}

// NewID generates a new unique identifier for sessions and messages.
func NewID() string {
	return uuid.New().String()
}
