package testutil

import (
	"github.com/hupe1980/contextmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("u1", "o1", "a1").Context("k", "v").Messages(m1, m2).Build()
type SessionBuilder struct {
	id       string
	userID   string
	orgID    string
	agentID  string
	context  map[string]any
	messages []core.Message
}

// NewSessionBuilder creates a builder for the given identity triple.
// Use chainable methods (ID, Context, Message, Messages) then call Build.
func NewSessionBuilder(userID, organizationID, agentID string) *SessionBuilder {
	return &SessionBuilder{userID: userID, orgID: organizationID, agentID: agentID, context: map[string]any{}}
}

// ID overrides the auto-generated session id (chainable). Use mainly where
// determinism matters.
func (b *SessionBuilder) ID(id string) *SessionBuilder {
	b.id = id
	return b
}

// Context sets or overwrites a context key/value pair (chainable).
func (b *SessionBuilder) Context(key string, val any) *SessionBuilder {
	b.context[key] = val
	return b
}

// Message appends a single message to the session history (chainable).
func (b *SessionBuilder) Message(msg core.Message) *SessionBuilder {
	b.messages = append(b.messages, msg)
	return b
}

// Messages appends multiple messages to the session history (chainable).
func (b *SessionBuilder) Messages(msgs ...core.Message) *SessionBuilder {
	b.messages = append(b.messages, msgs...)
	return b
}

// Build returns a *core.Session with pre-populated context and messages.
// Messages go through AppendMessage so counters and the bounded window
// behave exactly as in production.
func (b *SessionBuilder) Build() *core.Session {
	id := b.id
	if id == "" {
		id = core.NewID()
	}
	s := core.NewSession(id, b.userID, b.orgID, b.agentID, b.context)
	for _, msg := range b.messages {
		s.AppendMessage(msg)
	}
	return s
}
