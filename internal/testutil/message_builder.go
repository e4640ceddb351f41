package testutil

import (
	"github.com/hupe1980/contextmesh/core"
)

// MessageBuilder provides a fluent helper for constructing messages in
// tests. Chain only the parts you need; sensible defaults are applied.
//
//	msg := NewMessageBuilder().User("hello").Tokens(5).Cost(0.0001).Build()
type MessageBuilder struct {
	id      string
	role    string
	content string
	tokens  int
	cost    float64
	extra   map[string]any
}

// NewMessageBuilder creates a builder with default role "user".
func NewMessageBuilder() *MessageBuilder { return &MessageBuilder{role: core.RoleUser} }

// ID overrides the auto-generated message id (chainable).
func (b *MessageBuilder) ID(id string) *MessageBuilder { b.id = id; return b }

// User sets role user with the given content (chainable).
func (b *MessageBuilder) User(content string) *MessageBuilder {
	b.role = core.RoleUser
	b.content = content
	return b
}

// Assistant sets role assistant with the given content (chainable).
func (b *MessageBuilder) Assistant(content string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.content = content
	return b
}

// System sets role system with the given content (chainable).
func (b *MessageBuilder) System(content string) *MessageBuilder {
	b.role = core.RoleSystem
	b.content = content
	return b
}

// Role sets an arbitrary role, including invalid ones for negative tests (chainable).
func (b *MessageBuilder) Role(role string) *MessageBuilder { b.role = role; return b }

// Tokens sets the token count metadata (chainable).
func (b *MessageBuilder) Tokens(n int) *MessageBuilder { b.tokens = n; return b }

// Cost sets the cost metadata (chainable).
func (b *MessageBuilder) Cost(c float64) *MessageBuilder { b.cost = c; return b }

// Extra adds a free-form metadata field (chainable).
func (b *MessageBuilder) Extra(key string, val any) *MessageBuilder {
	if b.extra == nil {
		b.extra = map[string]any{}
	}
	b.extra[key] = val
	return b
}

// Build constructs the core.Message value.
func (b *MessageBuilder) Build() core.Message {
	var md *core.MessageMetadata
	if b.tokens != 0 || b.cost != 0 || b.extra != nil {
		md = &core.MessageMetadata{Tokens: b.tokens, Cost: b.cost, Extra: b.extra}
	}
	msg := core.NewMessage(b.role, b.content, md)
	if b.id != "" {
		msg.ID = b.id
	}
	return msg
}
