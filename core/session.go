package core

import (
	"context"
	"sync"
	"time"
)

const (
	// MaxMessages caps the retained message window per session. Appends that
	// would exceed the cap evict from the head so the newest turn is always
	// retained.
	MaxMessages = 50

	// MaxRecentlyUsed caps each per-resource-type recently-used list.
	MaxRecentlyUsed = 10

	// MaxInteractionLog caps the rolling interaction log per (user, org).
	MaxInteractionLog = 500
)

// SessionMetadata holds cumulative accounting counters. They are monotonic
// for the life of the session and are never decremented when the bounded
// window trims old messages; truncation trims retained content, not
// accounting history.
type SessionMetadata struct {
	MessageCount int     `json:"message_count"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// SessionStats is the derived view returned by SessionStore.Stats.
// Duration is wall-clock time elapsed since creation; AvgMessageLength is
// the mean character length of currently retained messages.
type SessionStats struct {
	MessageCount     int           `json:"message_count"`
	TotalTokens      int           `json:"total_tokens"`
	TotalCost        float64       `json:"total_cost"`
	Duration         time.Duration `json:"duration"`
	AvgMessageLength float64       `json:"avg_message_length"`
}

// Session represents one bounded conversation between a user, an organization
// and an agent. It tracks an ordered message window (at most MaxMessages), a
// free-form context map and cumulative metadata counters. It is safe for
// concurrent access.
//
// Contract:
//   - AppendMessage enforces the bounded window atomically with the append
//   - History returns a defensive copy in chronological order
//   - Clone performs deep copies of maps/slices for safe divergence
type Session struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id"`
	AgentID        string          `json:"agent_id"`
	Messages       []Message       `json:"messages"`
	Context        map[string]any  `json:"context"`
	Metadata       SessionMetadata `json:"metadata"`
	Created        time.Time       `json:"created"`
	Updated        time.Time       `json:"updated"`
	mu             sync.RWMutex
}

// NewSession creates a session bound to the given (user, organization, agent)
// triple with an empty message window and zeroed counters. The initial
// context map is copied, never aliased.
func NewSession(id, userID, organizationID, agentID string, initial map[string]any) *Session {
	now := time.Now().UTC()
	ctx := make(map[string]any, len(initial))
	for k, v := range initial {
		ctx[k] = v
	}
	return &Session{
		ID:             id,
		UserID:         userID,
		OrganizationID: organizationID,
		AgentID:        agentID,
		Messages:       []Message{},
		Context:        ctx,
		Created:        now,
		Updated:        now,
	}
}

// AppendMessage appends a turn to the tail of the window, increments the
// cumulative counters and trims from the head until the window is back at
// MaxMessages. Trim and append happen under one lock so two concurrent
// appends can never each evict the same oldest element.
func (s *Session) AppendMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, msg)
	if n := len(s.Messages) - MaxMessages; n > 0 {
		s.Messages = append([]Message(nil), s.Messages[n:]...)
	}
	s.Metadata.MessageCount++
	s.Metadata.TotalTokens += msg.Tokens()
	s.Metadata.TotalCost += msg.Cost()
	s.Updated = time.Now().UTC()
}

// MergeContext shallow-merges delta into the context map: existing keys are
// overwritten, new keys added, unspecified keys untouched.
func (s *Session) MergeContext(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.Context[k] = v
	}
	s.Updated = time.Now().UTC()
}

// History returns the last limit retained messages in chronological order
// (oldest of the selected window first). A limit larger than the retained
// count returns everything retained; limit <= 0 returns an empty slice.
func (s *Session) History(limit int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return []Message{}
	}
	if limit > len(s.Messages) {
		limit = len(s.Messages)
	}
	out := make([]Message, limit)
	copy(out, s.Messages[len(s.Messages)-limit:])
	return out
}

// Stats derives the statistics view at the given instant.
func (s *Session) Stats(now time.Time) SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chars int
	for _, m := range s.Messages {
		chars += len(m.Content)
	}
	var avg float64
	if len(s.Messages) > 0 {
		avg = float64(chars) / float64(len(s.Messages))
	}
	return SessionStats{
		MessageCount:     s.Metadata.MessageCount,
		TotalTokens:      s.Metadata.TotalTokens,
		TotalCost:        s.Metadata.TotalCost,
		Duration:         now.Sub(s.Created),
		AvgMessageLength: avg,
	}
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:             s.ID,
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		AgentID:        s.AgentID,
		Messages:       make([]Message, len(s.Messages)),
		Context:        make(map[string]any, len(s.Context)),
		Metadata:       s.Metadata,
		Created:        s.Created,
		Updated:        s.Updated,
	}
	copy(clone.Messages, s.Messages)
	for k, v := range s.Context {
		clone.Context[k] = v
	}
	return clone
}

// SessionStore is the single authority for conversational state shared
// across concurrent request handlers. True state lives in the backing store,
// so all operations are safe to issue from multiple processes; per-session
// ordering is guaranteed by the backend's atomic primitives.
//
// Probe semantics: Get returns (nil, nil) for an absent or expired session.
// Every other session-scoped operation returns ErrSessionNotFound instead.
// A timed-out mutator has an unknown outcome; reconcile with Get rather than
// retrying the mutation, since a naive retry of AppendMessage could
// double-append.
type SessionStore interface {
	// Create allocates a new session and returns its store-generated id.
	Create(ctx context.Context, userID, organizationID, agentID string, initial map[string]any) (string, error)
	// Get returns the full current session view, or (nil, nil) when absent.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// AppendMessage appends a turn, enforcing the bounded window atomically.
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
	// History returns the last limit retained messages in chronological order.
	History(ctx context.Context, sessionID string, limit int) ([]Message, error)
	// MergeContext shallow-merges delta into the session's context map.
	MergeContext(ctx context.Context, sessionID string, delta map[string]any) error
	// Stats returns the derived statistics view.
	Stats(ctx context.Context, sessionID string) (SessionStats, error)
	// Refresh resets the store-level TTL without altering content.
	Refresh(ctx context.Context, sessionID string) error
	// Delete removes the session immediately.
	Delete(ctx context.Context, sessionID string) error
}
