package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// DefaultTTL is the session lifetime applied when no override is configured.
const DefaultTTL = 24 * time.Hour

// Config configures the in-memory store.
type Config struct {
	// TTL is the per-session time to live. Every mutating operation and an
	// explicit Refresh reset the deadline, mirroring EXPIRE-on-write in the
	// redis backend.
	TTL time.Duration
	// Clock overrides the time source, used by tests to drive expiry.
	Clock func() time.Time
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in a process local map. It is safe for concurrent access and best suited
// for tests or single-process deployments. Append and window trim happen
// under one lock, so the bounded-window invariant holds for concurrent
// appenders. Each returned session is cloned to prevent external mutation of
// internal state. Expired sessions are reclaimed lazily on access, matching
// the passive TTL semantics of the shared state store.
type InMemoryStore struct {
	mu       sync.RWMutex
	cfg      Config
	sessions map[string]*entry
}

type entry struct {
	session *core.Session
	expires time.Time
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(c *Config)) *InMemoryStore {
	cfg := Config{TTL: DefaultTTL, Clock: time.Now}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &InMemoryStore{cfg: cfg, sessions: make(map[string]*entry)}
}

// Create allocates a new session with empty message window, zeroed counters
// and context initialized from initial.
func (s *InMemoryStore) Create(_ context.Context, userID, organizationID, agentID string, initial map[string]any) (string, error) {
	if userID == "" {
		return "", core.NewValidationError("userID", "must not be empty")
	}
	if organizationID == "" {
		return "", core.NewValidationError("organizationID", "must not be empty")
	}
	if agentID == "" {
		return "", core.NewValidationError("agentID", "must not be empty")
	}
	id := core.NewID()
	sess := core.NewSession(id, userID, organizationID, agentID, initial)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &entry{session: sess, expires: s.cfg.Clock().Add(s.cfg.TTL)}
	return id, nil
}

// Get returns the full current session view (clone), or (nil, nil) when the
// session is absent or expired. Absence is a normal, checkable outcome.
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*core.Session, error) {
	sess := s.live(sessionID)
	if sess == nil {
		return nil, nil
	}
	return sess.Clone(), nil
}

// AppendMessage appends a turn and refreshes the TTL.
func (s *InMemoryStore) AppendMessage(_ context.Context, sessionID string, msg core.Message) error {
	if !core.ValidRole(msg.Role) {
		return core.NewValidationError("role", fmt.Sprintf("unknown role %q", msg.Role))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.liveLocked(sessionID)
	if e == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	e.session.AppendMessage(msg)
	e.expires = s.cfg.Clock().Add(s.cfg.TTL)
	return nil
}

// History returns the last limit retained messages in chronological order.
func (s *InMemoryStore) History(_ context.Context, sessionID string, limit int) ([]core.Message, error) {
	sess := s.live(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return sess.History(limit), nil
}

// MergeContext shallow-merges delta into the session context and refreshes
// the TTL.
func (s *InMemoryStore) MergeContext(_ context.Context, sessionID string, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.liveLocked(sessionID)
	if e == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	e.session.MergeContext(delta)
	e.expires = s.cfg.Clock().Add(s.cfg.TTL)
	return nil
}

// Stats returns the derived statistics view.
func (s *InMemoryStore) Stats(_ context.Context, sessionID string) (core.SessionStats, error) {
	sess := s.live(sessionID)
	if sess == nil {
		return core.SessionStats{}, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return sess.Stats(s.cfg.Clock()), nil
}

// Refresh resets the TTL without altering content.
func (s *InMemoryStore) Refresh(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.liveLocked(sessionID)
	if e == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	e.expires = s.cfg.Clock().Add(s.cfg.TTL)
	return nil
}

// Delete removes the session immediately; subsequent Get returns (nil, nil).
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(sessionID) == nil {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)
	return nil
}

// live returns the live (non-expired) session for id, reclaiming it when the
// deadline passed.
func (s *InMemoryStore) live(sessionID string) *core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.liveLocked(sessionID)
	if e == nil {
		return nil
	}
	return e.session
}

// liveLocked is the lock-held variant of live; caller must hold the write
// lock since expired entries are deleted in place.
func (s *InMemoryStore) liveLocked(sessionID string) *entry {
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	if !s.cfg.Clock().Before(e.expires) {
		delete(s.sessions, sessionID)
		return nil
	}
	return e
}
