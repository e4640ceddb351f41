// Package contextmesh provides a high-level façade over the context
// orchestrator and its service abstractions (sessions, preferences,
// knowledge & logging), giving a stateless request-handling tier a shared
// notion of "the current conversation" and "what this user/organization
// habitually does". Most applications interact with this package by:
//  1. Creating a ContextMesh via New() (optionally overriding default in-memory services)
//  2. Creating sessions and appending conversational turns
//  3. Building versioned context snapshots for an agent-execution step
//
// The façade delegates composition to orchestrator.Orchestrator while
// keeping setup and usage ergonomics concise. All defaults are safe for
// local development and testing; production deployments supply the
// redis-backed stores and a structured logger.
package contextmesh

import (
	"context"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
	"github.com/hupe1980/contextmesh/orchestrator"
	"github.com/hupe1980/contextmesh/preference"
	"github.com/hupe1980/contextmesh/session"
)

// Options configures the ContextMesh instance.
type Options struct {
	// Stores (defaults to in-memory implementations if not provided)
	SessionStore    core.SessionStore
	PreferenceStore core.PreferenceStore

	// Optional snapshot enrichment
	Connectors []core.Connector
	Knowledge  core.KnowledgeRetriever

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// SnapshotCacheSize bounds the orchestrator's snapshot cache.
	SnapshotCacheSize int64
}

// ContextMesh is the high-level façade aggregating the orchestrator and services.
type ContextMesh struct {
	opts         Options
	orchestrator *orchestrator.Orchestrator
}

// New creates a new ContextMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) (*ContextMesh, error) {
	opts := Options{
		SessionStore:    session.NewInMemoryStore(),
		PreferenceStore: preference.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	orch, err := orchestrator.New(func(o *orchestrator.Options) {
		o.Sessions = opts.SessionStore
		o.Preferences = opts.PreferenceStore
		o.Connectors = opts.Connectors
		o.Knowledge = opts.Knowledge
		o.Logger = opts.Logger
		o.CacheSize = opts.SnapshotCacheSize
	})
	if err != nil {
		return nil, err
	}

	return &ContextMesh{opts: opts, orchestrator: orch}, nil
}

// CreateSession allocates a new conversation session and returns its id.
func (m *ContextMesh) CreateSession(ctx context.Context, userID, organizationID, agentID string, initial map[string]any) (string, error) {
	return m.orchestrator.CreateSession(ctx, userID, organizationID, agentID, initial)
}

// BuildContext assembles a fresh, versioned context snapshot.
func (m *ContextMesh) BuildContext(ctx context.Context, sessionID, userID, organizationID, agentID string, opts core.BuildOptions) (*core.ContextSnapshot, error) {
	return m.orchestrator.BuildContext(ctx, sessionID, userID, organizationID, agentID, opts)
}

// GetCachedContext returns the latest still-valid snapshot for the
// (session, agent) pair, or nil.
func (m *ContextMesh) GetCachedContext(sessionID, agentID string) *core.ContextSnapshot {
	return m.orchestrator.GetCachedContext(sessionID, agentID)
}

// AddMessage appends one conversational turn to a session.
func (m *ContextMesh) AddMessage(ctx context.Context, sessionID, role, content string, md *core.MessageMetadata) error {
	return m.orchestrator.AddMessage(ctx, sessionID, role, content, md)
}

// UpdateContext shallow-merges updates into the session's context map.
func (m *ContextMesh) UpdateContext(ctx context.Context, update orchestrator.ContextUpdate) error {
	return m.orchestrator.UpdateContext(ctx, update)
}

// ContextStats returns the session's derived statistics.
func (m *ContextMesh) ContextStats(ctx context.Context, sessionID string) (core.SessionStats, error) {
	return m.orchestrator.ContextStats(ctx, sessionID)
}

// RefreshSession extends the session's store-level TTL.
func (m *ContextMesh) RefreshSession(ctx context.Context, sessionID string) error {
	return m.orchestrator.RefreshSession(ctx, sessionID)
}

// EndSession deletes the session and evicts any cached snapshots.
func (m *ContextMesh) EndSession(ctx context.Context, sessionID string) error {
	return m.orchestrator.EndSession(ctx, sessionID)
}

// Sessions exposes the underlying session store for host applications that
// need direct reads (probe-style Get, History).
func (m *ContextMesh) Sessions() core.SessionStore { return m.opts.SessionStore }

// Preferences exposes the preference & interaction store.
func (m *ContextMesh) Preferences() core.PreferenceStore { return m.opts.PreferenceStore }
