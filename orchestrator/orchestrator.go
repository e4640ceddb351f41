package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// DefaultCacheSize bounds the snapshot cache (in snapshots, cost 1 each).
const DefaultCacheSize = 1024

// Options configures the Orchestrator.
type Options struct {
	// Sessions is the session memory store (required).
	Sessions core.SessionStore
	// Preferences is the preference & interaction store (required).
	Preferences core.PreferenceStore
	// Connectors are external data sources consulted when
	// BuildOptions.IncludeConnectors is set.
	Connectors []core.Connector
	// Knowledge enriches snapshots when BuildOptions.IncludeKnowledge is set.
	Knowledge core.KnowledgeRetriever
	// Logger defaults to NoOpLogger if nil.
	Logger logging.Logger
	// CacheSize bounds the snapshot cache; defaults to DefaultCacheSize.
	CacheSize int64
}

// Orchestrator composes immutable, versioned context snapshots. It performs
// no locking of its own beyond the generation counters: true state lives in
// the stores, and cached snapshots are invalidated by stamping each cache
// key with a per-session generation that mutations advance.
type Orchestrator struct {
	sessions    core.SessionStore
	preferences core.PreferenceStore
	connectors  []core.Connector
	knowledge   core.KnowledgeRetriever
	logger      logging.Logger
	cache       *ristretto.Cache

	mu          sync.Mutex
	generations map[string]uint64
}

// New constructs an Orchestrator. Sessions and Preferences must be set.
func New(optFns ...func(o *Options)) (*Orchestrator, error) {
	opts := Options{Logger: logging.NoOpLogger{}, CacheSize: DefaultCacheSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("orchestrator: session store is required")
	}
	if opts.Preferences == nil {
		return nil, fmt.Errorf("orchestrator: preference store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.CacheSize * 10,
		MaxCost:     opts.CacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: snapshot cache: %w", err)
	}
	return &Orchestrator{
		sessions:    opts.Sessions,
		preferences: opts.Preferences,
		connectors:  opts.Connectors,
		knowledge:   opts.Knowledge,
		logger:      opts.Logger,
		cache:       cache,
		generations: make(map[string]uint64),
	}, nil
}

// ContextUpdate is the argument of UpdateContext, mirroring the controller
// payload: identity plus a shallow context delta.
type ContextUpdate struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	OrganizationID string         `json:"organization_id"`
	Updates        map[string]any `json:"updates"`
}

// CreateSession is a thin delegation to the session store; orchestrator
// callers never talk to the stores directly.
func (o *Orchestrator) CreateSession(ctx context.Context, userID, organizationID, agentID string, initial map[string]any) (string, error) {
	return o.sessions.Create(ctx, userID, organizationID, agentID, initial)
}

// BuildContext assembles a fresh snapshot for the (session, agent) pair and
// caches it. It fails with core.ErrSessionNotFound when the session id does
// not resolve. Enrichment (connectors, knowledge) is best effort: failures
// are logged and skipped, never block the build.
func (o *Orchestrator) BuildContext(ctx context.Context, sessionID, userID, organizationID, agentID string, opts core.BuildOptions) (*core.ContextSnapshot, error) {
	start := time.Now()
	// The cache key is captured before the session read. A mutation landing
	// between the read and the Set bumps the generation, so the snapshot
	// built from the pre-mutation view lands under an orphaned key instead
	// of being served as current.
	key := o.cacheKey(sessionID, agentID)
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	prefs, err := o.preferences.Get(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}

	snapshot := &core.ContextSnapshot{
		Session: core.SessionView{
			ID:       sess.ID,
			Context:  sess.Context,
			Metadata: sess.Metadata,
			Created:  sess.Created,
		},
		User: core.UserView{
			UserID:         userID,
			OrganizationID: organizationID,
			Preferences:    prefs,
		},
		Agent: core.AgentView{
			AgentID:      agentID,
			Pinned:       prefs.IsPinned(core.ResourceTypeAgent, agentID),
			RecentlyUsed: prefs.RecentlyUsed[core.ResourceTypeAgent],
		},
		Metadata: core.SnapshotMetadata{
			Version:         core.SnapshotVersion,
			BuiltAt:         time.Now().UTC(),
			HistoryIncluded: opts.IncludeHistory,
			HistoryLimit:    opts.HistoryLimit,
		},
	}
	if opts.IncludeHistory {
		limit := opts.HistoryLimit
		if limit <= 0 {
			limit = core.MaxMessages
		}
		snapshot.Session.Messages = sess.History(limit)
	}
	if opts.IncludeConnectors {
		snapshot.Connectors = o.fetchConnectors(ctx, sessionID)
	}
	if opts.IncludeKnowledge && o.knowledge != nil {
		snapshot.Knowledge = o.retrieveKnowledge(ctx, userID, sess, opts)
	}

	o.cache.Set(key, snapshot, 1)
	o.cache.Wait()

	o.logger.Debug("snapshot built", "session_id", sessionID, "agent_id", agentID, "messages", len(snapshot.Session.Messages), "duration", time.Since(start))
	return snapshot, nil
}

// GetCachedContext returns the most recently built snapshot for the
// (session, agent) pair if no mutation invalidated it, else nil. It never
// triggers a rebuild.
func (o *Orchestrator) GetCachedContext(sessionID, agentID string) *core.ContextSnapshot {
	value, ok := o.cache.Get(o.cacheKey(sessionID, agentID))
	if !ok {
		return nil
	}
	snapshot, ok := value.(*core.ContextSnapshot)
	if !ok {
		return nil
	}
	return snapshot
}

// UpdateContext delegates the shallow merge to the session store and
// invalidates any cached snapshot for that session.
func (o *Orchestrator) UpdateContext(ctx context.Context, update ContextUpdate) error {
	if err := o.sessions.MergeContext(ctx, update.SessionID, update.Updates); err != nil {
		return err
	}
	o.invalidate(update.SessionID)
	return nil
}

// AddMessage appends a turn via the session store and invalidates any
// cached snapshot for that session.
func (o *Orchestrator) AddMessage(ctx context.Context, sessionID, role, content string, md *core.MessageMetadata) error {
	if err := o.sessions.AppendMessage(ctx, sessionID, core.NewMessage(role, content, md)); err != nil {
		return err
	}
	o.invalidate(sessionID)
	return nil
}

// ContextStats is a derived read; cheap to recompute, so never cached.
func (o *Orchestrator) ContextStats(ctx context.Context, sessionID string) (core.SessionStats, error) {
	return o.sessions.Stats(ctx, sessionID)
}

// RefreshSession delegates the TTL refresh.
func (o *Orchestrator) RefreshSession(ctx context.Context, sessionID string) error {
	return o.sessions.Refresh(ctx, sessionID)
}

// EndSession deletes the underlying session and evicts any cached snapshot.
// No transition is valid out of an ended session: subsequent calls against
// the id fail with core.ErrSessionNotFound, matching post-deletion store
// behavior.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	if err := o.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	o.invalidate(sessionID)
	return nil
}

// cacheKey stamps the (session, agent) pair with the session's current
// generation, so advancing the generation orphans every cached snapshot of
// that session without enumerating agent ids.
func (o *Orchestrator) cacheKey(sessionID, agentID string) string {
	o.mu.Lock()
	gen := o.generations[sessionID]
	o.mu.Unlock()
	return fmt.Sprintf("%s|%s|%d", sessionID, agentID, gen)
}

// invalidate advances the session's generation. The entry is kept even for
// ended sessions: ids are uuids and never reused, and keeping the counter
// guarantees a pre-end snapshot can never resurface.
func (o *Orchestrator) invalidate(sessionID string) {
	o.mu.Lock()
	o.generations[sessionID]++
	o.mu.Unlock()
}

func (o *Orchestrator) fetchConnectors(ctx context.Context, sessionID string) map[string]map[string]any {
	if len(o.connectors) == 0 {
		return nil
	}
	out := make(map[string]map[string]any, len(o.connectors))
	for _, connector := range o.connectors {
		data, err := connector.Fetch(ctx, sessionID)
		if err != nil {
			o.logger.Warn("connector fetch failed", "connector", connector.Name(), "session_id", sessionID, "error", err)
			continue
		}
		out[connector.Name()] = data
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (o *Orchestrator) retrieveKnowledge(ctx context.Context, userID string, sess *core.Session, opts core.BuildOptions) []core.KnowledgeResult {
	query := lastUserQuery(sess)
	if query == "" {
		return nil
	}
	limit := opts.KnowledgeLimit
	if limit <= 0 {
		limit = core.DefaultBuildOptions().KnowledgeLimit
	}
	results, err := o.knowledge.Retrieve(ctx, userID, query, limit)
	if err != nil {
		o.logger.Warn("knowledge retrieval failed", "session_id", sess.ID, "error", err)
		return nil
	}
	return results
}

// lastUserQuery returns the content of the most recent user turn, the query
// seed for knowledge enrichment.
func lastUserQuery(sess *core.Session) string {
	msgs := sess.History(core.MaxMessages)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
