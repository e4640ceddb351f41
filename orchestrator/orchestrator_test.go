package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/preference"
	"github.com/hupe1980/contextmesh/session"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(func(o *Options) {
		o.Sessions = session.NewInMemoryStore()
		o.Preferences = preference.NewInMemoryStore()
	})
	require.NoError(t, err)
	return o
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(func(o *Options) { o.Preferences = preference.NewInMemoryStore() })
	assert.Error(t, err)
	_, err = New(func(o *Options) { o.Sessions = session.NewInMemoryStore() })
	assert.Error(t, err)
}

func TestBuildContext_Scenario(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)

	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)

	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "Hello", nil))
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleAssistant, "Hi there!", nil))

	snapshot, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)

	assert.Equal(t, "3.0", snapshot.Metadata.Version)
	require.Len(t, snapshot.Session.Messages, 2)
	assert.Equal(t, "Hello", snapshot.Session.Messages[0].Content)
	assert.Equal(t, core.RoleUser, snapshot.Session.Messages[0].Role)
	assert.Equal(t, "Hi there!", snapshot.Session.Messages[1].Content)
	assert.Equal(t, core.RoleAssistant, snapshot.Session.Messages[1].Role)
	assert.Equal(t, "u1", snapshot.User.UserID)
	assert.Equal(t, "auto", snapshot.User.Preferences.Theme)
	assert.Equal(t, "a1", snapshot.Agent.AgentID)
}

func TestBuildContext_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(t)
	_, err := o.BuildContext(context.Background(), "missing", "u1", "o1", "a1", core.DefaultBuildOptions())
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestBuildContext_HistoryOptions(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)
	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "turn", nil))
	}

	opts := core.DefaultBuildOptions()
	opts.HistoryLimit = 2
	snapshot, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", opts)
	require.NoError(t, err)
	assert.Len(t, snapshot.Session.Messages, 2)

	opts.IncludeHistory = false
	snapshot, err = o.BuildContext(ctx, sessionID, "u1", "o1", "a1", opts)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Session.Messages)
	assert.False(t, snapshot.Metadata.HistoryIncluded)
	// Counters are present even without embedded history.
	assert.Equal(t, 5, snapshot.Session.Metadata.MessageCount)
}

func TestGetCachedContext_InvalidationOnMutation(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)
	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "Hello", nil))

	assert.Nil(t, o.GetCachedContext(sessionID, "a1"), "no build yet, no cached snapshot")

	built, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)

	cached := o.GetCachedContext(sessionID, "a1")
	require.NotNil(t, cached)
	assert.Same(t, built, cached, "cache must return the snapshot unchanged")
	assert.Nil(t, o.GetCachedContext(sessionID, "other-agent"))

	// Any mutation invalidates; the cache never rebuilds on its own.
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleAssistant, "Hi there!", nil))
	assert.Nil(t, o.GetCachedContext(sessionID, "a1"))

	// A fresh build reflects the latest session view.
	rebuilt, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Len(t, rebuilt.Session.Messages, 2)

	require.NoError(t, o.UpdateContext(ctx, ContextUpdate{SessionID: sessionID, UserID: "u1", OrganizationID: "o1", Updates: map[string]any{"k": "v"}}))
	assert.Nil(t, o.GetCachedContext(sessionID, "a1"))
}

// hookedSessionStore runs a callback after each underlying Get, exposing the
// window between the session read and the cache write.
type hookedSessionStore struct {
	core.SessionStore
	onGet func()
}

func (s *hookedSessionStore) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	sess, err := s.SessionStore.Get(ctx, sessionID)
	if s.onGet != nil {
		s.onGet()
	}
	return sess, err
}

func TestBuildContext_MutationDuringBuildInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	hooked := &hookedSessionStore{SessionStore: session.NewInMemoryStore()}
	o, err := New(func(o *Options) {
		o.Sessions = hooked
		o.Preferences = preference.NewInMemoryStore()
	})
	require.NoError(t, err)

	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)

	// A concurrent append completes after the session read but before the
	// snapshot is cached.
	hooked.onGet = func() {
		hooked.onGet = nil
		require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "Hello", nil))
	}

	snapshot, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Empty(t, snapshot.Session.Messages, "the build itself reflects the pre-append read")

	assert.Nil(t, o.GetCachedContext(sessionID, "a1"),
		"a snapshot missing the completed append must not be served from cache")

	rebuilt, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Len(t, rebuilt.Session.Messages, 1)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)
	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)
	_, err = o.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.DefaultBuildOptions())
	require.NoError(t, err)

	require.NoError(t, o.EndSession(ctx, sessionID))

	assert.Nil(t, o.GetCachedContext(sessionID, "a1"), "ended session must not serve cached snapshots")
	assert.ErrorIs(t, o.AddMessage(ctx, sessionID, core.RoleUser, "late", nil), core.ErrSessionNotFound)
	assert.ErrorIs(t, o.RefreshSession(ctx, sessionID), core.ErrSessionNotFound)
	_, err = o.ContextStats(ctx, sessionID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.ErrorIs(t, o.EndSession(ctx, sessionID), core.ErrSessionNotFound)
}

func TestContextStats(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t)
	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "Hello", &core.MessageMetadata{Tokens: 5, Cost: 0.0001}))
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleAssistant, "Hi there!", &core.MessageMetadata{Tokens: 10, Cost: 0.0002}))

	stats, err := o.ContextStats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 15, stats.TotalTokens)
	assert.InDelta(t, 0.0003, stats.TotalCost, 1e-9)
}

type stubConnector struct {
	name string
	data map[string]any
	err  error
}

func (c *stubConnector) Name() string { return c.name }

func (c *stubConnector) Fetch(context.Context, string) (map[string]any, error) {
	return c.data, c.err
}

type stubRetriever struct {
	results []core.KnowledgeResult
	query   string
}

func (r *stubRetriever) Retrieve(_ context.Context, _, query string, _ int) ([]core.KnowledgeResult, error) {
	r.query = query
	return r.results, nil
}

func TestBuildContext_Enrichment(t *testing.T) {
	ctx := context.Background()
	retriever := &stubRetriever{results: []core.KnowledgeResult{{ID: "k1", Content: "refund policy", Score: 0.9}}}
	o, err := New(func(o *Options) {
		o.Sessions = session.NewInMemoryStore()
		o.Preferences = preference.NewInMemoryStore()
		o.Connectors = []core.Connector{
			&stubConnector{name: "crm", data: map[string]any{"tier": "gold"}},
			&stubConnector{name: "broken", err: errors.New("boom")},
		}
		o.Knowledge = retriever
	})
	require.NoError(t, err)

	sessionID, err := o.CreateSession(ctx, "u1", "o1", "a1", nil)
	require.NoError(t, err)
	require.NoError(t, o.AddMessage(ctx, sessionID, core.RoleUser, "What is the refund policy?", nil))

	opts := core.DefaultBuildOptions()
	opts.IncludeConnectors = true
	opts.IncludeKnowledge = true
	snapshot, err := o.BuildContext(ctx, sessionID, "u1", "o1", "a1", opts)
	require.NoError(t, err)

	require.Contains(t, snapshot.Connectors, "crm")
	assert.Equal(t, "gold", snapshot.Connectors["crm"]["tier"])
	assert.NotContains(t, snapshot.Connectors, "broken", "failing connectors are skipped, not fatal")

	require.Len(t, snapshot.Knowledge, 1)
	assert.Equal(t, "k1", snapshot.Knowledge[0].ID)
	assert.Equal(t, "What is the refund policy?", retriever.query, "query derives from the latest user turn")
}
