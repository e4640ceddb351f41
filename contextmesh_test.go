package contextmesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/orchestrator"
)

func TestNew_Defaults(t *testing.T) {
	mesh, err := New()
	require.NoError(t, err)
	require.NotNil(t, mesh.Sessions())
	require.NotNil(t, mesh.Preferences())
}

func TestContextMesh_ConversationFlow(t *testing.T) {
	ctx := context.Background()
	mesh, err := New()
	require.NoError(t, err)

	sessionID, err := mesh.CreateSession(ctx, "u1", "o1", "a1", map[string]any{"plan": "pro"})
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	require.NoError(t, mesh.AddMessage(ctx, sessionID, core.RoleUser, "Hello", &core.MessageMetadata{Tokens: 5}))
	require.NoError(t, mesh.AddMessage(ctx, sessionID, core.RoleAssistant, "Hi there!", &core.MessageMetadata{Tokens: 10}))

	snapshot, err := mesh.BuildContext(ctx, sessionID, "u1", "o1", "a1", core.BuildOptions{IncludeHistory: true})
	require.NoError(t, err)
	assert.Equal(t, core.SnapshotVersion, snapshot.Metadata.Version)
	assert.Len(t, snapshot.Session.Messages, 2)
	assert.Equal(t, "pro", snapshot.Session.Context["plan"])
	assert.Equal(t, core.DefaultTheme, snapshot.User.Preferences.Theme)

	assert.Same(t, snapshot, mesh.GetCachedContext(sessionID, "a1"))

	require.NoError(t, mesh.UpdateContext(ctx, orchestrator.ContextUpdate{
		SessionID: sessionID,
		UserID:    "u1",
		Updates:   map[string]any{"plan": "enterprise"},
	}))
	assert.Nil(t, mesh.GetCachedContext(sessionID, "a1"), "mutation must invalidate the cached snapshot")

	stats, err := mesh.ContextStats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 15, stats.TotalTokens)

	require.NoError(t, mesh.RefreshSession(ctx, sessionID))
	require.NoError(t, mesh.EndSession(ctx, sessionID))
	assert.ErrorIs(t, mesh.EndSession(ctx, sessionID), core.ErrSessionNotFound)
}
