package core

import (
	"context"
	"time"
)

// SnapshotVersion identifies the snapshot schema. Downstream consumers treat
// it as a compatibility contract and must reject shapes they do not know.
const SnapshotVersion = "3.0"

// BuildOptions configures snapshot assembly. It is a closed set of
// recognized flags plus one explicit Extra map for forward-compatible,
// caller-defined hints; unrecognized behavior never hides in loose maps.
type BuildOptions struct {
	// IncludeHistory embeds the session's retained messages, bounded by
	// HistoryLimit. Defaults to true via DefaultBuildOptions.
	IncludeHistory bool
	// HistoryLimit bounds embedded history; values above the retained count
	// embed everything retained.
	HistoryLimit int
	// IncludeConnectors invokes the configured external data connectors.
	IncludeConnectors bool
	// IncludeKnowledge enriches the snapshot with knowledge-base lookups.
	IncludeKnowledge bool
	// KnowledgeLimit bounds knowledge results per build.
	KnowledgeLimit int
	// Extra carries caller-defined hints passed through to enrichers.
	Extra map[string]any
}

// DefaultBuildOptions returns the canonical defaults: full retained history
// embedded, no external enrichment.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		IncludeHistory: true,
		HistoryLimit:   MaxMessages,
		KnowledgeLimit: 5,
	}
}

// SessionView is the session slice of a snapshot.
type SessionView struct {
	ID       string          `json:"id"`
	Messages []Message       `json:"messages,omitempty"`
	Context  map[string]any  `json:"context"`
	Metadata SessionMetadata `json:"metadata"`
	Created  time.Time       `json:"created"`
}

// UserView is the user slice of a snapshot.
type UserView struct {
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id"`
	Preferences    *Preferences `json:"preferences,omitempty"`
}

// AgentView is the agent slice of a snapshot, derived from preference data.
type AgentView struct {
	AgentID      string   `json:"agent_id"`
	Pinned       bool     `json:"pinned"`
	RecentlyUsed []string `json:"recently_used,omitempty"`
}

// SnapshotMetadata describes how and when a snapshot was assembled.
type SnapshotMetadata struct {
	Version         string    `json:"version"`
	BuiltAt         time.Time `json:"built_at"`
	HistoryIncluded bool      `json:"history_included"`
	HistoryLimit    int       `json:"history_limit"`
}

// ContextSnapshot is the orchestrator's output: an immutable point-in-time
// composite handed to the agent-execution step. Once returned it must not be
// mutated; a fresh build or a cache hit are the only ways to obtain one.
type ContextSnapshot struct {
	Session    SessionView               `json:"session"`
	User       UserView                  `json:"user"`
	Agent      AgentView                 `json:"agent"`
	Knowledge  []KnowledgeResult         `json:"knowledge,omitempty"`
	Connectors map[string]map[string]any `json:"connectors,omitempty"`
	Metadata   SnapshotMetadata          `json:"metadata"`
}

// Connector is an external data source consulted during snapshot assembly
// when BuildOptions.IncludeConnectors is set. Failures are logged and
// skipped; enrichment is best effort and never blocks a build.
type Connector interface {
	Name() string
	Fetch(ctx context.Context, sessionID string) (map[string]any, error)
}

// KnowledgeResult is one knowledge-base hit attached to a snapshot.
type KnowledgeResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KnowledgeRetriever looks up knowledge relevant to the conversation when
// BuildOptions.IncludeKnowledge is set. The query is derived from the latest
// user turn.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, userID, query string, limit int) ([]KnowledgeResult, error)
}
