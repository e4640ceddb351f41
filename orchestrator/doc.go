// Package orchestrator composes point-in-time context snapshots from the
// session and preference stores and exposes the mutation/query surface
// consumed by HTTP controllers and the agent-execution step. It hides the
// stores behind one API, caches assembled snapshots per (session, agent)
// pair and invalidates them on every session mutation, so a cached snapshot
// always reflects the latest session view.
package orchestrator
