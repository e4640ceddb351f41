// Package core provides the foundational domain types, interfaces and
// contracts used by ContextMesh. It defines the core abstractions for:
//
//   - Sessions (bounded conversational containers with message history)
//   - Messages (immutable conversational turns)
//   - Preferences (per user/organization settings and interaction analytics)
//   - Context snapshots (immutable, versioned composites handed to agent execution)
//   - Pluggable stores for session state and preference/interaction data
//
// The package intentionally keeps implementation concerns (persistence,
// snapshot orchestration, concrete backends) out of scope, exposing small
// interfaces to enable custom backends and extensions. All exported
// identifiers include concise documentation to aid discoverability and
// external consumption.
package core
