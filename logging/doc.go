// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug
// any structured logger. It also offers a richer EngineLogger with
// contextual helpers (component, session) and domain specific helpers for
// store round trips and snapshot builds.
package logging
