// Package session houses concrete implementations of the core.SessionStore.
// The interface itself (and the Session struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (orchestrator, façade) from depending on concrete
// storage.
//
// The in-memory store is the default for tests and single-process use; the
// redis sub-package is the production backend sharing state across
// processes. Add additional backends (Postgres, Firestore, etc.) in
// sub-packages without changing any calling code; only the wiring layer
// needs to decide which implementation to instantiate.
package session
