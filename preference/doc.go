// Package preference houses concrete implementations of the
// core.PreferenceStore: per-(user, organization) settings, bounded recency
// tracking and interaction analytics. As with sessions, the contract lives
// in core and only backends live here; the redis sub-package is the shared
// production backend, the in-memory store serves tests and single-process
// use. Read paths degrade to documented defaults when a record is merely
// absent; only genuine connectivity failures surface as errors.
package preference
