package preference

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// InMemoryStore is a process-local PreferenceStore. Records are lazily
// materialized with defaults on first read, interaction logs are capped at
// core.MaxInteractionLog and recently-used lists at core.MaxRecentlyUsed.
// Concurrency: protected by RWMutex; every returned Preferences is a clone.
//
// The in-memory store is its own store of record, so ClearCache has nothing
// separate to discard and is a no-op kept for interface symmetry.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*record // "org|user" -> record
}

type record struct {
	prefs  *core.Preferences
	events []core.InteractionEvent
}

// NewInMemoryStore constructs an empty in-memory preference store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*record)}
}

func recordKey(userID, organizationID string) string {
	return organizationID + "|" + userID
}

func validateIdentity(userID, organizationID string) error {
	if userID == "" {
		return core.NewValidationError("userID", "must not be empty")
	}
	if organizationID == "" {
		return core.NewValidationError("organizationID", "must not be empty")
	}
	return nil
}

// Get returns existing preferences or materializes defaults, without
// requiring a prior explicit write.
func (s *InMemoryStore) Get(_ context.Context, userID, organizationID string) (*core.Preferences, error) {
	if err := validateIdentity(userID, organizationID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(userID, organizationID).prefs.Clone(), nil
}

// Update shallow-merges the provided scalar fields; nil pointers leave the
// corresponding field untouched.
func (s *InMemoryStore) Update(_ context.Context, userID, organizationID string, update core.PreferenceUpdate) error {
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.recordLocked(userID, organizationID).prefs
	if update.Theme != nil {
		prefs.Theme = *update.Theme
	}
	if update.UIMode != nil {
		prefs.UIMode = *update.UIMode
	}
	if update.Language != nil {
		prefs.Language = *update.Language
	}
	return nil
}

// TrackInteraction appends the event to the rolling log and promotes the
// resource to the front of its recently-used list (de-duplicated, capped).
func (s *InMemoryStore) TrackInteraction(_ context.Context, event core.InteractionEvent) error {
	if err := validateIdentity(event.UserID, event.OrganizationID); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.recordLocked(event.UserID, event.OrganizationID)

	rec.events = append(rec.events, event)
	if n := len(rec.events) - core.MaxInteractionLog; n > 0 {
		rec.events = append([]core.InteractionEvent(nil), rec.events[n:]...)
	}

	if event.ResourceType != "" && event.ResourceID != "" {
		recent := promote(rec.prefs.RecentlyUsed[event.ResourceType], event.ResourceID, core.MaxRecentlyUsed)
		rec.prefs.RecentlyUsed[event.ResourceType] = recent
	}
	return nil
}

// TogglePin adds the id to the pinned set if absent, removes it otherwise.
func (s *InMemoryStore) TogglePin(_ context.Context, userID, organizationID, resourceType, resourceID string) error {
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.recordLocked(userID, organizationID).prefs
	pinned := prefs.Pinned[resourceType]
	for i, id := range pinned {
		if id == resourceID {
			prefs.Pinned[resourceType] = append(pinned[:i:i], pinned[i+1:]...)
			return nil
		}
	}
	prefs.Pinned[resourceType] = append(pinned, resourceID)
	return nil
}

// AddFavoriteView inserts a view path preserving insertion order; an
// already-present path is a no-op.
func (s *InMemoryStore) AddFavoriteView(_ context.Context, userID, organizationID, viewPath string) error {
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.recordLocked(userID, organizationID).prefs
	for _, path := range prefs.FavoriteViews {
		if path == viewPath {
			return nil
		}
	}
	prefs.FavoriteViews = append(prefs.FavoriteViews, viewPath)
	return nil
}

// RemoveFavoriteView removes a view path if present.
func (s *InMemoryStore) RemoveFavoriteView(_ context.Context, userID, organizationID, viewPath string) error {
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.recordLocked(userID, organizationID).prefs
	for i, path := range prefs.FavoriteViews {
		if path == viewPath {
			prefs.FavoriteViews = append(prefs.FavoriteViews[:i:i], prefs.FavoriteViews[i+1:]...)
			return nil
		}
	}
	return nil
}

// SetShortcut upserts one key-combo binding.
func (s *InMemoryStore) SetShortcut(_ context.Context, userID, organizationID, keyCombo, action string) error {
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	if keyCombo == "" {
		return core.NewValidationError("keyCombo", "must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(userID, organizationID).prefs.Shortcuts[keyCombo] = action
	return nil
}

// Insights derives adaptive usage insights from the interaction log. Sparse
// or empty history yields empty results, never an error.
func (s *InMemoryStore) Insights(_ context.Context, userID, organizationID string) (core.AdaptiveInsights, error) {
	if err := validateIdentity(userID, organizationID); err != nil {
		return core.AdaptiveInsights{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(userID, organizationID)]
	if !ok {
		return core.DeriveInsights(userID, nil), nil
	}
	return core.DeriveInsights(userID, rec.events), nil
}

// ClearCache is a no-op: the in-memory store is its own store of record.
func (s *InMemoryStore) ClearCache(string, string) {}

// recordLocked lazily materializes the record with documented defaults;
// caller must hold the write lock.
func (s *InMemoryStore) recordLocked(userID, organizationID string) *record {
	key := recordKey(userID, organizationID)
	rec, ok := s.records[key]
	if !ok {
		rec = &record{prefs: core.NewPreferences(userID, organizationID)}
		s.records[key] = rec
	}
	return rec
}

// promote moves id to the front of list, removing any prior occurrence and
// capping the result at max (eviction from the tail).
func promote(list []string, id string, max int) []string {
	out := make([]string, 0, len(list)+1)
	out = append(out, id)
	for _, existing := range list {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}
