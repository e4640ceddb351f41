// Package redis implements core.PreferenceStore on top of a shared Redis
// instance. Scalars live in a hash, shortcuts in their own hash, favorites
// and recently-used rankings in lists, pinned resources in sets and the
// rolling interaction log in a capped list. The recently-used promotion
// (LREM + LPUSH + LTRIM) and the log append run inside one MULTI/EXEC
// transaction. A small process-local read cache fronts the store of record;
// every write invalidates it and ClearCache discards it explicitly.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/contextmesh/core"
)

// favoriteRetries bounds the optimistic retry loop for favorite inserts.
const favoriteRetries = 3

// Config configures the redis-backed preference store.
type Config struct {
	// KeyPrefix namespaces all keys, default "contextmesh".
	KeyPrefix string
	// TTL optionally expires preference keys; zero means no expiry
	// (preferences are durable-ish, unlike sessions).
	TTL time.Duration
}

// Store is a core.PreferenceStore backed by Redis. Connect must be called
// before first use; operations issued earlier fail fast with
// core.ErrNotInitialized.
type Store struct {
	client    redis.UniversalClient
	cfg       Config
	connected atomic.Bool

	mu    sync.RWMutex
	cache map[string]*core.Preferences
}

// New constructs a store around an existing client.
func New(client redis.UniversalClient, optFns ...func(c *Config)) *Store {
	cfg := Config{KeyPrefix: "contextmesh"}
	for _, fn := range optFns {
		fn(&cfg)
	}
	return &Store{client: client, cfg: cfg, cache: make(map[string]*core.Preferences)}
}

// Connect verifies connectivity and marks the store ready for use.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
	}
	s.connected.Store(true)
	return nil
}

func (s *Store) ready() error {
	if !s.connected.Load() {
		return core.ErrNotInitialized
	}
	return nil
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
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

func (s *Store) base(userID, organizationID string) string {
	return s.cfg.KeyPrefix + ":pref:" + organizationID + ":" + userID
}

func (s *Store) shortcutsKey(u, o string) string { return s.base(u, o) + ":shortcuts" }
func (s *Store) favKey(u, o string) string       { return s.base(u, o) + ":fav" }
func (s *Store) typesKey(u, o string) string     { return s.base(u, o) + ":types" }
func (s *Store) eventsKey(u, o string) string    { return s.base(u, o) + ":events" }

func (s *Store) pinKey(u, o, resourceType string) string {
	return s.base(u, o) + ":pin:" + resourceType
}

func (s *Store) recentKey(u, o, resourceType string) string {
	return s.base(u, o) + ":recent:" + resourceType
}

// Get returns the cached preferences view when present, otherwise reloads
// from Redis, materializing defaults for a never-seen pair.
func (s *Store) Get(ctx context.Context, userID, organizationID string) (*core.Preferences, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return nil, err
	}

	cacheKey := organizationID + "|" + userID
	s.mu.RLock()
	cached, ok := s.cache[cacheKey]
	s.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	prefs, err := s.load(ctx, userID, organizationID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[cacheKey] = prefs
	s.mu.Unlock()
	return prefs.Clone(), nil
}

func (s *Store) load(ctx context.Context, userID, organizationID string) (*core.Preferences, error) {
	prefs := core.NewPreferences(userID, organizationID)

	scalars, err := s.client.HGetAll(ctx, s.base(userID, organizationID)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	if v := scalars["theme"]; v != "" {
		prefs.Theme = v
	}
	if v := scalars["ui_mode"]; v != "" {
		prefs.UIMode = v
	}
	if v := scalars["language"]; v != "" {
		prefs.Language = v
	}

	shortcuts, err := s.client.HGetAll(ctx, s.shortcutsKey(userID, organizationID)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	for combo, action := range shortcuts {
		prefs.Shortcuts[combo] = action
	}

	favorites, err := s.client.LRange(ctx, s.favKey(userID, organizationID), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	prefs.FavoriteViews = append(prefs.FavoriteViews, favorites...)

	types, err := s.client.SMembers(ctx, s.typesKey(userID, organizationID)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	for _, resourceType := range types {
		pinned, err := s.client.SMembers(ctx, s.pinKey(userID, organizationID, resourceType)).Result()
		if err != nil {
			return nil, wrap(err)
		}
		if len(pinned) > 0 {
			prefs.Pinned[resourceType] = pinned
		}
		recent, err := s.client.LRange(ctx, s.recentKey(userID, organizationID, resourceType), 0, -1).Result()
		if err != nil {
			return nil, wrap(err)
		}
		if len(recent) > 0 {
			prefs.RecentlyUsed[resourceType] = recent
		}
	}
	return prefs, nil
}

// Update shallow-merges the provided scalar fields.
func (s *Store) Update(ctx context.Context, userID, organizationID string, update core.PreferenceUpdate) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	fields := map[string]any{}
	if update.Theme != nil {
		fields["theme"] = *update.Theme
	}
	if update.UIMode != nil {
		fields["ui_mode"] = *update.UIMode
	}
	if update.Language != nil {
		fields["language"] = *update.Language
	}
	if len(fields) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.base(userID, organizationID), fields)
	s.expire(ctx, pipe, s.base(userID, organizationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err)
	}
	s.invalidate(userID, organizationID)
	return nil
}

// TrackInteraction appends the event to the capped log and promotes the
// resource in its recently-used list, all in one transaction.
func (s *Store) TrackInteraction(ctx context.Context, event core.InteractionEvent) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(event.UserID, event.OrganizationID); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return core.NewValidationError("event", err.Error())
	}

	u, o := event.UserID, event.OrganizationID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.eventsKey(u, o), payload)
	pipe.LTrim(ctx, s.eventsKey(u, o), -int64(core.MaxInteractionLog), -1)
	if event.ResourceType != "" && event.ResourceID != "" {
		pipe.SAdd(ctx, s.typesKey(u, o), event.ResourceType)
		recentKey := s.recentKey(u, o, event.ResourceType)
		pipe.LRem(ctx, recentKey, 0, event.ResourceID)
		pipe.LPush(ctx, recentKey, event.ResourceID)
		pipe.LTrim(ctx, recentKey, 0, int64(core.MaxRecentlyUsed)-1)
		s.expire(ctx, pipe, recentKey)
	}
	s.expire(ctx, pipe, s.eventsKey(u, o))
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err)
	}
	s.invalidate(u, o)
	return nil
}

// TogglePin removes the id when present (SREM reports a removal), otherwise
// adds it, so the toggle needs no read round trip.
func (s *Store) TogglePin(ctx context.Context, userID, organizationID, resourceType, resourceID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	key := s.pinKey(userID, organizationID, resourceType)
	removed, err := s.client.SRem(ctx, key, resourceID).Result()
	if err != nil {
		return wrap(err)
	}
	if removed == 0 {
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, key, resourceID)
		pipe.SAdd(ctx, s.typesKey(userID, organizationID), resourceType)
		if _, err := pipe.Exec(ctx); err != nil {
			return wrap(err)
		}
	}
	s.invalidate(userID, organizationID)
	return nil
}

// AddFavoriteView inserts a view path; already-present paths are a no-op.
// The check-and-insert runs under WATCH so two processes adding the same
// path cannot both pass the duplicate check.
func (s *Store) AddFavoriteView(ctx context.Context, userID, organizationID, viewPath string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	key := s.favKey(userID, organizationID)
	add := func(tx *redis.Tx) error {
		existing, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return wrap(err)
		}
		for _, path := range existing {
			if path == viewPath {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key, viewPath)
			s.expire(ctx, pipe, key)
			return nil
		})
		if err != nil {
			return wrap(err)
		}
		return nil
	}

	var err error
	for i := 0; i < favoriteRetries; i++ {
		err = s.client.Watch(ctx, add, key)
		if !errors.Is(err, redis.TxFailedErr) {
			if err == nil {
				s.invalidate(userID, organizationID)
			}
			return err
		}
	}
	return wrap(err)
}

// RemoveFavoriteView removes a view path if present.
func (s *Store) RemoveFavoriteView(ctx context.Context, userID, organizationID, viewPath string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	if err := s.client.LRem(ctx, s.favKey(userID, organizationID), 0, viewPath).Err(); err != nil {
		return wrap(err)
	}
	s.invalidate(userID, organizationID)
	return nil
}

// SetShortcut upserts one key-combo binding.
func (s *Store) SetShortcut(ctx context.Context, userID, organizationID, keyCombo, action string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return err
	}
	if keyCombo == "" {
		return core.NewValidationError("keyCombo", "must not be empty")
	}
	if err := s.client.HSet(ctx, s.shortcutsKey(userID, organizationID), keyCombo, action).Err(); err != nil {
		return wrap(err)
	}
	s.invalidate(userID, organizationID)
	return nil
}

// Insights derives adaptive usage insights from the interaction log.
func (s *Store) Insights(ctx context.Context, userID, organizationID string) (core.AdaptiveInsights, error) {
	if err := s.ready(); err != nil {
		return core.AdaptiveInsights{}, err
	}
	if err := validateIdentity(userID, organizationID); err != nil {
		return core.AdaptiveInsights{}, err
	}
	raw, err := s.client.LRange(ctx, s.eventsKey(userID, organizationID), 0, -1).Result()
	if err != nil {
		return core.AdaptiveInsights{}, wrap(err)
	}
	events := make([]core.InteractionEvent, 0, len(raw))
	for _, item := range raw {
		var ev core.InteractionEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue // skip corrupt entries, insights are best effort
		}
		events = append(events, ev)
	}
	return core.DeriveInsights(userID, events), nil
}

// ClearCache discards the locally cached view for the pair, forcing the next
// Get to reload from the store of record.
func (s *Store) ClearCache(userID, organizationID string) {
	s.invalidate(userID, organizationID)
}

func (s *Store) invalidate(userID, organizationID string) {
	s.mu.Lock()
	delete(s.cache, organizationID+"|"+userID)
	s.mu.Unlock()
}

func (s *Store) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TTL)
	}
}
