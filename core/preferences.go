package core

import (
	"context"
	"sort"
	"time"
)

// Documented preference defaults, applied when no record exists yet.
const (
	DefaultTheme    = "auto"
	DefaultUIMode   = "comfortable"
	DefaultLanguage = "en"
)

// Preferences is one record per (user, organization) pair: scalar settings
// plus favorites, shortcuts, pinned resources and recently-used rankings.
// Records are lazily materialized with defaults on first read.
type Preferences struct {
	UserID         string              `json:"user_id"`
	OrganizationID string              `json:"organization_id"`
	Theme          string              `json:"theme"`
	UIMode         string              `json:"ui_mode"`
	Language       string              `json:"language"`
	FavoriteViews  []string            `json:"favorite_views"`
	Shortcuts      map[string]string   `json:"shortcuts"`
	Pinned         map[string][]string `json:"pinned"`
	RecentlyUsed   map[string][]string `json:"recently_used"`
}

// NewPreferences returns a record populated with the documented defaults:
// theme "auto", UI mode "comfortable", language "en", all lists empty.
func NewPreferences(userID, organizationID string) *Preferences {
	return &Preferences{
		UserID:         userID,
		OrganizationID: organizationID,
		Theme:          DefaultTheme,
		UIMode:         DefaultUIMode,
		Language:       DefaultLanguage,
		FavoriteViews:  []string{},
		Shortcuts:      map[string]string{},
		Pinned:         map[string][]string{},
		RecentlyUsed:   map[string][]string{},
	}
}

// IsPinned reports whether resourceID is pinned under resourceType.
func (p *Preferences) IsPinned(resourceType, resourceID string) bool {
	for _, id := range p.Pinned[resourceType] {
		if id == resourceID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for independent mutation.
func (p *Preferences) Clone() *Preferences {
	clone := &Preferences{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		Theme:          p.Theme,
		UIMode:         p.UIMode,
		Language:       p.Language,
		FavoriteViews:  append([]string{}, p.FavoriteViews...),
		Shortcuts:      make(map[string]string, len(p.Shortcuts)),
		Pinned:         make(map[string][]string, len(p.Pinned)),
		RecentlyUsed:   make(map[string][]string, len(p.RecentlyUsed)),
	}
	for k, v := range p.Shortcuts {
		clone.Shortcuts[k] = v
	}
	for k, v := range p.Pinned {
		clone.Pinned[k] = append([]string{}, v...)
	}
	for k, v := range p.RecentlyUsed {
		clone.RecentlyUsed[k] = append([]string{}, v...)
	}
	return clone
}

// PreferenceUpdate is a partial update of the scalar preference fields. Nil
// pointers leave the corresponding field untouched.
type PreferenceUpdate struct {
	Theme    *string `json:"theme,omitempty"`
	UIMode   *string `json:"ui_mode,omitempty"`
	Language *string `json:"language,omitempty"`
}

// InteractionEvent is an immutable fact appended to the rolling interaction
// log. It is derivation input for recently-used rankings and adaptive
// insights, never mutated after the fact.
type InteractionEvent struct {
	UserID         string    `json:"user_id"`
	OrganizationID string    `json:"organization_id"`
	Type           string    `json:"type"`
	ResourceType   string    `json:"resource_type"`
	ResourceID     string    `json:"resource_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// ResourceUsage pairs a resource id with its observed interaction count.
type ResourceUsage struct {
	ResourceID string `json:"resource_id"`
	Count      int    `json:"count"`
}

// AdaptiveInsights is derived purely from the interaction log. Sparse or
// empty history yields empty slices, never an error.
type AdaptiveInsights struct {
	UserID            string          `json:"user_id"`
	MostUsedAgents    []ResourceUsage `json:"most_used_agents"`
	PeakActivityHours []int           `json:"peak_activity_hours"`
}

// ResourceTypeAgent is the resource type whose usage feeds MostUsedAgents.
const ResourceTypeAgent = "agent"

// DeriveInsights aggregates the interaction log into frequency-ranked agent
// usage and the (up to three) busiest hours of day, most active first. Both
// backends share this derivation so rankings are backend-independent.
func DeriveInsights(userID string, events []InteractionEvent) AdaptiveInsights {
	insights := AdaptiveInsights{
		UserID:            userID,
		MostUsedAgents:    []ResourceUsage{},
		PeakActivityHours: []int{},
	}
	if len(events) == 0 {
		return insights
	}

	agentCounts := map[string]int{}
	hourCounts := map[int]int{}
	for _, ev := range events {
		if ev.ResourceType == ResourceTypeAgent && ev.ResourceID != "" {
			agentCounts[ev.ResourceID]++
		}
		hourCounts[ev.Timestamp.Hour()]++
	}

	for id, n := range agentCounts {
		insights.MostUsedAgents = append(insights.MostUsedAgents, ResourceUsage{ResourceID: id, Count: n})
	}
	sort.Slice(insights.MostUsedAgents, func(i, j int) bool {
		a, b := insights.MostUsedAgents[i], insights.MostUsedAgents[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.ResourceID < b.ResourceID
	})

	for h := range hourCounts {
		insights.PeakActivityHours = append(insights.PeakActivityHours, h)
	}
	sort.Slice(insights.PeakActivityHours, func(i, j int) bool {
		a, b := insights.PeakActivityHours[i], insights.PeakActivityHours[j]
		if hourCounts[a] != hourCounts[b] {
			return hourCounts[a] > hourCounts[b]
		}
		return a < b
	})
	if len(insights.PeakActivityHours) > 3 {
		insights.PeakActivityHours = insights.PeakActivityHours[:3]
	}
	return insights
}

// PreferenceStore owns per-(user, organization) settings and bounded recency
// tracking. Read paths degrade to defaults when a record is merely absent;
// genuine connectivity failures surface as ErrStoreUnavailable.
type PreferenceStore interface {
	// Get returns existing preferences or materialized defaults.
	Get(ctx context.Context, userID, organizationID string) (*Preferences, error)
	// Update shallow-merges the provided scalar fields.
	Update(ctx context.Context, userID, organizationID string, update PreferenceUpdate) error
	// TrackInteraction appends to the interaction log and promotes the
	// resource to the front of its recently-used list.
	TrackInteraction(ctx context.Context, event InteractionEvent) error
	// TogglePin adds the id to the pinned set if absent, removes it otherwise.
	TogglePin(ctx context.Context, userID, organizationID, resourceType, resourceID string) error
	// AddFavoriteView inserts a view path; already-present paths are a no-op.
	AddFavoriteView(ctx context.Context, userID, organizationID, viewPath string) error
	// RemoveFavoriteView removes a view path if present.
	RemoveFavoriteView(ctx context.Context, userID, organizationID, viewPath string) error
	// SetShortcut upserts one key-combo binding.
	SetShortcut(ctx context.Context, userID, organizationID, keyCombo, action string) error
	// Insights derives adaptive usage insights from the interaction log.
	Insights(ctx context.Context, userID, organizationID string) (AdaptiveInsights, error)
	// ClearCache discards any locally cached preferences view so the next
	// read reloads from the store of record.
	ClearCache(userID, organizationID string)
}
