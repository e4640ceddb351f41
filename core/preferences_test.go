package core

import (
	"testing"
	"time"
)

func TestNewPreferences_Defaults(t *testing.T) {
	p := NewPreferences("u1", "o1")
	if p.Theme != "auto" || p.UIMode != "comfortable" || p.Language != "en" {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if len(p.FavoriteViews) != 0 || len(p.Shortcuts) != 0 {
		t.Errorf("lists should start empty: %+v", p)
	}
}

func TestPreferences_CloneIsolation(t *testing.T) {
	p := NewPreferences("u1", "o1")
	p.FavoriteViews = append(p.FavoriteViews, "/dashboard")
	p.Pinned["agent"] = []string{"a1"}

	clone := p.Clone()
	clone.FavoriteViews[0] = "/changed"
	clone.Pinned["agent"][0] = "changed"
	clone.Shortcuts["mod+k"] = "palette"

	if p.FavoriteViews[0] != "/dashboard" {
		t.Error("favorite views should be deep-copied")
	}
	if p.Pinned["agent"][0] != "a1" {
		t.Error("pinned sets should be deep-copied")
	}
	if _, ok := p.Shortcuts["mod+k"]; ok {
		t.Error("shortcuts map should be deep-copied")
	}
}

func TestDeriveInsights_EmptyHistory(t *testing.T) {
	insights := DeriveInsights("u1", nil)
	if insights.UserID != "u1" {
		t.Errorf("expected user id passthrough, got %q", insights.UserID)
	}
	if len(insights.MostUsedAgents) != 0 || len(insights.PeakActivityHours) != 0 {
		t.Errorf("empty history should yield empty insights: %+v", insights)
	}
}

func TestDeriveInsights_RanksByFrequency(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2026, 3, 14, hour, 0, 0, 0, time.UTC)
	}
	events := []InteractionEvent{
		{ResourceType: ResourceTypeAgent, ResourceID: "a1", Timestamp: at(9)},
		{ResourceType: ResourceTypeAgent, ResourceID: "a2", Timestamp: at(9)},
		{ResourceType: ResourceTypeAgent, ResourceID: "a2", Timestamp: at(14)},
		{ResourceType: "workflow", ResourceID: "w1", Timestamp: at(9)},
	}
	insights := DeriveInsights("u1", events)

	if len(insights.MostUsedAgents) != 2 {
		t.Fatalf("expected 2 ranked agents, got %d", len(insights.MostUsedAgents))
	}
	if insights.MostUsedAgents[0].ResourceID != "a2" || insights.MostUsedAgents[0].Count != 2 {
		t.Errorf("expected a2 ranked first with count 2: %+v", insights.MostUsedAgents)
	}
	if insights.PeakActivityHours[0] != 9 {
		t.Errorf("expected hour 9 as peak, got %v", insights.PeakActivityHours)
	}
}
