package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hupe1980/contextmesh/core"
)

// Interface compliance (compile-time assertion)
var _ core.SessionStore = (*Store)(nil)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := New(client, func(c *Config) { c.TTL = time.Minute })
	if err := store.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return store, mr
}

func TestStore_NotInitializedBeforeConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := New(client)

	if _, err := store.Create(context.Background(), "u1", "o1", "a1", nil); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before Connect, got %v", err)
	}
	if _, err := store.Get(context.Background(), "any"); !errors.Is(err, core.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized before Connect, got %v", err)
	}
}

func TestStore_CreateAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	id, err := store.Create(ctx, "u1", "o1", "a1", map[string]any{"plan": "pro"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("expected live session")
	}
	if sess.UserID != "u1" || sess.OrganizationID != "o1" || sess.AgentID != "a1" {
		t.Errorf("fixed attributes lost: %+v", sess)
	}
	if sess.Context["plan"] != "pro" {
		t.Errorf("initial context lost: %+v", sess.Context)
	}
	if sess.Metadata.MessageCount != 0 || len(sess.Messages) != 0 {
		t.Errorf("new session should be empty: %+v", sess.Metadata)
	}
}

func TestStore_GetAbsentReturnsNil(t *testing.T) {
	store, _ := newTestStore(t)
	sess, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("probe read must not error: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil for absent session, got %+v", sess)
	}
}

func TestStore_AppendWindowAndCounters(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	id, err := store.Create(ctx, "u1", "o1", "a1", nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 60; i++ {
		msg := core.NewMessage(core.RoleUser, fmt.Sprintf("Message %d", i), &core.MessageMetadata{Tokens: 1})
		if err := store.AppendMessage(ctx, id, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	sess, err := store.Get(ctx, id)
	if err != nil || sess == nil {
		t.Fatalf("get: %v, %v", sess, err)
	}
	if len(sess.Messages) != core.MaxMessages {
		t.Fatalf("expected %d retained, got %d", core.MaxMessages, len(sess.Messages))
	}
	if sess.Messages[0].Content != "Message 10" || sess.Messages[49].Content != "Message 59" {
		t.Errorf("window misaligned: first=%q last=%q", sess.Messages[0].Content, sess.Messages[49].Content)
	}
	if sess.Metadata.MessageCount != 60 || sess.Metadata.TotalTokens != 60 {
		t.Errorf("cumulative counters must survive truncation: %+v", sess.Metadata)
	}
}

func TestStore_AppendValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	id, _ := store.Create(ctx, "u1", "o1", "a1", nil)

	var verr *core.ValidationError
	if err := store.AppendMessage(ctx, id, core.NewMessage("narrator", "x", nil)); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown role, got %v", err)
	}
	if err := store.AppendMessage(ctx, "missing", core.NewUserMessage("x")); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_History(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	id, _ := store.Create(ctx, "u1", "o1", "a1", nil)
	for i := 0; i < 5; i++ {
		if err := store.AppendMessage(ctx, id, core.NewUserMessage(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	last, err := store.History(ctx, id, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(last) != 2 || last[0].Content != "m3" || last[1].Content != "m4" {
		t.Fatalf("unexpected window: %+v", last)
	}
	if got, _ := store.History(ctx, id, 0); len(got) != 0 {
		t.Errorf("limit 0 should return empty, got %d", len(got))
	}
	if got, _ := store.History(ctx, id, 99); len(got) != 5 {
		t.Errorf("oversized limit should return all retained, got %d", len(got))
	}
}

func TestStore_MergeContext(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	id, _ := store.Create(ctx, "u1", "o1", "a1", map[string]any{"plan": "pro", "seat": "1"})

	if err := store.MergeContext(ctx, id, map[string]any{"seat": "2", "locale": "de"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	sess, _ := store.Get(ctx, id)
	if sess.Context["plan"] != "pro" || sess.Context["seat"] != "2" || sess.Context["locale"] != "de" {
		t.Fatalf("shallow merge broken: %+v", sess.Context)
	}
	if err := store.MergeContext(ctx, "missing", map[string]any{"a": 1}); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_DeleteThenOperate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	id, _ := store.Create(ctx, "u1", "o1", "a1", nil)

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	sess, err := store.Get(ctx, id)
	if err != nil || sess != nil {
		t.Fatalf("expected (nil, nil) after delete, got %v, %v", sess, err)
	}
	if err := store.AppendMessage(ctx, id, core.NewUserMessage("hi")); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("append after delete: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Delete(ctx, id); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("second delete: expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_PartialHashRemnantTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	// A write that raced TTL reclamation recreates counter fields and the
	// message list, but not the fixed attributes.
	mr.HSet("contextmesh:session:zombie", "message_count", "3")
	mr.Lpush("contextmesh:session:zombie:messages", `{"id":"m1","role":"user","content":"late"}`)

	sess, err := store.Get(ctx, "zombie")
	if err != nil {
		t.Fatalf("remnant must read as absent, got error: %v", err)
	}
	if sess != nil {
		t.Fatalf("remnant must read as absent, got %+v", sess)
	}
	if err := store.AppendMessage(ctx, "zombie", core.NewUserMessage("x")); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("append to remnant: expected ErrSessionNotFound, got %v", err)
	}
	if err := store.Refresh(ctx, "zombie"); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("refresh remnant: expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_TTLExpiryAndRefresh(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	id, _ := store.Create(ctx, "u1", "o1", "a1", nil)

	mr.FastForward(30 * time.Second)
	if err := store.Refresh(ctx, id); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Past the original deadline, inside the refreshed one.
	mr.FastForward(45 * time.Second)
	if sess, _ := store.Get(ctx, id); sess == nil {
		t.Fatal("refresh should have extended the session's life")
	}

	mr.FastForward(2 * time.Minute)
	if sess, _ := store.Get(ctx, id); sess != nil {
		t.Fatal("session should have been reclaimed by TTL")
	}
	if err := store.Refresh(ctx, id); !errors.Is(err, core.ErrSessionNotFound) {
		t.Errorf("refresh after expiry: expected ErrSessionNotFound, got %v", err)
	}
}
