// Package redis implements core.SessionStore on top of a shared Redis
// instance, making session state visible to every process in the
// request-handling tier. Each session maps to a hash (fixed attributes,
// context JSON, cumulative counters) plus a list of JSON-encoded messages.
// Append, window trim and counter updates are issued inside one MULTI/EXEC
// transaction so the bounded-window invariant holds under concurrent
// appenders, and per-key TTL gives passive reclamation of idle sessions.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/contextmesh/core"
)

// DefaultTTL is the session lifetime applied when no override is configured.
const DefaultTTL = 24 * time.Hour

// mergeRetries bounds the optimistic retry loop for context merges.
const mergeRetries = 3

// Config configures the redis-backed session store.
type Config struct {
	// KeyPrefix namespaces all keys, default "contextmesh".
	KeyPrefix string
	// TTL is the per-session time to live, refreshed on every write and by
	// an explicit Refresh.
	TTL time.Duration
}

// Store is a core.SessionStore backed by Redis. Connect must be called
// before first use; operations issued earlier fail fast with
// core.ErrNotInitialized instead of silently queuing.
type Store struct {
	client    redis.UniversalClient
	cfg       Config
	connected atomic.Bool
}

// New constructs a store around an existing client. The client is injected,
// never created here, so callers control pooling, timeouts and TLS and tests
// can point it at an in-process server.
func New(client redis.UniversalClient, optFns ...func(c *Config)) *Store {
	cfg := Config{KeyPrefix: "contextmesh", TTL: DefaultTTL}
	for _, fn := range optFns {
		fn(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Store{client: client, cfg: cfg}
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

func (s *Store) key(sessionID string) string {
	return s.cfg.KeyPrefix + ":session:" + sessionID
}

func (s *Store) msgKey(sessionID string) string {
	return s.key(sessionID) + ":messages"
}

// wrap maps transport failures to the retriable ErrStoreUnavailable category.
func wrap(err error) error {
	return fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err)
}

// Create allocates a new session and returns its id.
func (s *Store) Create(ctx context.Context, userID, organizationID, agentID string, initial map[string]any) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	if userID == "" {
		return "", core.NewValidationError("userID", "must not be empty")
	}
	if organizationID == "" {
		return "", core.NewValidationError("organizationID", "must not be empty")
	}
	if agentID == "" {
		return "", core.NewValidationError("agentID", "must not be empty")
	}
	if initial == nil {
		initial = map[string]any{}
	}
	ctxJSON, err := json.Marshal(initial)
	if err != nil {
		return "", core.NewValidationError("initialContext", err.Error())
	}

	id := core.NewID()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(id), map[string]any{
		"user_id":         userID,
		"organization_id": organizationID,
		"agent_id":        agentID,
		"created":         now,
		"updated":         now,
		"context":         string(ctxJSON),
		"message_count":   0,
		"total_tokens":    0,
		"total_cost":      "0",
	})
	pipe.Expire(ctx, s.key(id), s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", wrap(err)
	}
	return id, nil
}

// Get returns the full current session view, or (nil, nil) when the key is
// absent or already reclaimed by TTL.
func (s *Store) Get(ctx context.Context, sessionID string) (*core.Session, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, wrap(err)
	}
	// A hash without the created field is a remnant of a write that raced
	// TTL reclamation (counters and list recreated, fixed attributes gone).
	// It reads as absent and is reclaimed by its own key TTL.
	if len(fields) == 0 || fields["created"] == "" {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.msgKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return decodeSession(sessionID, fields, raw)
}

// AppendMessage appends a turn inside one MULTI/EXEC transaction: RPUSH,
// LTRIM to the window cap, counter increments and TTL refresh commit
// together, so each append observes the post-append list state.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg core.Message) error {
	if err := s.ready(); err != nil {
		return err
	}
	if !core.ValidRole(msg.Role) {
		return core.NewValidationError("role", fmt.Sprintf("unknown role %q", msg.Role))
	}
	if err := s.exists(ctx, sessionID); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return core.NewValidationError("message", err.Error())
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.msgKey(sessionID), payload)
	pipe.LTrim(ctx, s.msgKey(sessionID), -int64(core.MaxMessages), -1)
	pipe.HIncrBy(ctx, s.key(sessionID), "message_count", 1)
	pipe.HIncrBy(ctx, s.key(sessionID), "total_tokens", int64(msg.Tokens()))
	pipe.HIncrByFloat(ctx, s.key(sessionID), "total_cost", msg.Cost())
	pipe.HSet(ctx, s.key(sessionID), "updated", now)
	pipe.Expire(ctx, s.key(sessionID), s.cfg.TTL)
	pipe.Expire(ctx, s.msgKey(sessionID), s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err)
	}
	return nil
}

// History returns the last limit retained messages in chronological order.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.exists(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []core.Message{}, nil
	}
	raw, err := s.client.LRange(ctx, s.msgKey(sessionID), -int64(limit), -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return decodeMessages(raw)
}

// MergeContext shallow-merges delta into the context JSON using an
// optimistic WATCH transaction so concurrent merges never drop keys.
func (s *Store) MergeContext(ctx context.Context, sessionID string, delta map[string]any) error {
	if err := s.ready(); err != nil {
		return err
	}
	merge := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, s.key(sessionID), "context").Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
		}
		if err != nil {
			return wrap(err)
		}
		merged := map[string]any{}
		if err := json.Unmarshal([]byte(current), &merged); err != nil {
			return fmt.Errorf("corrupt context for session %s: %w", sessionID, err)
		}
		for k, v := range delta {
			merged[k] = v
		}
		payload, err := json.Marshal(merged)
		if err != nil {
			return core.NewValidationError("updates", err.Error())
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key(sessionID), "context", string(payload), "updated", now)
			pipe.Expire(ctx, s.key(sessionID), s.cfg.TTL)
			pipe.Expire(ctx, s.msgKey(sessionID), s.cfg.TTL)
			return nil
		})
		if err != nil {
			return wrap(err)
		}
		return nil
	}

	var err error
	for i := 0; i < mergeRetries; i++ {
		err = s.client.Watch(ctx, merge, s.key(sessionID))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return wrap(err)
}

// Stats returns the derived statistics view.
func (s *Store) Stats(ctx context.Context, sessionID string) (core.SessionStats, error) {
	if err := s.ready(); err != nil {
		return core.SessionStats{}, err
	}
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return core.SessionStats{}, err
	}
	if sess == nil {
		return core.SessionStats{}, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return sess.Stats(time.Now().UTC()), nil
}

// Refresh resets the TTL on both session keys without altering content.
func (s *Store) Refresh(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.exists(ctx, sessionID); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, s.key(sessionID), s.cfg.TTL)
	pipe.Expire(ctx, s.msgKey(sessionID), s.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err)
	}
	return nil
}

// Delete removes the session immediately.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	deleted, err := s.client.Del(ctx, s.key(sessionID), s.msgKey(sessionID)).Result()
	if err != nil {
		return wrap(err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return nil
}

// exists probes the created field rather than the bare key, so partial
// hashes left behind by a write racing TTL reclamation do not count as live
// sessions.
func (s *Store) exists(ctx context.Context, sessionID string) error {
	ok, err := s.client.HExists(ctx, s.key(sessionID), "created").Result()
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}
	return nil
}

func decodeSession(sessionID string, fields map[string]string, raw []string) (*core.Session, error) {
	created, err := time.Parse(time.RFC3339Nano, fields["created"])
	if err != nil {
		return nil, fmt.Errorf("corrupt created timestamp for session %s: %w", sessionID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, fields["updated"])
	if err != nil {
		updated = created
	}
	msgCount, _ := strconv.Atoi(fields["message_count"])
	tokens, _ := strconv.Atoi(fields["total_tokens"])
	cost, _ := strconv.ParseFloat(fields["total_cost"], 64)

	ctxMap := map[string]any{}
	if fields["context"] != "" {
		if err := json.Unmarshal([]byte(fields["context"]), &ctxMap); err != nil {
			return nil, fmt.Errorf("corrupt context for session %s: %w", sessionID, err)
		}
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(sessionID, fields["user_id"], fields["organization_id"], fields["agent_id"], ctxMap)
	sess.Messages = msgs
	sess.Metadata = core.SessionMetadata{MessageCount: msgCount, TotalTokens: tokens, TotalCost: cost}
	sess.Created = created
	sess.Updated = updated
	return sess, nil
}

func decodeMessages(raw []string) ([]core.Message, error) {
	msgs := make([]core.Message, 0, len(raw))
	for _, item := range raw {
		var msg core.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("corrupt message payload: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
