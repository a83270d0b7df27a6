package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/asetia/portfolio-assistant/internal/config"
	"github.com/asetia/portfolio-assistant/internal/model/chat"
)

const keyPrefix = "chat_session:"

// Truncation applied to long turns when rendering history into a prompt.
const formatContentLimit = 500

// Store persists per-session chat history in Redis with a TTL. Every
// operation fails soft: when Redis is absent or unreachable the conversation
// simply proceeds without history, it never aborts a turn.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	window int
	log    *zap.Logger
}

// NewStore wires the store. rdb may be nil when Redis is not configured.
func NewStore(rdb *redis.Client, cfg config.SessionConfig, log *zap.Logger) *Store {
	return &Store{
		rdb:    rdb,
		ttl:    cfg.TTL,
		window: cfg.HistoryWindow,
		log:    log,
	}
}

// Create provisions a fresh session with empty history and an expiry one TTL
// from now.
func (s *Store) Create(ctx context.Context) (chat.Session, error) {
	now := time.Now().UTC()
	sess := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	if s.rdb != nil {
		if err := s.rdb.Set(ctx, keyPrefix+sess.ID, "[]", s.ttl).Err(); err != nil {
			s.log.Warn("session init write failed, continuing without persistence",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	return sess, nil
}

// History returns the stored turns for a session. Unknown, expired or
// malformed sessions yield an empty history, never an error: a session the
// store has never seen is treated as fresh.
func (s *Store) History(ctx context.Context, sessionID string) []chat.Turn {
	if s.rdb == nil || sessionID == "" {
		return nil
	}

	raw, err := s.rdb.Get(ctx, keyPrefix+sessionID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("session history read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil
	}

	var turns []chat.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		s.log.Warn("session history decode failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return turns
}

// Append extends the session history, re-trims to the retention window and
// refreshes the TTL. Concurrent appends to the same session are
// last-write-wins.
func (s *Store) Append(ctx context.Context, sessionID string, turns ...chat.Turn) error {
	if s.rdb == nil || sessionID == "" || len(turns) == 0 {
		return nil
	}

	turns = appendTrimmed(s.History(ctx, sessionID), turns, s.window)

	payload, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode session history: %w", err)
	}

	if err := s.rdb.Set(ctx, keyPrefix+sessionID, payload, s.ttl).Err(); err != nil {
		s.log.Warn("session history write failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}

	s.log.Debug("session history saved",
		zap.String("session_id", sessionID), zap.Int("turns", len(turns)))
	return nil
}

// Delete removes a session and its history.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if s.rdb == nil || sessionID == "" {
		return nil
	}
	return s.rdb.Del(ctx, keyPrefix+sessionID).Err()
}

// appendTrimmed keeps only the most recent window turns, evicting oldest
// first.
func appendTrimmed(turns []chat.Turn, added []chat.Turn, window int) []chat.Turn {
	turns = append(turns, added...)
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	return turns
}

// FormatHistory renders turns for inclusion in a prompt, truncating long
// turns so history cannot crowd out retrieved context.
func FormatHistory(turns []chat.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := "User"
		if turn.Role == chat.RoleAssistant {
			role = "Assistant"
		}
		content := turn.Content
		if len(content) > formatContentLimit {
			content = content[:formatContentLimit] + "..."
		}
		parts = append(parts, role+": "+content)
	}
	return strings.Join(parts, "\n")
}
