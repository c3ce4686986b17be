// Package session reads and appends conversation history kept in Redis.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"query-orchestrator/internal/common/config"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

const (
	defaultPrefix   = "session:"
	defaultMaxTurns = models.MaxPriorTurns
)

// Store keeps turns in a Redis list per session, newest last.
type Store struct {
	rdb      redis.Cmdable
	prefix   string
	maxTurns int
	log      logger.Logger
}

func NewStore(rdb redis.Cmdable, cfg config.SessionConfig, log logger.Logger) *Store {
	s := &Store{
		rdb:      rdb,
		prefix:   cfg.KeyPrefix,
		maxTurns: cfg.MaxTurns,
		log:      logger.Component(log, "session-store"),
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.maxTurns <= 0 {
		s.maxTurns = defaultMaxTurns
	}
	return s
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID + ":turns"
}

// Recent returns up to n of the latest turns, oldest first. Malformed entries are skipped.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	if n <= 0 || n > s.maxTurns {
		n = s.maxTurns
	}

	raw, err := s.rdb.LRange(ctx, s.key(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	turns := make([]models.Turn, 0, len(raw))
	for _, item := range raw {
		var t models.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			s.log.Warn("skipping malformed turn", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Append adds turns and trims the list to the configured maximum.
func (s *Store) Append(ctx context.Context, sessionID string, turns ...models.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = time.Now().UTC()
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode turn: %w", err)
		}
		values = append(values, string(b))
	}

	key := s.key(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to session %s: %w", sessionID, err)
	}
	return nil
}

// Info reports how many turns are stored and when the latest one was written.
func (s *Store) Info(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	info := models.SessionInfo{ID: sessionID}
	count, err := s.rdb.LLen(ctx, s.key(sessionID)).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	info.TurnCount = count
	if count == 0 {
		return info, nil
	}
	last, err := s.Recent(ctx, sessionID, 1)
	if err != nil {
		return info, err
	}
	if len(last) == 1 {
		info.UpdatedAt = last[0].Timestamp
	}
	return info, nil
}
