package models

import (
	"context"
	"time"
)

// ConversationStore reads prior turns for a session. The state machine never appends; the
// session manager does, or the orchestrate-query worker when turn recording is enabled.
type ConversationStore interface {
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
}

// SessionInfo describes the stored conversation for a session id.
type SessionInfo struct {
	ID        string    `json:"id"`
	TurnCount int64     `json:"turnCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}
