package models

import (
	"encoding/json"
	"strings"
	"time"
)

// MaxPriorTurns bounds the conversation history carried by a Query.
const MaxPriorTurns = 10

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Query is the immutable input to one orchestration run.
type Query struct {
	Text        string   `json:"text"`
	Mode        Mode     `json:"mode"`
	Zone        string   `json:"zone,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	SessionID   string   `json:"sessionId,omitempty"`
	PriorTurns  []Turn   `json:"priorTurns,omitempty"`
	Model       string   `json:"model,omitempty"`
	UserID      string   `json:"userId,omitempty"`
}

// NewQuery builds a Query, defaulting mode to owner and trimming history to the newest turns.
func NewQuery(text string, mode Mode, sessionID string, turns []Turn) Query {
	if mode == "" {
		mode = ModeOwner
	}
	return Query{
		Text:       strings.TrimSpace(text),
		Mode:       mode,
		SessionID:  sessionID,
		PriorTurns: BoundTurns(turns, MaxPriorTurns),
	}
}

// WithText returns a copy of q carrying different text, used for sub-queries.
func (q Query) WithText(text string) Query {
	q.Text = text
	q.PriorTurns = append([]Turn(nil), q.PriorTurns...)
	return q
}

func (q *Query) UnmarshalJSON(data []byte) error {
	type alias Query
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Mode == "" {
		raw.Mode = ModeOwner
	}
	raw.Text = strings.TrimSpace(raw.Text)
	raw.PriorTurns = BoundTurns(raw.PriorTurns, MaxPriorTurns)
	*q = Query(raw)
	return nil
}

// BoundTurns keeps the newest n turns.
func BoundTurns(turns []Turn, n int) []Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return append([]Turn(nil), turns[len(turns)-n:]...)
}
