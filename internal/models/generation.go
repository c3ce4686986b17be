package models

import "time"

// MetricTags are optional labels attached to a generation.
type MetricTags struct {
	RequestID string   `json:"requestId,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Zone      string   `json:"zone,omitempty"`
	Intent    Category `json:"intent,omitempty"`
}

// GenerationMetric is recorded for every LLM call.
type GenerationMetric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Model        string        `json:"model"`
	Backend      BackendKind   `json:"backend"`
	Latency      time.Duration `json:"latency"`
	TokenCount   int           `json:"tokenCount"`
	TokensPerSec float64       `json:"tokensPerSec"`
	Success      bool          `json:"success"`
	MetricTags
}
