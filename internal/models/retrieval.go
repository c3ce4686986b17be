package models

import (
	"encoding/json"
	"time"
)

// Provenance records where a retrieval result came from, for downstream audit.
type Provenance struct {
	Source      string        `json:"source"`
	Provider    string        `json:"provider"`
	Class       ProviderClass `json:"class"`
	URL         string        `json:"url,omitempty"`
	RetrievedAt time.Time     `json:"retrievedAt"`
	Attempt     int           `json:"attempt,omitempty"`
}

// Tag returns a compact provenance label such as "web_search/custom_search".
func (p Provenance) Tag() string {
	return string(p.Class) + "/" + p.Provider
}

// RetrievalResult is produced per retrieval call and consumed once by validation and synthesis.
type RetrievalResult struct {
	SourceID    string                 `json:"sourceId"`
	Kind        ServiceKind            `json:"kind,omitempty"`
	Raw         json.RawMessage        `json:"raw,omitempty"`
	Normalized  map[string]interface{} `json:"normalized,omitempty"`
	Title       string                 `json:"title,omitempty"`
	Snippet     string                 `json:"snippet,omitempty"`
	URL         string                 `json:"url,omitempty"`
	Confidence  float64                `json:"confidence"`
	PublishedAt time.Time              `json:"publishedAt,omitempty"`
	Priority    int                    `json:"priority"`
	Provenance  Provenance             `json:"provenance"`
}

// IsEmpty reports a result carrying neither normalized data nor text.
func (r RetrievalResult) IsEmpty() bool {
	return len(r.Normalized) == 0 && r.Snippet == "" && r.Title == ""
}

// RetrievalRequest is what the engine hands to each provider.
type RetrievalRequest struct {
	Query      string            `json:"query"`
	Category   Category          `json:"category"`
	Kind       ServiceKind       `json:"kind,omitempty"`
	Entities   map[string]string `json:"entities,omitempty"`
	Zone       string            `json:"zone,omitempty"`
	MaxResults int               `json:"maxResults,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
}

// Web and knowledge providers known to the routing tables.
const (
	ProviderKnowledgeBase = "knowledge_base"
	ProviderCustomSearch  = "custom_search"
	ProviderInstantAnswer = "instant_answer"
)
