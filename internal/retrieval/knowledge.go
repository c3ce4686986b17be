package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"query-orchestrator/internal/common/database"
	"query-orchestrator/internal/models"
)

// Searcher runs a query DSL body against an index.
type Searcher interface {
	Search(ctx context.Context, index string, query map[string]interface{}, size int) ([]database.SearchHit, error)
}

// KnowledgeBaseProvider searches the curated knowledge index.
type KnowledgeBaseProvider struct {
	search     Searcher
	index      string
	maxResults int
}

func NewKnowledgeBaseProvider(search Searcher, index string, maxResults int) (*KnowledgeBaseProvider, error) {
	if search == nil {
		return nil, errors.New("knowledge base requires elasticsearch")
	}
	if index == "" {
		return nil, errors.New("knowledge base requires an index")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &KnowledgeBaseProvider{search: search, index: index, maxResults: maxResults}, nil
}

func (p *KnowledgeBaseProvider) Name() string                { return models.ProviderKnowledgeBase }
func (p *KnowledgeBaseProvider) Class() models.ProviderClass { return models.ClassKnowledgeBase }

type knowledgeDoc struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

func (p *KnowledgeBaseProvider) query(req models.RetrievalRequest) map[string]interface{} {
	must := []interface{}{
		map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  searchTerms(req),
				"fields": []string{"title^2", "body", "tags"},
			},
		},
	}
	q := map[string]interface{}{"bool": map[string]interface{}{"must": must}}
	if req.Category != "" {
		q["bool"].(map[string]interface{})["should"] = []interface{}{
			map[string]interface{}{"term": map[string]interface{}{"category": string(req.Category)}},
		}
	}
	return map[string]interface{}{"query": q}
}

func (p *KnowledgeBaseProvider) Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	hits, err := p.search.Search(ctx, p.index, p.query(req), p.maxResults)
	if err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}

	top := 0.0
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}

	now := time.Now().UTC()
	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		var doc knowledgeDoc
		if err := json.Unmarshal(h.Source, &doc); err != nil {
			continue
		}
		confidence := 0.5
		if top > 0 {
			confidence = 0.4 + 0.5*(h.Score/top)
		}
		results = append(results, models.RetrievalResult{
			SourceID:    models.ProviderKnowledgeBase + ":" + h.ID,
			Raw:         h.Source,
			Title:       doc.Title,
			Snippet:     doc.Body,
			URL:         doc.URL,
			Confidence:  models.ClampConfidence(confidence),
			PublishedAt: doc.PublishedAt,
			Priority:    3,
			Provenance: models.Provenance{
				Source:      orDefault(doc.Source, p.index),
				Provider:    models.ProviderKnowledgeBase,
				Class:       models.ClassKnowledgeBase,
				URL:         doc.URL,
				RetrievedAt: now,
				Attempt:     req.Attempt,
			},
		})
	}
	return results, nil
}
