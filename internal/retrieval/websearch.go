package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"query-orchestrator/internal/common/config"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/models"
)

const (
	defaultCustomSearchURL  = "https://www.googleapis.com/customsearch/v1"
	defaultInstantAnswerURL = "https://api.duckduckgo.com/"
	defaultMaxResults       = 8
)

var whitespace = regexp.MustCompile(`\s+`)

// searchTerms appends location-like entities the query text may not spell out.
func searchTerms(req models.RetrievalRequest) string {
	q := req.Query
	for _, key := range []string{"location", "team", "airport_code"} {
		if v := req.Entities[key]; v != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(v)) {
			q += " " + v
		}
	}
	return whitespace.ReplaceAllString(strings.TrimSpace(q), " ")
}

// CustomSearchProvider queries a keyed programmable search API.
type CustomSearchProvider struct {
	cfg        config.CustomSearchConfig
	maxResults int
	client     *commonhttp.Client
}

func NewCustomSearchProvider(cfg config.CustomSearchConfig, maxResults int, client *commonhttp.Client) (*CustomSearchProvider, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("custom search requires api_key and engine_id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCustomSearchURL
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &CustomSearchProvider{cfg: cfg, maxResults: maxResults, client: client}, nil
}

func (p *CustomSearchProvider) Name() string                { return models.ProviderCustomSearch }
func (p *CustomSearchProvider) Class() models.ProviderClass { return models.ClassWebSearch }

func (p *CustomSearchProvider) buildURL(query string) (string, error) {
	base, err := url.Parse(p.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid custom search url: %w", err)
	}
	params := url.Values{}
	params.Add("key", p.cfg.APIKey)
	params.Add("cx", p.cfg.EngineID)
	params.Add("q", query)
	params.Add("num", strconv.Itoa(min(p.maxResults, 10)))
	base.RawQuery = params.Encode()
	return base.String(), nil
}

type searchItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Mime    string `json:"mime"`
}

func (p *CustomSearchProvider) Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	target, err := p.buildURL(searchTerms(req))
	if err != nil {
		return nil, err
	}
	var body struct {
		Items []searchItem `json:"items"`
	}
	if err := p.client.DoJSON(ctx, commonhttp.Request{URL: target}, &body); err != nil {
		return nil, fmt.Errorf("custom search: %w", err)
	}
	return p.processItems(body.Items, req.Attempt), nil
}

// processItems keeps HTML results, dedupes by URL and boosts authoritative sources.
func (p *CustomSearchProvider) processItems(items []searchItem, attempt int) []models.RetrievalResult {
	now := time.Now().UTC()
	seen := make(map[string]bool, len(items))
	var results []models.RetrievalResult

	for _, item := range items {
		if item.Mime != "" && !strings.Contains(item.Mime, "html") {
			continue
		}
		if item.Link == "" || seen[item.Link] {
			continue
		}
		seen[item.Link] = true

		results = append(results, models.RetrievalResult{
			SourceID:   models.ProviderCustomSearch + ":" + item.Link,
			Title:      item.Title,
			Snippet:    item.Snippet,
			URL:        item.Link,
			Confidence: authority(item.Link, item.Title, 0.7),
			Priority:   2,
			Provenance: models.Provenance{
				Source:      hostOf(item.Link),
				Provider:    models.ProviderCustomSearch,
				Class:       models.ClassWebSearch,
				URL:         item.Link,
				RetrievedAt: now,
				Attempt:     attempt,
			},
		})
		if len(results) == p.maxResults {
			break
		}
	}
	return results
}

// authority raises base for .gov/.edu hosts and titles claiming to be official.
func authority(link, title string, base float64) float64 {
	host := hostOf(link)
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") {
		base += 0.2
	}
	if strings.Contains(strings.ToLower(title), "official") {
		base += 0.1
	}
	return models.ClampConfidence(base)
}

func hostOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// InstantAnswerProvider queries a keyless instant answer API. It is the last resort provider.
type InstantAnswerProvider struct {
	baseURL    string
	maxResults int
	client     *commonhttp.Client
}

func NewInstantAnswerProvider(baseURL string, maxResults int, client *commonhttp.Client) *InstantAnswerProvider {
	if baseURL == "" {
		baseURL = defaultInstantAnswerURL
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &InstantAnswerProvider{baseURL: baseURL, maxResults: maxResults, client: client}
}

func (p *InstantAnswerProvider) Name() string                { return models.ProviderInstantAnswer }
func (p *InstantAnswerProvider) Class() models.ProviderClass { return models.ClassWebSearch }

type instantAnswer struct {
	Heading        string `json:"Heading"`
	Answer         string `json:"Answer"`
	AbstractText   string `json:"AbstractText"`
	AbstractURL    string `json:"AbstractURL"`
	AbstractSource string `json:"AbstractSource"`
	Definition     string `json:"Definition"`
	DefinitionURL  string `json:"DefinitionURL"`
	RelatedTopics  []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (p *InstantAnswerProvider) Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	params := url.Values{}
	params.Set("q", searchTerms(req))
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	sep := "?"
	if strings.Contains(p.baseURL, "?") {
		sep = "&"
	}
	var body instantAnswer
	if err := p.client.DoJSON(ctx, commonhttp.Request{URL: p.baseURL + sep + params.Encode()}, &body); err != nil {
		return nil, fmt.Errorf("instant answer: %w", err)
	}

	now := time.Now().UTC()
	mk := func(id, title, snippet, link string, confidence float64) models.RetrievalResult {
		return models.RetrievalResult{
			SourceID:   models.ProviderInstantAnswer + ":" + id,
			Title:      title,
			Snippet:    snippet,
			URL:        link,
			Confidence: confidence,
			Priority:   1,
			Provenance: models.Provenance{
				Source:      orDefault(body.AbstractSource, hostOf(link)),
				Provider:    models.ProviderInstantAnswer,
				Class:       models.ClassWebSearch,
				URL:         link,
				RetrievedAt: now,
				Attempt:     req.Attempt,
			},
		}
	}

	var results []models.RetrievalResult
	if body.Answer != "" {
		results = append(results, mk("answer", body.Heading, body.Answer, body.AbstractURL, 0.8))
	}
	if body.AbstractText != "" {
		results = append(results, mk("abstract", body.Heading, body.AbstractText, body.AbstractURL, 0.75))
	}
	if body.Definition != "" {
		results = append(results, mk("definition", body.Heading, body.Definition, body.DefinitionURL, 0.6))
	}
	for i, topic := range body.RelatedTopics {
		if len(results) >= p.maxResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		results = append(results, mk("related-"+strconv.Itoa(i), "", topic.Text, topic.FirstURL, 0.5))
	}
	return results, nil
}
