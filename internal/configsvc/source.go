package configsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	commonhttp "query-orchestrator/internal/common/http"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned by a Source that has no value for a key.
var ErrNotFound = errors.New("config key not found")

// Source is one place configuration values can come from. Values are JSON documents.
type Source interface {
	Name() string
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type etagEntry struct {
	etag string
	body []byte
}

// HTTPSource reads keys from the admin configuration API, revalidating with ETags.
type HTTPSource struct {
	client  *commonhttp.Client
	baseURL string
	apiKey  string

	mu    sync.Mutex
	etags map[string]etagEntry
}

func NewHTTPSource(client *commonhttp.Client, baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		etags:   make(map[string]etagEntry),
	}
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	headers := map[string]string{}
	if s.apiKey != "" {
		headers["X-API-Key"] = s.apiKey
	}

	s.mu.Lock()
	prev, havePrev := s.etags[key]
	s.mu.Unlock()
	if havePrev && prev.etag != "" {
		headers["If-None-Match"] = prev.etag
	}

	resp, err := s.client.Do(ctx, commonhttp.Request{
		Method:  http.MethodGet,
		URL:     s.baseURL + "/api/config/" + url.PathEscape(key),
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("config api %s: %w", key, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && havePrev:
		return prev.body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &commonhttp.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		s.mu.Lock()
		s.etags[key] = etagEntry{etag: etag, body: resp.Body}
		s.mu.Unlock()
	}
	return resp.Body, nil
}

// PostgresSource reads keys from the orchestrator_config table.
type PostgresSource struct {
	db *sqlx.DB
}

func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) Name() string { return "postgres" }

const selectConfigValue = `SELECT value FROM orchestrator_config WHERE key = $1`

func (s *PostgresSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, selectConfigValue, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("config row %s: %w", key, err)
	}
	return []byte(value), nil
}
