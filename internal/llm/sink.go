package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"query-orchestrator/internal/common/aws"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/models"
)

// Sink receives generation metrics outside the request path.
type Sink interface {
	Send(ctx context.Context, m models.GenerationMetric) error
}

// HTTPSink posts each metric as JSON.
type HTTPSink struct {
	url    string
	client *commonhttp.Client
}

func NewHTTPSink(url string, client *commonhttp.Client) *HTTPSink {
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Send(ctx context.Context, m models.GenerationMetric) error {
	resp, err := s.client.Do(ctx, commonhttp.Request{Method: "POST", URL: s.url, Body: m})
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return &commonhttp.StatusError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}

// PostgresSink persists metrics into generation_metrics.
type PostgresSink struct {
	db *sqlx.DB
}

func NewPostgresSink(db *sqlx.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertMetric = `INSERT INTO generation_metrics
	(created_at, model, backend, latency_ms, token_count, tokens_per_sec, success, request_id, session_id, user_id, zone, intent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func (s *PostgresSink) Send(ctx context.Context, m models.GenerationMetric) error {
	_, err := s.db.ExecContext(ctx, insertMetric,
		m.Timestamp, m.Model, string(m.Backend), m.Latency.Milliseconds(), m.TokenCount, m.TokensPerSec, m.Success,
		m.RequestID, m.SessionID, m.UserID, m.Zone, string(m.Intent),
	)
	if err != nil {
		return fmt.Errorf("insert generation metric: %w", err)
	}
	return nil
}

// SNSSink publishes metrics to a topic.
type SNSSink struct {
	client   *aws.SNSClient
	topicARN string
}

func NewSNSSink(client *aws.SNSClient, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Send(ctx context.Context, m models.GenerationMetric) error {
	return s.client.PublishJSON(ctx, s.topicARN, m, map[string]string{
		"model":   m.Model,
		"backend": string(m.Backend),
	})
}

// MultiSink sends to every sink and joins their errors.
type MultiSink []Sink

func (ms MultiSink) Send(ctx context.Context, m models.GenerationMetric) error {
	var errs []error
	for _, s := range ms {
		if err := s.Send(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
