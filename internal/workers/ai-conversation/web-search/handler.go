package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/models"
)

const (
	TaskType = "web-search"
)

type Retriever interface {
	Retrieve(ctx context.Context, req models.RetrievalRequest, providers []string) []models.RetrievalResult
}

// Providers orders the web providers for a category.
type Providers interface {
	Providers(category models.Category) []string
}

type Handler struct {
	config    *Config
	retriever Retriever
	providers Providers
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, retriever Retriever, providers Providers, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		retriever: retriever,
		providers: providers,
		errors:    apperrors.NewErrorHandler(log),
		logger:    log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidQueryError(fmt.Sprintf("parse input: %v", err)))
		return nil
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return nil
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromObject(output)
	if err != nil {
		return err
	}
	if _, err := cmd.Send(ctx); err != nil {
		return err
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	return nil
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.AsStandard(err).Code)).Inc()
	h.errors.HandleJobError(ctx, client, job, err)
}

// execute never fails on provider errors; an empty result set completes with found=false.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, apperrors.NewInvalidQueryError("query text is empty")
	}
	category := input.Category
	if category == "" {
		category = models.CategoryGeneralInfo
	}

	providers := h.providers.Providers(category)
	results := h.retriever.Retrieve(ctx, models.RetrievalRequest{
		Query:      query,
		Category:   category,
		Entities:   input.Entities,
		Zone:       input.Zone,
		MaxResults: h.config.MaxResults,
		Attempt:    1,
	}, providers)

	data := WebData{Providers: providers, Sources: make([]Source, 0, len(results))}
	for _, r := range results {
		if len(data.Sources) == h.config.MaxResults {
			break
		}
		data.Sources = append(data.Sources, Source{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Confidence: r.Confidence,
			Provenance: r.Provenance,
		})
	}
	data.Found = len(data.Sources) > 0
	if data.Found {
		data.Summary = data.Sources[0].Snippet
	}

	h.logger.Info("web search completed", map[string]interface{}{
		"category":  string(category),
		"providers": providers,
		"results":   len(data.Sources),
	})
	return &Output{WebData: data}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
