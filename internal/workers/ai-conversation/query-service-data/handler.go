package queryservicedata

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
	"query-orchestrator/internal/retrieval"
)

const (
	TaskType = "query-service-data"
)

type Retriever interface {
	RetrieveService(ctx context.Context, req models.RetrievalRequest) []models.RetrievalResult
}

type Validator interface {
	ValidateResult(r models.RetrievalResult, query string) models.StructuralValidationOutcome
}

type Router interface {
	Resolve(category models.Category) models.RoutingDecision
}

type Handler struct {
	config    *Config
	retriever Retriever
	validator Validator
	router    Router
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(config *Config, retriever Retriever, validator Validator, router Router, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		retriever: retriever,
		validator: validator,
		router:    router,
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

func (h *Handler) kind(input *Input) models.ServiceKind {
	if input.Kind != "" || h.router == nil || input.Category == "" {
		return input.Kind
	}
	d := h.router.Resolve(input.Category)
	if !d.UseRetrieval {
		return ""
	}
	return d.RetrievalTarget
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, apperrors.NewInvalidQueryError("query text is empty")
	}
	kind := h.kind(input)
	if kind == "" {
		return nil, apperrors.NewInvalidQueryError(fmt.Sprintf("category %q has no structured service", input.Category))
	}
	attempt := input.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	results := h.retriever.RetrieveService(ctx, models.RetrievalRequest{
		Query:    query,
		Category: input.Category,
		Kind:     kind,
		Entities: input.Entities,
		Zone:     input.Zone,
		Attempt:  attempt,
	})

	data := ServiceData{Kind: kind, Validation: []models.StructuralValidationOutcome{}, Fallback: models.FallbackWebSearch}
	for _, r := range results {
		outcome := h.validator.ValidateResult(r, query)
		data.Validation = append(data.Validation, outcome)
		if !outcome.Valid() {
			continue
		}
		prov := r.Provenance
		data.Found = true
		data.Fallback = models.FallbackNone
		data.Data = r.Normalized
		data.Provenance = &prov
		data.Answer = r.Snippet
		if data.Answer == "" {
			data.Answer = retrieval.Describe(kind, r.Normalized)
		}
		break
	}
	// A rejected payload earns one more attempt; after that the process goes to web search.
	if !data.Found && len(results) > 0 && attempt == 1 {
		data.Fallback = models.FallbackRetry
	}

	h.logger.Info("service data queried", map[string]interface{}{
		"kind":     string(kind),
		"results":  len(results),
		"found":    data.Found,
		"fallback": string(data.Fallback),
	})
	return &Output{ServiceData: data}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
