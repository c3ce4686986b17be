package classifyintent

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
	"query-orchestrator/internal/multiintent"
)

const (
	TaskType = "classify-intent"
)

type Classifier interface {
	Classify(text string) models.IntentClassification
}

type Analyzer interface {
	Analyze(text string) multiintent.Result
}

type Router interface {
	Resolve(category models.Category) models.RoutingDecision
}

type Handler struct {
	config     *Config
	classifier Classifier
	analyzer   Analyzer
	router     Router
	errors     *apperrors.ErrorHandler
	logger     logger.Logger
}

// NewHandler builds the job handler. analyzer and router may be nil.
func NewHandler(config *Config, classifier Classifier, analyzer Analyzer, router Router, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		classifier: classifier,
		analyzer:   analyzer,
		router:     router,
		errors:     apperrors.NewErrorHandler(log),
		logger:     log,
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

	output, err := h.execute(&input)
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

func (h *Handler) execute(input *Input) (*Output, error) {
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return nil, apperrors.NewInvalidQueryError("query text is empty")
	}

	output := &Output{
		Classification: h.classifier.Classify(text),
		Parts:          []string{text},
		Strategy:       models.ExecutionSequential,
	}

	if h.config.SplitMultiIntent && h.analyzer != nil {
		split := h.analyzer.Analyze(text)
		if split.HasMultiple {
			output.HasMultiple = true
			output.Parts = split.Parts
			output.Strategy = split.Strategy
			if split.ChainMatch != nil {
				output.Chain = split.ChainMatch.Name
			}
			for _, part := range split.Parts {
				output.Classification.SubClassifications = append(output.Classification.SubClassifications,
					h.classifier.Classify(part))
			}
		}
	}

	if h.router != nil {
		output.Routing = h.router.Resolve(output.Classification.Category)
	}

	h.logger.Info("intent classified", map[string]interface{}{
		"category":   string(output.Classification.Category),
		"confidence": output.Classification.Confidence,
		"parts":      len(output.Parts),
		"chain":      output.Chain,
	})
	return output, nil
}

func (h *Handler) Execute(input *Input) (*Output, error) {
	return h.execute(input)
}
