package orchestratequery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/models"
)

const (
	TaskType = "orchestrate-query"
)

// Processor answers one query end to end.
type Processor interface {
	Process(ctx context.Context, q models.Query) (models.Response, error)
}

// TurnRecorder stores the exchange after an answered query.
type TurnRecorder interface {
	Append(ctx context.Context, sessionID string, turns ...models.Turn) error
}

type Handler struct {
	config    *Config
	processor Processor
	history   TurnRecorder
	errors    *apperrors.ErrorHandler
	logger    logger.Logger
}

// NewHandler builds the job handler. history may be nil.
func NewHandler(config *Config, processor Processor, history TurnRecorder, log logger.Logger) *Handler {
	log = log.With(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:    config,
		processor: processor,
		history:   history,
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

	input, err := decodeInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, err)
		return nil
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return nil
	}
	if err := h.completeJob(ctx, client, job, output); err != nil {
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

func decodeInput(variables string) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewInvalidQueryError("parse input: " + err.Error())
	}
	return &input, nil
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	q := input.toQuery()
	resp, err := h.processor.Process(ctx, q)
	if err != nil {
		return nil, err
	}

	if h.config.RecordHistory && h.history != nil && q.SessionID != "" && !resp.Unanswerable {
		now := time.Now().UTC()
		turns := []models.Turn{
			{Role: "user", Text: q.Text, Timestamp: now},
			{Role: "assistant", Text: resp.Answer, Timestamp: now},
		}
		if err := h.history.Append(ctx, q.SessionID, turns...); err != nil {
			h.logger.Warn("failed to record session turns", map[string]interface{}{
				"sessionId": q.SessionID,
				"error":     err.Error(),
			})
		}
	}

	h.logger.Info("query orchestrated", map[string]interface{}{
		"queryId":      resp.QueryID,
		"category":     string(resp.Category),
		"state":        string(resp.State),
		"unanswerable": resp.Unanswerable,
	})
	return outputFrom(resp), nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return err
	}
	_, err = cmd.Send(ctx)
	return err
}

// Execute runs the handler logic without a job client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
