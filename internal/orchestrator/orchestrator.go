// Package orchestrator runs the query state machine: classification, multi-intent splitting,
// routing, retrieval with structural validation, synthesis, semantic validation and
// combination of sub-query answers.
package orchestrator

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/common/observability"
	"query-orchestrator/internal/hallucination"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/multiintent"
)

const defaultUnableToAnswer = "Sorry, I can't answer that right now."

type Classifier interface {
	Classify(text string) models.IntentClassification
}

type Analyzer interface {
	Analyze(text string) multiintent.Result
	CombineResponses(ctx context.Context, responses []string) string
	ProcessChain(ctx context.Context, rule models.ChainRule, subQueries []string, runOne multiintent.StepFunc) ([]string, error)
}

type Router interface {
	Resolve(category models.Category) models.RoutingDecision
	Providers(category models.Category) []string
}

type Retriever interface {
	Retrieve(ctx context.Context, req models.RetrievalRequest, providers []string) []models.RetrievalResult
	RetrieveService(ctx context.Context, req models.RetrievalRequest) []models.RetrievalResult
}

type StructuralValidator interface {
	ValidateResult(r models.RetrievalResult, query string) models.StructuralValidationOutcome
}

type SemanticValidator interface {
	Validate(ctx context.Context, in hallucination.Input) models.SemanticValidationOutcome
}

type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts llm.GenerateOptions) (llm.Generation, error)
}

type FlagSource interface {
	FeatureFlags(ctx context.Context) (models.FeatureFlags, error)
}

// Dependencies are the collaborators of one Orchestrator. History and Flags may be nil.
type Dependencies struct {
	Classifier Classifier
	Analyzer   Analyzer
	Router     Router
	Retriever  Retriever
	Structural StructuralValidator
	Semantic   SemanticValidator
	Generator  Generator
	History    models.ConversationStore
	Flags      FlagSource
}

type Options struct {
	SynthesisModel    string
	ValidationEnabled bool
	UnableToAnswer    string
	QueryTimeout      time.Duration
}

type Orchestrator struct {
	deps  Dependencies
	opts  Options
	obs   *observability.Observability
	log   logger.Logger
	flags atomic.Pointer[models.FeatureFlags]
}

func New(deps Dependencies, opts Options, obs *observability.Observability, log logger.Logger) *Orchestrator {
	if opts.UnableToAnswer == "" {
		opts.UnableToAnswer = defaultUnableToAnswer
	}
	o := &Orchestrator{deps: deps, opts: opts, obs: obs, log: logger.Component(log, "orchestrator")}
	o.flags.Store(&models.FeatureFlags{})
	return o
}

// Refresh reloads feature flags; on failure the current flags stay.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if o.deps.Flags == nil {
		return nil
	}
	flags, err := o.deps.Flags.FeatureFlags(ctx)
	if err != nil {
		o.log.Warn("feature flags unavailable, keeping current", map[string]interface{}{"error": err.Error()})
		return nil
	}
	o.flags.Store(&flags)
	return nil
}

func (o *Orchestrator) flag(name string, def bool) bool {
	return o.flags.Load().Enabled(name, def)
}

// Process answers one query. The only error is INVALID_QUERY for blank text; every other
// failure degrades into the returned response.
func (o *Orchestrator) Process(ctx context.Context, q models.Query) (models.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return models.Response{}, apperrors.NewInvalidQueryError("query text is empty")
	}
	if o.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	queryID := uuid.NewString()
	ctx, span := o.obs.StartSpan(ctx, "orchestrator.process")
	defer span.End()

	q = o.withHistory(ctx, q)
	st := newState(queryID, q)

	var cls models.IntentClassification
	o.stage(ctx, st, models.StateClassified, func(ctx context.Context) {
		cls = o.deps.Classifier.Classify(q.Text)
		st.Classification = &cls
	})

	var resp models.Response
	split := multiintent.Result{}
	if o.flag(models.FlagMultiIntent, true) && o.deps.Analyzer != nil {
		split = o.deps.Analyzer.Analyze(q.Text)
	}
	if split.HasMultiple {
		resp = o.processMultiple(ctx, st, split)
	} else {
		o.answer(ctx, st)
		resp = o.response(st)
	}

	resp.QueryID = queryID
	resp.SessionID = q.SessionID
	o.record(ctx, resp, time.Since(start))
	return resp, nil
}

func (o *Orchestrator) withHistory(ctx context.Context, q models.Query) models.Query {
	if o.deps.History == nil || q.SessionID == "" || len(q.PriorTurns) > 0 || !o.flag(models.FlagSessionHistory, true) {
		return q
	}
	turns, err := o.deps.History.Recent(ctx, q.SessionID, models.MaxPriorTurns)
	if err != nil {
		o.log.Warn("session history unavailable", map[string]interface{}{
			"session_id": q.SessionID,
			"error":      err.Error(),
		})
		return q
	}
	q.PriorTurns = models.BoundTurns(turns, models.MaxPriorTurns)
	return q
}

func (o *Orchestrator) record(ctx context.Context, resp models.Response, elapsed time.Duration) {
	outcome := "answered"
	switch {
	case resp.Unanswerable:
		outcome = "unanswerable"
	case resp.Control != nil:
		outcome = "control"
	case !resp.Validation.Valid:
		outcome = "low_confidence"
	}
	metrics.QueriesTotal.WithLabelValues(string(resp.Category), outcome).Inc()
	o.obs.RecordQuery(ctx, string(resp.Category), string(resp.State), elapsed)

	o.log.Info("query processed", map[string]interface{}{
		"query_id":    resp.QueryID,
		"category":    string(resp.Category),
		"state":       string(resp.State),
		"outcome":     outcome,
		"duration_ms": elapsed.Milliseconds(),
	})
}
