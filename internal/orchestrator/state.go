package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/models"
)

func newState(queryID string, q models.Query) *models.OrchestratorState {
	return &models.OrchestratorState{
		QueryID: queryID,
		Query:   q,
		Current: models.StateReceived,
		History: []models.State{models.StateReceived},
	}
}

// stage runs fn in a span and moves st into next, recording how long it took.
func (o *Orchestrator) stage(ctx context.Context, st *models.OrchestratorState, next models.State, fn func(ctx context.Context)) {
	ctx, span := o.obs.StartSpan(ctx, "orchestrator."+string(next),
		attribute.String("query_id", st.QueryID),
	)
	start := time.Now()
	fn(ctx)
	elapsed := time.Since(start)
	span.End()

	st.Timings = append(st.Timings, models.StageTiming{State: next, Duration: elapsed})
	metrics.StageDuration.WithLabelValues(string(next)).Observe(elapsed.Seconds())
	enter(st, next)
}

func enter(st *models.OrchestratorState, next models.State) {
	st.Current = next
	st.History = append(st.History, next)
}

// fail ends the run with the unable-to-answer text.
func (o *Orchestrator) fail(st *models.OrchestratorState, reason string) {
	st.Final = o.opts.UnableToAnswer
	st.Err = apperrors.NewUnableToAnswerError(reason)
	enter(st, models.StateFailed)
	o.log.Warn("unable to answer", map[string]interface{}{
		"query_id": st.QueryID,
		"reason":   reason,
	})
}

func timings(states ...*models.OrchestratorState) map[string]int64 {
	out := make(map[string]int64)
	for _, st := range states {
		for _, t := range st.Timings {
			out[string(t.State)] += t.Duration.Milliseconds()
		}
	}
	return out
}

func sources(st *models.OrchestratorState) []models.Provenance {
	var out []models.Provenance
	seen := make(map[string]bool)
	for _, r := range st.Results {
		tag := r.Provenance.Tag() + "|" + r.SourceID
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, r.Provenance)
	}
	return out
}

func validation(st *models.OrchestratorState) models.ValidationMetadata {
	meta := models.ValidationMetadata{Structural: st.Structural, Valid: true}
	if st.Classification != nil {
		meta.Confidence = st.Classification.Confidence
	}
	if sem := st.Semantic; sem != nil {
		meta.Valid = sem.Valid
		meta.Checks = sem.Checks
		meta.EnsembleConfidence = sem.Ensemble.Confidence
		meta.Confidence = sem.Confidence
		meta.Adjustments = sem.Adjustments
		meta.Rewritten = sem.Rewritten
	}
	return meta
}

// response builds the caller-facing result of a single-query run.
func (o *Orchestrator) response(st *models.OrchestratorState) models.Response {
	resp := models.Response{
		Answer:      st.Final,
		State:       st.Current,
		Sources:     sources(st),
		Timings:     timings(st),
		Validation:  validation(st),
		Control:     st.Control,
		BackendUsed: st.BackendUsed,
	}
	if st.Classification != nil {
		resp.Category = st.Classification.Category
	}
	resp.Confidence = resp.Validation.Confidence
	if st.Current == models.StateFailed {
		resp.Unanswerable = true
		resp.Validation.Valid = false
		resp.Confidence = 0
	}
	return resp
}
