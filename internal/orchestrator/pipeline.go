package orchestrator

import (
	"context"
	"encoding/json"

	"query-orchestrator/internal/hallucination"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
)

const defaultMaxResults = 8

// answer drives one classified query to finalized or failed.
func (o *Orchestrator) answer(ctx context.Context, st *models.OrchestratorState) {
	cls := st.Classification

	var decision models.RoutingDecision
	o.stage(ctx, st, models.StateRouted, func(ctx context.Context) {
		decision = o.deps.Router.Resolve(cls.Category)
		st.Decision = &decision
	})

	if decision.NoDataPath() {
		if cls.Category == models.CategoryControl {
			o.stage(ctx, st, models.StateFinalized, func(context.Context) {
				action := controlAction(cls.Entities, st.Query.Zone)
				st.Control = &action
				st.Final = confirmation(action)
			})
			return
		}
		o.fail(st, "no data path for category "+string(cls.Category))
		return
	}

	if !decision.LLMOnly() {
		o.stage(ctx, st, models.StateRetrieved, func(ctx context.Context) {
			o.retrieve(ctx, st, decision)
		})
	}

	o.stage(ctx, st, models.StateSynthesized, func(ctx context.Context) {
		o.synthesize(ctx, st)
	})
	if st.Draft == "" {
		o.fail(st, "no data path or backend produced an answer")
		return
	}

	o.stage(ctx, st, models.StateValidated, func(ctx context.Context) {
		st.Final = st.Draft
		if !o.opts.ValidationEnabled || !o.flag(models.FlagSemanticValidation, true) || o.deps.Semantic == nil {
			return
		}
		out := o.deps.Semantic.Validate(ctx, hallucination.Input{
			Query:      st.Query.Text,
			Response:   st.Draft,
			Category:   cls.Category,
			Confidence: cls.Confidence,
			Entities:   cls.Entities,
		})
		st.Semantic = &out
		st.Final = out.Response
	})
	enter(st, models.StateFinalized)
}

func (o *Orchestrator) request(st *models.OrchestratorState, kind models.ServiceKind, attempt int) models.RetrievalRequest {
	return models.RetrievalRequest{
		Query:      st.Query.Text,
		Category:   st.Classification.Category,
		Kind:       kind,
		Entities:   st.Classification.Entities,
		Zone:       st.Query.Zone,
		MaxResults: defaultMaxResults,
		Attempt:    attempt,
	}
}

// retrieve runs the structured service first when the decision names one. A rejected payload
// (empty, invalid or needs_retry) earns one more attempt; anything still unusable falls back to
// web search. A service that returned nothing at all is not retried.
func (o *Orchestrator) retrieve(ctx context.Context, st *models.OrchestratorState, decision models.RoutingDecision) {
	web := decision.UseWebSearch
	if decision.UseRetrieval && decision.RetrievalTarget != "" {
		results, ok, received := o.serviceAttempt(ctx, st, decision.RetrievalTarget, 1)
		if !ok && received && ctx.Err() == nil {
			results, ok, _ = o.serviceAttempt(ctx, st, decision.RetrievalTarget, 2)
		}
		if ok {
			st.Results = results
			return
		}
		if o.flag(models.FlagWebFallback, true) {
			o.log.Info("structured retrieval unusable, falling back to web search", map[string]interface{}{
				"query_id": st.QueryID,
				"kind":     string(decision.RetrievalTarget),
			})
			web = true
		}
	}
	if web && ctx.Err() == nil {
		st.Results = o.deps.Retriever.Retrieve(ctx, o.request(st, "", 1), o.deps.Router.Providers(st.Classification.Category))
	}
}

// serviceAttempt returns the first result that passes structural validation. received reports
// whether any payload came back to validate.
func (o *Orchestrator) serviceAttempt(ctx context.Context, st *models.OrchestratorState, kind models.ServiceKind, attempt int) (results []models.RetrievalResult, ok, received bool) {
	candidates := o.deps.Retriever.RetrieveService(ctx, o.request(st, kind, attempt))
	if len(candidates) == 0 {
		st.Structural = append(st.Structural, models.StructuralValidationOutcome{
			Status: models.StructuralEmpty,
			Reason: "no " + string(kind) + " service returned data",
			Suggestion: models.Suggestion{
				FallbackAction: models.FallbackWebSearch,
				Hint:           "use web search",
			},
		})
		return nil, false, false
	}
	for _, r := range candidates {
		outcome := o.deps.Structural.ValidateResult(r, st.Query.Text)
		st.Structural = append(st.Structural, outcome)
		if outcome.Valid() {
			return []models.RetrievalResult{r}, true, true
		}
		o.log.Info("retrieval payload rejected", map[string]interface{}{
			"query_id": st.QueryID,
			"source":   r.SourceID,
			"status":   string(outcome.Status),
			"reason":   outcome.Reason,
			"attempt":  attempt,
		})
	}
	return nil, false, true
}

// synthesize drafts the answer. Valid service payloads speak for themselves; everything else
// goes through the LLM, with the best snippet as a last resort.
func (o *Orchestrator) synthesize(ctx context.Context, st *models.OrchestratorState) {
	if len(st.Results) > 0 && st.Results[0].Provenance.Class == models.ClassService {
		if text := st.Results[0].Snippet; text != "" {
			st.Draft = text
			return
		}
		st.Draft = o.generate(ctx, st, serviceContext(st.Results[0]))
		return
	}

	st.Draft = o.generate(ctx, st, webContext(st.Results))
	if st.Draft == "" && len(st.Results) > 0 {
		st.Draft = bestSnippet(st.Results)
	}
}

func (o *Orchestrator) generate(ctx context.Context, st *models.OrchestratorState, facts string) string {
	if o.deps.Generator == nil {
		return ""
	}
	model := st.Query.Model
	if model == "" {
		model = o.opts.SynthesisModel
	}
	gen, err := o.deps.Generator.Generate(ctx, model, buildPrompt(st.Query, facts), llm.GenerateOptions{
		Temperature: st.Query.Temperature,
		Tags: models.MetricTags{
			RequestID: st.QueryID,
			SessionID: st.Query.SessionID,
			UserID:    st.Query.UserID,
			Zone:      st.Query.Zone,
			Intent:    st.Classification.Category,
		},
	})
	if err != nil {
		o.log.Warn("synthesis failed", map[string]interface{}{
			"query_id": st.QueryID,
			"model":    model,
			"error":    err.Error(),
		})
		return ""
	}
	st.BackendUsed = gen.BackendUsed
	return gen.Text
}

func serviceContext(r models.RetrievalResult) string {
	if r.Normalized != nil {
		if b, err := json.Marshal(r.Normalized); err == nil {
			return string(b)
		}
	}
	return string(r.Raw)
}

func bestSnippet(results []models.RetrievalResult) string {
	for _, r := range results {
		if r.Snippet != "" {
			return r.Snippet
		}
	}
	return ""
}
