package orchestrator

import (
	"context"
	"sync"

	"query-orchestrator/internal/models"
	"query-orchestrator/internal/multiintent"
)

// subQuery runs one part of a multi-intent query from classified onwards.
func (o *Orchestrator) subQuery(ctx context.Context, parent *models.OrchestratorState, text string) *models.OrchestratorState {
	st := newState(parent.QueryID, parent.Query.WithText(text))
	o.stage(ctx, st, models.StateClassified, func(context.Context) {
		cls := o.deps.Classifier.Classify(text)
		st.Classification = &cls
	})
	o.answer(ctx, st)
	return st
}

func (o *Orchestrator) processMultiple(ctx context.Context, st *models.OrchestratorState, split multiintent.Result) models.Response {
	var subs []*models.OrchestratorState
	var answers []string

	o.stage(ctx, st, models.StateSplit, func(context.Context) {})

	switch {
	case split.ChainMatch != nil:
		step := func(ctx context.Context, text string) (string, error) {
			sub := o.subQuery(ctx, st, text)
			subs = append(subs, sub)
			if sub.Current == models.StateFailed {
				return "", sub.Err
			}
			return sub.Final, nil
		}
		var err error
		answers, err = o.deps.Analyzer.ProcessChain(ctx, *split.ChainMatch, split.Parts, step)
		if err != nil {
			o.log.Warn("chain completed with failures", map[string]interface{}{
				"query_id": st.QueryID,
				"chain":    split.ChainMatch.Name,
				"error":    err.Error(),
			})
		}
	case split.Strategy == models.ExecutionParallel:
		subs = make([]*models.OrchestratorState, len(split.Parts))
		var wg sync.WaitGroup
		for i, part := range split.Parts {
			wg.Add(1)
			go func(i int, part string) {
				defer wg.Done()
				subs[i] = o.subQuery(ctx, st, part)
			}(i, part)
		}
		wg.Wait()
		answers = answered(subs)
	default:
		for _, part := range split.Parts {
			subs = append(subs, o.subQuery(ctx, st, part))
		}
		answers = answered(subs)
	}

	resp := models.Response{
		Category:   st.Classification.Category,
		Validation: models.ValidationMetadata{Valid: true},
		Timings:    timings(append([]*models.OrchestratorState{st}, subs...)...),
	}

	var confidence float64
	for _, sub := range subs {
		r := o.response(sub)
		resp.SubResponses = append(resp.SubResponses, models.SubResponse{
			Query:    sub.Query.Text,
			Category: r.Category,
			Answer:   r.Answer,
			Sources:  r.Sources,
			Failed:   r.Unanswerable,
		})
		resp.Sources = append(resp.Sources, r.Sources...)
		resp.Validation.Structural = append(resp.Validation.Structural, r.Validation.Structural...)
		resp.Validation.Checks = append(resp.Validation.Checks, r.Validation.Checks...)
		resp.Validation.Adjustments = append(resp.Validation.Adjustments, r.Validation.Adjustments...)
		resp.Validation.Valid = resp.Validation.Valid && r.Validation.Valid
		resp.Validation.Rewritten = resp.Validation.Rewritten || r.Validation.Rewritten
		if resp.Control == nil {
			resp.Control = r.Control
		}
		if resp.BackendUsed == "" {
			resp.BackendUsed = r.BackendUsed
		}
		confidence += r.Confidence
	}
	if len(subs) > 0 {
		resp.Confidence = confidence / float64(len(subs))
		resp.Validation.Confidence = resp.Confidence
	}

	if len(answers) == 0 {
		o.fail(st, "no sub-query produced an answer")
		resp.Answer = st.Final
		resp.State = models.StateFailed
		resp.Unanswerable = true
		resp.Validation.Valid = false
		resp.Confidence = 0
		return resp
	}

	o.stage(ctx, st, models.StateFinalized, func(ctx context.Context) {
		st.Final = o.deps.Analyzer.CombineResponses(ctx, answers)
	})
	resp.Answer = st.Final
	resp.State = models.StateFinalized
	resp.Timings[string(models.StateFinalized)] += st.Timings[len(st.Timings)-1].Duration.Milliseconds()
	return resp
}

func answered(subs []*models.OrchestratorState) []string {
	var out []string
	for _, sub := range subs {
		if sub.Current != models.StateFailed && sub.Final != "" {
			out = append(out, sub.Final)
		}
	}
	return out
}
