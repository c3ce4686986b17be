package multiintent

import (
	"context"
	"errors"
	"strings"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/models"
)

// Summarizer condenses several answers into one, typically with a language model.
type Summarizer interface {
	Summarize(ctx context.Context, responses []string) (string, error)
}

// CombineResponses merges sub-query answers using the configured combination strategy.
func (a *Analyzer) CombineResponses(ctx context.Context, responses []string) string {
	parts := make([]string, 0, len(responses))
	for _, r := range responses {
		if r = strings.TrimSpace(r); r != "" {
			parts = append(parts, sentence(r))
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	switch a.snap.Load().cfg.CombinationStrategy {
	case models.CombineHierarchical:
		return parts[0] + " Also: " + strings.Join(parts[1:], " ")
	case models.CombineSummarize:
		if a.summarizer != nil {
			summary, err := a.summarizer.Summarize(ctx, parts)
			if err == nil && strings.TrimSpace(summary) != "" {
				return strings.TrimSpace(summary)
			}
			fields := map[string]interface{}{"parts": len(parts)}
			if err != nil {
				fields["error"] = err.Error()
			}
			a.log.Warn("summarize failed, concatenating", fields)
		}
	}
	return concatenate(parts)
}

// concatenate joins answers with "Additionally," and, from three parts on, a closing "Finally,".
func concatenate(parts []string) string {
	var b strings.Builder
	last := len(parts) - 1
	for i, p := range parts {
		switch {
		case i == 0:
			b.WriteString(p)
			continue
		case i == last && len(parts) >= 3:
			b.WriteString(" Finally, ")
		default:
			b.WriteString(" Additionally, ")
		}
		b.WriteString(p)
	}
	return b.String()
}

func sentence(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}

// StepFunc runs one sub-query of a chain.
type StepFunc func(ctx context.Context, query string) (string, error)

// ProcessChain runs subQueries in order. On a failed step, StopOnError ends the chain and
// RequireAll discards every response gathered. The returned error joins the failed steps.
func (a *Analyzer) ProcessChain(ctx context.Context, rule models.ChainRule, subQueries []string, runOne StepFunc) ([]string, error) {
	responses := make([]string, 0, len(subQueries))
	var failures []error

	for i, q := range subQueries {
		if err := ctx.Err(); err != nil {
			failures = append(failures, apperrors.NewChainStepError(rule.Name, i, err))
			break
		}
		resp, err := runOne(ctx, q)
		if err != nil {
			failures = append(failures, apperrors.NewChainStepError(rule.Name, i, err))
			a.log.Warn("chain step failed", map[string]interface{}{
				"chain":       rule.Name,
				"step":        i,
				"error":       err.Error(),
				"stopOnError": rule.StopOnError,
				"requireAll":  rule.RequireAll,
			})
			if rule.StopOnError {
				break
			}
			continue
		}
		responses = append(responses, resp)
	}

	if len(failures) > 0 && rule.RequireAll {
		responses = nil
	}
	return responses, errors.Join(failures...)
}
