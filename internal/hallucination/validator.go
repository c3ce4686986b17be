// Package hallucination checks a drafted answer against configured rules, an optional ensemble of
// validation models and per-category confidence adjustments.
package hallucination

import (
	"context"
	"fmt"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
)

// Generator is the slice of the LLM router the validator needs.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, opts llm.GenerateOptions) (llm.Generation, error)
}

// Input is one answer to validate.
type Input struct {
	Query      string
	Response   string
	Category   models.Category
	Confidence float64
	Entities   map[string]string
}

type Validator struct {
	holder
	gen      Generator
	fixModel string
}

// NewValidator starts from the built-in rules; call Refresh to load configuration.
// gen may be nil, which disables auto-fix and the ensemble.
func NewValidator(source ConfigSource, gen Generator, fixModel string, log logger.Logger) *Validator {
	v := &Validator{gen: gen, fixModel: fixModel}
	v.source = source
	v.log = logger.Component(log, "hallucination-validator")
	v.snap.Store(defaultSnapshot())
	return v
}

// Validate never returns an error; model failures degrade to a neutral confidence.
func (v *Validator) Validate(ctx context.Context, in Input) models.SemanticValidationOutcome {
	snap := v.snap.Load()
	out := models.SemanticValidationOutcome{Valid: true, Response: in.Response}

	var (
		reasons   []string
		deferred  []models.HallucinationCheckRule
		threshold = snap.threshold(in.Category)
	)

	for _, rule := range snap.applicableRules(in.Category) {
		if rule.RequiresCrossValidation {
			reasons = append(reasons, "rule "+rule.Name)
		}

		result := models.CheckResult{Rule: rule.Name, CheckType: rule.CheckType, Severity: rule.Severity}
		var (
			reason  string
			applied bool
		)
		switch rule.CheckType {
		case models.CheckRequiredElements:
			reason, applied = checkRequired(rule, in.Query, out.Response)
		case models.CheckFactChecking:
			reason, applied = checkNumbers(in.Query, out.Response)
		case models.CheckConfidenceThreshold:
			deferred = append(deferred, rule)
			continue
		case models.CheckCrossValidation:
			if !rule.RequiresCrossValidation {
				reasons = append(reasons, "rule "+rule.Name)
			}
			continue
		}

		switch {
		case !applied:
			result.Skipped = true
			result.Passed = true
		case reason == "":
			result.Passed = true
		default:
			result.Reason = reason
			if rule.Severity == models.SeverityError {
				if rule.AutoFix && rule.CheckType == models.CheckRequiredElements {
					if fixed, ok := v.autoFix(ctx, rule, reason, in.Query, out.Response); ok {
						out.Response = fixed
						out.Rewritten = true
						result.Fixed = true
						break
					}
				}
				out.Valid = false
			}
		}
		out.Checks = append(out.Checks, result)
	}

	ms := snap.validationModels(in.Category)
	if in.Confidence < LowConfidence {
		reasons = append(reasons, fmt.Sprintf("incoming confidence %.2f below %.2f", in.Confidence, LowConfidence))
	}
	if len(ms) > 1 {
		reasons = append(reasons, fmt.Sprintf("%d validation models configured", len(ms)))
	}

	base := in.Confidence
	if len(reasons) > 0 {
		out.Ensemble = v.runEnsemble(ctx, ms, in.Query, out.Response, reasons, threshold)
	} else {
		out.Ensemble = models.EnsembleDetail{Confidence: DefaultEnsembleConfidence, Threshold: threshold}
	}
	if out.Ensemble.Ran {
		base = out.Ensemble.Confidence
		if !out.Ensemble.CouldNotValidate && out.Ensemble.Confidence < threshold {
			out.Valid = false
		}
	}

	out.Confidence, out.Adjustments = ApplyConfidenceRules(snap.confidence, in.Category, in.Query, in.Entities, base)

	for _, rule := range deferred {
		result := models.CheckResult{Rule: rule.Name, CheckType: rule.CheckType, Severity: rule.Severity, Passed: true}
		if out.Confidence < rule.MinConfidence {
			result.Passed = false
			result.Reason = fmt.Sprintf("confidence %.2f below %.2f", out.Confidence, rule.MinConfidence)
			if rule.Severity == models.SeverityError {
				out.Valid = false
			}
		}
		out.Checks = append(out.Checks, result)
	}

	status := "valid"
	if !out.Valid {
		status = "invalid"
	}
	metrics.ValidationOutcomes.WithLabelValues("semantic", status).Inc()
	if !out.Valid {
		v.log.Info("semantic validation failed", map[string]interface{}{
			"category":   string(in.Category),
			"confidence": out.Confidence,
		})
	}
	return out
}
