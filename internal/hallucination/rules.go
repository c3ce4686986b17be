package hallucination

import (
	"context"
	"sort"
	"sync/atomic"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

const (
	// DefaultThreshold is the minimum ensemble confidence for categories without a configured one.
	DefaultThreshold = 0.7
	// DefaultEnsembleConfidence stands in when no validation model serves the category.
	DefaultEnsembleConfidence = 0.7
	// NeutralConfidence is reported when every ensemble call failed.
	NeutralConfidence = 0.5
	// LowConfidence triggers the ensemble regardless of rules.
	LowConfidence = 0.6

	defaultFixTemplate = "The answer below failed a check: {reason}.\n" +
		"Question: {query}\n" +
		"Answer: {response}\n" +
		"Rewrite the answer so it fixes the problem. Reply with the corrected answer only."
)

// ConfigSource supplies rules, ensemble models, confidence rules and thresholds.
type ConfigSource interface {
	HallucinationRules(ctx context.Context) ([]models.HallucinationCheckRule, error)
	ValidationModels(ctx context.Context) ([]models.CrossValidationModelConfig, error)
	ConfidenceRules(ctx context.Context) ([]models.ConfidenceRule, error)
	CategoryThresholds(ctx context.Context) (map[models.Category]float64, error)
}

func mustRequired(name string, severity models.Severity, triggers, patterns []string, regex, autoFix bool, categories ...models.Category) models.HallucinationCheckRule {
	rule, err := models.NewRequiredElementsRule(name, severity, triggers, patterns, regex)
	if err != nil {
		panic(err)
	}
	rule.Categories = categories
	rule.AutoFix = autoFix
	return rule
}

// DefaultRules are in effect until configuration provides rules.
func DefaultRules() []models.HallucinationCheckRule {
	return []models.HallucinationCheckRule{
		withPriority(mustRequired("weather_temperature", models.SeverityError,
			[]string{"temperature", "how hot", "how cold", "degrees"},
			[]string{`-?\d+\s*(?:°|degrees?\b|deg\b)`}, true, true, models.CategoryWeather), 10),
		withPriority(mustRequired("sports_score", models.SeverityWarning,
			[]string{"score", "final", "who won"},
			[]string{`\b\d{1,3}\s*(?:-|–|to)\s*\d{1,3}\b`}, true, false, models.CategorySports), 5),
		{
			Name:      "numeric_consistency",
			CheckType: models.CheckFactChecking,
			Severity:  models.SeverityWarning,
			Enabled:   true,
		},
		{
			Name:          "minimum_confidence",
			CheckType:     models.CheckConfidenceThreshold,
			Severity:      models.SeverityInfo,
			Enabled:       true,
			MinConfidence: 0.3,
		},
	}
}

func withPriority(r models.HallucinationCheckRule, p int) models.HallucinationCheckRule {
	r.Priority = p
	return r
}

// DefaultConfidenceRules are in effect until configuration provides confidence rules.
func DefaultConfidenceRules() []models.ConfidenceRule {
	return []models.ConfidenceRule{
		{
			Category:   models.CategoryWeather,
			FactorName: "location_present",
			FactorType: models.FactorBoost,
			Condition:  models.ConfidenceCondition{Kind: models.ConditionEntityPresence, Entities: []string{"location"}},
			Adjustment: 0.05,
			MaxImpact:  0.05,
		},
		{
			Category:   models.CategorySports,
			FactorName: "team_present",
			FactorType: models.FactorBoost,
			Condition:  models.ConfidenceCondition{Kind: models.ConditionEntityPresence, Entities: []string{"team"}},
			Adjustment: 0.05,
			MaxImpact:  0.05,
		},
		{
			Category:   models.CategoryGeneralInfo,
			FactorName: "very_short_query",
			FactorType: models.FactorPenalty,
			Condition:  models.ConfidenceCondition{Kind: models.ConditionQueryLength, MaxWords: 2},
			Adjustment: 0.1,
			MaxImpact:  0.1,
		},
	}
}

type snapshot struct {
	rules      []models.HallucinationCheckRule
	models     []models.CrossValidationModelConfig
	confidence []models.ConfidenceRule
	thresholds map[models.Category]float64
}

func defaultSnapshot() *snapshot {
	return &snapshot{
		rules:      sortRules(DefaultRules()),
		confidence: DefaultConfidenceRules(),
		thresholds: map[models.Category]float64{},
	}
}

// sortRules orders by priority descending, then severity error > warning > info.
func sortRules(rules []models.HallucinationCheckRule) []models.HallucinationCheckRule {
	out := append([]models.HallucinationCheckRule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

func (s *snapshot) threshold(c models.Category) float64 {
	if t, ok := s.thresholds[c]; ok {
		return t
	}
	return DefaultThreshold
}

func (s *snapshot) validationModels(c models.Category) []models.CrossValidationModelConfig {
	var out []models.CrossValidationModelConfig
	for _, m := range s.models {
		if m.Enabled && m.Role == models.RoleValidation && m.AppliesTo(c) {
			out = append(out, m)
		}
	}
	return out
}

func (s *snapshot) applicableRules(c models.Category) []models.HallucinationCheckRule {
	var out []models.HallucinationCheckRule
	for _, r := range s.rules {
		if r.Enabled && r.AppliesTo(c) {
			out = append(out, r)
		}
	}
	return out
}

type holder struct {
	source ConfigSource
	log    logger.Logger
	snap   atomic.Pointer[snapshot]
}

// Refresh reloads every part independently; a part that fails keeps its current value.
func (h *holder) Refresh(ctx context.Context) error {
	if h.source == nil {
		return nil
	}
	cur := h.snap.Load()
	next := *cur

	warn := func(what string, err error) {
		h.log.Warn(what+" unavailable, keeping current", map[string]interface{}{"error": err.Error()})
	}
	if rules, err := h.source.HallucinationRules(ctx); err != nil {
		warn("hallucination rules", err)
	} else if len(rules) > 0 {
		next.rules = sortRules(rules)
	}
	if ms, err := h.source.ValidationModels(ctx); err != nil {
		warn("validation models", err)
	} else {
		next.models = ms
	}
	if cr, err := h.source.ConfidenceRules(ctx); err != nil {
		warn("confidence rules", err)
	} else if len(cr) > 0 {
		next.confidence = cr
	}
	if th, err := h.source.CategoryThresholds(ctx); err != nil {
		warn("category thresholds", err)
	} else if th != nil {
		next.thresholds = th
	}

	h.snap.Store(&next)
	return nil
}
