package hallucination

import (
	"math"
	"strings"

	"query-orchestrator/internal/models"
)

func conditionHolds(c models.ConfidenceCondition, query string, entities map[string]string) bool {
	switch c.Kind {
	case models.ConditionPatternMatchCount:
		hits := 0
		for _, p := range c.Patterns {
			if p.MatchString(query) {
				hits++
			}
		}
		need := c.MinMatches
		if need <= 0 {
			need = 1
		}
		return hits >= need
	case models.ConditionEntityPresence:
		if len(c.Entities) == 0 {
			return false
		}
		for _, e := range c.Entities {
			if entities[e] == "" {
				return false
			}
		}
		return true
	case models.ConditionQueryLength:
		words := len(strings.Fields(query))
		if c.MinWords > 0 && words < c.MinWords {
			return false
		}
		if c.MaxWords > 0 && words > c.MaxWords {
			return false
		}
		return true
	}
	return false
}

// delta is the signed contribution of a satisfied rule, capped at its max impact.
func delta(r models.ConfidenceRule, base float64) float64 {
	limit := r.MaxImpact
	if limit <= 0 {
		limit = math.Abs(r.Adjustment)
	}
	var d float64
	switch r.FactorType {
	case models.FactorBoost:
		d = math.Abs(r.Adjustment)
	case models.FactorPenalty:
		d = -math.Abs(r.Adjustment)
	case models.FactorMultiplier:
		d = base * (r.Adjustment - 1)
		if r.MaxImpact <= 0 {
			limit = math.Abs(d)
		}
	}
	return math.Max(-limit, math.Min(limit, d))
}

// ApplyConfidenceRules sums the deltas of every satisfied rule for category into base.
func ApplyConfidenceRules(rules []models.ConfidenceRule, category models.Category, query string, entities map[string]string, base float64) (float64, []models.ConfidenceAdjustment) {
	var adjustments []models.ConfidenceAdjustment
	total := base
	for _, r := range rules {
		if r.Category != category || !conditionHolds(r.Condition, query, entities) {
			continue
		}
		d := delta(r, base)
		if d == 0 {
			continue
		}
		total += d
		adjustments = append(adjustments, models.ConfidenceAdjustment{Factor: r.FactorName, Type: r.FactorType, Delta: d})
	}
	return models.ClampConfidence(total), adjustments
}
