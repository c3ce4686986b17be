package configsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"query-orchestrator/internal/models"
)

// Configuration keys served by the admin API, the config table and the config file.
const (
	KeyIntentPatterns     = "intent_patterns"
	KeyRoutingTable       = "routing_table"
	KeyProviderPriorities = "provider_priorities"
	KeyHallucinationRules = "hallucination_rules"
	KeyValidationModels   = "validation_models"
	KeyConfidenceRules    = "confidence_rules"
	KeyChainRules         = "chain_rules"
	KeyMultiIntent        = "multi_intent"
	KeyBackends           = "llm_backends"
	KeyFeatureFlags       = "feature_flags"
	KeyCategoryThresholds = "category_thresholds"
)

var AllKeys = []string{
	KeyIntentPatterns, KeyRoutingTable, KeyProviderPriorities, KeyHallucinationRules,
	KeyValidationModels, KeyConfidenceRules, KeyChainRules, KeyMultiIntent, KeyBackends,
	KeyFeatureFlags, KeyCategoryThresholds,
}

func decode[T any](ctx context.Context, s *Service, key string) (T, error) {
	var out T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("config %s: %w", key, err)
	}
	return out, nil
}

func (s *Service) IntentPatterns(ctx context.Context) (models.PatternConfig, error) {
	cfg, err := decode[models.PatternConfig](ctx, s, KeyIntentPatterns)
	if err != nil {
		return cfg, err
	}
	for _, group := range [][]string{cfg.ActionVerbs, cfg.DeviceNouns, cfg.ComplexityIndicators} {
		if err := validateKeywords(group); err != nil {
			return models.PatternConfig{}, fmt.Errorf("config %s: %w", KeyIntentPatterns, err)
		}
	}
	for name, group := range cfg.ControlGroups {
		if err := validateKeywords(group); err != nil {
			return models.PatternConfig{}, fmt.Errorf("config %s: control group %s: %w", KeyIntentPatterns, name, err)
		}
	}
	for cat, group := range cfg.InformationGroups {
		if cat == models.CategoryControl || cat == models.CategoryUnknown {
			return models.PatternConfig{}, fmt.Errorf("config %s: %s is not an information category", KeyIntentPatterns, cat)
		}
		if err := validateKeywords(group); err != nil {
			return models.PatternConfig{}, fmt.Errorf("config %s: information group %s: %w", KeyIntentPatterns, cat, err)
		}
	}
	return cfg, nil
}

func validateKeywords(words []string) error {
	for _, w := range words {
		if w == "" {
			return fmt.Errorf("empty keyword")
		}
	}
	return nil
}

// RoutingTable returns per-category decisions; the map key is authoritative for Category.
func (s *Service) RoutingTable(ctx context.Context) (map[models.Category]models.RoutingDecision, error) {
	table, err := decode[map[models.Category]models.RoutingDecision](ctx, s, KeyRoutingTable)
	if err != nil {
		return nil, err
	}
	for cat, d := range table {
		d.Category = cat
		if d.UseRetrieval && d.RetrievalTarget == "" {
			return nil, fmt.Errorf("config %s: %s uses retrieval without a retrieval_target", KeyRoutingTable, cat)
		}
		table[cat] = d
	}
	return table, nil
}

func (s *Service) ProviderPriorities(ctx context.Context) (map[models.Category][]string, error) {
	return decode[map[models.Category][]string](ctx, s, KeyProviderPriorities)
}

func (s *Service) HallucinationRules(ctx context.Context) ([]models.HallucinationCheckRule, error) {
	return decode[[]models.HallucinationCheckRule](ctx, s, KeyHallucinationRules)
}

func (s *Service) ValidationModels(ctx context.Context) ([]models.CrossValidationModelConfig, error) {
	return decode[[]models.CrossValidationModelConfig](ctx, s, KeyValidationModels)
}

func (s *Service) ConfidenceRules(ctx context.Context) ([]models.ConfidenceRule, error) {
	return decode[[]models.ConfidenceRule](ctx, s, KeyConfidenceRules)
}

func (s *Service) ChainRules(ctx context.Context) ([]models.ChainRule, error) {
	return decode[[]models.ChainRule](ctx, s, KeyChainRules)
}

func (s *Service) MultiIntent(ctx context.Context) (models.MultiIntentConfig, error) {
	return decode[models.MultiIntentConfig](ctx, s, KeyMultiIntent)
}

// Backends returns backend descriptors indexed by model name.
func (s *Service) Backends(ctx context.Context) (map[string]models.BackendConfig, error) {
	list, err := decode[[]models.BackendConfig](ctx, s, KeyBackends)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.BackendConfig, len(list))
	for _, b := range list {
		out[b.Model] = b
	}
	return out, nil
}

func (s *Service) FeatureFlags(ctx context.Context) (models.FeatureFlags, error) {
	return decode[models.FeatureFlags](ctx, s, KeyFeatureFlags)
}

// CategoryThresholds returns the per-category minimum ensemble confidence.
func (s *Service) CategoryThresholds(ctx context.Context) (map[models.Category]float64, error) {
	thresholds, err := decode[map[models.Category]float64](ctx, s, KeyCategoryThresholds)
	if err != nil {
		return nil, err
	}
	for cat, v := range thresholds {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("config %s: threshold for %s out of range: %v", KeyCategoryThresholds, cat, v)
		}
	}
	return thresholds, nil
}
