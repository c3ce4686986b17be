package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// ChainRule maps a trigger expression to a fixed sequence of sub-queries.
type ChainRule struct {
	Name           string     `json:"name"`
	Trigger        Pattern    `json:"trigger_pattern"`
	IntentSequence []Category `json:"intent_sequence"`
	RequireAll     bool       `json:"require_all"`
	StopOnError    bool       `json:"stop_on_error"`
	Enabled        bool       `json:"enabled"`
}

func (r *ChainRule) UnmarshalJSON(data []byte) error {
	type alias ChainRule
	raw := alias{Enabled: true}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("chain rule: %w", err)
	}
	if raw.Name == "" {
		return fmt.Errorf("chain rule: name is required")
	}
	if raw.Trigger.IsZero() {
		return fmt.Errorf("chain rule %s: trigger_pattern is required", raw.Name)
	}
	*r = ChainRule(raw)
	return nil
}

// MultiIntentConfig is the singleton multi-intent configuration.
type MultiIntentConfig struct {
	Enabled             bool                `json:"enabled"`
	MaxSubIntents       int                 `json:"max_sub_intents"`
	Separators          []string            `json:"separators"`
	PreserveContext     bool                `json:"preserve_context"`
	ParallelProcessing  bool                `json:"parallel_processing"`
	CombinationStrategy CombinationStrategy `json:"combination_strategy"`
	MinWordsPerIntent   int                 `json:"min_words_per_intent"`
	ContextWords        []string            `json:"context_words"`
}

// DefaultMultiIntentConfig is used until configuration is available.
func DefaultMultiIntentConfig() MultiIntentConfig {
	return MultiIntentConfig{
		Enabled:             true,
		MaxSubIntents:       3,
		Separators:          []string{" and then ", " and also ", " and ", " then ", " also ", "; "},
		PreserveContext:     true,
		ParallelProcessing:  false,
		CombinationStrategy: CombineConcatenate,
		MinWordsPerIntent:   2,
		ContextWords: []string{
			"lights", "light", "lamp", "fan", "thermostat", "tv", "television", "music",
			"door", "blinds", "shades", "garage", "speaker", "heater",
		},
	}
}

func (c *MultiIntentConfig) UnmarshalJSON(data []byte) error {
	type alias MultiIntentConfig
	raw := alias(DefaultMultiIntentConfig())
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("multi-intent config: %w", err)
	}
	if raw.MaxSubIntents <= 0 {
		raw.MaxSubIntents = 1
	}
	if raw.MinWordsPerIntent < 0 {
		raw.MinWordsPerIntent = 0
	}
	*c = MultiIntentConfig(raw)
	return nil
}

// RoutingDecision says which data paths serve a category.
type RoutingDecision struct {
	Category        Category    `json:"category"`
	UseRetrieval    bool        `json:"use_retrieval"`
	RetrievalTarget ServiceKind `json:"retrieval_target,omitempty"`
	UseWebSearch    bool        `json:"use_web_search"`
	WebProviders    []string    `json:"web_providers,omitempty"`
	UseLLM          bool        `json:"use_llm"`
	Priority        int         `json:"priority"`
}

// LLMOnly reports whether the decision skips retrieval and web search.
func (d RoutingDecision) LLMOnly() bool {
	return d.UseLLM && !d.UseRetrieval && !d.UseWebSearch
}

// NoDataPath reports a decision with no retrieval, search or generation (device control).
func (d RoutingDecision) NoDataPath() bool {
	return !d.UseLLM && !d.UseRetrieval && !d.UseWebSearch
}

// RequiredElementsConfig configures a required_elements check.
type RequiredElementsConfig struct {
	TriggerKeywords  []string `json:"trigger_keywords"`
	RequiredPatterns []string `json:"required_patterns"`
	PatternType      string   `json:"pattern_type"`
	compiled         []Pattern
}

// Compiled returns the required patterns; literal patterns are quoted at decode time.
func (c RequiredElementsConfig) Compiled() []Pattern { return c.compiled }

// HallucinationCheckRule is a configured semantic check.
type HallucinationCheckRule struct {
	Name                    string          `json:"name"`
	CheckType               CheckType       `json:"check_type"`
	Categories              []Category      `json:"categories,omitempty"`
	Severity                Severity        `json:"severity"`
	Priority                int             `json:"priority"`
	Enabled                 bool            `json:"enabled"`
	Config                  json.RawMessage `json:"config,omitempty"`
	AutoFix                 bool            `json:"auto_fix"`
	FixTemplate             string          `json:"fix_template,omitempty"`
	RequiresCrossValidation bool            `json:"requires_cross_validation"`

	RequiredElements *RequiredElementsConfig `json:"-"`
	MinConfidence    float64                 `json:"-"`
}

func (r *HallucinationCheckRule) UnmarshalJSON(data []byte) error {
	type alias HallucinationCheckRule
	raw := alias{Enabled: true, Severity: SeverityWarning}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hallucination rule: %w", err)
	}
	rule := HallucinationCheckRule(raw)
	if rule.Name == "" {
		return fmt.Errorf("hallucination rule: name is required")
	}
	switch rule.CheckType {
	case CheckRequiredElements:
		var cfg RequiredElementsConfig
		if len(rule.Config) > 0 {
			if err := json.Unmarshal(rule.Config, &cfg); err != nil {
				return fmt.Errorf("hallucination rule %s: %w", rule.Name, err)
			}
		}
		for _, p := range cfg.RequiredPatterns {
			expr := p
			if cfg.PatternType != "regex" {
				expr = regexp.QuoteMeta(p)
			}
			compiled, err := CompilePattern(expr)
			if err != nil {
				return fmt.Errorf("hallucination rule %s: %w", rule.Name, err)
			}
			cfg.compiled = append(cfg.compiled, compiled)
		}
		rule.RequiredElements = &cfg
	case CheckConfidenceThreshold:
		var cfg struct {
			MinConfidence float64 `json:"min_confidence"`
		}
		if len(rule.Config) > 0 {
			if err := json.Unmarshal(rule.Config, &cfg); err != nil {
				return fmt.Errorf("hallucination rule %s: %w", rule.Name, err)
			}
		}
		rule.MinConfidence = ClampConfidence(cfg.MinConfidence)
	case "":
		return fmt.Errorf("hallucination rule %s: check_type is required", rule.Name)
	}
	*r = rule
	return nil
}

// NewRequiredElementsRule builds a required_elements rule in code.
func NewRequiredElementsRule(name string, severity Severity, triggers, patterns []string, regex bool) (HallucinationCheckRule, error) {
	patternType := "literal"
	if regex {
		patternType = "regex"
	}
	cfg, _ := json.Marshal(RequiredElementsConfig{
		TriggerKeywords:  triggers,
		RequiredPatterns: patterns,
		PatternType:      patternType,
	})
	body, _ := json.Marshal(map[string]interface{}{
		"name":       name,
		"check_type": CheckRequiredElements,
		"severity":   severity,
		"config":     json.RawMessage(cfg),
	})
	var rule HallucinationCheckRule
	err := json.Unmarshal(body, &rule)
	return rule, err
}

// AppliesTo reports whether the rule is scoped to category (or to all categories).
func (r HallucinationCheckRule) AppliesTo(category Category) bool {
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// CrossValidationModelConfig describes one model taking part in ensemble validation.
type CrossValidationModelConfig struct {
	Name          string     `json:"name"`
	ModelID       string     `json:"model_id"`
	Role          ModelRole  `json:"role"`
	Endpoint      string     `json:"endpoint,omitempty"`
	Temperature   *float64   `json:"temperature,omitempty"`
	MaxTokens     int        `json:"max_tokens"`
	TimeoutMs     int        `json:"timeout_ms"`
	Weight        float64    `json:"weight"`
	MinConfidence float64    `json:"min_confidence"`
	Categories    []Category `json:"categories,omitempty"`
	Enabled       bool       `json:"enabled"`
}

func (m *CrossValidationModelConfig) UnmarshalJSON(data []byte) error {
	type alias CrossValidationModelConfig
	raw := alias{Enabled: true, Weight: 1, TimeoutMs: 10000, MaxTokens: 256}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("validation model: %w", err)
	}
	if raw.ModelID == "" {
		return fmt.Errorf("validation model %s: model_id is required", raw.Name)
	}
	if raw.Weight < 0 {
		return fmt.Errorf("validation model %s: weight must not be negative", raw.Name)
	}
	*m = CrossValidationModelConfig(raw)
	return nil
}

// Timeout returns the per-call timeout, 10s when unset.
func (m CrossValidationModelConfig) Timeout() time.Duration {
	if m.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// AppliesTo reports whether the model serves category.
func (m CrossValidationModelConfig) AppliesTo(category Category) bool {
	if len(m.Categories) == 0 {
		return true
	}
	for _, c := range m.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ConfidenceCondition is the trigger of a confidence rule.
type ConfidenceCondition struct {
	Kind       ConditionKind `json:"kind"`
	Patterns   []Pattern     `json:"patterns,omitempty"`
	MinMatches int           `json:"min_matches,omitempty"`
	Entities   []string      `json:"entities,omitempty"`
	MinWords   int           `json:"min_words,omitempty"`
	MaxWords   int           `json:"max_words,omitempty"`
}

// ConfidenceRule adjusts final confidence for a category.
type ConfidenceRule struct {
	Category   Category            `json:"category"`
	FactorName string              `json:"factor_name"`
	FactorType FactorType          `json:"factor_type"`
	Condition  ConfidenceCondition `json:"condition"`
	Adjustment float64             `json:"adjustment"`
	MaxImpact  float64             `json:"max_impact"`
}

// BackendConfig resolves a model name to an inference engine.
type BackendConfig struct {
	Model              string      `json:"model"`
	Kind               BackendKind `json:"backend_kind"`
	Endpoint           string      `json:"endpoint,omitempty"`
	MaxTokens          int         `json:"max_tokens"`
	TemperatureDefault float64     `json:"temperature_default"`
	TimeoutMs          int         `json:"timeout_ms"`
}

const (
	DefaultBackendMaxTokens   = 2048
	DefaultBackendTemperature = 0.7
	DefaultBackendTimeoutMs   = 60000
)

// DefaultBackendConfig is the descriptor for models without configuration.
func DefaultBackendConfig(model string) BackendConfig {
	return BackendConfig{
		Model:              model,
		Kind:               BackendPrimary,
		MaxTokens:          DefaultBackendMaxTokens,
		TemperatureDefault: DefaultBackendTemperature,
		TimeoutMs:          DefaultBackendTimeoutMs,
	}
}

func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type alias BackendConfig
	raw := alias(DefaultBackendConfig(""))
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}
	if raw.Model == "" {
		return fmt.Errorf("backend config: model is required")
	}
	*b = BackendConfig(raw)
	return nil
}

// Timeout returns the per-call timeout.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return DefaultBackendTimeoutMs * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// FeatureFlags toggles optional pipeline behavior.
type FeatureFlags map[string]bool

const (
	FlagMultiIntent        = "multi_intent"
	FlagSemanticValidation = "semantic_validation"
	FlagWebFallback        = "web_fallback"
	FlagSessionHistory     = "session_history"
)

// Enabled returns the flag value or def when unset.
func (f FeatureFlags) Enabled(name string, def bool) bool {
	if f == nil {
		return def
	}
	v, ok := f[name]
	if !ok {
		return def
	}
	return v
}
