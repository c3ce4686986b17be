package models

// IntentClassification is created once per (sub-)query and never mutated afterwards.
type IntentClassification struct {
	Category           Category               `json:"category"`
	Confidence         float64                `json:"confidence"`
	Entities           map[string]string      `json:"entities"`
	RequiresLLM        bool                   `json:"requiresLlm"`
	CacheKey           string                 `json:"cacheKey"`
	SubClassifications []IntentClassification `json:"subClassifications,omitempty"`
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Entity returns an extracted entity or "".
func (c IntentClassification) Entity(name string) string {
	if c.Entities == nil {
		return ""
	}
	return c.Entities[name]
}

// PatternConfig is the configuration-service shape of the Pattern Store.
// Groups present here replace the built-in group of the same name.
type PatternConfig struct {
	ControlGroups        map[string][]string   `json:"control_groups,omitempty"`
	InformationGroups    map[Category][]string `json:"information_groups,omitempty"`
	ActionVerbs          []string              `json:"action_verbs,omitempty"`
	DeviceNouns          []string              `json:"device_nouns,omitempty"`
	ComplexityIndicators []string              `json:"complexity_indicators,omitempty"`
}
