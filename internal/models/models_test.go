package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory_UnmarshalRejectsUnknown(t *testing.T) {
	var c Category
	require.NoError(t, json.Unmarshal([]byte(`"Weather"`), &c))
	assert.Equal(t, CategoryWeather, c)

	err := json.Unmarshal([]byte(`"weather_report"`), &c)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestBackendKind_UnmarshalRejectsUnknown(t *testing.T) {
	var cfg BackendConfig
	err := json.Unmarshal([]byte(`{"model":"m","backend_kind":"gpu"}`), &cfg)
	assert.Error(t, err)
}

func TestBackendConfig_DefaultsFillMissingFields(t *testing.T) {
	var cfg BackendConfig
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","backend_kind":"auto"}`), &cfg))
	assert.Equal(t, BackendAuto, cfg.Kind)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 0.7, cfg.TemperatureDefault)
}

func TestMode_DefaultsToOwnerOnQuery(t *testing.T) {
	var q Query
	require.NoError(t, json.Unmarshal([]byte(`{"text":"  hello  "}`), &q))
	assert.Equal(t, ModeOwner, q.Mode)
	assert.Equal(t, "hello", q.Text)

	err := json.Unmarshal([]byte(`{"text":"hi","mode":"admin"}`), &q)
	assert.Error(t, err)
}

func TestQuery_PriorTurnsAreBounded(t *testing.T) {
	turns := make([]Turn, 15)
	for i := range turns {
		turns[i] = Turn{Role: "user", Text: string(rune('a' + i))}
	}
	q := NewQuery("hi", "", "s1", turns)
	require.Len(t, q.PriorTurns, MaxPriorTurns)
	assert.Equal(t, "f", q.PriorTurns[0].Text)
	assert.Equal(t, "o", q.PriorTurns[MaxPriorTurns-1].Text)
}

func TestChainRule_MalformedPatternRejectedAtLoad(t *testing.T) {
	var rules []ChainRule
	err := json.Unmarshal([]byte(`[{"name":"bad","trigger_pattern":"good (night","intent_sequence":["control"]}]`), &rules)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`[{"name":"good_night","trigger_pattern":"^good ?night","intent_sequence":["control","control"]}]`), &rules))
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Enabled)
	assert.True(t, rules[0].Trigger.MatchString("Goodnight everyone"))
}

func TestChainRule_UnknownCategoryInSequence(t *testing.T) {
	var rule ChainRule
	err := json.Unmarshal([]byte(`{"name":"x","trigger_pattern":"x","intent_sequence":["cooking"]}`), &rule)
	assert.Error(t, err)
}

func TestHallucinationRule_LiteralPatternsAreQuoted(t *testing.T) {
	rule, err := NewRequiredElementsRule("units", SeverityError, []string{"temperature"}, []string{"°F", "degrees (F)"}, false)
	require.NoError(t, err)
	require.NotNil(t, rule.RequiredElements)
	compiled := rule.RequiredElements.Compiled()
	require.Len(t, compiled, 2)
	assert.True(t, compiled[1].MatchString("it is 70 degrees (F)"))
	assert.False(t, compiled[1].MatchString("it is 70 degrees F"))
}

func TestHallucinationRule_BadRegexRejected(t *testing.T) {
	body := `{"name":"r","check_type":"required_elements","severity":"error",
		"config":{"trigger_keywords":["score"],"required_patterns":["\\d+-("],"pattern_type":"regex"}}`
	var rule HallucinationCheckRule
	assert.Error(t, json.Unmarshal([]byte(body), &rule))
}

func TestHallucinationRule_ConfidenceThresholdConfig(t *testing.T) {
	body := `{"name":"min","check_type":"confidence_threshold","config":{"min_confidence":0.8}}`
	var rule HallucinationCheckRule
	require.NoError(t, json.Unmarshal([]byte(body), &rule))
	assert.Equal(t, 0.8, rule.MinConfidence)
	assert.Equal(t, SeverityWarning, rule.Severity)
	assert.True(t, rule.AppliesTo(CategorySports))
}

func TestMultiIntentConfig_PartialOverride(t *testing.T) {
	var cfg MultiIntentConfig
	require.NoError(t, json.Unmarshal([]byte(`{"parallel_processing":true,"combination_strategy":"hierarchical"}`), &cfg))
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.ParallelProcessing)
	assert.Equal(t, CombineHierarchical, cfg.CombinationStrategy)
	assert.Equal(t, 3, cfg.MaxSubIntents)

	assert.Error(t, json.Unmarshal([]byte(`{"combination_strategy":"merge"}`), &cfg))
}

func TestRoutingTable_MapKeysValidated(t *testing.T) {
	var table map[Category]RoutingDecision
	require.NoError(t, json.Unmarshal([]byte(`{"weather":{"use_retrieval":true,"retrieval_target":"weather"}}`), &table))
	assert.Equal(t, ServiceWeather, table[CategoryWeather].RetrievalTarget)

	assert.Error(t, json.Unmarshal([]byte(`{"horoscope":{"use_llm":true}}`), &table))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
}

func TestFeatureFlags_Enabled(t *testing.T) {
	var flags FeatureFlags
	assert.True(t, flags.Enabled(FlagMultiIntent, true))
	flags = FeatureFlags{FlagMultiIntent: false}
	assert.False(t, flags.Enabled(FlagMultiIntent, true))
}
