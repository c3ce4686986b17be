package hallucination

import (
	"context"
	"errors"
	"sync"
	"testing"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	text string
	err  error
}

type fakeGenerator struct {
	mu      sync.Mutex
	replies map[string]reply
	prompts map[string][]string
	opts    map[string]llm.GenerateOptions
}

func newFakeGenerator(replies map[string]reply) *fakeGenerator {
	return &fakeGenerator{replies: replies, prompts: map[string][]string{}, opts: map[string]llm.GenerateOptions{}}
}

func (f *fakeGenerator) Generate(ctx context.Context, model, prompt string, opts llm.GenerateOptions) (llm.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts[model] = append(f.prompts[model], prompt)
	f.opts[model] = opts
	r, ok := f.replies[model]
	if !ok {
		return llm.Generation{}, errors.New("unknown model " + model)
	}
	if r.err != nil {
		return llm.Generation{}, r.err
	}
	return llm.Generation{Text: r.text, Model: model}, nil
}

type fakeSource struct {
	rules      []models.HallucinationCheckRule
	models     []models.CrossValidationModelConfig
	confidence []models.ConfidenceRule
	thresholds map[models.Category]float64
	err        error
}

func (f *fakeSource) HallucinationRules(context.Context) ([]models.HallucinationCheckRule, error) {
	return f.rules, f.err
}

func (f *fakeSource) ValidationModels(context.Context) ([]models.CrossValidationModelConfig, error) {
	return f.models, f.err
}

func (f *fakeSource) ConfidenceRules(context.Context) ([]models.ConfidenceRule, error) {
	return f.confidence, f.err
}

func (f *fakeSource) CategoryThresholds(context.Context) (map[models.Category]float64, error) {
	return f.thresholds, f.err
}

func validationModel(name string, weight float64) models.CrossValidationModelConfig {
	return models.CrossValidationModelConfig{
		Name:    name,
		ModelID: name,
		Role:    models.RoleValidation,
		Weight:  weight,
		Enabled: true,
	}
}

func findCheck(t *testing.T, out models.SemanticValidationOutcome, rule string) models.CheckResult {
	t.Helper()
	for _, c := range out.Checks {
		if c.Rule == rule {
			return c
		}
	}
	t.Fatalf("no check result for %s", rule)
	return models.CheckResult{}
}

func TestValidate_RequiredElementsAutoFix(t *testing.T) {
	tests := []struct {
		name          string
		fix           reply
		wantValid     bool
		wantRewritten bool
		wantResponse  string
	}{
		{
			name:          "fix succeeds",
			fix:           reply{text: "It's 72°F and sunny in Baltimore."},
			wantValid:     true,
			wantRewritten: true,
			wantResponse:  "It's 72°F and sunny in Baltimore.",
		},
		{
			name:         "fix call fails",
			fix:          reply{err: errors.New("engine down")},
			wantValid:    false,
			wantResponse: "It's sunny in Baltimore.",
		},
		{
			name:         "fix still misses the element",
			fix:          reply{text: "Sunny skies all day."},
			wantValid:    false,
			wantResponse: "It's sunny in Baltimore.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator(map[string]reply{"fixer": tt.fix})
			v := NewValidator(nil, gen, "fixer", logger.NewTestLogger(t))

			out := v.Validate(context.Background(), Input{
				Query:      "what's the temperature in Baltimore",
				Response:   "It's sunny in Baltimore.",
				Category:   models.CategoryWeather,
				Confidence: 0.9,
				Entities:   map[string]string{"location": "baltimore"},
			})

			assert.Equal(t, tt.wantValid, out.Valid)
			assert.Equal(t, tt.wantRewritten, out.Rewritten)
			assert.Equal(t, tt.wantResponse, out.Response)

			check := findCheck(t, out, "weather_temperature")
			assert.False(t, check.Passed)
			assert.Equal(t, tt.wantRewritten, check.Fixed)
			require.Len(t, gen.prompts["fixer"], 1)
			assert.Contains(t, gen.prompts["fixer"][0], "Question: what's the temperature in Baltimore")
		})
	}
}

func TestValidate_ErrorFailureNeverDroppedWithoutFixer(t *testing.T) {
	v := NewValidator(nil, nil, "", logger.NewTestLogger(t))
	out := v.Validate(context.Background(), Input{
		Query:      "how hot is it",
		Response:   "Pretty warm.",
		Category:   models.CategoryWeather,
		Confidence: 0.9,
	})
	assert.False(t, out.Valid)
	assert.False(t, findCheck(t, out, "weather_temperature").Passed)
}

func TestValidate_NotTriggeredAndWarnings(t *testing.T) {
	v := NewValidator(nil, nil, "", logger.NewTestLogger(t))

	out := v.Validate(context.Background(), Input{
		Query:      "will it rain tomorrow",
		Response:   "Yes, expect showers.",
		Category:   models.CategoryWeather,
		Confidence: 0.9,
	})
	assert.True(t, out.Valid)
	assert.True(t, findCheck(t, out, "weather_temperature").Skipped)

	out = v.Validate(context.Background(), Input{
		Query:      "what was the ravens score",
		Response:   "The Ravens won comfortably.",
		Category:   models.CategorySports,
		Confidence: 0.9,
	})
	assert.True(t, out.Valid, "warning severity does not flip validity")
	sports := findCheck(t, out, "sports_score")
	assert.False(t, sports.Passed)
	assert.NotEmpty(t, sports.Reason)
}

func TestValidate_NumericConsistency(t *testing.T) {
	v := NewValidator(nil, nil, "", logger.NewTestLogger(t))

	tests := []struct {
		query, response string
		passed, skipped bool
	}{
		{"what is 12 times 3", "12 times 3 is 36.", true, false},
		{"what is 12 times 3", "It is thirty six.", false, false},
		{"is 2.50 the price", "Yes, 2.5 dollars.", true, false},
		{"who wrote hamlet", "Shakespeare.", true, true},
	}
	for _, tt := range tests {
		out := v.Validate(context.Background(), Input{
			Query: tt.query, Response: tt.response, Category: models.CategoryGeneralInfo, Confidence: 0.9,
		})
		check := findCheck(t, out, "numeric_consistency")
		assert.Equal(t, tt.passed, check.Passed, tt.query)
		assert.Equal(t, tt.skipped, check.Skipped, tt.query)
		assert.True(t, out.Valid, "warning severity: %s", tt.query)
	}
}

func TestValidate_Ensemble(t *testing.T) {
	tests := []struct {
		name             string
		replies          map[string]reply
		threshold        float64
		wantValid        bool
		wantConfidence   float64
		wantCouldNot     bool
		wantModelsCalled int
	}{
		{
			name: "weighted average above threshold",
			replies: map[string]reply{
				"judge-a": {text: `Sure: {"confidence": 0.9, "assessment": "fine"}`},
				"judge-b": {text: `{"confidence": 0.6, "issues": ["vague"]}`},
			},
			wantValid:      true,
			wantConfidence: 0.8 + 0.05,
		},
		{
			name: "below category threshold",
			replies: map[string]reply{
				"judge-a": {text: `{"confidence": 0.9}`},
				"judge-b": {text: `{"confidence": 0.6}`},
			},
			threshold:      0.85,
			wantValid:      false,
			wantConfidence: 0.8 + 0.05,
		},
		{
			name: "one model fails",
			replies: map[string]reply{
				"judge-a": {err: errors.New("timeout")},
				"judge-b": {text: `{"confidence": 0.75}`},
			},
			wantValid:      true,
			wantConfidence: 0.75 + 0.05,
		},
		{
			name: "all models fail",
			replies: map[string]reply{
				"judge-a": {err: errors.New("timeout")},
				"judge-b": {text: "not json"},
			},
			wantValid:      true,
			wantConfidence: NeutralConfidence + 0.05,
			wantCouldNot:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{models: []models.CrossValidationModelConfig{
				validationModel("judge-a", 2),
				validationModel("judge-b", 1),
			}}
			if tt.threshold > 0 {
				src.thresholds = map[models.Category]float64{models.CategoryWeather: tt.threshold}
			}
			gen := newFakeGenerator(tt.replies)
			v := NewValidator(src, gen, "", logger.NewTestLogger(t))
			require.NoError(t, v.Refresh(context.Background()))

			out := v.Validate(context.Background(), Input{
				Query:      "will it rain in Baltimore",
				Response:   "Light rain after noon.",
				Category:   models.CategoryWeather,
				Confidence: 0.9,
				Entities:   map[string]string{"location": "baltimore"},
			})

			assert.True(t, out.Ensemble.Ran)
			assert.Len(t, out.Ensemble.Models, 2)
			assert.Equal(t, tt.wantCouldNot, out.Ensemble.CouldNotValidate)
			assert.Equal(t, tt.wantValid, out.Valid)
			assert.InDelta(t, tt.wantConfidence, out.Confidence, 1e-9)
			require.Len(t, out.Adjustments, 1)
			assert.Equal(t, "location_present", out.Adjustments[0].Factor)
		})
	}
}

func TestValidate_EnsembleTriggers(t *testing.T) {
	single := &fakeSource{models: []models.CrossValidationModelConfig{validationModel("judge", 1)}}

	tests := []struct {
		name       string
		source     *fakeSource
		confidence float64
		wantRan    bool
	}{
		{"single model, confident", single, 0.9, false},
		{"single model, low confidence", single, 0.4, true},
		{"no models, low confidence", &fakeSource{}, 0.4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator(map[string]reply{"judge": {text: `{"confidence": 0.8}`}})
			v := NewValidator(tt.source, gen, "", logger.NewTestLogger(t))
			require.NoError(t, v.Refresh(context.Background()))

			out := v.Validate(context.Background(), Input{
				Query: "tell me about the harbor", Response: "It is a harbor.",
				Category: models.CategoryGeneralInfo, Confidence: tt.confidence,
			})
			assert.Equal(t, tt.wantRan, out.Ensemble.Ran)
			if !tt.wantRan {
				assert.Equal(t, DefaultEnsembleConfidence, out.Ensemble.Confidence)
				assert.InDelta(t, tt.confidence, out.Confidence, 1e-9, "incoming confidence is kept")
			}
		})
	}
}

func TestValidate_CrossValidationRuleForcesEnsemble(t *testing.T) {
	src := &fakeSource{
		rules: []models.HallucinationCheckRule{{
			Name: "verify_emergency", CheckType: models.CheckCrossValidation,
			Severity: models.SeverityWarning, Enabled: true,
			Categories: []models.Category{models.CategoryEmergency},
		}},
		models: []models.CrossValidationModelConfig{func() models.CrossValidationModelConfig {
			m := validationModel("judge", 1)
			m.Endpoint = "http://judge:8000"
			m.MaxTokens = 64
			return m
		}()},
	}
	gen := newFakeGenerator(map[string]reply{"judge": {text: `{"confidence": 0.95}`}})
	v := NewValidator(src, gen, "", logger.NewTestLogger(t))
	require.NoError(t, v.Refresh(context.Background()))

	out := v.Validate(context.Background(), Input{
		Query: "nearest hospital", Response: "Johns Hopkins Hospital is 2 miles away.",
		Category: models.CategoryEmergency, Confidence: 0.9,
	})
	assert.True(t, out.Ensemble.Ran)
	assert.Contains(t, out.Ensemble.Reasons, "rule verify_emergency")
	assert.Equal(t, "http://judge:8000", gen.opts["judge"].Endpoint)
	assert.Equal(t, 64, gen.opts["judge"].MaxTokens)
}

func TestValidate_ConfidenceThresholdRuleRunsLast(t *testing.T) {
	src := &fakeSource{rules: []models.HallucinationCheckRule{{
		Name: "floor", CheckType: models.CheckConfidenceThreshold,
		Severity: models.SeverityError, Enabled: true, MinConfidence: 0.5,
	}}}
	v := NewValidator(src, nil, "", logger.NewTestLogger(t))
	require.NoError(t, v.Refresh(context.Background()))

	out := v.Validate(context.Background(), Input{
		Query: "capital", Response: "Annapolis.", Category: models.CategoryGeneralInfo, Confidence: 0.55,
	})
	// very_short_query penalty takes 0.55 to 0.45
	assert.InDelta(t, 0.45, out.Confidence, 1e-9)
	assert.False(t, out.Valid)
	floor := findCheck(t, out, "floor")
	assert.False(t, floor.Passed)
	assert.Equal(t, "floor", out.Checks[len(out.Checks)-1].Rule)
}

func TestRefresh_KeepsCurrentOnError(t *testing.T) {
	v := NewValidator(&fakeSource{err: errors.New("config down")}, nil, "", logger.NewTestLogger(t))
	require.NoError(t, v.Refresh(context.Background()))

	snap := v.snap.Load()
	assert.Len(t, snap.rules, len(DefaultRules()))
	assert.Len(t, snap.confidence, len(DefaultConfidenceRules()))
	assert.Equal(t, DefaultThreshold, snap.threshold(models.CategoryWeather))
}

func TestSortRules(t *testing.T) {
	rules := sortRules([]models.HallucinationCheckRule{
		{Name: "info", Severity: models.SeverityInfo, Priority: 1},
		{Name: "warn", Severity: models.SeverityWarning, Priority: 1},
		{Name: "top", Severity: models.SeverityInfo, Priority: 9},
		{Name: "err", Severity: models.SeverityError, Priority: 1},
	})
	var names []string
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"top", "err", "warn", "info"}, names)
}
