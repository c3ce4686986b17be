package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/hallucination"
	"query-orchestrator/internal/intent"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/multiintent"
	"query-orchestrator/internal/ragvalidation"
	"query-orchestrator/internal/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	mu        sync.Mutex
	delay     time.Duration
	service   map[models.ServiceKind][]models.RetrievalResult
	web       []models.RetrievalResult
	serviceRq []models.RetrievalRequest
	webRq     []models.RetrievalRequest
	providers [][]string
}

func (f *fakeRetriever) RetrieveService(ctx context.Context, req models.RetrievalRequest) []models.RetrievalResult {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serviceRq = append(f.serviceRq, req)
	return f.service[req.Kind]
}

func (f *fakeRetriever) Retrieve(ctx context.Context, req models.RetrievalRequest, providers []string) []models.RetrievalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webRq = append(f.webRq, req)
	f.providers = append(f.providers, providers)
	return f.web
}

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, model, prompt string, opts llm.GenerateOptions) (llm.Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return llm.Generation{}, f.err
	}
	return llm.Generation{Text: f.text, Model: model, BackendUsed: models.BackendPrimary}, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeHistory struct {
	turns []models.Turn
	err   error
}

func (f *fakeHistory) Recent(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	return f.turns, f.err
}

type fakeFlags struct{ flags models.FeatureFlags }

type fakeMultiIntent struct {
	cfg   models.MultiIntentConfig
	rules []models.ChainRule
}

func (f fakeMultiIntent) MultiIntent(context.Context) (models.MultiIntentConfig, error) {
	return f.cfg, nil
}

func (f fakeMultiIntent) ChainRules(context.Context) ([]models.ChainRule, error) {
	return f.rules, nil
}

func analyzerWith(t *testing.T, cfg models.MultiIntentConfig, rules []models.ChainRule) *multiintent.Analyzer {
	t.Helper()
	a := multiintent.NewAnalyzer(fakeMultiIntent{cfg: cfg, rules: rules}, nil, logger.NewTestLogger(t))
	require.NoError(t, a.Refresh(context.Background()))
	return a
}

func (f fakeFlags) FeatureFlags(context.Context) (models.FeatureFlags, error) { return f.flags, nil }

func serviceResult(kind models.ServiceKind, normalized map[string]interface{}, snippet string) models.RetrievalResult {
	return models.RetrievalResult{
		SourceID:   "primary:" + string(kind),
		Kind:       kind,
		Normalized: normalized,
		Snippet:    snippet,
		Confidence: 0.9,
		Provenance: models.Provenance{Source: string(kind), Provider: "primary", Class: models.ClassService},
	}
}

func webResult(title, snippet string) models.RetrievalResult {
	return models.RetrievalResult{
		SourceID:   "custom_search:" + title,
		Title:      title,
		Snippet:    snippet,
		URL:        "https://example.gov/" + title,
		Confidence: 0.8,
		Provenance: models.Provenance{Provider: "custom_search", Class: models.ClassWebSearch},
	}
}

func sunnyBaltimore() models.RetrievalResult {
	return serviceResult(models.ServiceWeather, map[string]interface{}{
		"location": "Baltimore",
		"current":  map[string]interface{}{"temperature": 72.0, "conditions": "sunny"},
	}, "It's 72°F and sunny in Baltimore.")
}

type harness struct {
	orch      *Orchestrator
	retriever *fakeRetriever
	generator *fakeGenerator
}

func newHarness(t *testing.T, deps Dependencies) harness {
	t.Helper()
	log := logger.NewTestLogger(t)

	structural, err := ragvalidation.NewValidator(log)
	require.NoError(t, err)

	h := harness{retriever: &fakeRetriever{service: map[models.ServiceKind][]models.RetrievalResult{}}, generator: &fakeGenerator{text: "Here is what I found."}}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(intent.NewStore(nil, log))
	}
	if deps.Analyzer == nil {
		deps.Analyzer = multiintent.NewAnalyzer(nil, nil, log)
	}
	if deps.Router == nil {
		deps.Router = routing.NewResolver(nil, nil, log)
	}
	if deps.Retriever == nil {
		deps.Retriever = h.retriever
	}
	if deps.Structural == nil {
		deps.Structural = structural
	}
	if deps.Semantic == nil {
		deps.Semantic = hallucination.NewValidator(nil, nil, "", log)
	}
	if deps.Generator == nil {
		deps.Generator = h.generator
	}
	h.orch = New(deps, Options{SynthesisModel: "llama3", ValidationEnabled: true}, nil, log)
	return h
}

func TestProcess_ControlQuery(t *testing.T) {
	h := newHarness(t, Dependencies{})

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "turn on the kitchen lights", Zone: "kitchen", SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryControl, resp.Category)
	assert.Equal(t, models.StateFinalized, resp.State)
	assert.GreaterOrEqual(t, resp.Confidence, 0.85)
	require.NotNil(t, resp.Control)
	assert.Equal(t, "on", resp.Control.Action)
	assert.Equal(t, "lights", resp.Control.Device)
	assert.Equal(t, "kitchen", resp.Control.Room)
	assert.Equal(t, "Turning on the kitchen lights.", resp.Answer)
	assert.Equal(t, "s1", resp.SessionID)
	assert.NotEmpty(t, resp.QueryID)
	assert.Zero(t, h.generator.calls(), "control never calls the LLM")
	assert.Empty(t, h.retriever.serviceRq)
	assert.Empty(t, h.retriever.webRq)
	assert.Contains(t, resp.Timings, "routed")
	assert.NotContains(t, resp.Timings, "synthesized")
}

func TestProcess_WeatherFromService(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.service[models.ServiceWeather] = []models.RetrievalResult{sunnyBaltimore()}

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore"})
	require.NoError(t, err)

	assert.Equal(t, models.CategoryWeather, resp.Category)
	assert.Equal(t, "It's 72°F and sunny in Baltimore.", resp.Answer)
	assert.True(t, resp.Validation.Valid)
	require.Len(t, resp.Validation.Structural, 1)
	assert.Equal(t, models.StructuralValid, resp.Validation.Structural[0].Status)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "service/primary", resp.Sources[0].Tag())
	assert.Zero(t, h.generator.calls())
	assert.Empty(t, h.retriever.webRq)
}

func TestProcess_EmptyPayloadFallsBackToWeb(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.service[models.ServiceWeather] = []models.RetrievalResult{
		serviceResult(models.ServiceWeather, map[string]interface{}{"current": map[string]interface{}{}}, ""),
	}
	h.retriever.web = []models.RetrievalResult{webResult("nws", "Rain likely this afternoon in Baltimore.")}
	h.generator.text = "Expect rain this afternoon in Baltimore."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore"})
	require.NoError(t, err)

	assert.Equal(t, "Expect rain this afternoon in Baltimore.", resp.Answer)
	require.Len(t, resp.Validation.Structural, 2)
	for _, o := range resp.Validation.Structural {
		assert.Equal(t, models.StructuralEmpty, o.Status)
		assert.Equal(t, models.FallbackWebSearch, o.Suggestion.FallbackAction)
	}
	require.Len(t, h.retriever.serviceRq, 2, "an empty payload is retried once before web search")
	assert.Equal(t, 2, h.retriever.serviceRq[1].Attempt)
	require.Len(t, h.retriever.providers, 1)
	assert.Equal(t, routing.LastResort, h.retriever.providers[0][len(h.retriever.providers[0])-1])
	assert.Equal(t, models.BackendPrimary, resp.BackendUsed)
	require.Len(t, h.generator.prompts, 1)
	assert.Contains(t, h.generator.prompts[0], "Rain likely this afternoon")
}

func TestProcess_NeedsRetryRetriesOnceThenWeb(t *testing.T) {
	h := newHarness(t, Dependencies{})
	schedule := serviceResult(models.ServiceSports, map[string]interface{}{
		"games": []interface{}{map[string]interface{}{"home_team": "Ravens", "away_team": "Browns", "start_time": "Sunday 1:00 PM"}},
	}, "Browns at Ravens, Sunday 1:00 PM.")
	h.retriever.service[models.ServiceSports] = []models.RetrievalResult{schedule}
	h.retriever.web = []models.RetrievalResult{webResult("espn", "Ravens beat the Steelers 24-17.")}
	h.generator.text = "The Ravens won 24-17."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what was the ravens score"})
	require.NoError(t, err)

	require.Len(t, h.retriever.serviceRq, 2)
	assert.Equal(t, 1, h.retriever.serviceRq[0].Attempt)
	assert.Equal(t, 2, h.retriever.serviceRq[1].Attempt)
	require.Len(t, resp.Validation.Structural, 2)
	for _, o := range resp.Validation.Structural {
		assert.Equal(t, models.StructuralNeedsRetry, o.Status)
	}
	assert.Len(t, h.retriever.webRq, 1)
	assert.Equal(t, "The Ravens won 24-17.", resp.Answer)
}

func TestProcess_InvalidPayloadRetriesOnceThenWeb(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.service[models.ServiceWeather] = []models.RetrievalResult{
		serviceResult(models.ServiceWeather, map[string]interface{}{
			"current": map[string]interface{}{"temperature": 400.0, "conditions": "sunny"},
		}, "It's 400°F and sunny."),
	}
	h.retriever.web = []models.RetrievalResult{webResult("nws", "Sunny skies over Baltimore today.")}
	h.generator.text = "It's sunny in Baltimore."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore"})
	require.NoError(t, err)

	assert.Len(t, h.retriever.serviceRq, 2)
	assert.Len(t, h.retriever.webRq, 1)
	require.Len(t, resp.Validation.Structural, 2)
	assert.Equal(t, models.StructuralInvalid, resp.Validation.Structural[1].Status)
	assert.Equal(t, "It's sunny in Baltimore.", resp.Answer)
}

func TestProcess_EmptyGamesWithMetadataFallsBackToWeb(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.service[models.ServiceSports] = []models.RetrievalResult{
		serviceResult(models.ServiceSports, map[string]interface{}{"games": []interface{}{}, "league": "NFL"}, ""),
	}
	h.retriever.web = []models.RetrievalResult{webResult("espn", "Ravens beat the Steelers 24-17.")}
	h.generator.text = "The Ravens won 24-17."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what was the ravens score"})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Validation.Structural)
	assert.Equal(t, models.StructuralEmpty, resp.Validation.Structural[0].Status)
	assert.Len(t, h.retriever.webRq, 1)
	require.Len(t, h.generator.prompts, 1)
	assert.Contains(t, h.generator.prompts[0], "Ravens beat the Steelers")
	assert.Equal(t, "The Ravens won 24-17.", resp.Answer)
}

func TestProcess_UnreachableServiceIsNotRetried(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.web = []models.RetrievalResult{webResult("nws", "Rain likely this afternoon in Baltimore.")}

	_, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore"})
	require.NoError(t, err)
	assert.Len(t, h.retriever.serviceRq, 1)
	assert.Len(t, h.retriever.webRq, 1)
}

func TestProcess_WebFallbackDisabled(t *testing.T) {
	h := newHarness(t, Dependencies{Flags: fakeFlags{flags: models.FeatureFlags{models.FlagWebFallback: false}}})
	require.NoError(t, h.orch.Refresh(context.Background()))
	h.generator.text = "I don't have current weather data."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore"})
	require.NoError(t, err)
	assert.Empty(t, h.retriever.webRq)
	assert.Equal(t, "I don't have current weather data.", resp.Answer)
}

func TestProcess_SynthesisFailureUsesBestSnippet(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.web = []models.RetrievalResult{
		{Title: "blank", Provenance: models.Provenance{Provider: "instant_answer", Class: models.ClassWebSearch}},
		webResult("mta", "The light rail runs every 15 minutes."),
	}
	h.generator.err = errors.New("engine down")

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "when does the light rail run"})
	require.NoError(t, err)
	assert.Equal(t, "The light rail runs every 15 minutes.", resp.Answer)
	assert.False(t, resp.Unanswerable)
}

func TestProcess_UnableToAnswer(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.generator.err = errors.New("engine down")

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "tell me something about quantum entanglement please"})
	require.NoError(t, err)
	assert.True(t, resp.Unanswerable)
	assert.Equal(t, models.StateFailed, resp.State)
	assert.Equal(t, defaultUnableToAnswer, resp.Answer)
	assert.False(t, resp.Validation.Valid)
	assert.Zero(t, resp.Confidence)
}

func TestProcess_LLMOnlyDecisionSkipsRetrieval(t *testing.T) {
	router := &staticRouter{decision: models.RoutingDecision{Category: models.CategoryGeneralInfo, UseLLM: true}}
	h := newHarness(t, Dependencies{Router: router})
	h.generator.text = "Paris is the capital of France."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what is the capital of france"})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", resp.Answer)
	assert.Empty(t, h.retriever.webRq)
	assert.Empty(t, h.retriever.serviceRq)
	assert.NotContains(t, resp.Timings, "retrieved")
	assert.Contains(t, resp.Timings, "synthesized")
	assert.Contains(t, resp.Timings, "validated")
}

type staticRouter struct {
	decision models.RoutingDecision
}

func (s *staticRouter) Resolve(models.Category) models.RoutingDecision { return s.decision }
func (s *staticRouter) Providers(models.Category) []string { return []string{routing.LastResort} }

func TestProcess_MultiIntentConcatenates(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.retriever.service[models.ServiceWeather] = []models.RetrievalResult{sunnyBaltimore()}

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore and turn off the lights"})
	require.NoError(t, err)

	require.Len(t, resp.SubResponses, 2)
	assert.Equal(t, "what's the weather in Baltimore", resp.SubResponses[0].Query)
	assert.Equal(t, models.CategoryWeather, resp.SubResponses[0].Category)
	assert.Equal(t, "turn off the lights", resp.SubResponses[1].Query)
	assert.Equal(t, models.CategoryControl, resp.SubResponses[1].Category)
	assert.Equal(t, "It's 72°F and sunny in Baltimore. Additionally, Turning off the lights.", resp.Answer)
	assert.Equal(t, models.StateFinalized, resp.State)
	require.NotNil(t, resp.Control)
	assert.Equal(t, "off", resp.Control.Action)
	assert.Contains(t, resp.Timings, "split")
}

func TestProcess_ParallelSubQueriesKeepInputOrder(t *testing.T) {
	cfg := models.DefaultMultiIntentConfig()
	cfg.ParallelProcessing = true
	h := newHarness(t, Dependencies{Analyzer: analyzerWith(t, cfg, nil)})
	h.retriever.delay = 50 * time.Millisecond
	h.retriever.service[models.ServiceWeather] = []models.RetrievalResult{sunnyBaltimore()}

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore and turn off the lights"})
	require.NoError(t, err)

	require.Len(t, resp.SubResponses, 2)
	assert.Equal(t, "what's the weather in Baltimore", resp.SubResponses[0].Query)
	assert.Equal(t, models.CategoryWeather, resp.SubResponses[0].Category)
	assert.Equal(t, "turn off the lights", resp.SubResponses[1].Query)
	assert.Equal(t, models.CategoryControl, resp.SubResponses[1].Category)
	assert.Equal(t, "It's 72°F and sunny in Baltimore. Additionally, Turning off the lights.", resp.Answer)
	assert.Equal(t, models.StateFinalized, resp.State)
}

func TestProcess_SingleStepChainHonorsRequireAll(t *testing.T) {
	rules := []models.ChainRule{{
		Name:           "movie_time",
		Trigger:        models.MustPattern(`movie time`),
		IntentSequence: []models.Category{models.CategoryGeneralInfo},
		RequireAll:     true,
		Enabled:        true,
	}}
	h := newHarness(t, Dependencies{Analyzer: analyzerWith(t, models.DefaultMultiIntentConfig(), rules)})
	h.generator.err = errors.New("engine down")

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "movie time please"})
	require.NoError(t, err)

	require.Len(t, resp.SubResponses, 1)
	assert.Equal(t, "movie time please", resp.SubResponses[0].Query)
	assert.True(t, resp.SubResponses[0].Failed)
	assert.Contains(t, resp.Timings, "split")
	assert.True(t, resp.Unanswerable)
	assert.Equal(t, models.StateFailed, resp.State)
}

func TestProcess_ChainRuleRunsRoutine(t *testing.T) {
	h := newHarness(t, Dependencies{})
	h.generator.text = "Expect clear skies."

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "good night"})
	require.NoError(t, err)

	require.Len(t, resp.SubResponses, 3)
	assert.Equal(t, "turn off all the lights", resp.SubResponses[0].Query)
	assert.Equal(t, models.StateFinalized, resp.State)
	assert.Contains(t, resp.Answer, "Finally,")
}

func TestProcess_MultiIntentDisabledByFlag(t *testing.T) {
	h := newHarness(t, Dependencies{Flags: fakeFlags{flags: models.FeatureFlags{models.FlagMultiIntent: false}}})
	require.NoError(t, h.orch.Refresh(context.Background()))

	resp, err := h.orch.Process(context.Background(), models.Query{Text: "what's the weather in Baltimore and turn off the lights"})
	require.NoError(t, err)
	assert.Empty(t, resp.SubResponses)
}

func TestProcess_LoadsSessionHistory(t *testing.T) {
	history := &fakeHistory{turns: []models.Turn{
		{Role: "user", Text: "I'm heading to the stadium"},
		{Role: "assistant", Text: "Have fun at the game."},
	}}
	h := newHarness(t, Dependencies{History: history})

	_, err := h.orch.Process(context.Background(), models.Query{Text: "tell me something about quantum entanglement please", SessionID: "s9"})
	require.NoError(t, err)
	require.NotEmpty(t, h.generator.prompts)
	assert.Contains(t, h.generator.prompts[0], "user: I'm heading to the stadium")
}

func TestProcess_HistoryErrorIsIgnored(t *testing.T) {
	h := newHarness(t, Dependencies{History: &fakeHistory{err: errors.New("redis down")}})
	resp, err := h.orch.Process(context.Background(), models.Query{Text: "tell me something about quantum entanglement please", SessionID: "s9"})
	require.NoError(t, err)
	assert.False(t, resp.Unanswerable)
}

func TestProcess_EmptyQuery(t *testing.T) {
	h := newHarness(t, Dependencies{})
	_, err := h.orch.Process(context.Background(), models.Query{Text: "   "})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidQuery))
}

func TestConfirmation(t *testing.T) {
	tests := []struct {
		entities map[string]string
		want     string
	}{
		{map[string]string{"action": "on", "device": "lights", "room": "kitchen"}, "Turning on the kitchen lights."},
		{map[string]string{"temperature": "72"}, "Setting the thermostat to 72 degrees."},
		{map[string]string{"action": "dim", "device": "lights", "brightness": "40"}, "Dimming the lights to 40%."},
		{map[string]string{"action": "lock", "device": "door"}, "Locking the door."},
		{map[string]string{}, "Okay, updating the device."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confirmation(controlAction(tt.entities, "")))
	}
}
