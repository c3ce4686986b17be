package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "query-orchestrator/internal/common/errors"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	kind  models.BackendKind
	text  string
	err   error
	calls atomic.Int32

	mu   sync.Mutex
	last EngineRequest
}

func (f *fakeEngine) Kind() models.BackendKind { return f.kind }

func (f *fakeEngine) Complete(ctx context.Context, req EngineRequest) (EngineResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.err != nil {
		return EngineResult{}, f.err
	}
	return EngineResult{Text: f.text, TokenCount: 3}, nil
}

type staticBackends struct {
	backends map[string]models.BackendConfig
	err      error
	calls    atomic.Int32
}

func (s *staticBackends) Backends(ctx context.Context) (map[string]models.BackendConfig, error) {
	s.calls.Add(1)
	return s.backends, s.err
}

type recordingSink struct {
	mu      sync.Mutex
	metrics []models.GenerationMetric
	err     error
}

func (s *recordingSink) Send(ctx context.Context, m models.GenerationMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics)
}

func TestResolve_UnknownModelUsesDefaultDescriptor(t *testing.T) {
	src := &staticBackends{backends: map[string]models.BackendConfig{}}
	r := NewRouter(RouterOptions{Source: src}, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	cfg := r.Resolve("ghost-model")

	assert.Equal(t, "ghost-model", cfg.Model)
	assert.Equal(t, models.BackendPrimary, cfg.Kind)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.Equal(t, 0.7, cfg.TemperatureDefault)
}

func TestResolve_SourceErrorKeepsCurrentDescriptors(t *testing.T) {
	src := &staticBackends{backends: map[string]models.BackendConfig{
		"llama3": {Model: "llama3", Kind: models.BackendAlternate, MaxTokens: 512},
	}}
	r := NewRouter(RouterOptions{Source: src}, logger.NewTestLogger(t))
	assert.Equal(t, models.DefaultBackendConfig("llama3"), r.Resolve("llama3"), "defaults before the first refresh")

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, models.BackendAlternate, r.Resolve("llama3").Kind)

	src.err = errors.New("config down")
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, models.BackendAlternate, r.Resolve("llama3").Kind)
}

func TestGenerate_NeverReadsConfigOnRequestPath(t *testing.T) {
	src := &staticBackends{backends: map[string]models.BackendConfig{
		"llama3": {Model: "llama3", Kind: models.BackendPrimary, MaxTokens: 512},
	}}
	primary := &fakeEngine{kind: models.BackendPrimary, text: "ok"}
	r := NewRouter(RouterOptions{Primary: primary, Source: src}, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	for i := 0; i < 3; i++ {
		_, err := r.Generate(context.Background(), "llama3", "p", GenerateOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 512, primary.last.MaxTokens)
}

func TestGenerate_AutoFallsBackToPrimary(t *testing.T) {
	alternate := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer alternate.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body nativeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mixtral", body.Model)
		assert.False(t, body.Stream)
		assert.Equal(t, 256, body.Options.NumPredict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": " It is sunny. ", "eval_count": 4})
	}))
	defer primary.Close()

	client := commonhttp.NewClient(2 * time.Second)
	src := &staticBackends{backends: map[string]models.BackendConfig{
		"mixtral": {Model: "mixtral", Kind: models.BackendAuto, MaxTokens: 256, TemperatureDefault: 0.2, TimeoutMs: 2000},
	}}
	sink := &recordingSink{}
	r := NewRouter(RouterOptions{
		Primary:   NewNativeEngine(primary.URL, client),
		Alternate: NewCompletionsEngine(alternate.URL, "secret", client),
		Source:    src,
		Sink:      sink,
	}, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	gen, err := r.Generate(context.Background(), "mixtral", "weather?", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.BackendPrimary, gen.BackendUsed)
	assert.Equal(t, "It is sunny.", gen.Text)
	assert.Equal(t, 4, gen.TokenCount)

	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 2, sink.count(), "both attempts are recorded")

	report := r.ReportMetrics()
	assert.Equal(t, 2, report.Overall.Requests)
	assert.Equal(t, 1, report.Overall.Failures)
	assert.Equal(t, 1, report.ByBackend["alternate"].Failures)
	assert.Equal(t, 0, report.ByBackend["primary"].Failures)
	assert.Equal(t, 2, report.ByModel["mixtral"].Requests)
}

func TestGenerate_AutoBothFail(t *testing.T) {
	r := NewRouter(RouterOptions{
		Primary:   &fakeEngine{kind: models.BackendPrimary, err: errors.New("primary down")},
		Alternate: &fakeEngine{kind: models.BackendAlternate, err: errors.New("alternate down")},
		Source: &staticBackends{backends: map[string]models.BackendConfig{
			"m": {Model: "m", Kind: models.BackendAuto, TimeoutMs: 1000},
		}},
	}, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	_, err := r.Generate(context.Background(), "m", "p", GenerateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavailable))
}

func TestGenerate_ExplicitKindDoesNotFallBack(t *testing.T) {
	primary := &fakeEngine{kind: models.BackendPrimary, text: "ok"}
	alternate := &fakeEngine{kind: models.BackendAlternate, err: errors.New("boom")}
	r := NewRouter(RouterOptions{
		Primary:   primary,
		Alternate: alternate,
		Source: &staticBackends{backends: map[string]models.BackendConfig{
			"alt-only": {Model: "alt-only", Kind: models.BackendAlternate, TimeoutMs: 1000},
		}},
	}, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	_, err := r.Generate(context.Background(), "alt-only", "p", GenerateOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendFailure))
	assert.Equal(t, int32(0), primary.calls.Load())
}

func TestGenerate_OptionsOverrideDescriptor(t *testing.T) {
	primary := &fakeEngine{kind: models.BackendPrimary, text: "ok"}
	r := NewRouter(RouterOptions{Primary: primary}, logger.NewTestLogger(t))

	_, err := r.Generate(context.Background(), "any", "p", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.7, primary.last.Temperature)
	assert.Equal(t, 2048, primary.last.MaxTokens)

	low := 0.1
	_, err = r.Generate(context.Background(), "any", "p", GenerateOptions{Temperature: &low, MaxTokens: 64, Endpoint: "http://validator:9000"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, primary.last.Temperature)
	assert.Equal(t, 64, primary.last.MaxTokens)
	assert.Equal(t, "http://validator:9000", primary.last.Endpoint)

	zero := 0.0
	_, err = r.Generate(context.Background(), "any", "p", GenerateOptions{Temperature: &zero})
	require.NoError(t, err)
	assert.Zero(t, primary.last.Temperature, "an explicit zero temperature is not replaced by the default")
}

func TestGenerate_SinkFailureIsNotSurfaced(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	r := NewRouter(RouterOptions{
		Primary: &fakeEngine{kind: models.BackendPrimary, text: "ok"},
		Sink:    sink,
	}, logger.NewTestLogger(t))

	gen, err := r.Generate(context.Background(), "m", "p", GenerateOptions{Tags: models.MetricTags{SessionID: "s1"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", gen.Text)

	require.NoError(t, r.Close(context.Background()))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "s1", sink.metrics[0].SessionID)

	// closed routers stop forwarding
	_, err = r.Generate(context.Background(), "m", "p", GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
}

func TestWindow_KeepsMostRecent(t *testing.T) {
	w := newWindow(3)
	for i := 0; i < 5; i++ {
		w.add(models.GenerationMetric{TokenCount: i})
	}
	snap := w.snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{snap[0].TokenCount, snap[1].TokenCount, snap[2].TokenCount})
}

func TestSummarize(t *testing.T) {
	report := summarize([]models.GenerationMetric{
		{Model: "a", Backend: models.BackendPrimary, Latency: 100 * time.Millisecond, TokensPerSec: 10, Success: true},
		{Model: "a", Backend: models.BackendPrimary, Latency: 300 * time.Millisecond, TokensPerSec: 30, Success: true},
		{Model: "b", Backend: models.BackendAlternate, Latency: 200 * time.Millisecond, Success: false},
	})

	assert.Equal(t, 3, report.WindowSize)
	assert.Equal(t, 3, report.Overall.Requests)
	assert.InDelta(t, 200, report.Overall.AvgLatencyMs, 0.001)
	assert.InDelta(t, 200, report.ByModel["a"].AvgLatencyMs, 0.001)
	assert.InDelta(t, 20, report.ByBackend["primary"].AvgTokensPerSec, 0.001)
	assert.Equal(t, 1, report.ByBackend["alternate"].Failures)

	empty := summarize(nil)
	assert.Equal(t, Stats{}, empty.Overall)
}

func TestSummarizer(t *testing.T) {
	primary := &fakeEngine{kind: models.BackendPrimary, text: "Sunny, and the lights are off."}
	r := NewRouter(RouterOptions{Primary: primary}, logger.NewTestLogger(t))

	out, err := NewSummarizer(r, "llama3").Summarize(context.Background(), []string{"It's sunny.", "Lights off."})
	require.NoError(t, err)
	assert.Equal(t, "Sunny, and the lights are off.", out)
	assert.Contains(t, primary.last.Prompt, "1. It's sunny.")
	assert.Contains(t, primary.last.Prompt, "2. Lights off.")
}
