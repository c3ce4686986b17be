// Package llm resolves model names to inference backends, runs generations with fallback for
// "auto" backends and keeps a rolling window of generation metrics.
package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "query-orchestrator/internal/common/errors"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/common/observability"
	"query-orchestrator/internal/models"
)

const sinkTimeout = 5 * time.Second

// GenerateOptions tune one call. Zero values fall back to the backend descriptor; a nil
// Temperature does too, so an explicit 0 is kept.
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
	Endpoint    string
	Tags        models.MetricTags
}

// Generation is the result of a successful call.
type Generation struct {
	Text        string
	Model       string
	BackendUsed models.BackendKind
	TokenCount  int
	Latency     time.Duration
}

// RouterOptions wires a Router. Alternate, Source, Sink and Obs may be nil.
type RouterOptions struct {
	Primary    Engine
	Alternate  Engine
	Source     BackendSource
	WindowSize int
	Sink       Sink
	Obs        *observability.Observability
}

type Router struct {
	engines  map[models.BackendKind]Engine
	backends *backendTable
	window   *window
	sink    Sink
	obs     *observability.Observability
	log     logger.Logger

	forwards sync.WaitGroup
	closed   atomic.Bool
}

func NewRouter(opts RouterOptions, log logger.Logger) *Router {
	log = logger.Component(log, "llm-router")
	engines := map[models.BackendKind]Engine{}
	if opts.Primary != nil {
		engines[models.BackendPrimary] = opts.Primary
	}
	if opts.Alternate != nil {
		engines[models.BackendAlternate] = opts.Alternate
	}
	return &Router{
		engines:  engines,
		backends: newBackendTable(opts.Source, log),
		window:   newWindow(opts.WindowSize),
		sink:     opts.Sink,
		obs:      opts.Obs,
		log:      log,
	}
}

// Resolve returns the backend descriptor for model, or the default primary descriptor.
func (r *Router) Resolve(model string) models.BackendConfig {
	return r.backends.resolve(model)
}

// Refresh reloads backend descriptors from the source.
func (r *Router) Refresh(ctx context.Context) error {
	return r.backends.refresh(ctx)
}

// Generate runs prompt against model's backend. "auto" backends try the alternate engine and
// fall back to the primary one; explicit kinds fail with BACKEND_FAILURE.
func (r *Router) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (Generation, error) {
	cfg := r.Resolve(model)

	req := EngineRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: cfg.TemperatureDefault,
		MaxTokens:   opts.MaxTokens,
		Endpoint:    opts.Endpoint,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if req.Endpoint == "" {
		req.Endpoint = cfg.Endpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cfg.Timeout()
	}

	if cfg.Kind != models.BackendAuto {
		gen, err := r.call(ctx, cfg.Kind, req, timeout, opts.Tags)
		if err != nil {
			return Generation{}, apperrors.NewBackendFailureError(string(cfg.Kind), model, err)
		}
		return gen, nil
	}

	gen, altErr := r.call(ctx, models.BackendAlternate, req, timeout, opts.Tags)
	if altErr == nil {
		return gen, nil
	}
	r.log.Warn("alternate engine failed, retrying on primary", map[string]interface{}{
		"model": model,
		"error": altErr.Error(),
	})
	// the alternate's endpoint override does not apply to the primary engine
	req.Endpoint = ""
	gen, err := r.call(ctx, models.BackendPrimary, req, timeout, opts.Tags)
	if err != nil {
		return Generation{}, apperrors.NewServiceUnavailableError("llm", errors.Join(altErr, err))
	}
	return gen, nil
}

func (r *Router) call(ctx context.Context, kind models.BackendKind, req EngineRequest, timeout time.Duration, tags models.MetricTags) (Generation, error) {
	engine, ok := r.engines[kind]
	if !ok {
		return Generation{}, errors.New("no " + string(kind) + " engine configured")
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := engine.Complete(cctx, req)
	latency := time.Since(start)

	m := models.GenerationMetric{
		Timestamp:  start.UTC(),
		Model:      req.Model,
		Backend:    kind,
		Latency:    latency,
		Success:    err == nil,
		MetricTags: tags,
	}
	if err == nil {
		m.TokenCount = res.TokenCount
		if secs := latency.Seconds(); secs > 0 {
			m.TokensPerSec = float64(res.TokenCount) / secs
		}
	}
	r.record(ctx, m)

	if err != nil {
		return Generation{}, err
	}
	return Generation{
		Text:        strings.TrimSpace(res.Text),
		Model:       req.Model,
		BackendUsed: kind,
		TokenCount:  res.TokenCount,
		Latency:     latency,
	}, nil
}

func (r *Router) record(ctx context.Context, m models.GenerationMetric) {
	r.window.add(m)
	metrics.LLMGenerationDuration.WithLabelValues(m.Model, string(m.Backend)).Observe(m.Latency.Seconds())
	metrics.LLMGenerationTokens.WithLabelValues(m.Model, string(m.Backend)).Add(float64(m.TokenCount))
	r.obs.RecordGeneration(ctx, m.Model, string(m.Backend), m.Success, m.Latency, m.TokenCount)
	r.forward(m)
}

// forward hands m to the sink in the background; failures are logged only.
func (r *Router) forward(m models.GenerationMetric) {
	if r.sink == nil || r.closed.Load() {
		return
	}
	r.forwards.Add(1)
	go func() {
		defer r.forwards.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := r.sink.Send(ctx, m); err != nil {
			r.log.Warn("failed to forward generation metric", map[string]interface{}{
				"model": m.Model,
				"error": err.Error(),
			})
		}
	}()
}

// ReportMetrics aggregates the rolling window overall, per model and per backend.
func (r *Router) ReportMetrics() Report {
	return summarize(r.window.snapshot())
}

// Close stops forwarding and waits for in-flight forwards or ctx.
func (r *Router) Close(ctx context.Context) error {
	r.closed.Store(true)
	done := make(chan struct{})
	go func() {
		r.forwards.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
