package retrieval

import (
	"context"
	"errors"
	"time"

	"query-orchestrator/internal/common/config"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/metrics"
	"query-orchestrator/internal/models"
)

// Options configure the engine's per-class timeouts and fusion.
type Options struct {
	Timeouts map[models.ProviderClass]time.Duration
	Fusion   FusionOptions
}

// OptionsFrom builds engine options from process configuration.
func OptionsFrom(cfg config.RetrievalConfig) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Options{
		Timeouts: map[models.ProviderClass]time.Duration{
			models.ClassKnowledgeBase: ms(cfg.KnowledgeBaseTimeout),
			models.ClassWebSearch:     ms(cfg.WebSearchTimeout),
			models.ClassService:       ms(cfg.ServiceTimeout),
		},
		Fusion: FusionOptions{
			SimilarityThreshold: cfg.SimilarityThreshold,
			MinConfidence:       cfg.MinConfidence,
			MaxResults:          cfg.MaxResults,
		},
	}
}

const fallbackTimeout = 10 * time.Second

// Engine executes routing decisions against the provider registry.
type Engine struct {
	registry *Registry
	opts     Options
	log      logger.Logger
}

func NewEngine(registry *Registry, opts Options, log logger.Logger) *Engine {
	return &Engine{registry: registry, opts: opts, log: logger.Component(log, "retrieval")}
}

func (e *Engine) timeout(class models.ProviderClass) time.Duration {
	if d := e.opts.Timeouts[class]; d > 0 {
		return d
	}
	return fallbackTimeout
}

type outcome struct {
	provider string
	results  []models.RetrievalResult
	err      error
}

// Retrieve queries the named providers concurrently and fuses whatever arrives before each
// provider's class timeout. Unknown names are skipped.
func (e *Engine) Retrieve(ctx context.Context, req models.RetrievalRequest, providers []string) []models.RetrievalResult {
	ps := make([]Provider, 0, len(providers))
	for _, name := range providers {
		if p, ok := e.registry.Get(name); ok {
			ps = append(ps, p)
		}
	}
	return Fuse(e.fanOut(ctx, req, ps), e.opts.Fusion)
}

// RetrieveService serves a retrieval decision. Requests naming one team, airport or flight go
// to the endpoints in reliability order; everything else fans out across all endpoints.
func (e *Engine) RetrieveService(ctx context.Context, req models.RetrievalRequest) []models.RetrievalResult {
	if IsAuthorityLookup(req) {
		if r, ok := e.Authority(ctx, req); ok {
			return []models.RetrievalResult{r}
		}
		return nil
	}
	return Fuse(e.fanOut(ctx, req, e.registry.Services(req.Kind)), e.opts.Fusion)
}

// IsAuthorityLookup reports a request about one specific team, airport or flight.
func IsAuthorityLookup(req models.RetrievalRequest) bool {
	switch req.Kind {
	case models.ServiceSports:
		return req.Entities["team"] != ""
	case models.ServiceAirports:
		return req.Entities["airport_code"] != "" || req.Entities["flight_number"] != ""
	}
	return false
}

// Authority tries the endpoints of req.Kind one at a time; the first result with non-empty
// normalized data wins.
func (e *Engine) Authority(ctx context.Context, req models.RetrievalRequest) (models.RetrievalResult, bool) {
	for _, p := range e.registry.Services(req.Kind) {
		if ctx.Err() != nil {
			break
		}
		results, err := e.call(ctx, p, req)
		if err != nil {
			continue
		}
		for _, r := range results {
			if HasData(req.Kind, r.Normalized) {
				return r, true
			}
		}
	}
	return models.RetrievalResult{}, false
}

func (e *Engine) call(ctx context.Context, p Provider, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	pctx, cancel := context.WithTimeout(ctx, e.timeout(p.Class()))
	defer cancel()

	results, err := p.Retrieve(pctx, req)
	status := "ok"
	switch {
	case err != nil && errors.Is(pctx.Err(), context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	case len(results) == 0:
		status = "empty"
	}
	metrics.RetrievalProviderCalls.WithLabelValues(p.Name(), status).Inc()

	if err != nil {
		e.log.Warn("provider call failed", map[string]interface{}{
			"provider": p.Name(),
			"class":    p.Class(),
			"status":   status,
			"error":    err.Error(),
		})
	}
	return results, err
}

func (e *Engine) fanOut(ctx context.Context, req models.RetrievalRequest, ps []Provider) []models.RetrievalResult {
	if len(ps) == 0 {
		return nil
	}

	ch := make(chan outcome, len(ps))
	var longest time.Duration
	for _, p := range ps {
		if d := e.timeout(p.Class()); d > longest {
			longest = d
		}
		go func(p Provider) {
			results, err := e.call(ctx, p, req)
			ch <- outcome{provider: p.Name(), results: results, err: err}
		}(p)
	}

	deadline := time.NewTimer(longest)
	defer deadline.Stop()

	var all []models.RetrievalResult
	for pending := len(ps); pending > 0; pending-- {
		select {
		case o := <-ch:
			if o.err == nil {
				all = append(all, o.results...)
			}
		case <-deadline.C:
			e.log.Warn("retrieval deadline reached, discarding slow providers", map[string]interface{}{"pending": pending})
			return all
		case <-ctx.Done():
			return all
		}
	}
	e.log.Debug("retrieval fan-out completed", map[string]interface{}{
		"providers": len(ps),
		"results":   len(all),
	})
	return all
}
