package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"query-orchestrator/internal/common/config"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"

	"golang.org/x/time/rate"
)

// Provider is one retrieval or web search backend.
type Provider interface {
	Name() string
	Class() models.ProviderClass
	Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error)
}

// Registry holds the providers built at startup and the ones that failed to initialize.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	services  map[models.ServiceKind][]Provider
	failed    map[string]string
	log       logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		services:  make(map[models.ServiceKind][]Provider),
		failed:    make(map[string]string),
		log:       logger.Component(log, "retrieval-registry"),
	}
}

// Register adds a web or knowledge provider addressed by name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	delete(r.failed, p.Name())
}

// RegisterService appends p to the reliability-ordered endpoints of kind.
func (r *Registry) RegisterService(kind models.ServiceKind, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[kind] = append(r.services[kind], p)
}

// MarkFailed records a provider that could not be initialized.
func (r *Registry) MarkFailed(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[name] = err.Error()
	delete(r.providers, name)
	r.log.Warn("provider unavailable", map[string]interface{}{
		"provider": name,
		"error":    err.Error(),
	})
}

// Available reports whether name is registered and initialized.
func (r *Registry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Services returns the endpoints for kind in reliability order.
func (r *Registry) Services(kind models.ServiceKind) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Provider(nil), r.services[kind]...)
}

// Failures returns provider name to initialization error.
func (r *Registry) Failures() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.failed))
	for k, v := range r.failed {
		out[k] = v
	}
	return out
}

// Names lists registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type limited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with a token bucket; a non-positive rps leaves p unlimited.
func WithRateLimit(p Provider, cfg config.RateLimitConfig) Provider {
	if cfg.RPS <= 0 {
		return p
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &limited{Provider: p, limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst)}
}

func (l *limited) Retrieve(ctx context.Context, req models.RetrievalRequest) ([]models.RetrievalResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limited: %w", l.Name(), err)
	}
	return l.Provider.Retrieve(ctx, req)
}

// BuildRegistry constructs every configured provider. Providers missing a credential or a
// backing store are recorded as failed so routing can skip them.
func BuildRegistry(cfg config.RetrievalConfig, client *commonhttp.Client, kb Searcher, log logger.Logger) *Registry {
	reg := NewRegistry(log)
	limit := func(p Provider) Provider { return WithRateLimit(p, cfg.RateLimits[p.Name()]) }

	for _, kind := range models.AllServiceKinds {
		endpoints := cfg.Services[string(kind)]
		for i, ep := range endpoints {
			p, err := NewServiceProvider(kind, ep, len(endpoints)-i, client)
			if err != nil {
				reg.MarkFailed(fmt.Sprintf("%s/%s", kind, ep.Name), err)
				continue
			}
			reg.RegisterService(kind, limit(p))
		}
	}

	if p, err := NewCustomSearchProvider(cfg.CustomSearch, cfg.MaxResults, client); err != nil {
		reg.MarkFailed(models.ProviderCustomSearch, err)
	} else {
		reg.Register(limit(p))
	}

	if p, err := NewKnowledgeBaseProvider(kb, cfg.KnowledgeIndex, cfg.MaxResults); err != nil {
		reg.MarkFailed(models.ProviderKnowledgeBase, err)
	} else {
		reg.Register(limit(p))
	}

	reg.Register(limit(NewInstantAnswerProvider(cfg.InstantAnswerURL, cfg.MaxResults, client)))
	return reg
}
