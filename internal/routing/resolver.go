package routing

import (
	"context"
	"sync/atomic"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

// ConfigSource supplies the routing table and the per-category web provider order.
type ConfigSource interface {
	RoutingTable(ctx context.Context) (map[models.Category]models.RoutingDecision, error)
	ProviderPriorities(ctx context.Context) (map[models.Category][]string, error)
}

// Availability reports whether a provider initialized successfully.
type Availability interface {
	Available(name string) bool
}

// LastResort is the provider that needs no credential and always ends a provider list.
const LastResort = models.ProviderInstantAnswer

func retrieval(c models.Category, kind models.ServiceKind) models.RoutingDecision {
	return models.RoutingDecision{Category: c, UseRetrieval: true, RetrievalTarget: kind, Priority: 80}
}

func webAndLLM(c models.Category, priority int) models.RoutingDecision {
	return models.RoutingDecision{Category: c, UseWebSearch: true, UseLLM: true, Priority: priority}
}

// DefaultTable is used for every category the configuration does not cover.
func DefaultTable() map[models.Category]models.RoutingDecision {
	return map[models.Category]models.RoutingDecision{
		models.CategoryControl:     {Category: models.CategoryControl, Priority: 100},
		models.CategoryWeather:     retrieval(models.CategoryWeather, models.ServiceWeather),
		models.CategorySports:      retrieval(models.CategorySports, models.ServiceSports),
		models.CategoryAirports:    retrieval(models.CategoryAirports, models.ServiceAirports),
		models.CategoryEmergency:   webAndLLM(models.CategoryEmergency, 90),
		models.CategoryTransit:     webAndLLM(models.CategoryTransit, 60),
		models.CategoryFood:        webAndLLM(models.CategoryFood, 60),
		models.CategoryEvents:      webAndLLM(models.CategoryEvents, 60),
		models.CategoryLocation:    webAndLLM(models.CategoryLocation, 60),
		models.CategoryGeneralInfo: webAndLLM(models.CategoryGeneralInfo, 50),
		models.CategoryUnknown:     webAndLLM(models.CategoryUnknown, 0),
	}
}

// DefaultProviders returns the built-in web provider order for a category.
func DefaultProviders(c models.Category) []string {
	if c == models.CategoryGeneralInfo {
		return []string{models.ProviderKnowledgeBase, models.ProviderCustomSearch, models.ProviderInstantAnswer}
	}
	return []string{models.ProviderCustomSearch, models.ProviderInstantAnswer}
}

type tables struct {
	decisions  map[models.Category]models.RoutingDecision
	priorities map[models.Category][]string
}

// Resolver maps categories to routing decisions and ordered provider lists.
type Resolver struct {
	source    ConfigSource
	available Availability
	log       logger.Logger
	current   atomic.Pointer[tables]
}

// NewResolver starts on the built-in tables. source and available may be nil.
func NewResolver(source ConfigSource, available Availability, log logger.Logger) *Resolver {
	r := &Resolver{source: source, available: available, log: logger.Component(log, "routing")}
	r.current.Store(&tables{decisions: DefaultTable(), priorities: map[models.Category][]string{}})
	return r
}

// Refresh merges configured decisions over the defaults. A part that cannot be loaded keeps its
// current value.
func (r *Resolver) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	cur := r.current.Load()
	next := &tables{decisions: cur.decisions, priorities: cur.priorities}

	if table, err := r.source.RoutingTable(ctx); err != nil {
		r.log.Warn("routing table unavailable, keeping current", map[string]interface{}{"error": err.Error()})
	} else {
		merged := DefaultTable()
		for c, d := range table {
			merged[c] = d
		}
		next.decisions = merged
	}
	if prios, err := r.source.ProviderPriorities(ctx); err != nil {
		r.log.Warn("provider priorities unavailable, keeping current", map[string]interface{}{"error": err.Error()})
	} else {
		next.priorities = prios
	}

	r.current.Store(next)
	return nil
}

// Resolve returns the routing decision for category; unknown categories route like unknown.
func (r *Resolver) Resolve(category models.Category) models.RoutingDecision {
	decisions := r.current.Load().decisions
	if d, ok := decisions[category]; ok {
		return d
	}
	d := decisions[models.CategoryUnknown]
	d.Category = category
	return d
}

// Providers returns the web providers to query for category, in order. Providers that failed to
// initialize are skipped and the last resort provider always comes last.
func (r *Resolver) Providers(category models.Category) []string {
	t := r.current.Load()
	names := t.decisions[category].WebProviders
	if len(names) == 0 {
		names = t.priorities[category]
	}
	if len(names) == 0 {
		names = DefaultProviders(category)
	}

	out := make([]string, 0, len(names)+1)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == LastResort || seen[name] {
			continue
		}
		seen[name] = true
		if r.available != nil && !r.available.Available(name) {
			r.log.Debug("skipping unavailable provider", map[string]interface{}{
				"provider": name,
				"category": category,
			})
			continue
		}
		out = append(out, name)
	}
	return append(out, LastResort)
}
