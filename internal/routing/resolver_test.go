package routing

import (
	"context"
	"errors"
	"testing"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	table    map[models.Category]models.RoutingDecision
	tableErr error
	prios    map[models.Category][]string
	priosErr error
}

func (s stubSource) RoutingTable(ctx context.Context) (map[models.Category]models.RoutingDecision, error) {
	return s.table, s.tableErr
}

func (s stubSource) ProviderPriorities(ctx context.Context) (map[models.Category][]string, error) {
	return s.prios, s.priosErr
}

type availability map[string]bool

func (a availability) Available(name string) bool { return a[name] }

func TestResolve_DefaultTable(t *testing.T) {
	r := NewResolver(nil, nil, logger.NewTestLogger(t))

	tests := []struct {
		category  models.Category
		retrieval bool
		target    models.ServiceKind
		web       bool
		llm       bool
		priority  int
	}{
		{models.CategoryControl, false, "", false, false, 100},
		{models.CategoryWeather, true, models.ServiceWeather, false, false, 80},
		{models.CategorySports, true, models.ServiceSports, false, false, 80},
		{models.CategoryAirports, true, models.ServiceAirports, false, false, 80},
		{models.CategoryEmergency, false, "", true, true, 90},
		{models.CategoryTransit, false, "", true, true, 60},
		{models.CategoryGeneralInfo, false, "", true, true, 50},
		{models.CategoryUnknown, false, "", true, true, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			d := r.Resolve(tt.category)
			assert.Equal(t, tt.category, d.Category)
			assert.Equal(t, tt.retrieval, d.UseRetrieval)
			assert.Equal(t, tt.target, d.RetrievalTarget)
			assert.Equal(t, tt.web, d.UseWebSearch)
			assert.Equal(t, tt.llm, d.UseLLM)
			assert.Equal(t, tt.priority, d.Priority)
		})
	}
	assert.True(t, r.Resolve(models.CategoryControl).NoDataPath())
}

func TestRefresh_MergesOverDefaults(t *testing.T) {
	src := stubSource{table: map[models.Category]models.RoutingDecision{
		models.CategoryWeather: {Category: models.CategoryWeather, UseRetrieval: true, RetrievalTarget: models.ServiceWeather, UseLLM: true, Priority: 85},
	}}
	r := NewResolver(src, nil, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	assert.True(t, r.Resolve(models.CategoryWeather).UseLLM)
	assert.Equal(t, 85, r.Resolve(models.CategoryWeather).Priority)
	assert.True(t, r.Resolve(models.CategorySports).UseRetrieval)
}

func TestRefresh_UnavailableKeepsCurrent(t *testing.T) {
	r := NewResolver(stubSource{
		tableErr: errors.New("config down"),
		priosErr: errors.New("config down"),
	}, nil, logger.NewTestLogger(t))
	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, DefaultTable()[models.CategoryFood], r.Resolve(models.CategoryFood))
	assert.Equal(t, []string{models.ProviderCustomSearch, models.ProviderInstantAnswer}, r.Providers(models.CategoryFood))
}

func TestProviders(t *testing.T) {
	tests := []struct {
		name      string
		source    ConfigSource
		available Availability
		category  models.Category
		want      []string
	}{
		{
			name:     "general info defaults include knowledge base",
			category: models.CategoryGeneralInfo,
			want:     []string{models.ProviderKnowledgeBase, models.ProviderCustomSearch, models.ProviderInstantAnswer},
		},
		{
			name:      "unavailable provider skipped",
			available: availability{models.ProviderKnowledgeBase: true},
			category:  models.CategoryGeneralInfo,
			want:      []string{models.ProviderKnowledgeBase, models.ProviderInstantAnswer},
		},
		{
			name:      "last resort kept even when reported unavailable",
			available: availability{},
			category:  models.CategoryEvents,
			want:      []string{models.ProviderInstantAnswer},
		},
		{
			name: "configured priorities with last resort moved to the end",
			source: stubSource{prios: map[models.Category][]string{
				models.CategoryFood: {models.ProviderInstantAnswer, models.ProviderCustomSearch, models.ProviderCustomSearch},
			}},
			category: models.CategoryFood,
			want:     []string{models.ProviderCustomSearch, models.ProviderInstantAnswer},
		},
		{
			name: "decision providers win over priorities",
			source: stubSource{
				table: map[models.Category]models.RoutingDecision{
					models.CategoryEvents: {Category: models.CategoryEvents, UseWebSearch: true, WebProviders: []string{models.ProviderKnowledgeBase}},
				},
				prios: map[models.Category][]string{models.CategoryEvents: {models.ProviderCustomSearch}},
			},
			category: models.CategoryEvents,
			want:     []string{models.ProviderKnowledgeBase, models.ProviderInstantAnswer},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.source, tt.available, logger.NewTestLogger(t))
			require.NoError(t, r.Refresh(context.Background()))
			assert.Equal(t, tt.want, r.Providers(tt.category))
		})
	}
}
