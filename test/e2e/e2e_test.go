package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"query-orchestrator/internal/common/camunda"
	"query-orchestrator/internal/common/config"
	"query-orchestrator/internal/common/database"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/configsvc"
	"query-orchestrator/internal/intent"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/models"
	"query-orchestrator/internal/multiintent"
	"query-orchestrator/internal/orchestrator"
	"query-orchestrator/internal/ragvalidation"
	"query-orchestrator/internal/retrieval"
	"query-orchestrator/internal/routing"
	"query-orchestrator/internal/session"

	ci "query-orchestrator/internal/workers/ai-conversation/classify-intent"
	oq "query-orchestrator/internal/workers/ai-conversation/orchestrate-query"
)

// The suite runs against live services (docker compose) and is skipped unless E2E=1.
func TestMain(m *testing.M) {
	if os.Getenv("E2E") != "1" {
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type stack struct {
	cfg      *config.Config
	rdb      *database.RedisClient
	sessions *session.Store
	classify *ci.Handler
	orch     *orchestrator.Orchestrator
}

func TestFullE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	require.NoError(t, err)

	assertAllServicesConnectivity(t, ctx, cfg)
	s := buildStack(t, ctx, cfg)

	t.Run("classify-intent", func(t *testing.T) { testClassifyIntent(t, s) })
	t.Run("orchestrate-query", func(t *testing.T) { testOrchestrateQuery(t, ctx, s) })
	t.Run("session history", func(t *testing.T) { testSessionHistory(t, ctx, s) })
}

func assertAllServicesConnectivity(t *testing.T, ctx context.Context, cfg *config.Config) {
	t.Helper()

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err, "redis client creation failed")
	require.NoError(t, rdb.Ping(ctx), "redis ping failed")
	rdb.Close()

	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		require.NoError(t, err, "elasticsearch client creation failed")
		assert.NoError(t, es.Ping(ctx), "elasticsearch ping failed")
	}

	if cfg.Database.Postgres.Enabled {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		require.NoError(t, err, "postgres connection failed")
		assert.NoError(t, pg.Ping(ctx), "postgres ping failed")
		pg.Close()
	}

	zeebe, err := camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
	require.NoError(t, err, "zeebe client creation failed")
	assert.NoError(t, zeebe.HealthCheck(ctx), "zeebe topology request failed")
	zeebe.Close()
}

func buildStack(t *testing.T, ctx context.Context, cfg *config.Config) *stack {
	t.Helper()
	log := logger.NewTestLogger(t)

	rdb, err := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	var sources []configsvc.Source
	if cfg.ConfigService.FilePath != "" {
		sources = append(sources, configsvc.NewFileSource(cfg.ConfigService.FilePath, log))
	}
	svc := configsvc.NewService(configsvc.Options{Sources: sources}, log)

	var kb retrieval.Searcher
	if cfg.Database.Elasticsearch.Enabled {
		es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		require.NoError(t, err)
		kb = es
	}

	store := intent.NewStore(svc, log)
	classifier := intent.NewClassifier(store)
	registry := retrieval.BuildRegistry(cfg.Retrieval, commonhttp.NewClient(15*time.Second), kb, log)
	resolver := routing.NewResolver(svc, registry, log)
	engine := retrieval.NewEngine(registry, retrieval.OptionsFrom(cfg.Retrieval), log)
	structural, err := ragvalidation.NewValidator(log)
	require.NoError(t, err)

	client := commonhttp.NewClient(2 * time.Minute)
	router := llm.NewRouter(llm.RouterOptions{
		Primary:    llm.NewNativeEngine(cfg.LLM.PrimaryURL, client),
		Source:     svc,
		WindowSize: 100,
	}, log)
	t.Cleanup(func() { router.Close(context.Background()) })

	analyzer := multiintent.NewAnalyzer(svc, llm.NewSummarizer(router, cfg.Orchestrator.SynthesisModel), log)
	sessions := session.NewStore(rdb.Cmdable(), cfg.Session, log)

	orch := orchestrator.New(orchestrator.Dependencies{
		Classifier: classifier,
		Analyzer:   analyzer,
		Router:     resolver,
		Retriever:  engine,
		Structural: structural,
		Generator:  router,
		History:    sessions,
		Flags:      svc,
	}, orchestrator.Options{
		SynthesisModel: cfg.Orchestrator.SynthesisModel,
		QueryTimeout:   config.GetDuration(cfg.Orchestrator.QueryTimeout),
	}, nil, log)

	for _, r := range []configsvc.Refresher{store, resolver, analyzer, router, orch} {
		svc.Register(r)
	}
	svc.Initialize(ctx, 5*time.Second)

	return &stack{
		cfg:      cfg,
		rdb:      rdb,
		sessions: sessions,
		classify: ci.NewHandler(ci.NewConfig(config.WorkerConfig{}), classifier, analyzer, resolver, log),
		orch:     orch,
	}
}

func testClassifyIntent(t *testing.T, s *stack) {
	out, err := s.classify.Execute(&ci.Input{Query: "turn on the kitchen lights and then what's the weather"})
	require.NoError(t, err)
	assert.True(t, out.HasMultiple)
	assert.Len(t, out.Parts, 2)
	assert.Len(t, out.Classification.SubClassifications, 2)
}

func testOrchestrateQuery(t *testing.T, ctx context.Context, s *stack) {
	h := oq.NewHandler(oq.NewConfig(config.WorkerConfig{}, true), s.orch, s.sessions, logger.NewTestLogger(t))

	out, err := h.Execute(ctx, &oq.Input{Query: "who wrote pride and prejudice", SessionID: "e2e-session"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Answer)
	assert.NotEmpty(t, out.QueryID)
	assert.Contains(t, []models.State{models.StateFinalized, models.StateFailed}, out.State)
}

func testSessionHistory(t *testing.T, ctx context.Context, s *stack) {
	sessionID := "e2e-history"
	defer s.rdb.Cmdable().Del(ctx, s.cfg.Session.KeyPrefix+sessionID+":turns")

	require.NoError(t, s.sessions.Append(ctx, sessionID,
		models.Turn{Role: "user", Text: "what's the weather"},
		models.Turn{Role: "assistant", Text: "It's sunny."},
	))
	turns, err := s.sessions.Recent(ctx, sessionID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
}
