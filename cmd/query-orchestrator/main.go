package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"query-orchestrator/internal/common/aws"
	"query-orchestrator/internal/common/camunda"
	"query-orchestrator/internal/common/config"
	"query-orchestrator/internal/common/database"
	commonhttp "query-orchestrator/internal/common/http"
	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/common/observability"
	"query-orchestrator/internal/configsvc"
	"query-orchestrator/internal/hallucination"
	"query-orchestrator/internal/intent"
	"query-orchestrator/internal/llm"
	"query-orchestrator/internal/multiintent"
	"query-orchestrator/internal/orchestrator"
	"query-orchestrator/internal/ragvalidation"
	"query-orchestrator/internal/retrieval"
	"query-orchestrator/internal/routing"
	"query-orchestrator/internal/session"

	ci "query-orchestrator/internal/workers/ai-conversation/classify-intent"
	oq "query-orchestrator/internal/workers/ai-conversation/orchestrate-query"
	qsd "query-orchestrator/internal/workers/ai-conversation/query-service-data"
	ws "query-orchestrator/internal/workers/ai-conversation/web-search"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("QUERY_ORCHESTRATOR_CONFIG"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	bootLog := logger.New("info", "console")

	cfg, err := loadConfig()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting query orchestrator...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	tracing, err := observability.NewTracing(cfg.Tracing, cfg.App.Name, cfg.App.Version, log)
	if err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
		tracing = nil
	}
	obs := observability.New(cfg.App.Name, tracing, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Zeebe ---
	var zeebe *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebe, err = camunda.NewClientWithConfig(camunda.ConfigFrom(cfg.Camunda))
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	if cfg.Database.Postgres.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		zapLog.Info("PostgreSQL connected successfully")
	}

	// --- Elasticsearch ---
	var kb retrieval.Searcher
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Warn("elasticsearch unavailable, knowledge base disabled", zap.Error(err))
		} else {
			kb = es
			zapLog.Info("Elasticsearch connected successfully")
		}
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Configuration service ---
	configService, fileSource := buildConfigService(cfg, pg, rdb, log)

	// --- Components ---
	patterns := intent.NewStore(configService, log)
	classifier := intent.NewClassifier(patterns)

	retrievalClient := commonhttp.NewClient(config.GetDuration(cfg.Retrieval.ServiceTimeout))
	registry := retrieval.BuildRegistry(cfg.Retrieval, retrievalClient, kb, log)
	for name, reason := range registry.Failures() {
		zapLog.Warn("retrieval provider unavailable", zap.String("provider", name), zap.String("reason", reason))
	}
	resolver := routing.NewResolver(configService, registry, log)
	engine := retrieval.NewEngine(registry, retrieval.OptionsFrom(cfg.Retrieval), log)

	structural, err := ragvalidation.NewValidator(log)
	if err != nil {
		zapLog.Fatal("structural validator failed", zap.Error(err))
	}

	router := buildLLMRouter(ctx, cfg, configService, pg, obs, log)
	semantic := hallucination.NewValidator(configService, router, cfg.Orchestrator.SynthesisModel, log)
	analyzer := multiintent.NewAnalyzer(configService, llm.NewSummarizer(router, cfg.Orchestrator.SynthesisModel), log)
	sessions := session.NewStore(rdb.Cmdable(), cfg.Session, log)

	orch := orchestrator.New(orchestrator.Dependencies{
		Classifier: classifier,
		Analyzer:   analyzer,
		Router:     resolver,
		Retriever:  engine,
		Structural: structural,
		Semantic:   semantic,
		Generator:  router,
		History:    sessions,
		Flags:      configService,
	}, orchestrator.Options{
		SynthesisModel:    cfg.Orchestrator.SynthesisModel,
		ValidationEnabled: cfg.Orchestrator.ValidationEnabled,
		UnableToAnswer:    cfg.Orchestrator.UnableToAnswer,
		QueryTimeout:      config.GetDuration(cfg.Orchestrator.QueryTimeout),
	}, obs, log)

	configService.Register(patterns)
	configService.Register(resolver)
	configService.Register(analyzer)
	configService.Register(semantic)
	configService.Register(router)
	configService.Register(orch)

	report := configService.Initialize(ctx, config.GetDuration(cfg.ConfigService.InitTimeout))
	zapLog.Info("configuration initialized",
		zap.Strings("loaded", report.Loaded),
		zap.Int("defaulted", len(report.Defaulted)),
		zap.Duration("duration", report.Duration),
		zap.Bool("timedOut", report.TimedOut),
	)

	go configService.Start(ctx, config.GetDuration(cfg.ConfigService.PollInterval))
	if fileSource != nil && cfg.ConfigService.WatchFile {
		go func() {
			if err := fileSource.Watch(ctx, func() { configService.Reload(ctx) }); err != nil {
				zapLog.Warn("config file watch stopped", zap.Error(err))
			}
		}()
	}

	// --- Workers ---
	var workers []*camunda.Worker
	start := func(taskType string, handler camunda.JobHandler) {
		wc := config.GetWorkerConfig(cfg, taskType)
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), taskType, wc.MaxJobsActive, handler, zapLog))
		zapLog.Info("worker started",
			zap.String("taskType", taskType),
			zap.Int("maxJobsActive", wc.MaxJobsActive),
			zap.Int("timeout", wc.Timeout),
		)
	}

	if config.IsWorkerEnabled(cfg, oq.TaskType) {
		wc := config.GetWorkerConfig(cfg, oq.TaskType)
		start(oq.TaskType, oq.NewHandler(oq.NewConfig(wc, cfg.Session.RecordTurns), orch, sessions, log))
	}
	if config.IsWorkerEnabled(cfg, ci.TaskType) {
		wc := config.GetWorkerConfig(cfg, ci.TaskType)
		start(ci.TaskType, ci.NewHandler(ci.NewConfig(wc), classifier, analyzer, resolver, log))
	}
	if config.IsWorkerEnabled(cfg, ws.TaskType) {
		wc := config.GetWorkerConfig(cfg, ws.TaskType)
		start(ws.TaskType, ws.NewHandler(ws.NewConfig(wc, cfg.Retrieval.MaxResults), engine, resolver, log))
	}
	if config.IsWorkerEnabled(cfg, qsd.TaskType) {
		wc := config.GetWorkerConfig(cfg, qsd.TaskType)
		start(qsd.TaskType, qsd.NewHandler(qsd.NewConfig(wc), engine, structural, resolver, log))
	}
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: newMux(configService, registry, router, &report),
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := router.Close(shutdownCtx); err != nil {
		zapLog.Warn("llm metric sink did not drain", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	obs.Shutdown(shutdownCtx)
	if tracing != nil {
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("Error flushing traces", zap.Error(err))
		}
	}

	zapLog.Info("Query orchestrator stopped")
}

// buildConfigService assembles the sources in priority order: remote service, PostgreSQL, local file.
func buildConfigService(cfg *config.Config, pg *database.PostgresClient, rdb *database.RedisClient, log logger.Logger) (*configsvc.Service, *configsvc.FileSource) {
	cs := cfg.ConfigService

	var sources []configsvc.Source
	if cs.BaseURL != "" {
		client := commonhttp.NewClient(config.GetDuration(cs.RequestTimeout))
		sources = append(sources, configsvc.NewHTTPSource(client, cs.BaseURL, cs.APIKey))
	}
	if cs.PostgresEnabled && pg != nil {
		sources = append(sources, configsvc.NewPostgresSource(pg.GetDB()))
	}
	var file *configsvc.FileSource
	if cs.FilePath != "" {
		file = configsvc.NewFileSource(cs.FilePath, log)
		sources = append(sources, file)
	}

	var l2 redis.Cmdable
	if cs.RedisEnabled {
		l2 = rdb.Cmdable()
	}

	return configsvc.NewService(configsvc.Options{
		Sources:  sources,
		Redis:    l2,
		TTL:      config.GetDuration(cs.TTL),
		RedisTTL: config.GetDuration(cs.RedisTTL),
	}, log), file
}

func buildLLMRouter(ctx context.Context, cfg *config.Config, source llm.BackendSource, pg *database.PostgresClient, obs *observability.Observability, log logger.Logger) *llm.Router {
	client := commonhttp.NewClient(2 * time.Minute).WithRetries(cfg.LLM.MaxRetries)

	var alternate llm.Engine
	if cfg.LLM.AlternateURL != "" {
		alternate = llm.NewCompletionsEngine(cfg.LLM.AlternateURL, cfg.LLM.AlternateAPIKey, client)
	}

	var sinks llm.MultiSink
	if cfg.LLM.MetricsSinkURL != "" {
		sinks = append(sinks, llm.NewHTTPSink(cfg.LLM.MetricsSinkURL, commonhttp.NewClient(5*time.Second)))
	}
	if cfg.LLM.PersistMetrics && pg != nil {
		sinks = append(sinks, llm.NewPostgresSink(pg.GetDB()))
	}
	if cfg.LLM.SNSTopicARN != "" {
		sns, err := aws.NewSNSClient(ctx, cfg.LLM.AWSRegion)
		if err != nil {
			log.Warn("sns metric sink disabled", map[string]interface{}{"error": err.Error()})
		} else {
			sinks = append(sinks, llm.NewSNSSink(sns, cfg.LLM.SNSTopicARN))
		}
	}

	var sink llm.Sink
	switch len(sinks) {
	case 0:
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}

	return llm.NewRouter(llm.RouterOptions{
		Primary:    llm.NewNativeEngine(cfg.LLM.PrimaryURL, client),
		Alternate:  alternate,
		Source:     source,
		WindowSize: cfg.LLM.MetricWindow,
		Sink:       sink,
		Obs:        obs,
	}, log)
}

func newMux(cs *configsvc.Service, registry *retrieval.Registry, router *llm.Router, report *configsvc.InitReport) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !cs.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/llm-metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, router.ReportMetrics())
	})
	mux.HandleFunc("/debug/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"unavailable": registry.Failures()})
	})
	mux.HandleFunc("/debug/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, report)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
