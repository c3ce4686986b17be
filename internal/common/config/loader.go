package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	minProviderTimeoutMs = 5000
	maxProviderTimeoutMs = 30000
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml, expands ${ENV}
// placeholders and applies defaults.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills credentials that are conventionally provided through the environment.
func overrideEmptyConfig(cfg *Config) {
	envOverrides := []struct {
		target *string
		env    string
	}{
		{&cfg.ConfigService.APIKey, "CONFIG_SERVICE_API_KEY"},
		{&cfg.LLM.AlternateAPIKey, "LLM_ALTERNATE_API_KEY"},
		{&cfg.Retrieval.CustomSearch.APIKey, "WEB_SEARCH_API_KEY"},
		{&cfg.Retrieval.CustomSearch.EngineID, "WEB_SEARCH_ENGINE_ID"},
		{&cfg.Database.Postgres.User, "DB_USER"},
		{&cfg.Database.Postgres.Password, "DB_PASSWORD"},
		{&cfg.Database.Redis.Password, "REDIS_PASSWORD"},
	}
	for _, o := range envOverrides {
		if *o.target != "" {
			continue
		}
		if val := os.Getenv(o.env); val != "" {
			*o.target = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "query-orchestrator"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL != "" {
		cfg.Database.Elasticsearch.Addresses = []string{cfg.Database.Elasticsearch.URL}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 0.1
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	cs := &cfg.ConfigService
	if cs.TTL == 0 {
		cs.TTL = 60000
	}
	if cs.RedisTTL == 0 {
		cs.RedisTTL = cs.TTL * 5
	}
	if cs.InitTimeout == 0 {
		cs.InitTimeout = 5000
	}
	if cs.PollInterval == 0 {
		cs.PollInterval = 30000
	}
	if cs.RequestTimeout == 0 {
		cs.RequestTimeout = 3000
	}

	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "default"
	}
	if cfg.LLM.MetricWindow == 0 {
		cfg.LLM.MetricWindow = 1000
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 1
	}
	if cfg.LLM.AWSRegion == "" {
		cfg.LLM.AWSRegion = "us-east-1"
	}

	r := &cfg.Retrieval
	r.KnowledgeBaseTimeout = clampProviderTimeout(r.KnowledgeBaseTimeout, 5000)
	r.WebSearchTimeout = clampProviderTimeout(r.WebSearchTimeout, 10000)
	r.ServiceTimeout = clampProviderTimeout(r.ServiceTimeout, 15000)
	if r.KnowledgeIndex == "" {
		r.KnowledgeIndex = "knowledge"
	}
	if r.SimilarityThreshold == 0 {
		r.SimilarityThreshold = 0.85
	}
	if r.MinConfidence == 0 {
		r.MinConfidence = 0.3
	}
	if r.MaxResults == 0 {
		r.MaxResults = 8
	}

	if cfg.Session.MaxTurns == 0 {
		cfg.Session.MaxTurns = 10
	}
	if cfg.Session.KeyPrefix == "" {
		cfg.Session.KeyPrefix = "session:"
	}

	if cfg.Orchestrator.SynthesisModel == "" {
		cfg.Orchestrator.SynthesisModel = cfg.LLM.DefaultModel
	}
	if cfg.Orchestrator.UnableToAnswer == "" {
		cfg.Orchestrator.UnableToAnswer = "I'm sorry, I can't answer that right now. Please try again in a moment."
	}
	if cfg.Orchestrator.QueryTimeout == 0 {
		cfg.Orchestrator.QueryTimeout = 45000
	}
}

func clampProviderTimeout(ms, def int) int {
	if ms == 0 {
		ms = def
	}
	if ms < minProviderTimeoutMs {
		return minProviderTimeoutMs
	}
	if ms > maxProviderTimeoutMs {
		return maxProviderTimeoutMs
	}
	return ms
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}
	if cfg.LLM.PrimaryURL == "" {
		return fmt.Errorf("llm.primary_url is required")
	}
	if cfg.Database.Postgres.Enabled {
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database are required when postgres is enabled")
		}
	}
	if cfg.Database.Elasticsearch.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when elasticsearch is enabled")
	}
	if cfg.ConfigService.PostgresEnabled && !cfg.Database.Postgres.Enabled {
		return fmt.Errorf("config_service.postgres_enabled requires database.postgres.enabled")
	}
	if cfg.LLM.PersistMetrics && !cfg.Database.Postgres.Enabled {
		return fmt.Errorf("llm.persist_metrics requires database.postgres.enabled")
	}
	for kind := range cfg.Retrieval.Services {
		switch kind {
		case "weather", "sports", "airports":
		default:
			return fmt.Errorf("retrieval.services: unknown service kind %q", kind)
		}
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
