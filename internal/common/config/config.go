package config

import "fmt"

// Config is the process configuration. Domain configuration (patterns, routing tables, rules)
// comes from the configuration service at runtime, not from here.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Server        ServerConfig            `mapstructure:"server"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
	ConfigService ConfigServiceConfig     `mapstructure:"config_service"`
	LLM           LLMConfig               `mapstructure:"llm"`
	Retrieval     RetrievalConfig         `mapstructure:"retrieval"`
	Session       SessionConfig           `mapstructure:"session"`
	Orchestrator  OrchestratorConfig      `mapstructure:"orchestrator"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every job worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// ConfigServiceConfig locates the runtime configuration sources.
type ConfigServiceConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	FilePath        string `mapstructure:"file_path"`
	WatchFile       bool   `mapstructure:"watch_file"`
	PostgresEnabled bool   `mapstructure:"postgres_enabled"`
	RedisEnabled    bool   `mapstructure:"redis_enabled"`
	TTL             int    `mapstructure:"ttl"`           // milliseconds
	RedisTTL        int    `mapstructure:"redis_ttl"`     // milliseconds
	InitTimeout     int    `mapstructure:"init_timeout"`  // milliseconds
	PollInterval    int    `mapstructure:"poll_interval"` // milliseconds
	RequestTimeout  int    `mapstructure:"request_timeout"`
}

type LLMConfig struct {
	PrimaryURL      string `mapstructure:"primary_url"`
	AlternateURL    string `mapstructure:"alternate_url"`
	AlternateAPIKey string `mapstructure:"alternate_api_key"`
	DefaultModel    string `mapstructure:"default_model"`
	MetricWindow    int    `mapstructure:"metric_window"`
	MaxRetries      int    `mapstructure:"max_retries"`
	MetricsSinkURL  string `mapstructure:"metrics_sink_url"`
	SNSTopicARN     string `mapstructure:"sns_topic_arn"`
	AWSRegion       string `mapstructure:"aws_region"`
	PersistMetrics  bool   `mapstructure:"persist_metrics"`
}

// ServiceEndpoint is one retrieval service backend; order in the list is reliability order.
type ServiceEndpoint struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type RetrievalConfig struct {
	KnowledgeBaseTimeout int                          `mapstructure:"knowledge_base_timeout"` // milliseconds
	WebSearchTimeout     int                          `mapstructure:"web_search_timeout"`     // milliseconds
	ServiceTimeout       int                          `mapstructure:"service_timeout"`        // milliseconds
	Services             map[string][]ServiceEndpoint `mapstructure:"services"`
	CustomSearch         CustomSearchConfig           `mapstructure:"custom_search"`
	InstantAnswerURL     string                       `mapstructure:"instant_answer_url"`
	KnowledgeIndex       string                       `mapstructure:"knowledge_index"`
	SimilarityThreshold  float64                      `mapstructure:"similarity_threshold"`
	MinConfidence        float64                      `mapstructure:"min_confidence"`
	MaxResults           int                          `mapstructure:"max_results"`
	RateLimits           map[string]RateLimitConfig   `mapstructure:"rate_limits"`
}

type CustomSearchConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	EngineID string `mapstructure:"engine_id"`
}

type SessionConfig struct {
	MaxTurns    int    `mapstructure:"max_turns"`
	KeyPrefix   string `mapstructure:"key_prefix"`
	RecordTurns bool   `mapstructure:"record_turns"`
}

type OrchestratorConfig struct {
	SynthesisModel    string `mapstructure:"synthesis_model"`
	ValidationEnabled bool   `mapstructure:"validation_enabled"`
	UnableToAnswer    string `mapstructure:"unable_to_answer"`
	QueryTimeout      int    `mapstructure:"query_timeout"` // milliseconds
}
