package domain

import "time"

// Config holds the complete ClaimGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Reference  ReferenceConfig  `json:"reference"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	LLM        LLMConfig        `json:"llm"`
	Worker     WorkerConfig     `json:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ReferenceConfig locates the JSON rule tables.
type ReferenceConfig struct {
	RulesDir string `json:"rulesDir"` // holds demographic_rules.json and modifier_rules.json
}

// EnrichmentConfig controls the explanation enricher.
type EnrichmentConfig struct {
	Enabled       bool          `json:"enabled"`
	MinLength     int           `json:"minLength"` // explanations shorter than this are enriched
	Concurrency   int           `json:"concurrency"`
	IssueTimeout  time.Duration `json:"issueTimeout"`
	CacheTTL      time.Duration `json:"cacheTtl"`
	RatePerSecond float64       `json:"ratePerSecond"`
}

// LLMConfig holds settings for the text-generation service.
type LLMConfig struct {
	APIKey    string        `json:"-"`
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	MaxTokens int           `json:"maxTokens"`
	Timeout   time.Duration `json:"timeout"`
}

// WorkerConfig controls the async claim intake worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./claimguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Reference: ReferenceConfig{
			RulesDir: "./data",
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			MinLength:     50,
			Concurrency:   4,
			IssueTimeout:  15 * time.Second,
			CacheTTL:      24 * time.Hour,
			RatePerSecond: 5,
		},
		LLM: LLMConfig{
			Endpoint:  "https://api.anthropic.com/v1",
			Model:     "claude-3-5-haiku-20241022",
			MaxTokens: 300,
			Timeout:   20 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "claimguard",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "claimguard",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "claimguard-workers",
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
