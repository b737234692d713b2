// Package config loads ClaimGuard configuration from an optional file and
// CLAIMGUARD_* environment variables, layered over the tier defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, so "server.port"
// is read from CLAIMGUARD_SERVER_PORT.
const EnvPrefix = "CLAIMGUARD"

// Load reads configuration. path may be empty, in which case only the
// environment and tier defaults apply. The tier (CLAIMGUARD_TIER or "tier"
// in the file) selects DefaultConfig or ProConfig as the base.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// Short aliases kept for deployments that predate the nested keys.
	_ = v.BindEnv("repository.sqlitePath", EnvPrefix+"_DB_PATH", EnvPrefix+"_REPOSITORY_SQLITEPATH")
	_ = v.BindEnv("llm.apiKey", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("debug", EnvPrefix+"_DEBUG")

	base := domain.DefaultConfig()
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case "", domain.TierCommunity:
	case domain.TierPro:
		base = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier: %q", tier)
	}
	setDefaults(v, base)

	cfg := &domain.Config{
		Tier: base.Tier,
		Server: domain.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.readTimeout"),
			WriteTimeout: v.GetInt("server.writeTimeout"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           v.GetString("repository.driver"),
			SQLitePath:       v.GetString("repository.sqlitePath"),
			PostgresHost:     v.GetString("repository.postgresHost"),
			PostgresPort:     v.GetInt("repository.postgresPort"),
			PostgresUser:     v.GetString("repository.postgresUser"),
			PostgresPassword: v.GetString("repository.postgresPassword"),
			PostgresDB:       v.GetString("repository.postgresDB"),
			PostgresSSLMode:  v.GetString("repository.postgresSSLMode"),
			MaxOpenConns:     v.GetInt("repository.maxOpenConns"),
			MaxIdleConns:     v.GetInt("repository.maxIdleConns"),
			ConnMaxLifetime:  v.GetDuration("repository.connMaxLifetime"),
		},
		Cache: domain.CacheConfig{
			Type:           v.GetString("cache.type"),
			LocalMaxSize:   v.GetInt("cache.localMaxSize"),
			LocalTTL:       v.GetDuration("cache.localTTL"),
			RedisAddr:      v.GetString("cache.redisAddr"),
			RedisPassword:  v.GetString("cache.redisPassword"),
			RedisDB:        v.GetInt("cache.redisDB"),
			EnableTwoPhase: v.GetBool("cache.enableTwoPhase"),
		},
		EventBus: domain.EventBusConfig{
			Type:              v.GetString("eventBus.type"),
			ChannelBufferSize: v.GetInt("eventBus.channelBufferSize"),
			NATSUrl:           v.GetString("eventBus.natsUrl"),
			NATSToken:         v.GetString("eventBus.natsToken"),
			NATSMaxReconnects: v.GetInt("eventBus.natsMaxReconnects"),
			NATSReconnectWait: v.GetInt("eventBus.natsReconnectWait"),
			NATSQueueGroup:    v.GetString("eventBus.natsQueueGroup"),
		},
		Reference: domain.ReferenceConfig{
			RulesDir: v.GetString("reference.rulesDir"),
		},
		Enrichment: domain.EnrichmentConfig{
			Enabled:       v.GetBool("enrichment.enabled"),
			MinLength:     v.GetInt("enrichment.minLength"),
			Concurrency:   v.GetInt("enrichment.concurrency"),
			IssueTimeout:  v.GetDuration("enrichment.issueTimeout"),
			CacheTTL:      v.GetDuration("enrichment.cacheTtl"),
			RatePerSecond: v.GetFloat64("enrichment.ratePerSecond"),
		},
		LLM: domain.LLMConfig{
			APIKey:    v.GetString("llm.apiKey"),
			Endpoint:  v.GetString("llm.endpoint"),
			Model:     v.GetString("llm.model"),
			MaxTokens: v.GetInt("llm.maxTokens"),
			Timeout:   v.GetDuration("llm.timeout"),
		},
		Worker: domain.WorkerConfig{
			Enabled: v.GetBool("worker.enabled"),
		},
		Logging: domain.LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Tracing: domain.TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			ServiceName: v.GetString("tracing.serviceName"),
		},
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values Load cannot coerce.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Logging.Format)
	}
	if cfg.Enrichment.MinLength < 0 {
		return fmt.Errorf("enrichment.minLength must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.readTimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", c.Server.WriteTimeout)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlitePath", c.Repository.SQLitePath)
	v.SetDefault("repository.postgresHost", c.Repository.PostgresHost)
	v.SetDefault("repository.postgresPort", c.Repository.PostgresPort)
	v.SetDefault("repository.postgresUser", c.Repository.PostgresUser)
	v.SetDefault("repository.postgresPassword", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgresDB", c.Repository.PostgresDB)
	v.SetDefault("repository.postgresSSLMode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxOpenConns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.maxIdleConns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.connMaxLifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.localMaxSize", c.Cache.LocalMaxSize)
	v.SetDefault("cache.localTTL", c.Cache.LocalTTL)
	v.SetDefault("cache.redisAddr", c.Cache.RedisAddr)
	v.SetDefault("cache.redisPassword", c.Cache.RedisPassword)
	v.SetDefault("cache.redisDB", c.Cache.RedisDB)
	v.SetDefault("cache.enableTwoPhase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventBus.type", c.EventBus.Type)
	v.SetDefault("eventBus.channelBufferSize", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventBus.natsUrl", c.EventBus.NATSUrl)
	v.SetDefault("eventBus.natsToken", c.EventBus.NATSToken)
	v.SetDefault("eventBus.natsMaxReconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventBus.natsReconnectWait", c.EventBus.NATSReconnectWait)
	v.SetDefault("eventBus.natsQueueGroup", c.EventBus.NATSQueueGroup)

	v.SetDefault("reference.rulesDir", c.Reference.RulesDir)

	v.SetDefault("enrichment.enabled", c.Enrichment.Enabled)
	v.SetDefault("enrichment.minLength", c.Enrichment.MinLength)
	v.SetDefault("enrichment.concurrency", c.Enrichment.Concurrency)
	v.SetDefault("enrichment.issueTimeout", c.Enrichment.IssueTimeout)
	v.SetDefault("enrichment.cacheTtl", c.Enrichment.CacheTTL)
	v.SetDefault("enrichment.ratePerSecond", c.Enrichment.RatePerSecond)

	v.SetDefault("llm.endpoint", c.LLM.Endpoint)
	v.SetDefault("llm.model", c.LLM.Model)
	v.SetDefault("llm.maxTokens", c.LLM.MaxTokens)
	v.SetDefault("llm.timeout", c.LLM.Timeout)

	v.SetDefault("worker.enabled", c.Worker.Enabled)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.serviceName", c.Tracing.ServiceName)
}
