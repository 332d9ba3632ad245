package domain

import "time"

// Config holds the complete PLB configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backends are used
	Tier DeploymentTier `json:"tier"`

	// Rule engine settings
	Engine EngineConfig `json:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EngineConfig controls evaluation.
type EngineConfig struct {
	MaxWorkers            int           `json:"maxWorkers"`
	MaxContractsPerRecord int           `json:"maxContractsPerRecord"`
	EvaluationTimeout     time.Duration `json:"evaluationTimeout"`
	// OutputPrecision is the number of decimals used when rendering
	// amounts in summaries. Stored values keep 4 decimals.
	OutputPrecision int32         `json:"outputPrecision"`
	ResultCacheTTL  time.Duration `json:"resultCacheTtl"`
	// MappingFile overrides the built-in field mapping table.
	MappingFile string `json:"mappingFile"`
	// RulesetDir is scanned for *.json ruleset documents at startup.
	RulesetDir string `json:"rulesetDir"`
	// ProgressPeriod is the Go time layout for progress buckets.
	ProgressPeriod string `json:"progressPeriod"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
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

// DeploymentTier selects the backends a deployment runs on.
type DeploymentTier string

const (
	// TierCommunity runs on SQLite, the in-memory cache and channels.
	TierCommunity DeploymentTier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro DeploymentTier = "pro"
)

// DefaultConfig returns a configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			MaxWorkers:            4,
			MaxContractsPerRecord: 100,
			EvaluationTimeout:     300 * time.Second,
			OutputPrecision:       2,
			ResultCacheTTL:        10 * time.Minute,
			RulesetDir:            "./rulesets",
			ProgressPeriod:        "2006-01",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./plb.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "plb",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Engine.MaxWorkers = 16
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "plb",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
