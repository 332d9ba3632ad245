package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/plb/internal/domain"
)

// loadConfig resolves the configuration. The tier picks the base defaults;
// the config file, PLB_* environment variables and bound flags override
// them. Nested keys map to env names with "_", e.g. PLB_ENGINE_MAXWORKERS.
func loadConfig(v *viper.Viper) (*domain.Config, error) {
	v.SetEnvPrefix("PLB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	switch tier := domain.DeploymentTier(strings.ToLower(v.GetString("tier"))); tier {
	case "", domain.TierCommunity:
	case domain.TierPro:
		base = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can reach it.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.readtimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", c.Server.WriteTimeout)

	v.SetDefault("engine.maxworkers", c.Engine.MaxWorkers)
	v.SetDefault("engine.maxcontractsperrecord", c.Engine.MaxContractsPerRecord)
	v.SetDefault("engine.evaluationtimeout", c.Engine.EvaluationTimeout)
	v.SetDefault("engine.outputprecision", c.Engine.OutputPrecision)
	v.SetDefault("engine.resultcachettl", c.Engine.ResultCacheTTL)
	v.SetDefault("engine.mappingfile", c.Engine.MappingFile)
	v.SetDefault("engine.rulesetdir", c.Engine.RulesetDir)
	v.SetDefault("engine.progressperiod", c.Engine.ProgressPeriod)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlitepath", c.Repository.SQLitePath)
	v.SetDefault("repository.postgreshost", c.Repository.PostgresHost)
	v.SetDefault("repository.postgresport", c.Repository.PostgresPort)
	v.SetDefault("repository.postgresuser", c.Repository.PostgresUser)
	v.SetDefault("repository.postgrespassword", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgresdb", c.Repository.PostgresDB)
	v.SetDefault("repository.postgressslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.localmaxsize", c.Cache.LocalMaxSize)
	v.SetDefault("cache.localttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redisaddr", c.Cache.RedisAddr)
	v.SetDefault("cache.redispassword", c.Cache.RedisPassword)
	v.SetDefault("cache.redisdb", c.Cache.RedisDB)
	v.SetDefault("cache.enabletwophase", c.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channelbuffersize", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.natstoken", c.EventBus.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", c.EventBus.NATSReconnectWait)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.servicename", c.Tracing.ServiceName)
}

// setupLogging installs the default slog logger.
func setupLogging(cfg domain.LoggingConfig) error {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "console":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
