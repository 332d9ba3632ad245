package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/plb/internal/api"
	"github.com/opensource-finance/plb/internal/bus"
	"github.com/opensource-finance/plb/internal/cache"
	"github.com/opensource-finance/plb/internal/domain"
	"github.com/opensource-finance/plb/internal/fieldmap"
	"github.com/opensource-finance/plb/internal/metrics"
	"github.com/opensource-finance/plb/internal/progress"
	"github.com/opensource-finance/plb/internal/repository"
	"github.com/opensource-finance/plb/internal/rules"
	"github.com/opensource-finance/plb/internal/worker"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the record worker",
		RunE:  runServe,
	}

	cmd.Flags().String("host", "0.0.0.0", "listen host")
	cmd.Flags().Int("port", 8080, "listen port")
	cmd.Flags().String("rulesets", "./rulesets", "directory of ruleset documents loaded at startup")
	cmd.Flags().String("mapping", "", "field mapping file (YAML or JSON)")
	cmd.Flags().String("db", "./plb.db", "SQLite database path (community tier)")
	cmd.Flags().StringSlice("tenants", nil, "tenants the worker consumes records for (default: all)")
	cmd.Flags().Bool("worker", true, "consume records from the event bus")

	_ = conf.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = conf.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = conf.BindPFlag("engine.rulesetdir", cmd.Flags().Lookup("rulesets"))
	_ = conf.BindPFlag("engine.mappingfile", cmd.Flags().Lookup("mapping"))
	_ = conf.BindPFlag("repository.sqlitepath", cmd.Flags().Lookup("db"))
	_ = conf.BindPFlag("worker.tenants", cmd.Flags().Lookup("tenants"))
	_ = conf.BindPFlag("worker.enabled", cmd.Flags().Lookup("worker"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := appConfig

	slog.Info("starting plb",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"engine_version", domain.EngineVersion,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New(nil)
	engine, err := newEngine(cfg.Engine, rules.WithObserver(m))
	if err != nil {
		return err
	}
	tracker := progress.NewTracker(cacheImpl, engine, cfg.Engine.ProgressPeriod)

	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:  engine,
		Repo:    repo,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Tracker: tracker,
		Metrics: m,
		Config:  cfg.Engine,
		Version: Version,
	}, nil)

	// Start with whatever loads; rulesets can be fixed and reloaded via the API.
	n, err := srv.Handler().Reload(ctx)
	if err != nil {
		slog.Error("failed to load rulesets", "error", err)
	}
	slog.Info("rule engine initialized", "contracts", n, "contract_set", engine.Version())

	var recordWorker *worker.Worker
	if conf.GetBool("worker.enabled") {
		recordWorker = worker.NewWorker(busImpl, engine,
			worker.WithRepository(repo),
			worker.WithProgress(tracker),
		)
		tenantIDs := conf.GetStringSlice("worker.tenants")
		if err := recordWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		slog.Info("record worker started", "tenants", tenantIDs)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("plb is ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	if recordWorker != nil {
		if err := recordWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("plb shutdown complete")
	return nil
}

// newEngine builds the rule engine with the configured field mapping.
func newEngine(cfg domain.EngineConfig, opts ...rules.Option) (*rules.Engine, error) {
	var mapper *fieldmap.Mapper
	if cfg.MappingFile != "" {
		m, err := fieldmap.Load(cfg.MappingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load field mapping: %w", err)
		}
		mapper = m
		slog.Info("field mapping loaded", "file", cfg.MappingFile, "fields", len(m.Fields()))
	}

	engine, err := rules.NewEngine(cfg, mapper, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	return engine, nil
}
