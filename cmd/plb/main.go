// PLB - Airline incentive contract evaluation engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opensource-finance/plb/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	conf    = viper.New()

	// appConfig is resolved once per command in PersistentPreRunE.
	appConfig *domain.Config

	rootCmd = &cobra.Command{
		Use:   "plb",
		Short: "Airline incentive contract evaluation engine",
		Long: `plb evaluates flown and sold coupons against productivity-linked bonus
contracts: sector eligibility, trigger and payout criteria, tiered payouts
and addon overrides.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./plb.yaml)")
	rootCmd.PersistentFlags().String("tier", string(domain.TierCommunity), "deployment tier (community, pro)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	_ = conf.BindPFlag("tier", rootCmd.PersistentFlags().Lookup("tier"))
	_ = conf.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = conf.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(formulaCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		conf.SetConfigFile(cfgFile)
	} else {
		conf.AddConfigPath(".")
		conf.SetConfigName("plb")
		conf.SetConfigType("yaml")
	}

	if err := conf.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg, err := loadConfig(conf)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	appConfig = cfg
	return nil
}
