package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/riskledger/config"
	"github.com/rustyeddy/riskledger/internal/app"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "riskledger",
	Short: "Paper-trading ledger with a risk gate for multiple accounts",
	Long: `Riskledger books simulated trades for several isolated accounts.

Every order passes a chain of risk checks before it may post:
  - Daily drawdown circuit breaker
  - Market crash and liquidity window guards
  - Correlation, sector and position size limits
  - Forecast deterioration exits
Positions carry ATR trailing stops and are sized with a capped Kelly fraction.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv(envFile)
	},
}

var (
	cfgFile  string
	envFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults plus RISKLEDGER_* env when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(cfg.Log.Level, cfg.Log.Encoding)
}

// openApp loads config and wires the app. The caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}
