package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Rainbow-0328/dianping/internal/config"
	"github.com/Rainbow-0328/dianping/internal/logging"
)

var (
	configPath string
	redisAddr  string
	pgDSN      string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dianping",
		Short: "Dianping shop cache and seckill service",
		Long:  "Serve cached shop reads and flash-sale voucher claims backed by Redis and Postgres",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.AddCommand(
		serveCmd(),
		warmShopCmd(),
		nextIDCmd(),
		seedVoucherCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves file, environment and flag settings in that order and
// configures logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}
	if logLevel != "" {
		cfg.Daemon.LogLevel = logLevel
	}

	logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)
	return cfg, nil
}
