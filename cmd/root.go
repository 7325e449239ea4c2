// Package cmd implements the godbvault command line interface. It is the
// composition root: commands wire the config, logger, stores and managers
// together and everything below stays a plain library.
package cmd

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/supporttools/GoDBVault/pkg/backup"
	"github.com/supporttools/GoDBVault/pkg/config"
	"github.com/supporttools/GoDBVault/pkg/connstore"
	"github.com/supporttools/GoDBVault/pkg/database"
	"github.com/supporttools/GoDBVault/pkg/database/common"
	"github.com/supporttools/GoDBVault/pkg/logging"
	"github.com/supporttools/GoDBVault/pkg/scheduler"
)

var rootCmd = &cobra.Command{
	Use:   "godbvault",
	Short: "GoDBVault backs up, restores and inspects databases",
	Long: `GoDBVault manages backups for PostgreSQL, MySQL, SQLite, MongoDB,
Redis, Oracle, SQL Server, ClickHouse and InfluxDB. Artifacts are shipped
to the local filesystem, S3 or Google Drive, optionally compressed and
encrypted, on demand or on a schedule.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP(
		"config", "c", "",
		"Path to the YAML config file (falls back to GODBVAULT_CONFIG)",
	)
	rootCmd.PersistentFlags().String(
		"log-level", "",
		"Log level: trace, debug, info, warn, error",
	)
	rootCmd.PersistentFlags().Bool(
		"console", false,
		"Human-readable log output instead of JSON",
	)
	rootCmd.PersistentFlags().String(
		"data-dir", "",
		"Directory holding the connection store and scheduled jobs",
	)
}

// app bundles everything a command needs. Built per invocation, never
// stored in a global.
type app struct {
	cfg     *config.AppConfig
	logger  zerolog.Logger
	conns   connstore.Store
	backups *backup.Manager
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if console, _ := cmd.Flags().GetBool("console"); console {
		cfg.Logging.Console = true
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	logger := logging.NewLogger(cfg.Logging)

	factory := func(connCfg common.ConnectionConfig) (common.Connection, error) {
		return database.New(connCfg, database.WithLogger(logger))
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		conns:   connstore.NewFileStore(cfg.ConnectionsPath()),
		backups: backup.NewManager(factory, logger),
	}, nil
}

// scheduleManager builds the scheduler on top of the app's stores.
func (a *app) scheduleManager() (*scheduler.Manager, error) {
	store := scheduler.NewStore(a.cfg.SchedulesPath())
	return scheduler.NewManager(store, a.conns, a.backups, a.logger)
}

// connection resolves one stored profile by id or name.
func (a *app) connection(key string) (common.ConnectionConfig, error) {
	configs, err := a.conns.Connections()
	if err != nil {
		return common.ConnectionConfig{}, err
	}
	cfg, ok := connstore.Find(configs, key)
	if !ok {
		return common.ConnectionConfig{}, fmt.Errorf("connection %q not found. Use 'godbvault connections list' to see stored profiles", key)
	}
	return cfg, nil
}
