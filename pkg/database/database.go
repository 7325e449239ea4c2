// Package database constructs engine adapters. New is the single place
// where an engine tag is mapped to a concrete connection type; everything
// downstream works against the common.Connection interface.
package database

import (
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/clickhouse"
	"github.com/supporttools/GoDBVault/pkg/database/common"
	"github.com/supporttools/GoDBVault/pkg/database/influxdb"
	"github.com/supporttools/GoDBVault/pkg/database/mongodb"
	"github.com/supporttools/GoDBVault/pkg/database/mysql"
	"github.com/supporttools/GoDBVault/pkg/database/oracle"
	"github.com/supporttools/GoDBVault/pkg/database/postgres"
	"github.com/supporttools/GoDBVault/pkg/database/redis"
	"github.com/supporttools/GoDBVault/pkg/database/sqlite"
	"github.com/supporttools/GoDBVault/pkg/database/sqlserver"
)

// Option adjusts how adapters are constructed.
type Option func(*options)

type options struct {
	logger zerolog.Logger
	runner cmdrunner.Runner
}

// WithLogger routes adapter logging through the given logger. Without it,
// adapters stay silent.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRunner substitutes the subprocess runner used by engines that shell
// out to native dump tools.
func WithRunner(runner cmdrunner.Runner) Option {
	return func(o *options) { o.runner = runner }
}

// New builds the adapter for the configured engine. The engine tag is
// parsed with synonym folding, so cfg.Type may hold any accepted alias;
// unknown tags yield UnsupportedEngineError.
func New(cfg common.ConnectionConfig, opts ...Option) (common.Connection, error) {
	engine, err := common.ParseEngine(string(cfg.Type))
	if err != nil {
		return nil, err
	}
	cfg.Type = engine

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = cmdrunner.NewExecRunner(o.logger)
	}

	switch engine {
	case common.EnginePostgres:
		return postgres.New(cfg, o.runner, o.logger), nil
	case common.EngineMySQL:
		return mysql.New(cfg, o.runner, o.logger), nil
	case common.EngineSQLite:
		return sqlite.New(cfg, o.logger), nil
	case common.EngineMongoDB:
		return mongodb.New(cfg, o.runner, o.logger), nil
	case common.EngineRedis:
		return redis.New(cfg, o.logger), nil
	case common.EngineOracle:
		return oracle.New(cfg, o.runner, o.logger), nil
	case common.EngineSQLServer:
		return sqlserver.New(cfg, o.logger), nil
	case common.EngineClickHouse:
		return clickhouse.New(cfg, o.logger), nil
	case common.EngineInfluxDB:
		return influxdb.New(cfg, o.logger), nil
	}
	return nil, &common.UnsupportedEngineError{Type: string(cfg.Type)}
}
