// Package common provides the shared types, interfaces, and errors for
// database connection adapters.
package common

import "strings"

// EngineType identifies a supported database engine.
type EngineType string

// Supported engines.
const (
	EnginePostgres   EngineType = "postgresql"
	EngineMySQL      EngineType = "mysql"
	EngineSQLite     EngineType = "sqlite"
	EngineMongoDB    EngineType = "mongodb"
	EngineRedis      EngineType = "redis"
	EngineOracle     EngineType = "oracle"
	EngineSQLServer  EngineType = "sqlserver"
	EngineClickHouse EngineType = "clickhouse"
	EngineInfluxDB   EngineType = "influxdb"
)

// Engines lists every supported engine tag in a stable order.
func Engines() []EngineType {
	return []EngineType{
		EnginePostgres,
		EngineMySQL,
		EngineSQLite,
		EngineMongoDB,
		EngineRedis,
		EngineOracle,
		EngineSQLServer,
		EngineClickHouse,
		EngineInfluxDB,
	}
}

// String returns the canonical engine tag.
func (e EngineType) String() string {
	return string(e)
}

// ParseEngine maps a user-supplied engine name to its canonical tag.
// Matching is case-insensitive and folds common synonyms (postgres, pg,
// mssql, mongo, influx, mariadb). Unknown names return
// UnsupportedEngineError.
func ParseEngine(s string) (EngineType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres", "pg", "pgsql":
		return EnginePostgres, nil
	case "mysql", "mariadb", "maria":
		return EngineMySQL, nil
	case "sqlite", "sqlite3":
		return EngineSQLite, nil
	case "mongodb", "mongo":
		return EngineMongoDB, nil
	case "redis":
		return EngineRedis, nil
	case "oracle", "oracledb":
		return EngineOracle, nil
	case "sqlserver", "mssql":
		return EngineSQLServer, nil
	case "clickhouse", "click":
		return EngineClickHouse, nil
	case "influxdb", "influx":
		return EngineInfluxDB, nil
	default:
		return "", &UnsupportedEngineError{Type: s}
	}
}

// DefaultPort returns the conventional port for the engine, or 0 when the
// engine has no network port (SQLite).
func (e EngineType) DefaultPort() int {
	switch e {
	case EnginePostgres:
		return 5432
	case EngineMySQL:
		return 3306
	case EngineMongoDB:
		return 27017
	case EngineRedis:
		return 6379
	case EngineOracle:
		return 1521
	case EngineSQLServer:
		return 1433
	case EngineClickHouse:
		return 9000
	case EngineInfluxDB:
		return 8086
	default:
		return 0
	}
}
