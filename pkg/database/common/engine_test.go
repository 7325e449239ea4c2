package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngine(t *testing.T) {
	tests := []struct {
		input string
		want  EngineType
	}{
		{"postgresql", EnginePostgres},
		{"postgres", EnginePostgres},
		{"PG", EnginePostgres},
		{"pgsql", EnginePostgres},
		{"mysql", EngineMySQL},
		{"MariaDB", EngineMySQL},
		{"sqlite", EngineSQLite},
		{"sqlite3", EngineSQLite},
		{"mongodb", EngineMongoDB},
		{"Mongo", EngineMongoDB},
		{"redis", EngineRedis},
		{"oracle", EngineOracle},
		{"oracledb", EngineOracle},
		{"sqlserver", EngineSQLServer},
		{"MSSQL", EngineSQLServer},
		{"clickhouse", EngineClickHouse},
		{"influxdb", EngineInfluxDB},
		{"influx", EngineInfluxDB},
		{"  MySQL  ", EngineMySQL},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseEngine(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseEngineUnknown(t *testing.T) {
	for _, input := range []string{"", "db2", "cassandra", "postgresql2"} {
		_, err := ParseEngine(input)
		require.Error(t, err, "input %q", input)

		var unsupported *UnsupportedEngineError
		assert.True(t, errors.As(err, &unsupported), "want UnsupportedEngineError for %q, got %v", input, err)
	}
}

func TestDefaultPorts(t *testing.T) {
	assert.Equal(t, 5432, EnginePostgres.DefaultPort())
	assert.Equal(t, 3306, EngineMySQL.DefaultPort())
	assert.Equal(t, 27017, EngineMongoDB.DefaultPort())
	assert.Equal(t, 6379, EngineRedis.DefaultPort())
	assert.Equal(t, 1521, EngineOracle.DefaultPort())
	assert.Equal(t, 1433, EngineSQLServer.DefaultPort())
	assert.Equal(t, 9000, EngineClickHouse.DefaultPort())
	assert.Equal(t, 8086, EngineInfluxDB.DefaultPort())
	assert.Equal(t, 0, EngineSQLite.DefaultPort())
}

func TestConnectionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectionConfig
		wantErr bool
	}{
		{
			name: "postgres with host and database",
			cfg:  ConnectionConfig{Name: "pg", Type: EnginePostgres, Host: "db1", Database: "app"},
		},
		{
			name: "postgres missing database",
			cfg:  ConnectionConfig{Name: "pg", Type: EnginePostgres, Host: "db1"},
			wantErr: true,
		},
		{
			name: "connection string overrides discrete fields",
			cfg:  ConnectionConfig{Name: "pg", Type: EnginePostgres, ConnectionString: "postgres://u:p@db1/app"},
		},
		{
			name: "sqlite needs only a file path",
			cfg:  ConnectionConfig{Name: "local", Type: EngineSQLite, Database: "/tmp/app.db"},
		},
		{
			name:    "sqlite without path",
			cfg:     ConnectionConfig{Name: "local", Type: EngineSQLite},
			wantErr: true,
		},
		{
			name: "redis without database",
			cfg:  ConnectionConfig{Name: "cache", Type: EngineRedis, Host: "cache1"},
		},
		{
			name:    "unknown engine",
			cfg:     ConnectionConfig{Name: "x", Type: "foondb", Host: "h", Database: "d"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffectivePort(t *testing.T) {
	cfg := ConnectionConfig{Type: EngineMySQL, Host: "db"}
	assert.Equal(t, 3306, cfg.EffectivePort())

	cfg.Port = 13306
	assert.Equal(t, 13306, cfg.EffectivePort())
	assert.Equal(t, "db:13306", cfg.Addr())
}
