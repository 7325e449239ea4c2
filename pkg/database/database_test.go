package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

func TestNewResolvesEngineSynonyms(t *testing.T) {
	tests := []struct {
		tag  string
		want common.EngineType
	}{
		{"postgresql", common.EnginePostgres},
		{"postgres", common.EnginePostgres},
		{"pg", common.EnginePostgres},
		{"PgSQL", common.EnginePostgres},
		{"mysql", common.EngineMySQL},
		{"MariaDB", common.EngineMySQL},
		{"sqlite3", common.EngineSQLite},
		{"mongo", common.EngineMongoDB},
		{"MongoDB", common.EngineMongoDB},
		{"redis", common.EngineRedis},
		{"oracledb", common.EngineOracle},
		{"mssql", common.EngineSQLServer},
		{"click", common.EngineClickHouse},
		{"influx", common.EngineInfluxDB},
	}
	for _, tc := range tests {
		t.Run(tc.tag, func(t *testing.T) {
			conn, err := New(common.ConnectionConfig{Name: "conn", Type: common.EngineType(tc.tag)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, conn.Engine())
			assert.Equal(t, tc.want, conn.Config().Type, "factory should normalize the tag")
		})
	}
}

func TestNewUnknownEngine(t *testing.T) {
	_, err := New(common.ConnectionConfig{Type: "cassandra"})
	require.Error(t, err)

	var unsupported *common.UnsupportedEngineError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "cassandra", unsupported.Type)
}

func TestNewCoversEveryEngine(t *testing.T) {
	for _, engine := range common.Engines() {
		conn, err := New(common.ConnectionConfig{Name: "conn", Type: engine})
		require.NoError(t, err, "engine %s", engine)
		assert.Equal(t, engine, conn.Engine())
	}
}
