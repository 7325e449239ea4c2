package clickhouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

func mockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	c := New(common.ConnectionConfig{
		Name:     "warehouse",
		Type:     common.EngineClickHouse,
		Database: "analytics",
	}, zerolog.Nop())
	c.db = db
	c.connected = true
	return c, mock
}

func TestFormatValue(t *testing.T) {
	nilInt := (*int64)(nil)
	cases := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{nilInt, "NULL"},
		{int64(42), "42"},
		{float64(1.5), "1.5"},
		{true, "true"},
		{false, "false"},
		{"plain", "'plain'"},
		{[]byte("bytes"), "'bytes'"},
		{"O'Brien", `'O\'Brien'`},
		{"a\\b", `'a\\b'`},
		{"line\nbreak", `'line\nbreak'`},
		{time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), "'2026-01-02 03:04:05'"},
		{[]int64{1, 2}, "[1,2]"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatValue(tc.in), "%#v", tc.in)
	}
}

func TestCreateBackupWritesScript(t *testing.T) {
	c, mock := mockConnection(t)

	mock.ExpectQuery("SELECT name FROM system.tables").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("events"))
	mock.ExpectQuery("FROM system.columns").
		WillReturnRows(sqlmock.NewRows([]string{"table", "name", "type"}).
			AddRow("events", "id", "UInt64").
			AddRow("events", "note", "String"))
	mock.ExpectQuery("SHOW CREATE TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"statement"}).
			AddRow("CREATE TABLE events (id UInt64, note String) ENGINE = MergeTree ORDER BY id"))
	mock.ExpectQuery(`SELECT \* FROM`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "note"}).
			AddRow(int64(1), "first").
			AddRow(int64(2), "O'Brien"))

	path := filepath.Join(t.TempDir(), "analytics.sql")
	result, err := c.CreateBackup(context.Background(), path)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	script := string(content)

	assert.Contains(t, script, "CREATE TABLE events")
	assert.Contains(t, script, "INSERT INTO `events` VALUES (1,'first'),(2,'O\\'Brien');")
	assert.Equal(t, int64(len(content)), result.Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreBackupReplaysStatements(t *testing.T) {
	script := "CREATE TABLE events (\n" +
		"    id UInt64\n" +
		")\n" +
		"ENGINE = MergeTree\n" +
		"ORDER BY id;\n" +
		"INSERT INTO `events` VALUES (1),(2);\n"
	path := filepath.Join(t.TempDir(), "analytics.sql")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	c, mock := mockConnection(t)
	mock.ExpectExec("CREATE TABLE events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, c.RestoreBackup(context.Background(), path))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRestoreBackupReportsFailingStatement(t *testing.T) {
	script := "CREATE TABLE events (id UInt64) ENGINE = MergeTree ORDER BY id;\n"
	path := filepath.Join(t.TempDir(), "analytics.sql")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	c, mock := mockConnection(t)
	mock.ExpectExec("CREATE TABLE events").WillReturnError(assert.AnError)

	err := c.RestoreBackup(context.Background(), path)
	require.Error(t, err)

	var backupErr *common.BackupExecutionError
	require.ErrorAs(t, err, &backupErr)
	assert.Contains(t, backupErr.Error(), "statement 1 failed")
}

func TestExecuteQuerySafeModeAllowsExists(t *testing.T) {
	c, mock := mockConnection(t)

	mock.ExpectQuery("EXISTS TABLE events").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(int64(1)))

	result, err := c.ExecuteQuery(context.Background(), "EXISTS TABLE events", true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)

	_, err = c.ExecuteQuery(context.Background(), "OPTIMIZE TABLE events", true)
	var unsafe *common.UnsafeQueryError
	assert.ErrorAs(t, err, &unsafe)
	assert.NoError(t, mock.ExpectationsWereMet())
}
