package mysql

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

func mockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	c := New(common.ConnectionConfig{
		Name:     "orders-db",
		Type:     common.EngineMySQL,
		Host:     "mysql.example.com",
		Database: "app",
		Username: "app",
		Password: "secret",
	}, nil, zerolog.Nop())
	c.db = db
	c.connected = true
	return c, mock
}

func TestAnalyzeStorageComputesBloat(t *testing.T) {
	c, mock := mockConnection(t)

	mock.ExpectQuery("FROM information_schema.TABLES").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "DATA_LENGTH", "INDEX_LENGTH", "TABLE_ROWS", "DATA_FREE"}).
			AddRow("orders", int64(8000), int64(2000), int64(100), int64(2000)).
			AddRow("users", int64(1000), int64(0), int64(10), int64(0)))
	mock.ExpectQuery("FROM information_schema.STATISTICS").
		WithArgs("app").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "TABLE_NAME"}).
			AddRow("PRIMARY", "orders"))

	analysis, err := c.AnalyzeStorage(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(11000), analysis.TotalSize)
	assert.Equal(t, 2, analysis.TableCount)
	assert.Equal(t, 1, analysis.IndexCount)
	assert.Equal(t, "orders", analysis.LargestTable.Name)
	assert.InDelta(t, 20.0, analysis.Tables[0].Bloat, 0.01, "DATA_FREE share of the data segment")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryDescribeAllowedInSafeMode(t *testing.T) {
	c, mock := mockConnection(t)

	mock.ExpectQuery("DESCRIBE users").
		WillReturnRows(sqlmock.NewRows([]string{"Field", "Type"}).
			AddRow("id", "bigint").
			AddRow("email", "varchar(255)"))

	result, err := c.ExecuteQuery(context.Background(), "DESCRIBE users", true)
	require.NoError(t, err)

	assert.Equal(t, 2, result.RowCount)
	assert.Empty(t, result.ExplainPlan, "plans are only attached to SELECTs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryRejectsAlterInSafeMode(t *testing.T) {
	c, mock := mockConnection(t)

	_, err := c.ExecuteQuery(context.Background(), "ALTER TABLE users DROP COLUMN email", true)
	require.Error(t, err)

	var unsafe *common.UnsafeQueryError
	assert.ErrorAs(t, err, &unsafe)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBackupStreamsDumpToFile(t *testing.T) {
	var captured cmdrunner.Command
	runner := cmdrunner.RunFunc(func(ctx context.Context, cmd cmdrunner.Command) (*cmdrunner.Result, error) {
		captured = cmd
		_, err := io.WriteString(cmd.Stdout, "-- MySQL dump\nCREATE TABLE users (id INT);\n")
		return &cmdrunner.Result{ExitCode: 0}, err
	})

	c := New(common.ConnectionConfig{
		Name:     "orders-db",
		Type:     common.EngineMySQL,
		Host:     "mysql.example.com",
		Port:     3307,
		Database: "app",
		Username: "app",
		Password: "secret",
	}, runner, zerolog.Nop())
	c.connected = true

	path := filepath.Join(t.TempDir(), "orders.sql")
	result, err := c.CreateBackup(context.Background(), path)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CREATE TABLE users")
	assert.Equal(t, int64(len(content)), result.Size)

	assert.Equal(t, "mysqldump", captured.Path)
	assert.Contains(t, captured.Args, "--single-transaction")
	assert.Contains(t, captured.Args, "3307")
	assert.Contains(t, captured.Args, "-psecret")
	assert.Equal(t, "app", captured.Args[len(captured.Args)-1])
}

func TestCreateBackupRemovesArtifactOnFailure(t *testing.T) {
	runner := cmdrunner.RunFunc(func(ctx context.Context, cmd cmdrunner.Command) (*cmdrunner.Result, error) {
		return &cmdrunner.Result{ExitCode: 2, Stderr: "Access denied for user"},
			errors.New("mysqldump exited with code 2")
	})

	c := New(common.ConnectionConfig{Name: "orders-db", Database: "app"}, runner, zerolog.Nop())
	c.connected = true

	path := filepath.Join(t.TempDir(), "orders.sql")
	_, err := c.CreateBackup(context.Background(), path)
	require.Error(t, err)

	var backupErr *common.BackupExecutionError
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, "Access denied for user", backupErr.Output)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "failed dumps must not leave partial files")
}

func TestRestoreBackupPipesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.sql")
	require.NoError(t, os.WriteFile(path, []byte("INSERT INTO users VALUES (1);\n"), 0o644))

	var piped []byte
	runner := cmdrunner.RunFunc(func(ctx context.Context, cmd cmdrunner.Command) (*cmdrunner.Result, error) {
		var err error
		piped, err = io.ReadAll(cmd.Stdin)
		return &cmdrunner.Result{ExitCode: 0}, err
	})

	c := New(common.ConnectionConfig{Name: "orders-db", Database: "app"}, runner, zerolog.Nop())
	c.connected = true

	require.NoError(t, c.RestoreBackup(context.Background(), path))
	assert.Equal(t, "INSERT INTO users VALUES (1);\n", string(piped))
}
