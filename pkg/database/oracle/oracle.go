// Package oracle implements the database connection contract for Oracle.
// Backups run Data Pump export (expdp) through the server's DATA_PUMP_DIR
// directory object, so the process must see that directory on its own
// filesystem to collect the artifact.
package oracle

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "EXPLAIN"}

// Connection is the Oracle adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	runner cmdrunner.Runner
	logger zerolog.Logger

	db        *sql.DB
	endpoint  *common.Endpoint
	connected bool
}

// New builds an Oracle adapter.
func New(cfg common.ConnectionConfig, runner cmdrunner.Runner, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("engine", "oracle").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineOracle }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens a session against the configured service.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineOracle, Addr: c.cfg.Addr(), Err: err}
	}

	dsn := c.cfg.ConnectionString
	if dsn == "" {
		dsn = go_ora.BuildUrl(endpoint.Host, endpoint.Port, c.serviceName(), c.cfg.Username, c.cfg.Password, nil)
	}

	db, err := sql.Open("oracle", dsn)
	if err != nil {
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineOracle, Addr: c.cfg.Addr(), Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineOracle, Addr: c.cfg.Addr(), Err: err}
	}

	c.db = db
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Str("service", c.serviceName()).Msg("Connected to Oracle")
	return nil
}

// Close tears down the session and any tunnel. Safe to call repeatedly.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	err := c.db.Close()
	if c.endpoint != nil {
		c.endpoint.Close()
		c.endpoint = nil
	}
	c.db = nil
	c.connected = false
	return err
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	return c.Connect(ctx)
}

// AnalyzeStorage sizes the current schema's tables and indexes through
// user_segments. Row counts come from optimizer statistics and are zero
// for never-analyzed tables.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT t.table_name, NVL(t.num_rows, 0), NVL(s.bytes, 0)
		FROM user_tables t
		LEFT JOIN user_segments s
			ON s.segment_name = t.table_name AND s.segment_type = 'TABLE'
		ORDER BY NVL(s.bytes, 0) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query table sizes: %w", err)
	}
	defer rows.Close()

	analysis := common.NewStorageAnalysis()
	for rows.Next() {
		var table common.TableInfo
		if err := rows.Scan(&table.Name, &table.RowCount, &table.Size); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}
		analysis.AddTable(table)
		analysis.TotalSize += table.Size
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `
		SELECT i.index_name, i.table_name, NVL(s.bytes, 0)
		FROM user_indexes i
		LEFT JOIN user_segments s
			ON s.segment_name = i.index_name AND s.segment_type = 'INDEX'`)
	if err != nil {
		return nil, fmt.Errorf("failed to query index sizes: %w", err)
	}
	defer idxRows.Close()

	for idxRows.Next() {
		var idx common.IndexInfo
		if err := idxRows.Scan(&idx.Name, &idx.TableName, &idx.Size); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		analysis.AddIndex(idx)
		analysis.TotalSize += idx.Size
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	return analysis.Finish(), nil
}

// ExecuteQuery runs a statement, attaching a dbms_xplan plan for SELECTs.
func (c *Connection) ExecuteQuery(ctx context.Context, query string, safeMode bool) (*common.QueryResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if err := common.CheckSafeMode(query, safeMode, readVerbs...); err != nil {
		return nil, err
	}

	result, err := common.QuerySQL(ctx, c.db, query, readVerbs)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	if common.FirstKeyword(query) == "SELECT" {
		result.ExplainPlan = c.explain(ctx, query)
	}
	return result, nil
}

// explain populates the plan table and reads it back. Best effort.
func (c *Connection) explain(ctx context.Context, query string) string {
	if _, err := c.db.ExecContext(ctx, "EXPLAIN PLAN FOR "+query); err != nil {
		return ""
	}
	rows, err := c.db.QueryContext(ctx, `SELECT plan_table_output FROM table(dbms_xplan.display())`)
	if err != nil {
		return ""
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var line sql.NullString
		if err := rows.Scan(&line); err != nil {
			return ""
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line.String)
	}
	if rows.Err() != nil {
		return ""
	}
	return b.String()
}

// GetSchema lists the current schema's tables, columns, and index names.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	builder := common.NewSchemaBuilder(strings.ToUpper(c.cfg.Username))

	tabRows, err := c.db.QueryContext(ctx, `SELECT table_name FROM user_tables ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer tabRows.Close()
	for tabRows.Next() {
		var name string
		if err := tabRows.Scan(&name); err != nil {
			return nil, err
		}
		builder.AddTable(name)
	}
	if err := tabRows.Err(); err != nil {
		return nil, err
	}

	colRows, err := c.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type, nullable
		FROM user_tab_columns
		ORDER BY table_name, column_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var table, column, dataType, nullable string
		if err := colRows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, err
		}
		builder.AddColumn(table, common.ColumnInfo{
			Name:     column,
			DataType: dataType,
			Nullable: nullable == "Y",
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `SELECT table_name, index_name FROM user_indexes`)
	if err == nil {
		defer idxRows.Close()
		for idxRows.Next() {
			var table, index string
			if err := idxRows.Scan(&table, &index); err == nil {
				builder.AddIndex(table, index)
			}
		}
	}

	return builder.Schema(), nil
}

// CreateBackup exports the user's schema with expdp and collects the dump
// file from the server's DATA_PUMP_DIR.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	connect, err := c.pumpConnectString()
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineOracle, Err: err}
	}
	pumpDir, err := c.dataPumpDir(ctx)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineOracle, Err: err}
	}

	dumpFile := filepath.Base(path) + ".dmp"
	logFile := filepath.Base(path) + ".log"

	args := []string{
		connect,
		"DIRECTORY=DATA_PUMP_DIR",
		"DUMPFILE=" + dumpFile,
		"LOGFILE=" + logFile,
		"SCHEMAS=" + strings.ToUpper(c.cfg.Username),
	}

	c.logger.Info().Str("dumpfile", dumpFile).Msg("Running expdp")
	res, err := c.runner.Run(ctx, cmdrunner.Command{Path: "expdp", Args: args})
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineOracle, Output: stderrOf(res), Err: err}
	}

	serverSide := filepath.Join(pumpDir, dumpFile)
	size, err := common.CopyFile(path, serverSide)
	if err != nil {
		return nil, &common.BackupExecutionError{
			Engine: common.EngineOracle,
			Err:    fmt.Errorf("dump file not collectable from DATA_PUMP_DIR: %w", err),
		}
	}
	os.Remove(serverSide)
	os.Remove(filepath.Join(pumpDir, logFile))

	if size == 0 {
		return nil, &common.BackupExecutionError{
			Engine: common.EngineOracle,
			Err:    fmt.Errorf("dump file %s is empty", serverSide),
		}
	}
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup stages the artifact into DATA_PUMP_DIR and replays it with
// impdp.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	connect, err := c.pumpConnectString()
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineOracle, Err: err}
	}
	pumpDir, err := c.dataPumpDir(ctx)
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineOracle, Err: err}
	}

	dumpFile := filepath.Base(path)
	staged := filepath.Join(pumpDir, dumpFile)
	if _, err := common.CopyFile(staged, path); err != nil {
		return &common.BackupExecutionError{
			Engine: common.EngineOracle,
			Err:    fmt.Errorf("failed to stage artifact into DATA_PUMP_DIR: %w", err),
		}
	}
	defer os.Remove(staged)

	args := []string{
		connect,
		"DIRECTORY=DATA_PUMP_DIR",
		"DUMPFILE=" + dumpFile,
		"SCHEMAS=" + strings.ToUpper(c.cfg.Username),
	}

	c.logger.Info().Str("dumpfile", dumpFile).Msg("Running impdp")
	res, err := c.runner.Run(ctx, cmdrunner.Command{Path: "impdp", Args: args})
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineOracle, Output: stderrOf(res), Err: err}
	}
	return nil
}

// TestConnection collapses Connect+Close into a boolean.
func (c *Connection) TestConnection(ctx context.Context) bool {
	if err := c.Connect(ctx); err != nil {
		return false
	}
	c.Close()
	return true
}

func (c *Connection) serviceName() string {
	if c.cfg.Oracle != nil && c.cfg.Oracle.ServiceName != "" {
		return c.cfg.Oracle.ServiceName
	}
	if c.cfg.Database != "" {
		return c.cfg.Database
	}
	return "ORCL"
}

// pumpConnectString builds the user/password@host:port/service argument
// Data Pump tools take. They cannot consume a driver URL, so discrete
// connection fields are required.
func (c *Connection) pumpConnectString() (string, error) {
	if c.cfg.Host == "" || c.cfg.Username == "" {
		return "", fmt.Errorf("data pump export requires discrete host and username fields")
	}
	host := c.cfg.Host
	port := c.cfg.EffectivePort()
	if c.endpoint != nil {
		host = c.endpoint.Host
		port = c.endpoint.Port
	}
	return fmt.Sprintf("%s/%s@%s:%d/%s", c.cfg.Username, c.cfg.Password, host, port, c.serviceName()), nil
}

// dataPumpDir resolves the filesystem path behind the DATA_PUMP_DIR
// directory object.
func (c *Connection) dataPumpDir(ctx context.Context) (string, error) {
	var dir string
	err := c.db.QueryRowContext(ctx,
		`SELECT directory_path FROM all_directories WHERE directory_name = 'DATA_PUMP_DIR'`).Scan(&dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve DATA_PUMP_DIR: %w", err)
	}
	return dir, nil
}

func stderrOf(res *cmdrunner.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
