// Package mysql implements the database connection contract for MySQL and
// MariaDB. Dumps stream mysqldump stdout into the artifact; restores pipe
// the artifact into the mysql client.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "EXPLAIN", "SHOW", "DESCRIBE", "DESC"}

// Connection is the MySQL adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	runner cmdrunner.Runner
	logger zerolog.Logger

	db        *sql.DB
	endpoint  *common.Endpoint
	connected bool
}

// New builds a MySQL adapter from the configuration.
func New(cfg common.ConnectionConfig, runner cmdrunner.Runner, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("engine", "mysql").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineMySQL }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens the native session.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	ep, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineMySQL, Addr: c.cfg.Addr(), Err: err}
	}

	dsn := c.cfg.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.cfg.Username, c.cfg.Password, ep.Host, ep.Port, c.cfg.Database)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		ep.Close()
		return &common.ConnectionError{Engine: common.EngineMySQL, Addr: c.cfg.Addr(), Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		ep.Close()
		return &common.ConnectionError{Engine: common.EngineMySQL, Addr: c.cfg.Addr(), Err: err}
	}

	c.db = db
	c.endpoint = ep
	c.connected = true
	c.logger.Debug().Msg("Connected to MySQL")
	return nil
}

// Close releases the session. Safe to call repeatedly or before Connect.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	var err error
	if c.db != nil {
		err = c.db.Close()
		c.db = nil
	}
	c.endpoint.Close()
	c.endpoint = nil
	c.connected = false
	return err
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	return c.Connect(ctx)
}

// AnalyzeStorage reads information_schema.TABLES for the current schema,
// ordered by total footprint descending. MySQL reports no cheap per-index
// size, so indexes carry names only.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_NAME,
			COALESCE(DATA_LENGTH, 0),
			COALESCE(INDEX_LENGTH, 0),
			COALESCE(TABLE_ROWS, 0),
			COALESCE(DATA_FREE, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ?
		ORDER BY DATA_LENGTH + INDEX_LENGTH DESC`, c.cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query table sizes")
	}
	defer rows.Close()

	analysis := common.NewStorageAnalysis()
	for rows.Next() {
		var name string
		var dataLen, indexLen, tableRows, dataFree int64
		if err := rows.Scan(&name, &dataLen, &indexLen, &tableRows, &dataFree); err != nil {
			return nil, errors.Wrap(err, "failed to scan table row")
		}

		bloat := 0.0
		if dataLen+dataFree > 0 {
			bloat = float64(dataFree) / float64(dataLen+dataFree) * 100
		}
		analysis.AddTable(common.TableInfo{
			Name:      name,
			Size:      dataLen,
			RowCount:  tableRows,
			IndexSize: indexLen,
			Bloat:     bloat,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT INDEX_NAME, TABLE_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ?`, c.cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query indexes")
	}
	defer idxRows.Close()

	for idxRows.Next() {
		var idx common.IndexInfo
		if err := idxRows.Scan(&idx.Name, &idx.TableName); err != nil {
			return nil, errors.Wrap(err, "failed to scan index row")
		}
		analysis.AddIndex(idx)
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	return analysis.Finish(), nil
}

// ExecuteQuery runs a statement, attaching an EXPLAIN plan for SELECTs.
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
		result.ExplainPlan = common.ExplainSQL(ctx, c.db, "EXPLAIN", query)
	}
	return result, nil
}

// GetSchema lists tables with columns and index names from
// information_schema.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME, ORDINAL_POSITION`, c.cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query schema")
	}
	defer rows.Close()

	builder := common.NewSchemaBuilder(c.cfg.Database)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, errors.Wrap(err, "failed to scan column row")
		}
		builder.AddColumn(table, common.ColumnInfo{
			Name:     column,
			DataType: dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT TABLE_NAME, INDEX_NAME
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ?`, c.cfg.Database)
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

// CreateBackup streams mysqldump output into the artifact file.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMySQL, Err: err}
	}

	c.logger.Info().Str("path", path).Msg("Starting MySQL backup")
	res, err := c.runner.Run(ctx, cmdrunner.Command{
		Path: "mysqldump",
		Args: append(c.connArgs(),
			"--single-transaction",
			"--quick",
			"--triggers",
			"--routines",
			c.cfg.Database),
		Stdout: out,
	})
	if err != nil {
		out.Close()
		os.Remove(path)
		return nil, &common.BackupExecutionError{Engine: common.EngineMySQL, Output: stderrOf(res), Err: err}
	}
	if err := out.Close(); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMySQL, Err: err}
	}

	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMySQL, Err: err}
	}

	c.logger.Info().Str("path", path).Int64("size", size).Msg("MySQL backup complete")
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup pipes the artifact into the mysql client.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	defer in.Close()

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.logger.Info().Str("path", path).Msg("Restoring MySQL backup")
	res, err := c.runner.Run(ctx, cmdrunner.Command{
		Path:  "mysql",
		Args:  append(c.connArgs(), c.cfg.Database),
		Stdin: in,
	})
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineMySQL, Output: stderrOf(res), Err: err}
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

// connArgs returns the host/port/user flags shared by mysqldump and the
// mysql client, pointed at the tunnel endpoint when one is active.
func (c *Connection) connArgs() []string {
	host, port := c.cfg.Host, c.cfg.EffectivePort()
	if c.endpoint != nil {
		host, port = c.endpoint.Host, c.endpoint.Port
	}
	args := []string{
		"-h", host,
		"-P", fmt.Sprintf("%d", port),
		"-u", c.cfg.Username,
	}
	if c.cfg.Password != "" {
		args = append(args, "-p"+c.cfg.Password)
	}
	return args
}

func stderrOf(res *cmdrunner.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
