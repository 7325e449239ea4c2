// Package postgres implements the database connection contract for
// PostgreSQL. Dumps and restores shell out to pg_dump/pg_restore with the
// password passed through PGPASSWORD.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "EXPLAIN", "SHOW"}

// Connection is the PostgreSQL adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	runner cmdrunner.Runner
	logger zerolog.Logger

	db        *sql.DB
	endpoint  *common.Endpoint
	connected bool
}

// New builds a PostgreSQL adapter from the configuration.
func New(cfg common.ConnectionConfig, runner cmdrunner.Runner, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("engine", "postgresql").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EnginePostgres }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens the native session, routing through an SSH tunnel when one
// is configured.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	ep, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EnginePostgres, Addr: c.cfg.Addr(), Err: err}
	}

	dsn := c.cfg.ConnectionString
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			ep.Host, ep.Port, c.cfg.Username, c.cfg.Password, c.cfg.Database)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		ep.Close()
		return &common.ConnectionError{Engine: common.EnginePostgres, Addr: c.cfg.Addr(), Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		ep.Close()
		return &common.ConnectionError{Engine: common.EnginePostgres, Addr: c.cfg.Addr(), Err: err}
	}

	c.db = db
	c.endpoint = ep
	c.connected = true
	c.logger.Debug().Msg("Connected to PostgreSQL")
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

// AnalyzeStorage reports per-table and per-index sizes from the catalog,
// tables ordered by descending total relation size.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT schemaname, tablename,
			pg_total_relation_size(quote_ident(schemaname) || '.' || quote_ident(tablename)) AS total_size,
			pg_relation_size(quote_ident(schemaname) || '.' || quote_ident(tablename)) AS table_size
		FROM pg_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
		ORDER BY total_size DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query table sizes: %w", err)
	}
	defer rows.Close()

	analysis := common.NewStorageAnalysis()
	for rows.Next() {
		var schema, table string
		var totalSize, tableSize int64
		if err := rows.Scan(&schema, &table, &totalSize, &tableSize); err != nil {
			return nil, fmt.Errorf("failed to scan table row: %w", err)
		}

		var rowCount int64
		countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s.%s",
			pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
		if err := c.db.QueryRowContext(ctx, countQuery).Scan(&rowCount); err != nil {
			rowCount = 0
		}

		analysis.AddTable(common.TableInfo{
			Name:      schema + "." + table,
			Size:      tableSize,
			RowCount:  rowCount,
			IndexSize: totalSize - tableSize,
		})
		analysis.TotalSize += totalSize
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `
		SELECT schemaname || '.' || indexname AS name, tablename,
			pg_relation_size(quote_ident(schemaname) || '.' || quote_ident(indexname)) AS size
		FROM pg_indexes
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`)
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
	}
	if err := idxRows.Err(); err != nil {
		return nil, err
	}

	return analysis.Finish(), nil
}

// ExecuteQuery runs a statement, attaching an EXPLAIN plan for reads when
// the server provides one.
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

// GetSchema lists user tables with their columns and index names.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT table_schema || '.' || table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema: %w", err)
	}
	defer rows.Close()

	builder := common.NewSchemaBuilder(c.cfg.Database)
	for rows.Next() {
		var table, column, dataType, nullable string
		if err := rows.Scan(&table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
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
		SELECT schemaname || '.' || tablename, indexname
		FROM pg_indexes
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')`)
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

// CreateBackup produces a custom-format dump via pg_dump.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.logger.Info().Str("path", path).Msg("Starting PostgreSQL backup")
	res, err := c.runner.Run(ctx, cmdrunner.Command{
		Path: "pg_dump",
		Args: append(c.connArgs(),
			"--no-password",
			"--format", "c",
			"--file", path,
			c.cfg.Database),
		Env: []string{"PGPASSWORD=" + c.cfg.Password},
	})
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EnginePostgres, Output: stderrOf(res), Err: err}
	}

	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EnginePostgres, Err: err}
	}

	c.logger.Info().Str("path", path).Int64("size", size).Msg("PostgreSQL backup complete")
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup loads a custom-format dump via pg_restore with
// --clean --if-exists.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	c.logger.Info().Str("path", path).Msg("Restoring PostgreSQL backup")
	res, err := c.runner.Run(ctx, cmdrunner.Command{
		Path: "pg_restore",
		Args: append(c.connArgs(),
			"--no-password",
			"--clean", "--if-exists",
			"--dbname", c.cfg.Database,
			path),
		Env: []string{"PGPASSWORD=" + c.cfg.Password},
	})
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EnginePostgres, Output: stderrOf(res), Err: err}
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

// connArgs returns the host/port/user flags shared by pg_dump and
// pg_restore, pointed at the tunnel endpoint when one is active.
func (c *Connection) connArgs() []string {
	host, port := c.cfg.Host, c.cfg.EffectivePort()
	if c.endpoint != nil {
		host, port = c.endpoint.Host, c.endpoint.Port
	}
	return []string{
		"--host", host,
		"--port", strconv.Itoa(port),
		"--username", c.cfg.Username,
	}
}

func stderrOf(res *cmdrunner.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
