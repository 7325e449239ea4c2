// Package sqlserver implements the database connection contract for
// Microsoft SQL Server. Backup and restore run BACKUP/RESTORE DATABASE
// through the session, so the artifact path must be visible to both the
// server (which writes it) and this process (which ships it).
package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "EXPLAIN"}

// Connection is the SQL Server adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	logger zerolog.Logger

	db        *sql.DB
	endpoint  *common.Endpoint
	connected bool
}

// New builds a SQL Server adapter.
func New(cfg common.ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger.With().Str("engine", "sqlserver").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineSQLServer }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens a session against the configured database.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineSQLServer, Addr: c.cfg.Addr(), Err: err}
	}

	dsn := c.cfg.ConnectionString
	if dsn == "" {
		dsn = c.buildDSN(endpoint.Host, endpoint.Port)
	}

	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineSQLServer, Addr: c.cfg.Addr(), Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineSQLServer, Addr: c.cfg.Addr(), Err: err}
	}

	c.db = db
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Str("database", c.cfg.Database).Msg("Connected to SQL Server")
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

// AnalyzeStorage sizes tables from allocation units and indexes from
// sys.dm_db_partition_stats, both in 8KB pages.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT
			t.name,
			p.rows,
			SUM(a.total_pages) * 8 * 1024 AS size
		FROM sys.tables t
		INNER JOIN sys.indexes i ON t.object_id = i.object_id
		INNER JOIN sys.partitions p ON i.object_id = p.object_id AND i.index_id = p.index_id
		INNER JOIN sys.allocation_units a ON p.partition_id = a.container_id
		WHERE t.is_ms_shipped = 0 AND i.object_id > 255
		GROUP BY t.name, p.rows
		ORDER BY size DESC`)
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
		SELECT
			i.name,
			OBJECT_NAME(i.object_id),
			SUM(s.used_page_count) * 8 * 1024 AS size
		FROM sys.indexes i
		INNER JOIN sys.dm_db_partition_stats s
			ON i.object_id = s.object_id AND i.index_id = s.index_id
		WHERE i.object_id > 255 AND i.name IS NOT NULL
		GROUP BY i.name, i.object_id`)
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

// ExecuteQuery runs a statement. SQL Server has no inline EXPLAIN, so no
// plan is attached.
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
	return result, nil
}

// GetSchema lists base tables with columns and named indexes.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	builder := common.NewSchemaBuilder(c.cfg.Database)

	tabRows, err := c.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`)
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
		SELECT TABLE_NAME, COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		ORDER BY TABLE_NAME, ORDINAL_POSITION`)
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
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	idxRows, err := c.db.QueryContext(ctx, `
		SELECT OBJECT_NAME(i.object_id), i.name
		FROM sys.indexes i
		INNER JOIN sys.tables t ON i.object_id = t.object_id
		WHERE i.name IS NOT NULL AND t.is_ms_shipped = 0`)
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

// CreateBackup runs a full BACKUP DATABASE to the given path. The server
// writes the file, so path must be server-visible.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(
		"BACKUP DATABASE %s TO DISK = N'%s' WITH FORMAT, INIT, NAME = N'Full Backup of %s'",
		quoteIdent(c.cfg.Database), escapeLiteral(path), escapeLiteral(c.cfg.Database))

	c.logger.Info().Str("path", path).Msg("Running BACKUP DATABASE")
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineSQLServer, Err: err}
	}

	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{
			Engine: common.EngineSQLServer,
			Err:    fmt.Errorf("backup written by the server is not visible locally: %w", err),
		}
	}
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup replays a BACKUP DATABASE artifact with WITH REPLACE. The
// session moves to master first so the target database can be taken over.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	// Pin one session; USE is per-connection state that a pooled Exec
	// would lose.
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineSQLServer, Err: err}
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "USE [master]"); err != nil {
		return &common.BackupExecutionError{Engine: common.EngineSQLServer, Err: err}
	}

	db := quoteIdent(c.cfg.Database)

	// Drop concurrent sessions so the restore can take the database over.
	// Fails when the database does not exist yet, which is fine.
	if _, err := conn.ExecContext(ctx,
		fmt.Sprintf("ALTER DATABASE %s SET SINGLE_USER WITH ROLLBACK IMMEDIATE", db)); err != nil {
		c.logger.Debug().Err(err).Msg("SINGLE_USER switch skipped")
	}

	c.logger.Info().Str("path", path).Msg("Running RESTORE DATABASE")
	_, err = conn.ExecContext(ctx, fmt.Sprintf(
		"RESTORE DATABASE %s FROM DISK = N'%s' WITH REPLACE", db, escapeLiteral(path)))
	if err != nil {
		conn.ExecContext(ctx, fmt.Sprintf("ALTER DATABASE %s SET MULTI_USER", db))
		return &common.BackupExecutionError{Engine: common.EngineSQLServer, Err: err}
	}

	if _, err := conn.ExecContext(ctx,
		fmt.Sprintf("ALTER DATABASE %s SET MULTI_USER", db)); err != nil {
		c.logger.Debug().Err(err).Msg("MULTI_USER switch skipped")
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

func (c *Connection) buildDSN(host string, port int) string {
	query := url.Values{}
	query.Set("database", c.cfg.Database)
	if c.cfg.SQLServer != nil && c.cfg.SQLServer.Encrypt {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.cfg.Username, c.cfg.Password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		RawQuery: query.Encode(),
	}
	if c.cfg.SQLServer != nil && c.cfg.SQLServer.Instance != "" {
		// Named instances resolve their port through the browser service.
		u.Host = host
		u.Path = c.cfg.SQLServer.Instance
	}
	return u.String()
}

func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
