// Package sqlite implements the database connection contract for SQLite.
// Backup is a checkpointed copy of the database file; restore closes the
// session, copies the artifact back, and reopens.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "EXPLAIN", "PRAGMA"}

// Connection is the SQLite adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	logger zerolog.Logger

	db        *sql.DB
	connected bool
}

// New builds a SQLite adapter. The configuration's Database field is the
// database file path.
func New(cfg common.ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger.With().Str("engine", "sqlite").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineSQLite }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens the database file.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	if _, err := os.Stat(c.cfg.Database); err != nil {
		return &common.ConnectionError{Engine: common.EngineSQLite, Addr: c.cfg.Database, Err: err}
	}

	db, err := sql.Open("sqlite3", c.cfg.Database)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineSQLite, Addr: c.cfg.Database, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &common.ConnectionError{Engine: common.EngineSQLite, Addr: c.cfg.Database, Err: err}
	}

	c.db = db
	c.connected = true
	c.logger.Debug().Str("path", c.cfg.Database).Msg("Opened SQLite database")
	return nil
}

// Close releases the handle. Safe to call repeatedly or before Connect.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	err := c.db.Close()
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

// AnalyzeStorage sizes tables through dbstat when the build provides it,
// falling back to page accounting for the database total. Without dbstat,
// per-table sizes are unknown and tables keep catalog order.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	analysis := common.NewStorageAnalysis()
	haveDbstat := true
	for _, name := range tables {
		var rowCount int64
		if err := c.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)).Scan(&rowCount); err != nil {
			rowCount = 0
		}

		var size int64
		if haveDbstat {
			err := c.db.QueryRowContext(ctx,
				`SELECT COALESCE(SUM(pgsize), 0) FROM dbstat WHERE name = ?`, name).Scan(&size)
			if err != nil {
				haveDbstat = false
				size = 0
			}
		}

		analysis.AddTable(common.TableInfo{Name: name, Size: size, RowCount: rowCount})
	}
	if haveDbstat {
		analysis.SortTablesBySize()
	}

	idxRows, err := c.db.QueryContext(ctx,
		`SELECT name, tbl_name FROM sqlite_master WHERE type = 'index'`)
	if err == nil {
		defer idxRows.Close()
		for idxRows.Next() {
			var idx common.IndexInfo
			if err := idxRows.Scan(&idx.Name, &idx.TableName); err == nil {
				analysis.AddIndex(idx)
			}
		}
	}

	var pageCount, pageSize int64
	if err := c.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err == nil {
		if err := c.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err == nil {
			analysis.TotalSize = pageCount * pageSize
		}
	}

	return analysis.Finish(), nil
}

// ExecuteQuery runs a statement, attaching an EXPLAIN QUERY PLAN for
// SELECTs.
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
		result.ExplainPlan = common.ExplainSQL(ctx, c.db, "EXPLAIN QUERY PLAN", query)
	}
	return result, nil
}

// GetSchema lists tables with columns (via PRAGMA table_info) and indexes.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	builder := common.NewSchemaBuilder(c.cfg.Database)
	for _, table := range tables {
		builder.AddTable(table)

		colRows, err := c.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
		if err != nil {
			continue
		}
		for colRows.Next() {
			var cid int
			var name, colType string
			var notNull int
			var dflt any
			var pk int
			if err := colRows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
				break
			}
			builder.AddColumn(table, common.ColumnInfo{
				Name:     name,
				DataType: colType,
				Nullable: notNull == 0,
			})
		}
		colRows.Close()
	}

	idxRows, err := c.db.QueryContext(ctx,
		`SELECT tbl_name, name FROM sqlite_master WHERE type = 'index'`)
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

// CreateBackup checkpoints the WAL and copies the database file.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	// Flush pending WAL frames so the file copy is complete. No-op for
	// journal-mode databases.
	c.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)

	c.logger.Info().Str("path", path).Msg("Copying SQLite database file")
	size, err := common.CopyFile(path, c.cfg.Database)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineSQLite, Err: err}
	}
	if size == 0 {
		return nil, &common.BackupExecutionError{
			Engine: common.EngineSQLite,
			Err:    fmt.Errorf("database file %s is empty", c.cfg.Database),
		}
	}

	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup closes the handle, copies the artifact over the database
// file, and reopens.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}

	wasConnected := c.connected
	if err := c.Close(); err != nil {
		return fmt.Errorf("failed to close database before restore: %w", err)
	}

	c.logger.Info().Str("path", path).Msg("Restoring SQLite database file")
	if _, err := common.CopyFile(c.cfg.Database, path); err != nil {
		return &common.BackupExecutionError{Engine: common.EngineSQLite, Err: err}
	}

	if wasConnected {
		return c.Connect(ctx)
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
