// Package clickhouse implements the database connection contract for
// ClickHouse. Backup exports every table as a SQL script (SHOW CREATE
// TABLE plus batched INSERTs) and restore replays that script statement by
// statement through the session.
package clickhouse

import (
	"bufio"
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

var readVerbs = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "EXISTS"}

// Rows per INSERT statement in exported scripts.
const insertBatchRows = 500

// Connection is the ClickHouse adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	logger zerolog.Logger

	db        *sql.DB
	endpoint  *common.Endpoint
	connected bool
}

// New builds a ClickHouse adapter.
func New(cfg common.ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger.With().Str("engine", "clickhouse").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineClickHouse }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens the native-protocol session.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineClickHouse, Addr: c.cfg.Addr(), Err: err}
	}

	var opts *clickhouse.Options
	if c.cfg.ConnectionString != "" {
		opts, err = clickhouse.ParseDSN(c.cfg.ConnectionString)
		if err != nil {
			endpoint.Close()
			return &common.ConnectionError{Engine: common.EngineClickHouse, Addr: c.cfg.Addr(), Err: err}
		}
	} else {
		database := c.cfg.Database
		if database == "" {
			database = "default"
		}
		username := c.cfg.Username
		if username == "" {
			username = "default"
		}
		opts = &clickhouse.Options{
			Addr: []string{fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port)},
			Auth: clickhouse.Auth{
				Database: database,
				Username: username,
				Password: c.cfg.Password,
			},
		}
		if c.cfg.ClickHouse != nil && c.cfg.ClickHouse.Secure {
			opts.TLS = &tls.Config{}
		}
	}

	db := clickhouse.OpenDB(opts)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineClickHouse, Addr: c.cfg.Addr(), Err: err}
	}

	c.db = db
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Msg("Connected to ClickHouse")
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

// AnalyzeStorage sizes tables from active parts. ClickHouse keeps no
// conventional secondary indexes, so the index list stays empty.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT table, sum(bytes) AS size, sum(rows) AS row_count
		FROM system.parts
		WHERE active = 1 AND database = currentDatabase()
		GROUP BY table
		ORDER BY size DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query part sizes: %w", err)
	}
	defer rows.Close()

	analysis := common.NewStorageAnalysis()
	for rows.Next() {
		var name string
		var size, rowCount uint64
		if err := rows.Scan(&name, &size, &rowCount); err != nil {
			return nil, fmt.Errorf("failed to scan part row: %w", err)
		}
		analysis.AddTable(common.TableInfo{
			Name:     name,
			Size:     int64(size),
			RowCount: int64(rowCount),
		})
	}
	if err := rows.Err(); err != nil {
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

// GetSchema lists the current database's tables with column types from
// system.columns.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	database := c.cfg.Database
	if database == "" {
		database = "default"
	}
	builder := common.NewSchemaBuilder(database)

	tabRows, err := c.db.QueryContext(ctx, `
		SELECT name FROM system.tables
		WHERE database = currentDatabase()
		ORDER BY name`)
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
		SELECT table, name, type
		FROM system.columns
		WHERE database = currentDatabase()
		ORDER BY table, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var table, column, colType string
		if err := colRows.Scan(&table, &column, &colType); err != nil {
			return nil, err
		}
		builder.AddColumn(table, common.ColumnInfo{
			Name:     column,
			DataType: colType,
			Nullable: strings.HasPrefix(colType, "Nullable("),
		})
	}
	if err := colRows.Err(); err != nil {
		return nil, err
	}

	return builder.Schema(), nil
}

// CreateBackup exports the current database as a SQL script: one SHOW
// CREATE TABLE statement per table followed by batched INSERTs.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	schema, err := c.GetSchema(ctx)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}
	out, err := os.Create(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}

	w := bufio.NewWriter(out)
	for _, table := range schema.Tables {
		if err := c.exportTable(ctx, w, table.Name); err != nil {
			out.Close()
			os.Remove(path)
			return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
		}
	}
	if err := w.Flush(); err == nil {
		err = out.Close()
	} else {
		out.Close()
	}
	if err != nil {
		os.Remove(path)
		return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}

	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}
	return &common.DumpResult{Path: path, Size: size}, nil
}

func (c *Connection) exportTable(ctx context.Context, w *bufio.Writer, table string) error {
	var create string
	if err := c.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+quoteIdent(table)).Scan(&create); err != nil {
		return fmt.Errorf("SHOW CREATE TABLE %s failed: %w", table, err)
	}
	if _, err := w.WriteString(create + ";\n"); err != nil {
		return err
	}

	rows, err := c.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return fmt.Errorf("failed to export rows from %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		_, err := fmt.Fprintf(w, "INSERT INTO %s VALUES %s;\n", quoteIdent(table), strings.Join(batch, ","))
		batch = batch[:0]
		return err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("failed to scan row from %s: %w", table, err)
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = formatValue(v)
		}
		batch = append(batch, "("+strings.Join(literals, ",")+")")
		if len(batch) >= insertBatchRows {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush()
}

// RestoreBackup replays an exported script. Statements are accumulated
// line by line until a terminating semicolon, matching the export format.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)

	var stmt strings.Builder
	count := 0
	for scanner.Scan() {
		line := scanner.Text()
		stmt.WriteString(line)
		stmt.WriteByte('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			text := strings.TrimSpace(stmt.String())
			text = strings.TrimSuffix(text, ";")
			stmt.Reset()
			if text == "" {
				continue
			}
			count++
			if _, err := c.db.ExecContext(ctx, text); err != nil {
				return &common.BackupExecutionError{
					Engine: common.EngineClickHouse,
					Err:    fmt.Errorf("statement %d failed: %w", count, err),
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return &common.BackupExecutionError{Engine: common.EngineClickHouse, Err: err}
	}

	c.logger.Info().Int("statements", count).Str("path", path).Msg("Replayed backup script")
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

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

// formatValue renders a scanned value as a ClickHouse SQL literal.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quoteString(t)
	case []byte:
		return quoteString(string(t))
	case time.Time:
		return "'" + t.Format("2006-01-02 15:04:05") + "'"
	case bool:
		if t {
			return "true"
		}
		return "false"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return "NULL"
		}
		return formatValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = formatValue(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return fmt.Sprint(v)
}

func quoteString(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
	)
	return "'" + r.Replace(s) + "'"
}
