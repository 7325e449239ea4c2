// Package influxdb implements the database connection contract for
// InfluxDB 2.x. Queries are Flux scripts, the configured database is the
// bucket, and backup exports the bucket's recent history as annotated CSV.
package influxdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

// How far back bucket exports and analysis reach.
const (
	analyzeRange = "-30d"
	exportRange  = "-365d"

	// Rough per-record footprint used to estimate measurement sizes;
	// InfluxDB 2.x exposes no per-measurement byte counts.
	bytesPerRecord = 100

	writeBatchSize = 1000
)

var (
	readPrefix = regexp.MustCompile(`^\s*(from\s*\(|buckets\s*\(|import\s)`)
	toSink     = regexp.MustCompile(`\bto\s*\(`)
)

// Connection is the InfluxDB adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	logger zerolog.Logger

	client    influxdb2.Client
	endpoint  *common.Endpoint
	connected bool
}

// New builds an InfluxDB adapter.
func New(cfg common.ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger.With().Str("engine", "influxdb").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineInfluxDB }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect builds the client and pings the server.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineInfluxDB, Addr: c.cfg.Addr(), Err: err}
	}

	url := c.cfg.ConnectionString
	if url == "" {
		url = fmt.Sprintf("http://%s:%d", endpoint.Host, endpoint.Port)
	}

	client := influxdb2.NewClient(url, c.token())
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		endpoint.Close()
		if err == nil {
			err = fmt.Errorf("server did not answer ping")
		}
		return &common.ConnectionError{Engine: common.EngineInfluxDB, Addr: c.cfg.Addr(), Err: err}
	}

	c.client = client
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Str("bucket", c.bucket()).Msg("Connected to InfluxDB")
	return nil
}

// Close releases the client and any tunnel. Safe to call repeatedly.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	c.client.Close()
	if c.endpoint != nil {
		c.endpoint.Close()
		c.endpoint = nil
	}
	c.client = nil
	c.connected = false
	return nil
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	return c.Connect(ctx)
}

// AnalyzeStorage counts recent records per measurement. Sizes are
// estimates derived from record counts.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	measurements, err := c.measurements(ctx)
	if err != nil {
		return nil, err
	}

	analysis := common.NewStorageAnalysis()
	for _, measurement := range measurements {
		flux := fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s)
	|> filter(fn: (r) => r["_measurement"] == %s)
	|> group()
	|> count()`,
			fluxString(c.bucket()), analyzeRange, fluxString(measurement))

		var count int64
		result, err := c.client.QueryAPI(c.org()).Query(ctx, flux)
		if err != nil {
			return nil, fmt.Errorf("failed to count measurement %s: %w", measurement, err)
		}
		for result.Next() {
			count = asInt64(result.Record().Value())
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to count measurement %s: %w", measurement, err)
		}

		analysis.AddTable(common.TableInfo{
			Name:     measurement,
			Size:     count * bytesPerRecord,
			RowCount: count,
		})
	}
	analysis.SortTablesBySize()

	return analysis.Finish(), nil
}

// ExecuteQuery runs a Flux script. Under safe mode the script must start
// from a read source and may not pipe into a to() sink.
func (c *Connection) ExecuteQuery(ctx context.Context, query string, safeMode bool) (*common.QueryResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	if safeMode && (!readPrefix.MatchString(query) || toSink.MatchString(query)) {
		return nil, &common.UnsafeQueryError{Query: query}
	}
	start := time.Now()

	result, err := c.client.QueryAPI(c.org()).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("flux query failed: %w", err)
	}

	var columns []string
	var rows []map[string]any
	for result.Next() {
		if result.TableChanged() && len(columns) == 0 {
			for _, col := range result.TableMetadata().Columns() {
				columns = append(columns, col.Name())
			}
		}
		record := result.Record()
		row := make(map[string]any, len(record.Values()))
		for k, v := range record.Values() {
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("flux query failed: %w", err)
	}

	if len(columns) == 0 {
		columns = []string{"_time", "_value"}
	}
	return &common.QueryResult{
		Columns:       columns,
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: time.Since(start),
	}, nil
}

// GetSchema lists measurements with their field keys.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	measurements, err := c.measurements(ctx)
	if err != nil {
		return nil, err
	}

	builder := common.NewSchemaBuilder(c.bucket())
	for _, measurement := range measurements {
		builder.AddTable(measurement)

		flux := fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurementFieldKeys(bucket: %s, measurement: %s)`,
			fluxString(c.bucket()), fluxString(measurement))
		result, err := c.client.QueryAPI(c.org()).Query(ctx, flux)
		if err != nil {
			continue
		}
		for result.Next() {
			if field, ok := result.Record().Value().(string); ok {
				builder.AddColumn(measurement, common.ColumnInfo{
					Name:     field,
					DataType: "field",
					Nullable: true,
				})
			}
		}
	}

	return builder.Schema(), nil
}

// CreateBackup exports the bucket's last year of data as annotated CSV.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	flux := fmt.Sprintf(`from(bucket: %s)
	|> range(start: %s)`, fluxString(c.bucket()), exportRange)

	c.logger.Info().Str("bucket", c.bucket()).Str("path", path).Msg("Exporting bucket to CSV")
	csvData, err := c.client.QueryAPI(c.org()).QueryRaw(ctx, flux, influxdb2.DefaultDialect())
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
	}
	if err := os.WriteFile(path, []byte(csvData), 0o644); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
	}

	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
	}
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup parses an annotated CSV export back into points and writes
// them to the bucket.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	points, err := parseCSVExport(path)
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
	}

	writeAPI := c.client.WriteAPIBlocking(c.org(), c.bucket())
	for start := 0; start < len(points); start += writeBatchSize {
		end := start + writeBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := writeAPI.WritePoint(ctx, points[start:end]...); err != nil {
			return &common.BackupExecutionError{Engine: common.EngineInfluxDB, Err: err}
		}
	}

	c.logger.Info().Int("points", len(points)).Str("path", path).Msg("Restored bucket from CSV")
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

// measurements lists the bucket's measurements through the schema package.
func (c *Connection) measurements(ctx context.Context) ([]string, error) {
	flux := fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurements(bucket: %s)`, fluxString(c.bucket()))

	result, err := c.client.QueryAPI(c.org()).Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}

	var measurements []string
	for result.Next() {
		if name, ok := result.Record().Value().(string); ok {
			measurements = append(measurements, name)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}
	return measurements, nil
}

func (c *Connection) bucket() string { return c.cfg.Database }

func (c *Connection) org() string {
	if c.cfg.Influx != nil && c.cfg.Influx.Org != "" {
		return c.cfg.Influx.Org
	}
	return "my-org"
}

func (c *Connection) token() string {
	if c.cfg.Influx != nil && c.cfg.Influx.Token != "" {
		return c.cfg.Influx.Token
	}
	return c.cfg.Password
}

// fluxString renders a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case uint64:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	if s, ok := v.(string); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
