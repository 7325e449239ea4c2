// Package redis implements the database connection contract for Redis.
// Keys are grouped by type into pseudo-tables for analysis, queries are
// plain server commands, and backup copies the server's RDB snapshot.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

// Commands that never mutate the keyspace, allowed under safe mode.
var readCommands = map[string]bool{
	"GET": true, "MGET": true, "HGET": true, "HGETALL": true,
	"LRANGE": true, "SMEMBERS": true, "ZRANGE": true, "KEYS": true,
	"SCAN": true, "TTL": true, "EXISTS": true, "TYPE": true,
	"INFO": true, "DBSIZE": true, "LLEN": true, "SCARD": true,
	"ZCARD": true, "STRLEN": true,
}

// Connection is the Redis adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	logger zerolog.Logger

	client    *redislib.Client
	endpoint  *common.Endpoint
	connected bool
}

// New builds a Redis adapter.
func New(cfg common.ConnectionConfig, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: logger.With().Str("engine", "redis").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineRedis }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect opens the client and pings the server.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineRedis, Addr: c.cfg.Addr(), Err: err}
	}

	var client *redislib.Client
	if c.cfg.ConnectionString != "" {
		opts, err := redislib.ParseURL(c.cfg.ConnectionString)
		if err != nil {
			endpoint.Close()
			return &common.ConnectionError{Engine: common.EngineRedis, Addr: c.cfg.Addr(), Err: err}
		}
		client = redislib.NewClient(opts)
	} else {
		client = redislib.NewClient(&redislib.Options{
			Addr:     fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port),
			Password: c.cfg.Password,
			DB:       c.databaseIndex(),
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineRedis, Addr: c.cfg.Addr(), Err: err}
	}

	c.client = client
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Msg("Connected to Redis")
	return nil
}

// Close tears down the client and any tunnel. Safe to call repeatedly.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	err := c.client.Close()
	if c.endpoint != nil {
		c.endpoint.Close()
		c.endpoint = nil
	}
	c.client = nil
	c.connected = false
	return err
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	return c.Connect(ctx)
}

// AnalyzeStorage reads total memory from INFO, scans the keyspace grouping
// keys by type into pseudo-tables, and reports the single largest key as
// the largest table.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("INFO memory failed: %w", err)
	}
	usedMemory := parseInfoInt(info, "used_memory")

	if n, err := c.client.DBSize(ctx).Result(); err == nil {
		c.logger.Debug().Int64("keys", n).Msg("Scanning keyspace")
	}

	typeCounts := make(map[string]int64)
	typeSizes := make(map[string]int64)
	var largestKey string
	var largestSize int64

	iter := c.client.Scan(ctx, 0, "*", 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		keyType, err := c.client.Type(ctx, key).Result()
		if err != nil {
			continue
		}
		typeCounts[keyType]++

		size, err := c.client.MemoryUsage(ctx, key).Result()
		if err != nil {
			continue
		}
		typeSizes[keyType] += size
		if size > largestSize {
			largestKey, largestSize = key, size
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("keyspace scan failed: %w", err)
	}

	types := make([]string, 0, len(typeCounts))
	for keyType := range typeCounts {
		types = append(types, keyType)
	}
	sort.Strings(types)

	analysis := common.NewStorageAnalysis()
	analysis.TotalSize = usedMemory
	for _, keyType := range types {
		analysis.AddTable(common.TableInfo{
			Name:     "keys:" + keyType,
			Size:     typeSizes[keyType],
			RowCount: typeCounts[keyType],
		})
	}
	analysis.SortTablesBySize()

	result := analysis.Finish()
	if largestKey != "" {
		result.LargestTable = common.TableInfo{Name: largestKey, Size: largestSize}
	}
	return result, nil
}

// ExecuteQuery runs a server command. The query is either a space-separated
// command line or a JSON array of argument arrays executed as a pipeline.
func (c *Connection) ExecuteQuery(ctx context.Context, query string, safeMode bool) (*common.QueryResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	commands, err := parseCommands(query)
	if err != nil {
		return nil, err
	}
	if safeMode {
		for _, args := range commands {
			verb := strings.ToUpper(fmt.Sprint(args[0]))
			if !readCommands[verb] {
				return nil, &common.UnsafeQueryError{Query: query}
			}
		}
	}

	var replies []any
	if len(commands) == 1 {
		reply, err := c.client.Do(ctx, commands[0]...).Result()
		if err != nil {
			return nil, fmt.Errorf("command failed: %w", err)
		}
		// A multi-bulk reply becomes one row per element.
		if list, ok := reply.([]any); ok {
			replies = list
		} else {
			replies = []any{reply}
		}
	} else {
		pipe := c.client.Pipeline()
		cmds := make([]*redislib.Cmd, 0, len(commands))
		for _, args := range commands {
			cmds = append(cmds, pipe.Do(ctx, args...))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redislib.Nil {
			return nil, fmt.Errorf("pipeline failed: %w", err)
		}
		for _, cmd := range cmds {
			reply, err := cmd.Result()
			if err != nil && err != redislib.Nil {
				return nil, fmt.Errorf("command failed: %w", err)
			}
			replies = append(replies, reply)
		}
	}

	rows := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		rows = append(rows, map[string]any{"result": normalizeReply(reply)})
	}

	return &common.QueryResult{
		Columns:       []string{"result"},
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: time.Since(start),
	}, nil
}

// GetSchema reports one pseudo-table per key type with key/value columns.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	typeCounts := make(map[string]int64)
	iter := c.client.Scan(ctx, 0, "*", 500).Iterator()
	for iter.Next(ctx) {
		keyType, err := c.client.Type(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		typeCounts[keyType]++
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("keyspace scan failed: %w", err)
	}

	types := make([]string, 0, len(typeCounts))
	for keyType := range typeCounts {
		types = append(types, keyType)
	}
	sort.Strings(types)

	name := c.cfg.Database
	if name == "" {
		name = "default"
	}
	builder := common.NewSchemaBuilder(name)
	for _, keyType := range types {
		table := "keys:" + keyType
		builder.AddTable(table)
		builder.AddColumn(table, common.ColumnInfo{Name: "key", DataType: "string", Nullable: false})
		builder.AddColumn(table, common.ColumnInfo{Name: "value", DataType: keyType, Nullable: true})
	}

	return builder.Schema(), nil
}

// CreateBackup triggers a synchronous SAVE and copies the server's RDB
// file to path. The RDB path comes from CONFIG GET dir/dbfilename, so this
// requires filesystem access to the server's data directory.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	if err := c.client.Save(ctx).Err(); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineRedis, Err: fmt.Errorf("SAVE failed: %w", err)}
	}

	rdbPath, err := c.rdbPath(ctx)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineRedis, Err: err}
	}

	c.logger.Info().Str("rdb", rdbPath).Str("path", path).Msg("Copying RDB snapshot")
	size, err := common.CopyFile(path, rdbPath)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineRedis, Err: err}
	}
	if size == 0 {
		return nil, &common.BackupExecutionError{
			Engine: common.EngineRedis,
			Err:    fmt.Errorf("RDB snapshot %s is empty", rdbPath),
		}
	}

	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup copies the artifact back into the server's data directory.
// The server only loads the file on its next start, which is out of this
// process's hands.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	rdbPath, err := c.rdbPath(ctx)
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineRedis, Err: err}
	}

	if err := c.Close(); err != nil {
		return err
	}

	if _, err := common.CopyFile(rdbPath, path); err != nil {
		return &common.BackupExecutionError{Engine: common.EngineRedis, Err: err}
	}

	c.logger.Warn().Str("rdb", rdbPath).
		Msg("RDB file restored; the Redis server must be restarted to load it")
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

func (c *Connection) databaseIndex() int {
	if c.cfg.Redis != nil {
		return c.cfg.Redis.DB
	}
	if c.cfg.Database != "" {
		if n, err := strconv.Atoi(c.cfg.Database); err == nil {
			return n
		}
	}
	return 0
}

// rdbPath resolves the server's RDB file location from its live config.
func (c *Connection) rdbPath(ctx context.Context) (string, error) {
	dirConf, err := c.client.ConfigGet(ctx, "dir").Result()
	if err != nil {
		return "", fmt.Errorf("CONFIG GET dir failed: %w", err)
	}
	fileConf, err := c.client.ConfigGet(ctx, "dbfilename").Result()
	if err != nil {
		return "", fmt.Errorf("CONFIG GET dbfilename failed: %w", err)
	}

	dir := dirConf["dir"]
	if dir == "" {
		dir = "/var/lib/redis"
	}
	file := fileConf["dbfilename"]
	if file == "" {
		file = "dump.rdb"
	}
	return filepath.Join(dir, file), nil
}

// parseCommands splits a query into one or more argument lists. A JSON
// array of arrays is a pipeline; a JSON array of scalars is one command;
// anything else splits on whitespace.
func parseCommands(query string) ([][]any, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(trimmed, "[") {
		var nested [][]any
		if err := json.Unmarshal([]byte(trimmed), &nested); err == nil && len(nested) > 0 {
			for _, args := range nested {
				if len(args) == 0 {
					return nil, fmt.Errorf("empty command in pipeline")
				}
			}
			return nested, nil
		}
		var flat []any
		if err := json.Unmarshal([]byte(trimmed), &flat); err == nil && len(flat) > 0 {
			return [][]any{flat}, nil
		}
	}

	fields := strings.Fields(trimmed)
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return [][]any{args}, nil
}

// normalizeReply rewrites driver replies into plain printable values.
func normalizeReply(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeReply(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalizeReply(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeReply(e)
		}
		return out
	default:
		return v
	}
}

// parseInfoInt pulls an integer field out of an INFO section reply.
func parseInfoInt(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if value, ok := strings.CutPrefix(line, field+":"); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}
