// Package mongodb implements the database connection contract for MongoDB.
// Queries are JSON documents naming a collection and a find, aggregate, or
// count operation. Backups run mongodump into a scratch directory and pack
// it into a tar.gz artifact.
package mongodb

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/supporttools/GoDBVault/pkg/cmdrunner"
	"github.com/supporttools/GoDBVault/pkg/database/common"
)

// Server commands that never mutate data, allowed as bare command names
// under safe mode. Compared lowercase.
var readCommands = map[string]bool{
	"ping":             true,
	"hello":            true,
	"ismaster":         true,
	"serverstatus":     true,
	"dbstats":          true,
	"collstats":        true,
	"listcollections":  true,
	"listdatabases":    true,
	"buildinfo":        true,
	"hostinfo":         true,
	"connectionstatus": true,
}

// Connection is the MongoDB adapter.
type Connection struct {
	cfg    common.ConnectionConfig
	runner cmdrunner.Runner
	logger zerolog.Logger

	client    *mongo.Client
	db        *mongo.Database
	endpoint  *common.Endpoint
	connected bool
}

// New builds a MongoDB adapter.
func New(cfg common.ConnectionConfig, runner cmdrunner.Runner, logger zerolog.Logger) *Connection {
	return &Connection{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("engine", "mongodb").Str("connection", cfg.Name).Logger(),
	}
}

// Engine returns the adapter's engine tag.
func (c *Connection) Engine() common.EngineType { return common.EngineMongoDB }

// Config returns the configuration the adapter was built from.
func (c *Connection) Config() common.ConnectionConfig { return c.cfg }

// Connect establishes the driver session and pings the primary.
func (c *Connection) Connect(ctx context.Context) error {
	if c.connected {
		return nil
	}

	endpoint, err := common.ResolveEndpoint(c.cfg)
	if err != nil {
		return &common.ConnectionError{Engine: common.EngineMongoDB, Addr: c.cfg.Addr(), Err: err}
	}

	uri := c.cfg.ConnectionString
	if uri == "" {
		uri = c.buildURI(endpoint.Host, endpoint.Port)
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineMongoDB, Addr: c.cfg.Addr(), Err: err}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		endpoint.Close()
		return &common.ConnectionError{Engine: common.EngineMongoDB, Addr: c.cfg.Addr(), Err: err}
	}

	name := c.cfg.Database
	if name == "" {
		name = "admin"
	}

	c.client = client
	c.db = client.Database(name)
	c.endpoint = endpoint
	c.connected = true
	c.logger.Debug().Str("database", name).Msg("Connected to MongoDB")
	return nil
}

// Close tears down the session and any tunnel. Safe to call repeatedly.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	err := c.client.Disconnect(context.Background())
	if c.endpoint != nil {
		c.endpoint.Close()
		c.endpoint = nil
	}
	c.client = nil
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

// AnalyzeStorage sizes every collection through collStats and records
// index names. Index sizes are reported in aggregate per collection, so
// individual index entries carry no size.
func (c *Connection) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	analysis := common.NewStorageAnalysis()
	for _, name := range names {
		var stats bson.M
		err := c.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: name}}).Decode(&stats)
		if err != nil {
			c.logger.Warn().Err(err).Str("collection", name).Msg("collStats failed, skipping collection")
			continue
		}

		analysis.AddTable(common.TableInfo{
			Name:      name,
			Size:      asInt64(stats["size"]),
			RowCount:  asInt64(stats["count"]),
			IndexSize: asInt64(stats["totalIndexSize"]),
		})

		cur, err := c.db.Collection(name).Indexes().List(ctx)
		if err != nil {
			continue
		}
		var specs []bson.M
		if err := cur.All(ctx, &specs); err != nil {
			continue
		}
		for _, spec := range specs {
			idxName, _ := spec["name"].(string)
			analysis.AddIndex(common.IndexInfo{Name: idxName, TableName: name})
		}
	}
	analysis.SortTablesBySize()

	return analysis.Finish(), nil
}

// ExecuteQuery runs a JSON query document against the session. The document
// names a collection plus one of find (filter), aggregate (pipeline), or
// count (filter); anything else is treated as a raw database command. A
// non-JSON query is run as a bare command name.
func (c *Connection) ExecuteQuery(ctx context.Context, query string, safeMode bool) (*common.QueryResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(query), false, &doc); err != nil {
		name := strings.TrimSpace(query)
		if safeMode && !readCommands[strings.ToLower(name)] {
			return nil, &common.UnsafeQueryError{Query: query}
		}
		var out bson.D
		if err := c.db.RunCommand(ctx, bson.D{{Key: name, Value: 1}}).Decode(&out); err != nil {
			return nil, fmt.Errorf("command %s failed: %w", name, err)
		}
		return resultFromDocs([]bson.D{out}, time.Since(start)), nil
	}

	fields := doc.Map()
	collName, _ := fields["collection"].(string)
	coll := c.db.Collection(collName)

	var docs []bson.D
	switch {
	case hasKey(fields, "find"):
		cur, err := coll.Find(ctx, filterOrEmpty(fields["find"]))
		if err != nil {
			return nil, fmt.Errorf("find on %s failed: %w", collName, err)
		}
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("failed to read find results: %w", err)
		}

	case hasKey(fields, "aggregate"):
		pipeline := fields["aggregate"]
		if pipeline == nil {
			pipeline = bson.A{}
		}
		cur, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregate on %s failed: %w", collName, err)
		}
		if err := cur.All(ctx, &docs); err != nil {
			return nil, fmt.Errorf("failed to read aggregate results: %w", err)
		}

	case hasKey(fields, "count"):
		n, err := coll.CountDocuments(ctx, filterOrEmpty(fields["count"]))
		if err != nil {
			return nil, fmt.Errorf("count on %s failed: %w", collName, err)
		}
		docs = []bson.D{{{Key: "count", Value: n}}}

	default:
		if safeMode && !readCommands[strings.ToLower(firstKey(doc))] {
			return nil, &common.UnsafeQueryError{Query: query}
		}
		var out bson.D
		if err := c.db.RunCommand(ctx, doc).Decode(&out); err != nil {
			return nil, fmt.Errorf("command failed: %w", err)
		}
		docs = []bson.D{out}
	}

	return resultFromDocs(docs, time.Since(start)), nil
}

// GetSchema infers per-collection fields from one sampled document and
// lists index names.
func (c *Connection) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	builder := common.NewSchemaBuilder(c.db.Name())
	for _, name := range names {
		builder.AddTable(name)
		coll := c.db.Collection(name)

		var sample bson.D
		if err := coll.FindOne(ctx, bson.D{}).Decode(&sample); err == nil {
			for _, field := range sample {
				builder.AddColumn(name, common.ColumnInfo{
					Name:     field.Key,
					DataType: bsonTypeName(field.Value),
					Nullable: true,
				})
			}
		}

		cur, err := coll.Indexes().List(ctx)
		if err != nil {
			continue
		}
		var specs []bson.M
		if err := cur.All(ctx, &specs); err != nil {
			continue
		}
		for _, spec := range specs {
			if idxName, ok := spec["name"].(string); ok {
				builder.AddIndex(name, idxName)
			}
		}
	}

	return builder.Schema(), nil
}

// CreateBackup runs mongodump into a scratch directory and packs the dump
// into a tar.gz at path.
func (c *Connection) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "godbvault-mongodump-")
	if err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	args := append(c.connArgs(), "--out", tempDir)
	c.logger.Info().Str("path", path).Msg("Running mongodump")
	res, err := c.runner.Run(ctx, cmdrunner.Command{Path: "mongodump", Args: args})
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMongoDB, Output: stderrOf(res), Err: err}
	}

	if err := tarDir(path, tempDir); err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMongoDB, Err: err}
	}
	size, err := common.ArtifactSize(path)
	if err != nil {
		return nil, &common.BackupExecutionError{Engine: common.EngineMongoDB, Err: err}
	}
	return &common.DumpResult{Path: path, Size: size}, nil
}

// RestoreBackup unpacks the tar.gz artifact and replays it with
// mongorestore --drop.
func (c *Connection) RestoreBackup(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup artifact not readable: %w", err)
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	tempDir, err := os.MkdirTemp("", "godbvault-mongorestore-")
	if err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if err := untarDir(path, tempDir); err != nil {
		return &common.BackupExecutionError{Engine: common.EngineMongoDB, Err: err}
	}

	// mongodump --out nests the dump under a per-database directory; point
	// mongorestore at it when present.
	target := tempDir
	if c.cfg.Database != "" {
		sub := filepath.Join(tempDir, c.cfg.Database)
		if st, err := os.Stat(sub); err == nil && st.IsDir() {
			target = sub
		}
	}

	args := append(c.connArgs(), "--drop", target)
	c.logger.Info().Str("path", path).Msg("Running mongorestore")
	res, err := c.runner.Run(ctx, cmdrunner.Command{Path: "mongorestore", Args: args})
	if err != nil {
		return &common.BackupExecutionError{Engine: common.EngineMongoDB, Output: stderrOf(res), Err: err}
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

func (c *Connection) buildURI(host string, port int) string {
	var userinfo string
	if c.cfg.Username != "" {
		userinfo = url.QueryEscape(c.cfg.Username) + ":" + url.QueryEscape(c.cfg.Password) + "@"
	}
	uri := fmt.Sprintf("mongodb://%s%s:%d/?authSource=%s", userinfo, host, port, c.authSource())
	if c.cfg.Mongo != nil && c.cfg.Mongo.ReplicaSet != "" {
		uri += "&replicaSet=" + url.QueryEscape(c.cfg.Mongo.ReplicaSet)
	}
	return uri
}

func (c *Connection) authSource() string {
	if c.cfg.Mongo != nil && c.cfg.Mongo.AuthSource != "" {
		return c.cfg.Mongo.AuthSource
	}
	return "admin"
}

// connArgs builds the shared mongodump/mongorestore argument list, pointed
// at the tunnel endpoint when one is active.
func (c *Connection) connArgs() []string {
	if c.cfg.ConnectionString != "" {
		return []string{"--uri", c.cfg.ConnectionString}
	}

	host := c.cfg.Host
	port := c.cfg.EffectivePort()
	if c.endpoint != nil {
		host = c.endpoint.Host
		port = c.endpoint.Port
	}

	args := []string{"--host", fmt.Sprintf("%s:%d", host, port)}
	if c.cfg.Database != "" {
		args = append(args, "--db", c.cfg.Database)
	}
	if c.cfg.Username != "" {
		args = append(args,
			"--username", c.cfg.Username,
			"--password", c.cfg.Password,
			"--authenticationDatabase", c.authSource())
	}
	return args
}

func resultFromDocs(docs []bson.D, elapsed time.Duration) *common.QueryResult {
	var columns []string
	if len(docs) > 0 {
		for _, field := range docs[0] {
			columns = append(columns, field.Key)
		}
	}

	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row := make(map[string]any, len(doc))
		for _, field := range doc {
			row[field.Key] = normalize(field.Value)
		}
		rows = append(rows, row)
	}

	return &common.QueryResult{
		Columns:       columns,
		Rows:          rows,
		RowCount:      len(rows),
		ExecutionTime: elapsed,
	}
}

// normalize rewrites driver-native BSON values into plain Go values so
// results serialize cleanly.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time()
	default:
		return v
	}
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case primitive.ObjectID:
		return "objectId"
	case primitive.DateTime:
		return "date"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func firstKey(doc bson.D) string {
	if len(doc) == 0 {
		return ""
	}
	return doc[0].Key
}

func filterOrEmpty(v any) any {
	if v == nil {
		return bson.D{}
	}
	return v
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case int:
		return int64(t)
	}
	return 0
}

func stderrOf(res *cmdrunner.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
