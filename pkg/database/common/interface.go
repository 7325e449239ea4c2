package common

import (
	"context"
)

// Connection is the uniform contract every engine adapter implements.
// Adapters establish their native session lazily: any data-access call on a
// disconnected adapter connects first. An adapter instance is owned by one
// logical operation at a time and is not safe for concurrent use.
type Connection interface {
	// Engine returns the adapter's engine tag.
	Engine() EngineType

	// Config returns the configuration the adapter was built from.
	Config() ConnectionConfig

	// Connect establishes the native session. Fails with ConnectionError on
	// network, authentication, or resolution failure; never retries.
	Connect(ctx context.Context) error

	// Close releases the native session. Idempotent: safe before Connect
	// and safe to call twice.
	Close() error

	// AnalyzeStorage produces a fresh storage snapshot. Read-only.
	AnalyzeStorage(ctx context.Context) (*StorageAnalysis, error)

	// ExecuteQuery runs a statement in the engine's native dialect. With
	// safeMode true, statements that are not lexically read-only are
	// rejected with UnsafeQueryError before reaching the engine.
	ExecuteQuery(ctx context.Context, query string, safeMode bool) (*QueryResult, error)

	// GetSchema enumerates tables/collections/measurements and, where
	// cheap, their columns and indexes.
	GetSchema(ctx context.Context) (*SchemaInfo, error)

	// CreateBackup materializes a complete restorable dump at (or derived
	// from) path and reports the final artifact. A missing or empty
	// artifact is never reported as success.
	CreateBackup(ctx context.Context, path string) (*DumpResult, error)

	// RestoreBackup loads the artifact at path back into the database.
	RestoreBackup(ctx context.Context, path string) error

	// TestConnection is Connect plus Close with every error collapsed into
	// the boolean. Intended for ping checks only.
	TestConnection(ctx context.Context) bool
}

// DumpResult reports the artifact produced by Connection.CreateBackup.
type DumpResult struct {
	// Path is the artifact's location. Adapters may extend the requested
	// path with an engine-specific suffix (.dmp, .sql, .tar.gz).
	Path string

	// Size is the artifact's byte length.
	Size int64
}
