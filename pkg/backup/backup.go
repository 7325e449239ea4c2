// Package backup ships finished database dump artifacts to backup
// destinations and brings them back. Destinations are polymorphic behind
// the Adapter interface; the destination itself is the only inventory,
// there is no separate index of backups.
package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Compression names the stream codec applied to an artifact on its way to
// the destination.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression folds user input onto a known Compression value.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	case "zstd", "zst":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", s)
}

// Backup status values. Batch results additionally use StatusInProgress
// for progress callbacks.
const (
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusInProgress = "in_progress"
)

// Metadata keys shared by every adapter. S3 carries them as object
// metadata, Drive as custom file properties, the local adapter derives
// them from the artifact name.
const (
	MetaCompression  = "compression"
	MetaEncrypted    = "encrypted"
	MetaDatabaseType = "database-type"
	MetaConnectionID = "connection-id"
	MetaCreatedAt    = "created-at"
)

// BackupInfo describes one stored backup. Path is the adapter-specific
// locator (absolute file path, object key, Drive file id) and is opaque
// outside the adapter that produced it.
type BackupInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Path      string            `json:"path"`
	Size      int64             `json:"size"`
	CreatedAt time.Time         `json:"createdAt"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Compression reports the codec recorded for this backup, falling back to
// the artifact name when metadata is absent.
func (b BackupInfo) Compression() Compression {
	if c, ok := b.Metadata[MetaCompression]; ok {
		return Compression(c)
	}
	c, _ := InferFromName(b.Name)
	return c
}

// Encrypted reports whether the artifact was encrypted at rest.
func (b BackupInfo) Encrypted() bool {
	if v, ok := b.Metadata[MetaEncrypted]; ok {
		return v == "true"
	}
	_, enc := InferFromName(b.Name)
	return enc
}

// BackupOptions is the transient request for shipping one artifact. It is
// never persisted; scheduled jobs store only adapter type and config.
type BackupOptions struct {
	ConnectionID   string
	ConnectionName string
	DatabaseType   string

	// SourcePath is the finished local dump artifact to ship.
	SourcePath string

	Compression   Compression
	Encrypt       bool
	EncryptionKey string

	Metadata map[string]string
}

// Adapter moves artifacts to and from one backup destination.
type Adapter interface {
	// CreateBackup ships the artifact at opts.SourcePath, applying
	// compression and encryption on the way. The source is never deleted.
	CreateBackup(ctx context.Context, opts BackupOptions) (*BackupInfo, error)

	// RestoreBackup makes the backup usable locally, downloading and
	// undoing compression/encryption as needed. When the returned path
	// differs from info.Path it is a temporary the caller must delete.
	RestoreBackup(ctx context.Context, info BackupInfo) (string, error)

	// ListBackups enumerates the destination. The listing is the
	// authoritative inventory.
	ListBackups(ctx context.Context) ([]BackupInfo, error)

	// DeleteBackup removes the backup with the given id, resolved via the
	// listing. BackupNotFoundError when no such id exists.
	DeleteBackup(ctx context.Context, id string) error

	// ValidateOptions is a cheap connectivity and permission probe.
	ValidateOptions(ctx context.Context) error
}

// Adapter id namespaces. Ids are derived, not minted: the same artifact
// always lists under the same id (uuid.NewSHA1 over namespace + locator).
var (
	NamespaceLocal  = uuid.MustParse("8f9d2c1e-4b6a-4e0f-9b3d-7c5a2e1f8d04")
	NamespaceS3     = uuid.MustParse("c3e1f5a7-9b2d-4c8e-a1f6-0d4b7e9c2a53")
	NamespaceGDrive = uuid.MustParse("1d7e3b9f-6c2a-4d5e-8f0b-9a4c6e2d1b78")
)

// DeriveID computes the stable backup id for an artifact locator.
func DeriveID(namespace uuid.UUID, locator string) string {
	return uuid.NewSHA1(namespace, []byte(locator)).String()
}

// ArtifactName builds the destination name for a new backup:
// <connection>_<YYYYMMDD_HHMMSS>.backup plus codec suffixes.
func ArtifactName(connectionName string, at time.Time, c Compression, encrypted bool) string {
	name := fmt.Sprintf("%s_%s.backup", connectionName, at.Format("20060102_150405"))
	name += CompressionSuffix(c)
	if encrypted {
		name += ".enc"
	}
	return name
}

// CompressionSuffix returns the file suffix for a codec, empty for none.
func CompressionSuffix(c Compression) string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	}
	return ""
}

// InferFromName recovers codec and encryption flag from an artifact name
// produced by ArtifactName.
func InferFromName(name string) (Compression, bool) {
	encrypted := strings.HasSuffix(name, ".enc")
	name = strings.TrimSuffix(name, ".enc")
	switch {
	case strings.HasSuffix(name, ".gz"):
		return CompressionGzip, encrypted
	case strings.HasSuffix(name, ".zst"):
		return CompressionZstd, encrypted
	}
	return CompressionNone, encrypted
}
