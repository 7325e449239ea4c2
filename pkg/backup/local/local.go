// Package local stores backups in a directory on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/backup"
)

// Config for the filesystem destination.
type Config struct {
	// Directory receives the artifacts.
	Directory string

	// EncryptionKey decrypts artifacts whose metadata declares
	// encryption. Restores of encrypted backups fail without it.
	EncryptionKey string
}

// Adapter implements backup.Adapter over a directory.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
}

// New builds a filesystem adapter. The directory is created lazily on the
// first store.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	return &Adapter{cfg: cfg, logger: logger.With().Str("adapter", "local").Logger()}
}

// KeepsSource marks this destination as sharing the local filesystem; the
// backup manager leaves dump sources in place for it.
func (a *Adapter) KeepsSource() bool { return true }

// CreateBackup copies the artifact into the directory, compressing and
// encrypting on the way.
func (a *Adapter) CreateBackup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupInfo, error) {
	src, err := os.Open(opts.SourcePath)
	if os.IsNotExist(err) {
		return nil, &backup.SourceNotFoundError{Path: opts.SourcePath}
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := os.MkdirAll(a.cfg.Directory, 0o755); err != nil {
		return nil, &backup.TransportError{Op: "store", Err: err}
	}

	comp := opts.Compression
	if comp == "" {
		comp = backup.CompressionNone
	}
	now := time.Now()
	name := backup.ArtifactName(opts.ConnectionName, now, comp, opts.Encrypt)
	dstPath := filepath.Join(a.cfg.Directory, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, &backup.TransportError{Op: "store", Err: err}
	}
	if err := backup.EncodeTo(dst, src, comp, opts.Encrypt, opts.EncryptionKey); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return nil, &backup.TransportError{Op: "store", Err: err}
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return nil, &backup.TransportError{Op: "store", Err: err}
	}

	fi, err := os.Stat(dstPath)
	if err != nil {
		return nil, &backup.TransportError{Op: "store", Err: err}
	}

	metadata := map[string]string{
		backup.MetaCompression:  string(comp),
		backup.MetaEncrypted:    strconv.FormatBool(opts.Encrypt),
		backup.MetaDatabaseType: opts.DatabaseType,
		backup.MetaConnectionID: opts.ConnectionID,
		backup.MetaCreatedAt:    now.Format(time.RFC3339),
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	a.logger.Info().Str("backup", name).Str("path", dstPath).Msg("Stored backup")
	return &backup.BackupInfo{
		ID:        backup.DeriveID(backup.NamespaceLocal, name),
		Name:      name,
		Path:      dstPath,
		Size:      fi.Size(),
		CreatedAt: now,
		Status:    backup.StatusCompleted,
		Metadata:  metadata,
	}, nil
}

// RestoreBackup returns the stored path directly for plain artifacts;
// compressed or encrypted ones are unwrapped into a temporary file the
// caller deletes.
func (a *Adapter) RestoreBackup(ctx context.Context, info backup.BackupInfo) (string, error) {
	if _, err := os.Stat(info.Path); err != nil {
		if os.IsNotExist(err) {
			return "", &backup.BackupNotFoundError{ID: info.ID}
		}
		return "", err
	}

	comp, encrypted := info.Compression(), info.Encrypted()
	if comp == backup.CompressionNone && !encrypted {
		return info.Path, nil
	}

	src, err := os.Open(info.Path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "godbvault-restore-*.backup")
	if err != nil {
		return "", err
	}
	if err := backup.DecodeFrom(tmp, src, comp, encrypted, a.cfg.EncryptionKey); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ListBackups enumerates the directory. Codec and encryption flags come
// from the artifact names.
func (a *Adapter) ListBackups(ctx context.Context) ([]backup.BackupInfo, error) {
	entries, err := os.ReadDir(a.cfg.Directory)
	if os.IsNotExist(err) {
		return []backup.BackupInfo{}, nil
	}
	if err != nil {
		return nil, &backup.TransportError{Op: "list", Err: err}
	}

	infos := make([]backup.BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".backup") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		comp, encrypted := backup.InferFromName(entry.Name())
		infos = append(infos, backup.BackupInfo{
			ID:        backup.DeriveID(backup.NamespaceLocal, entry.Name()),
			Name:      entry.Name(),
			Path:      filepath.Join(a.cfg.Directory, entry.Name()),
			Size:      fi.Size(),
			CreatedAt: fi.ModTime(),
			Status:    backup.StatusCompleted,
			Metadata: map[string]string{
				backup.MetaCompression: string(comp),
				backup.MetaEncrypted:   strconv.FormatBool(encrypted),
			},
		})
	}
	return infos, nil
}

// DeleteBackup removes the artifact with the given id.
func (a *Adapter) DeleteBackup(ctx context.Context, id string) error {
	infos, err := a.ListBackups(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ID != id {
			continue
		}
		if err := os.Remove(info.Path); err != nil {
			return &backup.TransportError{Op: "delete", Err: err}
		}
		a.logger.Info().Str("backup", info.Name).Msg("Deleted backup")
		return nil
	}
	return &backup.BackupNotFoundError{ID: id}
}

// ValidateOptions checks the directory exists and is writable.
func (a *Adapter) ValidateOptions(ctx context.Context) error {
	if a.cfg.Directory == "" {
		return fmt.Errorf("local backup directory is not configured")
	}
	if err := os.MkdirAll(a.cfg.Directory, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(a.cfg.Directory, ".probe-*")
	if err != nil {
		return fmt.Errorf("backup directory %s is not writable: %w", a.cfg.Directory, err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}
