package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/database/common"
	"github.com/supporttools/GoDBVault/pkg/metrics"
)

// ConnectionFactory builds a live database adapter from a profile. The
// seam keeps the manager testable without real servers.
type ConnectionFactory func(cfg common.ConnectionConfig) (common.Connection, error)

// KeepsSource is implemented by adapters whose stored copy lives on the
// local filesystem; the manager leaves the dump artifact in place for
// them instead of removing it after shipping.
type KeepsSource interface {
	KeepsSource() bool
}

// Manager drives whole backup operations: dump, ship, restore, prune.
type Manager struct {
	factory ConnectionFactory
	logger  zerolog.Logger
	tempDir string
}

// NewManager wires a manager around a connection factory.
func NewManager(factory ConnectionFactory, logger zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		logger:  logger.With().Str("component", "backup-manager").Logger(),
		tempDir: os.TempDir(),
	}
}

// CreateBackup dumps one database and ships the artifact through the
// adapter. The native connection is closed in every outcome; the temp
// dump is removed unless the adapter keeps its copy on this filesystem.
func (m *Manager) CreateBackup(ctx context.Context, adapter Adapter, connCfg common.ConnectionConfig, opts BackupOptions) (*BackupInfo, error) {
	conn, err := m.factory(connCfg)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		metrics.BackupCount.WithLabelValues(string(connCfg.Type), StatusFailed).Inc()
		return nil, err
	}
	defer conn.Close()

	start := time.Now()
	tempPath := filepath.Join(m.tempDir, fmt.Sprintf("%s_%d.dump", connCfg.Name, time.Now().UnixNano()))
	dump, err := conn.CreateBackup(ctx, tempPath)
	if err != nil {
		metrics.BackupCount.WithLabelValues(string(connCfg.Type), StatusFailed).Inc()
		return nil, err
	}

	opts.ConnectionID = connCfg.ID
	opts.ConnectionName = connCfg.Name
	opts.DatabaseType = string(connCfg.Type)
	opts.SourcePath = dump.Path

	info, err := adapter.CreateBackup(ctx, opts)
	if k, ok := adapter.(KeepsSource); !ok || !k.KeepsSource() {
		os.Remove(dump.Path)
	}
	if err != nil {
		metrics.BackupCount.WithLabelValues(string(connCfg.Type), StatusFailed).Inc()
		return nil, err
	}

	metrics.BackupCount.WithLabelValues(string(connCfg.Type), StatusCompleted).Inc()
	metrics.BackupDuration.WithLabelValues(string(connCfg.Type)).Observe(time.Since(start).Seconds())
	metrics.BackupSize.WithLabelValues(connCfg.Name).Set(float64(info.Size))

	m.logger.Info().
		Str("connection", connCfg.Name).
		Str("backup", info.Name).
		Str("size", humanize.Bytes(uint64(info.Size))).
		Dur("took", time.Since(start)).
		Msg("Backup complete")
	return info, nil
}

// RestoreBackup fetches the backup through the adapter and loads it into
// the target database. Artifacts downloaded for this operation are
// removed; an adapter returning its stored path keeps it.
func (m *Manager) RestoreBackup(ctx context.Context, adapter Adapter, info BackupInfo, connCfg common.ConnectionConfig) error {
	localPath, err := adapter.RestoreBackup(ctx, info)
	if err != nil {
		return err
	}
	if localPath != info.Path {
		defer os.Remove(localPath)
	}

	conn, err := m.factory(connCfg)
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.RestoreBackup(ctx, localPath); err != nil {
		return err
	}
	m.logger.Info().Str("connection", connCfg.Name).Str("backup", info.Name).Msg("Restore complete")
	return nil
}

// BatchResult is one connection's outcome within a batch.
type BatchResult struct {
	ConnectionID string      `json:"connectionId"`
	Status       string      `json:"status"`
	BackupInfo   *BackupInfo `json:"backupInfo,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// BatchProgress is delivered to the progress callback as each connection
// moves through in_progress, then completed or failed.
type BatchProgress struct {
	ConnectionID string
	Status       string
	Error        string
}

// CreateBatchBackups backs up each connection in order. One connection's
// failure never aborts the rest; every connection yields exactly one
// result, order preserved.
func (m *Manager) CreateBatchBackups(ctx context.Context, conns []common.ConnectionConfig, adapter Adapter, opts BackupOptions, onProgress func(BatchProgress)) []BatchResult {
	notify := func(p BatchProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	results := make([]BatchResult, 0, len(conns))
	for _, connCfg := range conns {
		notify(BatchProgress{ConnectionID: connCfg.ID, Status: StatusInProgress})

		info, err := m.CreateBackup(ctx, adapter, connCfg, opts)
		if err != nil {
			m.logger.Error().Err(err).Str("connection", connCfg.Name).Msg("Backup failed")
			results = append(results, BatchResult{ConnectionID: connCfg.ID, Status: StatusFailed, Error: err.Error()})
			notify(BatchProgress{ConnectionID: connCfg.ID, Status: StatusFailed, Error: err.Error()})
			continue
		}

		results = append(results, BatchResult{ConnectionID: connCfg.ID, Status: StatusCompleted, BackupInfo: info})
		notify(BatchProgress{ConnectionID: connCfg.ID, Status: StatusCompleted})
	}
	return results
}

// PruneBackups deletes backups older than the horizon. Per-backup delete
// failures are logged and skipped; only the listing itself is fatal.
func (m *Manager) PruneBackups(ctx context.Context, adapter Adapter, olderThan time.Duration) (int, error) {
	infos, err := adapter.ListBackups(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, info := range infos {
		if !info.CreatedAt.Before(cutoff) {
			continue
		}
		if err := adapter.DeleteBackup(ctx, info.ID); err != nil {
			m.logger.Warn().Err(err).Str("backup", info.Name).Msg("Failed to prune backup")
			continue
		}
		deleted++
		metrics.RetentionDeletions.Inc()
		m.logger.Info().Str("backup", info.Name).Time("createdAt", info.CreatedAt).Msg("Pruned expired backup")
	}
	return deleted, nil
}
