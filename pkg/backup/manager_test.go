package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/database/common"
)

type fakeConn struct {
	cfg        common.ConnectionConfig
	connectErr error
	dumpErr    error
	dumpData   string
	dumpPath   string
	restored   []string
	closes     int
}

func (c *fakeConn) Engine() common.EngineType       { return c.cfg.Type }
func (c *fakeConn) Config() common.ConnectionConfig { return c.cfg }

func (c *fakeConn) Connect(ctx context.Context) error { return c.connectErr }

func (c *fakeConn) Close() error {
	c.closes++
	return nil
}

func (c *fakeConn) AnalyzeStorage(ctx context.Context) (*common.StorageAnalysis, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) ExecuteQuery(ctx context.Context, query string, safeMode bool) (*common.QueryResult, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) GetSchema(ctx context.Context) (*common.SchemaInfo, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) CreateBackup(ctx context.Context, path string) (*common.DumpResult, error) {
	if c.dumpErr != nil {
		return nil, c.dumpErr
	}
	if err := os.WriteFile(path, []byte(c.dumpData), 0o644); err != nil {
		return nil, err
	}
	c.dumpPath = path
	return &common.DumpResult{Path: path, Size: int64(len(c.dumpData))}, nil
}

func (c *fakeConn) RestoreBackup(ctx context.Context, path string) error {
	c.restored = append(c.restored, path)
	return nil
}

func (c *fakeConn) TestConnection(ctx context.Context) bool { return c.connectErr == nil }

type fakeAdapter struct {
	shipped     []BackupOptions
	createErr   error
	infos       []BackupInfo
	restorePath string
	deleteErr   map[string]error
	deleted     []string
}

func (a *fakeAdapter) CreateBackup(ctx context.Context, opts BackupOptions) (*BackupInfo, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	a.shipped = append(a.shipped, opts)
	return &BackupInfo{
		ID:        fmt.Sprintf("backup-%d", len(a.shipped)),
		Name:      opts.ConnectionName,
		Size:      1,
		CreatedAt: time.Now(),
		Status:    StatusCompleted,
	}, nil
}

func (a *fakeAdapter) RestoreBackup(ctx context.Context, info BackupInfo) (string, error) {
	return a.restorePath, nil
}

func (a *fakeAdapter) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	return a.infos, nil
}

func (a *fakeAdapter) DeleteBackup(ctx context.Context, id string) error {
	if err := a.deleteErr[id]; err != nil {
		return err
	}
	a.deleted = append(a.deleted, id)
	return nil
}

func (a *fakeAdapter) ValidateOptions(ctx context.Context) error { return nil }

// keepingAdapter marks its stored copy as living on this filesystem.
type keepingAdapter struct{ *fakeAdapter }

func (keepingAdapter) KeepsSource() bool { return true }

func singleConnFactory(conn *fakeConn) ConnectionFactory {
	return func(cfg common.ConnectionConfig) (common.Connection, error) {
		conn.cfg = cfg
		return conn, nil
	}
}

func newTestManager(t *testing.T, factory ConnectionFactory) *Manager {
	t.Helper()
	m := NewManager(factory, zerolog.Nop())
	m.tempDir = t.TempDir()
	return m
}

func TestCreateBackupDumpsAndShips(t *testing.T) {
	conn := &fakeConn{dumpData: "dump bytes"}
	adapter := &fakeAdapter{}
	m := newTestManager(t, singleConnFactory(conn))

	cfg := common.ConnectionConfig{ID: "c1", Name: "orders", Type: common.EnginePostgres}
	info, err := m.CreateBackup(context.Background(), adapter, cfg, BackupOptions{Compression: CompressionGzip})
	require.NoError(t, err)
	require.NotNil(t, info)

	require.Len(t, adapter.shipped, 1)
	opts := adapter.shipped[0]
	assert.Equal(t, "c1", opts.ConnectionID)
	assert.Equal(t, "orders", opts.ConnectionName)
	assert.Equal(t, string(common.EnginePostgres), opts.DatabaseType)
	assert.Equal(t, conn.dumpPath, opts.SourcePath)
	assert.Equal(t, CompressionGzip, opts.Compression)

	_, err = os.Stat(conn.dumpPath)
	assert.True(t, os.IsNotExist(err), "temp dump must be removed after shipping")
	assert.Equal(t, 1, conn.closes, "database session must be closed")
}

func TestCreateBackupKeepsDumpForFilesystemDestinations(t *testing.T) {
	conn := &fakeConn{dumpData: "dump bytes"}
	m := newTestManager(t, singleConnFactory(conn))

	adapter := keepingAdapter{&fakeAdapter{}}
	_, err := m.CreateBackup(context.Background(), adapter,
		common.ConnectionConfig{ID: "c1", Name: "orders", Type: common.EngineSQLite}, BackupOptions{})
	require.NoError(t, err)

	_, err = os.Stat(conn.dumpPath)
	assert.NoError(t, err, "filesystem destinations own their copy, the dump stays")
}

func TestCreateBackupConnectFailure(t *testing.T) {
	conn := &fakeConn{connectErr: errors.New("connection refused")}
	adapter := &fakeAdapter{}
	m := newTestManager(t, singleConnFactory(conn))

	_, err := m.CreateBackup(context.Background(), adapter,
		common.ConnectionConfig{ID: "c1", Name: "orders", Type: common.EngineMySQL}, BackupOptions{})
	require.Error(t, err)
	assert.Empty(t, adapter.shipped, "nothing must be shipped when the database is unreachable")
}

func TestCreateBackupClosesSessionOnDumpFailure(t *testing.T) {
	conn := &fakeConn{dumpErr: errors.New("disk full")}
	m := newTestManager(t, singleConnFactory(conn))

	_, err := m.CreateBackup(context.Background(), &fakeAdapter{},
		common.ConnectionConfig{ID: "c1", Name: "orders", Type: common.EngineMySQL}, BackupOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, conn.closes, "session cleanup must run on the error path too")
}

func TestCreateBatchBackupsIsolatesFailures(t *testing.T) {
	conns := map[string]*fakeConn{
		"c1": {dumpData: "one"},
		"c2": {connectErr: errors.New("connection refused")},
		"c3": {dumpData: "three"},
	}
	factory := func(cfg common.ConnectionConfig) (common.Connection, error) {
		conn := conns[cfg.ID]
		conn.cfg = cfg
		return conn, nil
	}
	m := newTestManager(t, factory)

	var progress []BatchProgress
	results := m.CreateBatchBackups(context.Background(),
		[]common.ConnectionConfig{
			{ID: "c1", Name: "one", Type: common.EnginePostgres},
			{ID: "c2", Name: "two", Type: common.EngineMySQL},
			{ID: "c3", Name: "three", Type: common.EnginePostgres},
		},
		&fakeAdapter{}, BackupOptions{},
		func(p BatchProgress) { progress = append(progress, p) })

	require.Len(t, results, 3, "every connection yields exactly one result")
	assert.Equal(t, "c1", results[0].ConnectionID)
	assert.Equal(t, StatusCompleted, results[0].Status)
	require.NotNil(t, results[0].BackupInfo)

	assert.Equal(t, "c2", results[1].ConnectionID)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "connection refused")
	assert.Nil(t, results[1].BackupInfo)

	assert.Equal(t, "c3", results[2].ConnectionID)
	assert.Equal(t, StatusCompleted, results[2].Status)

	wantStatuses := []string{
		StatusInProgress, StatusCompleted,
		StatusInProgress, StatusFailed,
		StatusInProgress, StatusCompleted,
	}
	require.Len(t, progress, len(wantStatuses))
	for i, p := range progress {
		assert.Equal(t, wantStatuses[i], p.Status, "progress event %d", i)
	}
	assert.Equal(t, "c2", progress[3].ConnectionID)
	assert.NotEmpty(t, progress[3].Error)
}

func TestRestoreBackupRemovesDownloadedArtifact(t *testing.T) {
	downloaded := filepath.Join(t.TempDir(), "downloaded.backup")
	require.NoError(t, os.WriteFile(downloaded, []byte("dump"), 0o644))

	conn := &fakeConn{}
	adapter := &fakeAdapter{restorePath: downloaded}
	m := newTestManager(t, singleConnFactory(conn))

	info := BackupInfo{ID: "b1", Name: "orders.backup", Path: "s3://bucket/orders.backup"}
	err := m.RestoreBackup(context.Background(), adapter, info, common.ConnectionConfig{ID: "c1", Name: "orders"})
	require.NoError(t, err)

	require.Equal(t, []string{downloaded}, conn.restored)
	_, err = os.Stat(downloaded)
	assert.True(t, os.IsNotExist(err), "downloaded artifacts are temporary")
	assert.Equal(t, 1, conn.closes)
}

func TestRestoreBackupKeepsStoredArtifact(t *testing.T) {
	stored := filepath.Join(t.TempDir(), "orders.backup")
	require.NoError(t, os.WriteFile(stored, []byte("dump"), 0o644))

	conn := &fakeConn{}
	adapter := &fakeAdapter{restorePath: stored}
	m := newTestManager(t, singleConnFactory(conn))

	info := BackupInfo{ID: "b1", Name: "orders.backup", Path: stored}
	require.NoError(t, m.RestoreBackup(context.Background(), adapter, info, common.ConnectionConfig{ID: "c1"}))

	_, err := os.Stat(stored)
	assert.NoError(t, err, "an adapter returning its stored path keeps the file")
}

func TestPruneBackups(t *testing.T) {
	now := time.Now()
	adapter := &fakeAdapter{
		infos: []BackupInfo{
			{ID: "old-1", Name: "a.backup", CreatedAt: now.Add(-48 * time.Hour)},
			{ID: "old-2", Name: "b.backup", CreatedAt: now.Add(-72 * time.Hour)},
			{ID: "fresh", Name: "c.backup", CreatedAt: now.Add(-time.Hour)},
		},
		deleteErr: map[string]error{"old-2": errors.New("permission denied")},
	}
	m := newTestManager(t, nil)

	deleted, err := m.PruneBackups(context.Background(), adapter, 24*time.Hour)
	require.NoError(t, err, "per-backup delete failures are not fatal")
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{"old-1"}, adapter.deleted)
}
