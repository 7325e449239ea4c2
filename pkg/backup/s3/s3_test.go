package s3

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/backup"
)

const dumpContent = "-- MySQL dump\nCREATE TABLE users (id bigint);\n"

func newTestAdapter(t *testing.T, prefix string) *Adapter {
	t.Helper()

	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket("backups"))
	server := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(server.Close)

	adapter, err := New(context.Background(), Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "backups",
		Prefix:          prefix,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		UsePathStyle:    true,
		EncryptionKey:   "sesame",
	}, zerolog.Nop())
	require.NoError(t, err)
	return adapter
}

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.dump")
	require.NoError(t, os.WriteFile(path, []byte(dumpContent), 0o644))
	return path
}

func TestCreateListRestoreDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t, "nightly")

	info, err := adapter.CreateBackup(ctx, backup.BackupOptions{
		ConnectionID:   "conn-1",
		ConnectionName: "users",
		DatabaseType:   "mysql",
		SourcePath:     writeSource(t),
		Compression:    backup.CompressionGzip,
		Encrypt:        true,
		EncryptionKey:  "sesame",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(info.Name, ".backup.gz.enc"))
	assert.True(t, strings.HasPrefix(info.Path, "nightly/"), "objects land under the prefix")
	assert.Positive(t, info.Size)

	infos, err := adapter.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, info.ID, infos[0].ID, "listing must rediscover the same id")
	assert.Equal(t, info.Name, infos[0].Name)
	assert.Equal(t, info.Size, infos[0].Size)
	assert.Equal(t, string(backup.CompressionGzip), infos[0].Metadata[backup.MetaCompression])
	assert.True(t, infos[0].Encrypted())

	restored, err := adapter.RestoreBackup(ctx, infos[0])
	require.NoError(t, err)
	defer os.Remove(restored)
	assert.NotEqual(t, info.Path, restored)

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, dumpContent, string(got))

	require.NoError(t, adapter.DeleteBackup(ctx, info.ID))
	infos, err = adapter.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestListBackupsScopedToPrefix(t *testing.T) {
	ctx := context.Background()
	adapter := newTestAdapter(t, "nightly")

	// Same bucket, different prefix: listings must not bleed across.
	other := *adapter
	other.cfg.Prefix = "adhoc"

	_, err := adapter.CreateBackup(ctx, backup.BackupOptions{
		ConnectionName: "users",
		SourcePath:     writeSource(t),
	})
	require.NoError(t, err)

	infos, err := other.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	infos, err = adapter.ListBackups(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestCreateBackupMissingSource(t *testing.T) {
	adapter := newTestAdapter(t, "")

	var notFound *backup.SourceNotFoundError
	_, err := adapter.CreateBackup(context.Background(), backup.BackupOptions{
		ConnectionName: "users",
		SourcePath:     "/nonexistent/users.dump",
	})
	require.ErrorAs(t, err, &notFound)
}

func TestRestoreBackupMissingObject(t *testing.T) {
	adapter := newTestAdapter(t, "nightly")

	var notFound *backup.BackupNotFoundError
	_, err := adapter.RestoreBackup(context.Background(), backup.BackupInfo{
		ID:   "gone",
		Name: "users_20260314_092653.backup",
		Path: "nightly/users_20260314_092653.backup",
	})
	require.ErrorAs(t, err, &notFound)
}

func TestDeleteBackupUnknownID(t *testing.T) {
	adapter := newTestAdapter(t, "")

	var notFound *backup.BackupNotFoundError
	require.ErrorAs(t, adapter.DeleteBackup(context.Background(), "no-such-id"), &notFound)
}

func TestValidateOptions(t *testing.T) {
	adapter := newTestAdapter(t, "")
	require.NoError(t, adapter.ValidateOptions(context.Background()))

	missing := *adapter
	missing.cfg.Bucket = "no-such-bucket"
	err := missing.ValidateOptions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not reachable")
}
