package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoDBVault/pkg/backup"
)

const dumpContent = "-- PostgreSQL database dump\nCREATE TABLE orders (id bigint);\n"

func writeSource(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orders.dump")
	require.NoError(t, os.WriteFile(path, []byte(dumpContent), 0o644))
	return path
}

func TestCreateListRestoreDelete(t *testing.T) {
	ctx := context.Background()
	adapter := New(Config{Directory: t.TempDir()}, zerolog.Nop())
	src := writeSource(t)

	info, err := adapter.CreateBackup(ctx, backup.BackupOptions{
		ConnectionID:   "conn-1",
		ConnectionName: "orders",
		DatabaseType:   "postgres",
		SourcePath:     src,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.Name, "orders_"))
	assert.True(t, strings.HasSuffix(info.Name, ".backup"))
	assert.Equal(t, int64(len(dumpContent)), info.Size)
	assert.Equal(t, backup.StatusCompleted, info.Status)

	// Shipping must not consume the source artifact.
	_, err = os.Stat(src)
	require.NoError(t, err)
	assert.True(t, adapter.KeepsSource())

	infos, err := adapter.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, info.ID, infos[0].ID, "listing must rediscover the same id")
	assert.Equal(t, info.Name, infos[0].Name)
	assert.Equal(t, info.Size, infos[0].Size)

	restored, err := adapter.RestoreBackup(ctx, infos[0])
	require.NoError(t, err)
	assert.Equal(t, info.Path, restored, "plain artifacts restore in place")
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, dumpContent, string(got))

	require.NoError(t, adapter.DeleteBackup(ctx, info.ID))
	infos, err = adapter.ListBackups(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)

	var notFound *backup.BackupNotFoundError
	require.ErrorAs(t, adapter.DeleteBackup(ctx, info.ID), &notFound)
}

func TestCompressedEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := New(Config{Directory: t.TempDir(), EncryptionKey: "sesame"}, zerolog.Nop())

	info, err := adapter.CreateBackup(ctx, backup.BackupOptions{
		ConnectionName: "orders",
		SourcePath:     writeSource(t),
		Compression:    backup.CompressionZstd,
		Encrypt:        true,
		EncryptionKey:  "sesame",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(info.Name, ".backup.zst.enc"))

	stored, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "CREATE TABLE")

	restored, err := adapter.RestoreBackup(ctx, *info)
	require.NoError(t, err)
	defer os.Remove(restored)
	assert.NotEqual(t, info.Path, restored, "encoded artifacts restore into a temporary")

	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, dumpContent, string(got))
}

func TestRestoreEncryptedWithoutKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writer := New(Config{Directory: dir, EncryptionKey: "sesame"}, zerolog.Nop())

	info, err := writer.CreateBackup(ctx, backup.BackupOptions{
		ConnectionName: "orders",
		SourcePath:     writeSource(t),
		Encrypt:        true,
		EncryptionKey:  "sesame",
	})
	require.NoError(t, err)

	reader := New(Config{Directory: dir}, zerolog.Nop())
	_, err = reader.RestoreBackup(ctx, *info)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no encryption key is configured")
}

func TestCreateBackupMissingSource(t *testing.T) {
	adapter := New(Config{Directory: t.TempDir()}, zerolog.Nop())

	var notFound *backup.SourceNotFoundError
	_, err := adapter.CreateBackup(context.Background(), backup.BackupOptions{
		ConnectionName: "orders",
		SourcePath:     "/nonexistent/orders.dump",
	})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "/nonexistent/orders.dump", notFound.Path)
}

func TestRestoreBackupMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	adapter := New(Config{Directory: dir}, zerolog.Nop())

	var notFound *backup.BackupNotFoundError
	_, err := adapter.RestoreBackup(context.Background(), backup.BackupInfo{
		ID:   "gone",
		Name: "orders_20260314_092653.backup",
		Path: filepath.Join(dir, "orders_20260314_092653.backup"),
	})
	require.ErrorAs(t, err, &notFound)
}

func TestListBackupsIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	adapter := New(Config{Directory: dir}, zerolog.Nop())

	_, err := adapter.CreateBackup(ctx, backup.BackupOptions{
		ConnectionName: "orders",
		SourcePath:     writeSource(t),
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	infos, err := adapter.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.True(t, strings.HasPrefix(infos[0].Name, "orders_"))
}

func TestListBackupsMissingDirectory(t *testing.T) {
	adapter := New(Config{Directory: filepath.Join(t.TempDir(), "never-created")}, zerolog.Nop())

	infos, err := adapter.ListBackups(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestValidateOptions(t *testing.T) {
	adapter := New(Config{Directory: t.TempDir()}, zerolog.Nop())
	require.NoError(t, adapter.ValidateOptions(context.Background()))

	assert.Error(t, New(Config{}, zerolog.Nop()).ValidateOptions(context.Background()))
}
