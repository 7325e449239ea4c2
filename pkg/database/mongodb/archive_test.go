package mongodb

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarDirRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "app"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "users.bson"), []byte("bson-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "users.metadata.json"), []byte(`{"indexes":[]}`), 0o644))

	archive := filepath.Join(t.TempDir(), "dump.tar.gz")
	require.NoError(t, tarDir(archive, src))

	out := t.TempDir()
	require.NoError(t, untarDir(archive, out))

	got, err := os.ReadFile(filepath.Join(out, "app", "users.bson"))
	require.NoError(t, err)
	assert.Equal(t, "bson-bytes", string(got))

	got, err = os.ReadFile(filepath.Join(out, "app", "users.metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"indexes":[]}`, string(got))
}

func TestUntarDirRejectsEscapingEntries(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.gz")
	f, err := os.Create(archive)
	require.NoError(t, err)

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	payload := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.txt",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(payload)),
	}))
	_, err = tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	err = untarDir(archive, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes extraction directory")

	_, statErr := os.Stat(filepath.Join(parent, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
