package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "8080", cfg.Metrics.Port)
	assert.Equal(t, "local", cfg.Backup.AdapterType)
	assert.Equal(t, "none", cfg.Backup.Compression)
	assert.Equal(t, filepath.Join(cfg.DataDir, "backups"), cfg.Backup.AdapterConfig["directory"])
	assert.Equal(t, filepath.Join(cfg.DataDir, "connections.json"), cfg.ConnectionsPath())
	assert.Equal(t, filepath.Join(cfg.DataDir, "scheduled-backups.json"), cfg.SchedulesPath())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
dataDir: /var/lib/godbvault
logging:
  level: debug
  console: true
metrics:
  enabled: true
  port: "9400"
backup:
  adapterType: s3
  compression: zstd
  encrypt: true
  encryptionKey: sesame
  adapterConfig:
    bucket: nightly
    region: us-east-1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/godbvault", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "9400", cfg.Metrics.Port)
	assert.Equal(t, "s3", cfg.Backup.AdapterType)
	assert.Equal(t, "zstd", cfg.Backup.Compression)
	assert.True(t, cfg.Backup.Encrypt)
	assert.Equal(t, "nightly", cfg.Backup.AdapterConfig["bucket"])
	// The top-level key is mirrored into the adapter config for the
	// codec to pick up.
	assert.Equal(t, "sesame", cfg.Backup.AdapterConfig["encryptionKey"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: [oops"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: /from-file\nlogging:\n  level: warn\n"), 0o644))

	t.Setenv("GODBVAULT_DATA_DIR", "/from-env")
	t.Setenv("GODBVAULT_LOG_LEVEL", "trace")
	t.Setenv("METRICS_ENABLED", "yes")
	t.Setenv("BACKUP_ADAPTER", "s3")
	t.Setenv("S3_BUCKET", "env-bucket")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from-env", cfg.DataDir)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "s3", cfg.Backup.AdapterType)
	assert.Equal(t, "env-bucket", cfg.Backup.AdapterConfig["bucket"])
	assert.Equal(t, "true", cfg.Backup.AdapterConfig["pathStyle"])
}

func TestConfigFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: /pointed-at\n"), 0o644))
	t.Setenv("GODBVAULT_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/pointed-at", cfg.DataDir)
}

func TestParseEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"1", true},
		{"t", true},
		{"TRUE", true},
		{"yes", true},
		{"on", true},
		{"enabled", true},
		{"0", false},
		{"f", false},
		{"FALSE", false},
		{"no", false},
		{"off", false},
		{"disabled", false},
		{"garbage", true}, // falls back to the default
	}
	for _, tt := range tests {
		t.Setenv("TEST_BOOL", tt.value)
		assert.Equal(t, tt.want, parseEnvBool("TEST_BOOL", true), "value %q", tt.value)
	}

	os.Unsetenv("TEST_BOOL")
	assert.True(t, parseEnvBool("TEST_BOOL", true))
	assert.False(t, parseEnvBool("TEST_BOOL", false))
}
