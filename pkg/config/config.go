// Package config provides configuration loading for GoDBVault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	// Level is a zerolog level name (trace, debug, info, warn, error).
	Level string `yaml:"level"`
	// Console switches to human-readable console output; the default is
	// JSON lines.
	Console bool `yaml:"console"`
}

// MetricsConfig defines the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// BackupConfig carries the default destination for backup operations.
// Commands can override any of it with flags.
type BackupConfig struct {
	// AdapterType selects the destination: local, s3 or googledrive.
	AdapterType string `yaml:"adapterType"`
	// AdapterConfig is the flat destination config handed to
	// adapters.New (directory, bucket, credentials and so on).
	AdapterConfig map[string]string `yaml:"adapterConfig"`

	Compression   string `yaml:"compression"`
	Encrypt       bool   `yaml:"encrypt"`
	EncryptionKey string `yaml:"encryptionKey"`
}

// AppConfig is the complete application configuration. It is built once
// by Load and passed down; nothing reads it through a global.
type AppConfig struct {
	// DataDir holds the connection store and the scheduled job file.
	DataDir string `yaml:"dataDir"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Backup  BackupConfig  `yaml:"backup"`

	Debug bool `yaml:"debug"`
}

// Load reads the YAML file at path when given (falling back to the
// GODBVAULT_CONFIG environment variable), applies environment overrides,
// then fills defaults.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if path == "" {
		path = os.Getenv("GODBVAULT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnvironment()
	cfg.setDefaults()
	return cfg, nil
}

// applyEnvironment layers environment variables over the file values.
// Only variables that are actually set override anything.
func (c *AppConfig) applyEnvironment() {
	if v := getEnvOrDefault("GODBVAULT_DATA_DIR", ""); v != "" {
		c.DataDir = v
	}
	if v := getEnvOrDefault("GODBVAULT_LOG_LEVEL", ""); v != "" {
		c.Logging.Level = v
	}
	if _, ok := os.LookupEnv("GODBVAULT_LOG_CONSOLE"); ok {
		c.Logging.Console = parseEnvBool("GODBVAULT_LOG_CONSOLE", false)
	}
	if _, ok := os.LookupEnv("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = parseEnvBool("METRICS_ENABLED", false)
	}
	if v := getEnvOrDefault("METRICS_PORT", ""); v != "" {
		c.Metrics.Port = v
	}
	c.Debug = parseEnvBool("DEBUG", c.Debug)

	if v := getEnvOrDefault("BACKUP_ADAPTER", ""); v != "" {
		c.Backup.AdapterType = v
	}
	if v := getEnvOrDefault("BACKUP_COMPRESSION", ""); v != "" {
		c.Backup.Compression = v
	}
	if _, ok := os.LookupEnv("BACKUP_ENCRYPT"); ok {
		c.Backup.Encrypt = parseEnvBool("BACKUP_ENCRYPT", false)
	}
	if v := getEnvOrDefault("BACKUP_ENCRYPTION_KEY", ""); v != "" {
		c.Backup.EncryptionKey = v
	}

	// Destination shortcuts, mirrored into the adapter config map.
	adapterEnv := map[string]string{
		"LOCAL_BACKUP_DIRECTORY": "directory",
		"S3_BUCKET":              "bucket",
		"S3_REGION":              "region",
		"S3_ENDPOINT":            "endpoint",
		"S3_ACCESS_KEY":          "accessKeyId",
		"S3_SECRET_KEY":          "secretAccessKey",
		"S3_PREFIX":              "prefix",
		"S3_PATH_STYLE":          "pathStyle",
		"GDRIVE_FOLDER_ID":       "folderId",
		"GDRIVE_CREDENTIALS":     "credentialsFile",
	}
	for env, key := range adapterEnv {
		if v := getEnvOrDefault(env, ""); v != "" {
			if c.Backup.AdapterConfig == nil {
				c.Backup.AdapterConfig = map[string]string{}
			}
			c.Backup.AdapterConfig[key] = v
		}
	}
}

// setDefaults ensures every field the rest of the system relies on has a
// usable value.
func (c *AppConfig) setDefaults() {
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".godbvault")
		} else {
			c.DataDir = ".godbvault"
		}
	}
	if c.Logging.Level == "" {
		if c.Debug {
			c.Logging.Level = "debug"
		} else {
			c.Logging.Level = "info"
		}
	}
	if c.Metrics.Port == "" {
		c.Metrics.Port = "8080"
	}
	if c.Backup.AdapterType == "" {
		c.Backup.AdapterType = "local"
	}
	if c.Backup.Compression == "" {
		c.Backup.Compression = "none"
	}
	if c.Backup.AdapterConfig == nil {
		c.Backup.AdapterConfig = map[string]string{}
	}
	if c.Backup.AdapterType == "local" && c.Backup.AdapterConfig["directory"] == "" {
		c.Backup.AdapterConfig["directory"] = filepath.Join(c.DataDir, "backups")
	}
	if c.Backup.AdapterConfig["encryptionKey"] == "" && c.Backup.EncryptionKey != "" {
		c.Backup.AdapterConfig["encryptionKey"] = c.Backup.EncryptionKey
	}
}

// ConnectionsPath is where the connection store lives.
func (c *AppConfig) ConnectionsPath() string {
	return filepath.Join(c.DataDir, "connections.json")
}

// SchedulesPath is where the scheduled job file lives.
func (c *AppConfig) SchedulesPath() string {
	return filepath.Join(c.DataDir, "scheduled-backups.json")
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "t", "true", "yes", "on", "enabled":
		return true
	case "0", "f", "false", "no", "off", "disabled":
		return false
	}
	return defaultValue
}
