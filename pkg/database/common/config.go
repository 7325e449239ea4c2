package common

import (
	"fmt"
	"net"
	"strconv"
)

// ConnectionConfig describes one database endpoint. It is built by the
// caller (CLI, connection store, scheduler), handed to an adapter through
// the factory, and treated as read-only for the duration of an operation.
type ConnectionConfig struct {
	// ID is an opaque unique identifier assigned by whoever stores the
	// configuration.
	ID string `json:"id" yaml:"id"`

	// Name is the human-facing display name, also used in backup filenames.
	Name string `json:"name" yaml:"name"`

	// Type selects the engine adapter.
	Type EngineType `json:"type" yaml:"type"`

	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// ConnectionString overrides the discrete fields above when set.
	ConnectionString string `json:"connectionString,omitempty" yaml:"connectionString,omitempty"`

	// SSH, when set, routes the connection through a local forward tunnel.
	SSH *SSHConfig `json:"ssh,omitempty" yaml:"ssh,omitempty"`

	// Engine-specific options. Only the struct matching Type is consulted.
	Influx     *InfluxOptions     `json:"influx,omitempty" yaml:"influx,omitempty"`
	Oracle     *OracleOptions     `json:"oracle,omitempty" yaml:"oracle,omitempty"`
	ClickHouse *ClickHouseOptions `json:"clickhouse,omitempty" yaml:"clickhouse,omitempty"`
	Redis      *RedisOptions      `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQLServer  *SQLServerOptions  `json:"sqlserver,omitempty" yaml:"sqlserver,omitempty"`
	Mongo      *MongoOptions      `json:"mongo,omitempty" yaml:"mongo,omitempty"`
}

// SSHConfig holds the parameters for an SSH local-forward tunnel.
type SSHConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username       string `json:"username" yaml:"username"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKeyPath string `json:"privateKeyPath,omitempty" yaml:"privateKeyPath,omitempty"`
}

// InfluxOptions carries the InfluxDB 2.x organization and API token.
type InfluxOptions struct {
	Org   string `json:"org" yaml:"org"`
	Token string `json:"token" yaml:"token"`
}

// OracleOptions carries Oracle-specific settings.
type OracleOptions struct {
	// ServiceName overrides Database as the service identifier when set.
	ServiceName string `json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
}

// ClickHouseOptions carries ClickHouse-specific settings.
type ClickHouseOptions struct {
	Secure bool `json:"secure,omitempty" yaml:"secure,omitempty"`
}

// RedisOptions carries Redis-specific settings.
type RedisOptions struct {
	DB int `json:"db,omitempty" yaml:"db,omitempty"`
}

// SQLServerOptions carries SQL Server-specific settings.
type SQLServerOptions struct {
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty"`
	Encrypt  bool   `json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
}

// MongoOptions carries MongoDB-specific settings.
type MongoOptions struct {
	AuthSource string `json:"authSource,omitempty" yaml:"authSource,omitempty"`
	ReplicaSet string `json:"replicaSet,omitempty" yaml:"replicaSet,omitempty"`
}

// EffectivePort returns the configured port, falling back to the engine's
// conventional default.
func (c ConnectionConfig) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	return c.Type.DefaultPort()
}

// Addr returns host:port for network engines.
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
}

// Validate checks that the configuration can resolve to a usable endpoint.
// SQLite needs only Database (the file path); Redis tolerates an empty
// Database. Everything else needs ConnectionString, or Host plus Database.
func (c ConnectionConfig) Validate() error {
	if _, err := ParseEngine(string(c.Type)); err != nil {
		return err
	}
	if c.ConnectionString != "" {
		return nil
	}
	switch c.Type {
	case EngineSQLite:
		if c.Database == "" {
			return fmt.Errorf("sqlite connection %q: database file path is required", c.Name)
		}
	case EngineRedis:
		if c.Host == "" {
			return fmt.Errorf("redis connection %q: host is required", c.Name)
		}
	default:
		if c.Host == "" || c.Database == "" {
			return fmt.Errorf("connection %q: host and database are required when no connection string is set", c.Name)
		}
	}
	return nil
}
