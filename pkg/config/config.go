// Package config loads the settings shared by sessions, stores, migrations
// and the uowctl command.
package config

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Database type constants
const (
	// DatabaseTypePostgres represents PostgreSQL database
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL represents MySQL database
	DatabaseTypeMySQL = "mysql"
)

// Config is the root configuration structure.
type Config struct {
	Service       ServiceConfig
	Database      DatabaseConfig
	UnitOfWork    UnitOfWorkConfig `mapstructure:"unit_of_work"`
	Migrations    MigrationsConfig
	Observability ObservabilityConfig
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig configures the connection pool behind every session.
type DatabaseConfig struct {
	Type            string        `mapstructure:"type"` // postgres, mysql
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// UnitOfWorkConfig configures the registered database context and the
// options every transaction it opens starts with.
type UnitOfWorkConfig struct {
	ContextName    string `mapstructure:"context_name"`
	IsolationLevel string `mapstructure:"isolation_level"`
	ReadOnly       bool   `mapstructure:"read_only"`
}

// MigrationsConfig configures schema migrations.
type MigrationsConfig struct {
	Dir   string `mapstructure:"dir"`
	Table string `mapstructure:"table"`
}

// ObservabilityConfig configures logging, metrics, and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	ServiceName       string  `mapstructure:"service_name"`
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure"`
}

var isolationLevels = map[string]sql.IsolationLevel{
	"":                 sql.LevelDefault,
	"default":          sql.LevelDefault,
	"read_uncommitted": sql.LevelReadUncommitted,
	"read_committed":   sql.LevelReadCommitted,
	"write_committed":  sql.LevelWriteCommitted,
	"repeatable_read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
	"linearizable":     sql.LevelLinearizable,
}

// TxOptions converts the unit-of-work settings to the options passed to
// BeginTx.
func (c UnitOfWorkConfig) TxOptions() (*sql.TxOptions, error) {
	level, ok := isolationLevels[strings.ToLower(strings.TrimSpace(c.IsolationLevel))]
	if !ok {
		return nil, fmt.Errorf("unknown isolation level %q", c.IsolationLevel)
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: c.ReadOnly}, nil
}

// DefaultConfig returns the configuration used when neither a file nor the
// environment sets a value.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "app",
			Environment: "production",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			QueryTimeout:    30 * time.Second,
		},
		UnitOfWork: UnitOfWorkConfig{
			ContextName:    "default",
			IsolationLevel: "default",
		},
		Migrations: MigrationsConfig{
			Dir:   "migrations",
			Table: "schema_migrations",
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 0.1,
		},
	}
}
