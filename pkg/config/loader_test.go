package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func clearAppEnv() {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "APP_") {
			key := strings.Split(env, "=")[0]
			os.Unsetenv(key)
		}
	}
}

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.ConnMaxIdleTime != 2*time.Minute {
		t.Errorf("expected conn max idle time 2m, got %v", cfg.Database.ConnMaxIdleTime)
	}
	if cfg.UnitOfWork.ContextName != "default" {
		t.Errorf("expected context name default, got %q", cfg.UnitOfWork.ContextName)
	}
	if cfg.Migrations.Table != "schema_migrations" {
		t.Errorf("expected migrations table schema_migrations, got %q", cfg.Migrations.Table)
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Observability)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration must be valid: %v", err)
	}
}

func TestViperLoader_LoadDefaults(t *testing.T) {
	clearAppEnv()
	defer clearAppEnv()

	cfg, err := NewViperLoader("", "APP").WithServiceNameDefault("orders").Load()
	if err != nil {
		t.Fatalf("expected no error loading defaults, got: %v", err)
	}
	if cfg.Service.Name != "orders" {
		t.Errorf("expected service name orders, got %q", cfg.Service.Name)
	}
	if cfg.Observability.ServiceName != "orders" {
		t.Errorf("expected observability service name to follow service name, got %q", cfg.Observability.ServiceName)
	}
}

func TestViperLoader_LoadFromFileAndEnv(t *testing.T) {
	clearAppEnv()
	defer clearAppEnv()

	file := writeConfigFile(t, "config.yaml", `
database:
  type: postgres
  url: postgres://file@localhost/orders
  max_open_conns: 12
unit_of_work:
  context_name: orders
  isolation_level: Serializable
migrations:
  dir: db/migrations
`)
	os.Setenv("APP_DB_MAX_OPEN_CONNS", "40")
	os.Setenv("APP_UOW_READ_ONLY", "true")
	os.Setenv("APP_DB_QUERY_TIMEOUT", "3s")

	cfg, err := NewViperLoader(file, "APP").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://file@localhost/orders" {
		t.Errorf("expected URL from file, got %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 40 {
		t.Errorf("expected max open conns 40 from env, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.QueryTimeout != 3*time.Second {
		t.Errorf("expected query timeout 3s from env, got %v", cfg.Database.QueryTimeout)
	}
	if cfg.Migrations.Dir != "db/migrations" || cfg.Migrations.Table != "schema_migrations" {
		t.Errorf("unexpected migrations config: %+v", cfg.Migrations)
	}

	opts, err := cfg.UnitOfWork.TxOptions()
	if err != nil {
		t.Fatalf("TxOptions() error = %v", err)
	}
	if opts.Isolation != sql.LevelSerializable || !opts.ReadOnly {
		t.Errorf("TxOptions() = %+v", opts)
	}
}

func TestViperLoader_LegacyEnvAliases(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "legacy name alone",
			env:  map[string]string{"APP_DATABASE_URL": "postgres://legacy", "APP_DB_TYPE": "postgres"},
			want: "postgres://legacy",
		},
		{
			name: "abbreviated name wins",
			env: map[string]string{
				"APP_DATABASE_URL": "postgres://legacy",
				"APP_DB_URL":       "postgres://current",
				"APP_DB_TYPE":      "postgres",
			},
			want: "postgres://current",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAppEnv()
			defer clearAppEnv()
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			cfg, err := NewViperLoader("", "APP").Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Database.URL != tt.want {
				t.Errorf("database.url = %q, want %q", cfg.Database.URL, tt.want)
			}
		})
	}
}

func TestConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unsupported database type",
			mutate:  func(c *Config) { c.Database.Type = "mongodb"; c.Database.URL = "mongodb://x" },
			wantErr: "invalid database.type",
		},
		{
			name:    "type without url",
			mutate:  func(c *Config) { c.Database.Type = DatabaseTypeMySQL },
			wantErr: "database.url is required when database.type is set",
		},
		{
			name:    "url without type",
			mutate:  func(c *Config) { c.Database.URL = "postgres://x" },
			wantErr: "database.type is required when database.url is set",
		},
		{
			name:    "idle above open",
			mutate:  func(c *Config) { c.Database.MaxOpenConns = 2; c.Database.MaxIdleConns = 3 },
			wantErr: "cannot exceed database.max_open_conns",
		},
		{
			name:    "unknown isolation level",
			mutate:  func(c *Config) { c.UnitOfWork.IsolationLevel = "chaos" },
			wantErr: "unit_of_work.isolation_level",
		},
		{
			name:    "empty context name",
			mutate:  func(c *Config) { c.UnitOfWork.ContextName = " " },
			wantErr: "unit_of_work.context_name is required",
		},
		{
			name:    "migrations table injection",
			mutate:  func(c *Config) { c.Migrations.Table = "t; DROP TABLE users" },
			wantErr: "not a valid identifier",
		},
		{
			name:    "tracing without endpoint",
			mutate:  func(c *Config) { c.Observability.TracingEnabled = true },
			wantErr: "tracing_endpoint is required",
		},
		{
			name:    "log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "verbose" },
			wantErr: "invalid observability.log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidationJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Observability.LogLevel = "loud"
	cfg.Observability.LogFormat = "xml"

	err := cfg.Validate()
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two joined errors, got %v", err)
	}
}

func TestViperLoader_LoadWithSecrets(t *testing.T) {
	clearAppEnv()
	defer clearAppEnv()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	os.WriteFile(configFile, []byte("database:\n  type: postgres\n"), 0o600)
	os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("database:\n  url: postgres://u:hunter2@db/orders\n"), 0o600)

	cfg, secrets, err := NewViperLoader(configFile, "APP").LoadWithSecrets()
	if err != nil {
		t.Fatalf("LoadWithSecrets() error = %v", err)
	}
	if cfg.Database.URL != "postgres://u:hunter2@db/orders" {
		t.Fatalf("expected URL from secrets file, got %q", cfg.Database.URL)
	}

	out := cfg.Redacted(secrets)
	if strings.Contains(out, "hunter2") {
		t.Fatalf("Redacted() leaked the secret:\n%s", out)
	}
	if !strings.Contains(out, "url: ***") || !strings.Contains(out, "type: postgres") {
		t.Fatalf("unexpected Redacted() output:\n%s", out)
	}
}

func TestViperLoader_SecretsFileEnvMustExist(t *testing.T) {
	clearAppEnv()
	defer clearAppEnv()
	os.Setenv("APP_SECRETS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, _, err := NewViperLoader("", "APP").LoadWithSecrets(); err == nil {
		t.Fatal("expected an error for a missing explicit secrets file")
	}
}

func TestProperty_EnvOverridesFile(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genConns := gen.IntRange(1, 200)
	genLevel := gen.OneConstOf("debug", "info", "warn", "error")

	properties.Property("ENV overrides file and defaults", prop.ForAll(
		func(envConns, fileConns int, envLevel, fileLevel string) bool {
			clearAppEnv()
			defer clearAppEnv()

			file := writeConfigFile(t, "config.yaml", fmt.Sprintf(
				"database:\n  max_open_conns: %d\n  max_idle_conns: 1\nobservability:\n  log_level: %s\n",
				fileConns, fileLevel))
			os.Setenv("APP_DB_MAX_OPEN_CONNS", fmt.Sprintf("%d", envConns))
			os.Setenv("APP_LOG_LEVEL", envLevel)

			cfg, err := NewViperLoader(file, "APP").Load()
			if err != nil {
				t.Logf("Load error: %v", err)
				return false
			}
			return cfg.Database.MaxOpenConns == envConns && cfg.Observability.LogLevel == envLevel
		},
		genConns, genConns, genLevel, genLevel,
	))

	properties.Property("file overrides defaults when ENV not set", prop.ForAll(
		func(fileConns int) bool {
			clearAppEnv()
			defer clearAppEnv()

			file := writeConfigFile(t, "config.yaml", fmt.Sprintf(
				"database:\n  max_open_conns: %d\n  max_idle_conns: 1\n", fileConns))
			cfg, err := NewViperLoader(file, "APP").Load()
			if err != nil {
				return false
			}
			return cfg.Database.MaxOpenConns == fileConns &&
				cfg.Database.ConnMaxLifetime == DefaultConfig().Database.ConnMaxLifetime
		},
		genConns,
	))

	properties.TestingRun(t)
}
