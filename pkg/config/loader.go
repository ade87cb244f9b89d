package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader loads Config from defaults, an optional file and the
// environment, in increasing precedence.
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a loader. configFile may be empty; envPrefix
// defaults to APP.
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// setting binds one config key to its default and to the environment
// variables that may set it. The first env suffix is the documented one; the
// rest are accepted aliases, consulted in order.
type setting struct {
	key string
	env []string
	def func(*Config) any
}

var settings = []setting{
	{"service.name", []string{"SERVICE_NAME"}, func(c *Config) any { return c.Service.Name }},
	{"service.environment", []string{"SERVICE_ENVIRONMENT", "ENVIRONMENT"}, func(c *Config) any { return c.Service.Environment }},

	{"database.type", []string{"DB_TYPE", "DATABASE_TYPE"}, func(c *Config) any { return c.Database.Type }},
	{"database.url", []string{"DB_URL", "DATABASE_URL"}, func(c *Config) any { return c.Database.URL }},
	{"database.max_open_conns", []string{"DB_MAX_OPEN_CONNS", "DATABASE_MAX_OPEN_CONNS"}, func(c *Config) any { return c.Database.MaxOpenConns }},
	{"database.max_idle_conns", []string{"DB_MAX_IDLE_CONNS", "DATABASE_MAX_IDLE_CONNS"}, func(c *Config) any { return c.Database.MaxIdleConns }},
	{"database.conn_max_lifetime", []string{"DB_CONN_MAX_LIFETIME", "DATABASE_CONN_MAX_LIFETIME"}, func(c *Config) any { return c.Database.ConnMaxLifetime }},
	{"database.conn_max_idle_time", []string{"DB_CONN_MAX_IDLE_TIME", "DATABASE_CONN_MAX_IDLE_TIME"}, func(c *Config) any { return c.Database.ConnMaxIdleTime }},
	{"database.connect_timeout", []string{"DB_CONNECT_TIMEOUT", "DATABASE_CONNECT_TIMEOUT"}, func(c *Config) any { return c.Database.ConnectTimeout }},
	{"database.query_timeout", []string{"DB_QUERY_TIMEOUT", "DATABASE_QUERY_TIMEOUT"}, func(c *Config) any { return c.Database.QueryTimeout }},

	{"unit_of_work.context_name", []string{"UOW_CONTEXT_NAME", "UNIT_OF_WORK_CONTEXT_NAME"}, func(c *Config) any { return c.UnitOfWork.ContextName }},
	{"unit_of_work.isolation_level", []string{"UOW_ISOLATION_LEVEL", "UNIT_OF_WORK_ISOLATION_LEVEL"}, func(c *Config) any { return c.UnitOfWork.IsolationLevel }},
	{"unit_of_work.read_only", []string{"UOW_READ_ONLY", "UNIT_OF_WORK_READ_ONLY"}, func(c *Config) any { return c.UnitOfWork.ReadOnly }},

	{"migrations.dir", []string{"MIGRATIONS_DIR"}, func(c *Config) any { return c.Migrations.Dir }},
	{"migrations.table", []string{"MIGRATIONS_TABLE"}, func(c *Config) any { return c.Migrations.Table }},

	{"observability.log_level", []string{"OBSERVABILITY_LOG_LEVEL", "LOG_LEVEL"}, func(c *Config) any { return c.Observability.LogLevel }},
	{"observability.log_format", []string{"OBSERVABILITY_LOG_FORMAT", "LOG_FORMAT"}, func(c *Config) any { return c.Observability.LogFormat }},
	{"observability.service_name", []string{"OBSERVABILITY_SERVICE_NAME"}, func(c *Config) any { return c.Observability.ServiceName }},
	{"observability.metrics_enabled", []string{"OBSERVABILITY_METRICS_ENABLED", "METRICS_ENABLED"}, func(c *Config) any { return c.Observability.MetricsEnabled }},
	{"observability.tracing_enabled", []string{"OBSERVABILITY_TRACING_ENABLED"}, func(c *Config) any { return c.Observability.TracingEnabled }},
	{"observability.tracing_sample_rate", []string{"OBSERVABILITY_TRACING_SAMPLE_RATE"}, func(c *Config) any { return c.Observability.TracingSampleRate }},
	{"observability.tracing_endpoint", []string{"OBSERVABILITY_TRACING_ENDPOINT"}, func(c *Config) any { return c.Observability.TracingEndpoint }},
	{"observability.tracing_insecure", []string{"OBSERVABILITY_TRACING_INSECURE"}, func(c *Config) any { return c.Observability.TracingInsecure }},
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := l.newViper()
	if err := l.readConfigFile(v); err != nil {
		return nil, err
	}
	return l.finish(v)
}

func (l *ViperLoader) newViper() *viper.Viper {
	v := viper.New()
	defaults := DefaultConfig()
	if name := l.defaultServiceName(); name != "" {
		defaults.Service.Name = name
	}
	for _, s := range settings {
		v.SetDefault(s.key, s.def(defaults))
	}
	return v
}

func (l *ViperLoader) readConfigFile(v *viper.Viper) error {
	if l.configFile == "" {
		return nil
	}
	v.SetConfigFile(l.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
	}
	return nil
}

// finish applies the environment on top of v, then decodes and validates.
func (l *ViperLoader) finish(v *viper.Viper) (*Config, error) {
	for _, s := range settings {
		names := make([]string, len(s.env))
		for i, suffix := range s.env {
			names[i] = l.prefixedEnv(suffix)
		}
		if err := v.BindEnv(append([]string{s.key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

func (l *ViperLoader) defaultServiceName() string {
	if l == nil {
		return ""
	}
	return l.serviceNameDefault
}

// Validate normalizes enum-like values in place and reports every rule the
// configuration breaks.
func (l *ViperLoader) Validate(cfg *Config) error {
	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	cfg.UnitOfWork.IsolationLevel = strings.ToLower(strings.TrimSpace(cfg.UnitOfWork.IsolationLevel))
	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	cfg.Observability.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat))
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.Service.Name
	}
	return cfg.Validate()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
