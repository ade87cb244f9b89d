package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks if the configuration is valid. All failures are joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Type != "" {
		validTypes := []string{DatabaseTypePostgres, DatabaseTypeMySQL}
		if !contains(validTypes, c.Database.Type) {
			errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)", c.Database.Type, validTypes))
		}
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required when database.type is set"))
		}
	}
	if c.Database.Type == "" && c.Database.URL != "" {
		errs = append(errs, errors.New("database.type is required when database.url is set"))
	}
	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database connection limits cannot be negative"))
	}
	if c.Database.MaxOpenConns > 0 && c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}
	if c.Database.QueryTimeout < 0 || c.Database.ConnectTimeout < 0 {
		errs = append(errs, errors.New("database timeouts cannot be negative"))
	}

	if strings.TrimSpace(c.UnitOfWork.ContextName) == "" {
		errs = append(errs, errors.New("unit_of_work.context_name is required"))
	}
	if _, err := c.UnitOfWork.TxOptions(); err != nil {
		errs = append(errs, fmt.Errorf("unit_of_work.isolation_level: %w", err))
	}

	if !identifierPattern.MatchString(c.Migrations.Table) {
		errs = append(errs, fmt.Errorf("migrations.table %q is not a valid identifier", c.Migrations.Table))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", c.Observability.LogLevel, validLevels))
	}
	validFormats := []string{"json", "text"}
	if !contains(validFormats, c.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", c.Observability.LogFormat, validFormats))
	}
	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", c.Observability.TracingSampleRate))
	}

	return errors.Join(errs...)
}

// String returns the full configuration as a formatted string
func (c *Config) String() string {
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.Value{}, "")
}

// Redacted returns the configuration with secrets masked.
// Pass the secrets Config returned by LoadWithSecrets() to mask those values.
func (c *Config) Redacted(secrets *Config) string {
	if secrets == nil {
		return c.String()
	}
	return formatStruct(reflect.ValueOf(c).Elem(), reflect.ValueOf(secrets).Elem(), "")
}

// formatStruct renders v one field per line. Leaf fields whose counterpart
// in mask is set are printed as ***. An invalid mask redacts nothing.
func formatStruct(v, mask reflect.Value, prefix string) string {
	var sb strings.Builder
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)
		if !value.CanInterface() {
			continue
		}

		var maskValue reflect.Value
		if mask.IsValid() {
			maskValue = mask.Field(i)
		}

		fieldName := strings.ToLower(field.Name)
		if tag := field.Tag.Get("mapstructure"); tag != "" && tag != "-" {
			fieldName = tag
		}

		switch value.Kind() {
		case reflect.Struct:
			fmt.Fprintf(&sb, "%s%s:\n", prefix, fieldName)
			sb.WriteString(formatStruct(value, maskValue, prefix+"  "))
		default:
			var displayValue any = value.Interface()
			if shouldRedact(maskValue) {
				displayValue = "***"
			}
			fmt.Fprintf(&sb, "%s%s: %v\n", prefix, fieldName, displayValue)
		}
	}

	return sb.String()
}

func shouldRedact(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}
