// Package mysql opens MySQL pools for unit-of-work sessions.
package mysql

import (
	"fmt"

	driver "github.com/go-sql-driver/mysql"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/repository"
	"github.com/nimburion/unitofwork/pkg/store/internal/sqlpool"
)

// Config holds MySQL connection configuration.
type Config = sqlpool.Config

// MySQLAdapter provides MySQL connectivity with pooled connections.
type MySQLAdapter struct {
	*sqlpool.Pool
}

// NewMySQLAdapter parses the DSN, opens the pool and pings the server.
// parseTime is always enabled so DATETIME columns scan into time.Time.
func NewMySQLAdapter(cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	dsn, err := normalizeDSN(cfg.URL)
	if err != nil {
		return nil, err
	}

	pool, err := sqlpool.Open("mysql", "MySQL", dsn, cfg, log)
	if err != nil {
		return nil, err
	}
	return &MySQLAdapter{Pool: pool}, nil
}

func normalizeDSN(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("database URL is required")
	}
	parsed, err := driver.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	parsed.ParseTime = true
	return parsed.FormatDSN(), nil
}

// Dialect reports the placeholder and quoting rules for statements on this pool.
func (a *MySQLAdapter) Dialect() repository.Dialect {
	return repository.DialectMySQL
}
