// Package postgres opens PostgreSQL pools for unit-of-work sessions.
package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
	"github.com/nimburion/unitofwork/pkg/repository"
	"github.com/nimburion/unitofwork/pkg/store/internal/sqlpool"
)

// Config holds PostgreSQL connection configuration
type Config = sqlpool.Config

// PostgreSQLAdapter provides PostgreSQL connectivity with connection pooling.
// It satisfies uow.Connector, so a provider can pin session connections on it.
type PostgreSQLAdapter struct {
	*sqlpool.Pool
}

// NewPostgreSQLAdapter validates the URL, opens the pool and pings the server.
// URL may be a postgres:// URL or a key=value connection string.
func NewPostgreSQLAdapter(cfg Config, log logger.Logger) (*PostgreSQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	dsn := cfg.URL
	if strings.Contains(dsn, "://") {
		conninfo, err := pq.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid PostgreSQL URL: %w", err)
		}
		dsn = conninfo
	}

	pool, err := sqlpool.Open("postgres", "PostgreSQL", dsn, cfg, log)
	if err != nil {
		return nil, err
	}
	return &PostgreSQLAdapter{Pool: pool}, nil
}

// Dialect reports the placeholder and quoting rules for statements on this pool.
func (a *PostgreSQLAdapter) Dialect() repository.Dialect {
	return repository.DialectPostgres
}
