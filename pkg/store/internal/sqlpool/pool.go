// Package sqlpool holds the connection pool handling shared by the SQL adapters.
package sqlpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nimburion/unitofwork/pkg/observability/logger"
)

const defaultConnectTimeout = 5 * time.Second

// Config holds connection and pool configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
	QueryTimeout    time.Duration
}

// Pool is an open, verified *sql.DB plus the settings it was opened with.
type Pool struct {
	db     *sql.DB
	name   string
	logger logger.Logger
	config Config
}

// Open opens dsn with driver, applies the pool limits and pings the server
// before returning. name is used in log lines and errors.
func Open(driver, name, dsn string, cfg Config, log logger.Logger) (*Pool, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	return Wrap(db, name, cfg, log)
}

// Wrap configures and verifies an already opened handle.
func Wrap(db *sql.DB, name string, cfg Config, log logger.Logger) (*Pool, error) {
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}

	log.Info(name+" connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
		"conn_max_idle_time", cfg.ConnMaxIdleTime,
	)

	return &Pool{db: db, name: name, logger: log, config: cfg}, nil
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Conn pins one pooled connection. Sessions run all their statements on it.
func (p *Pool) Conn(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// QueryTimeout is the per-statement timeout sessions should apply.
func (p *Pool) QueryTimeout() time.Duration {
	return p.config.QueryTimeout
}

// Stats reports pool usage.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Ping verifies the database connection is alive
func (p *Pool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// HealthCheck pings the server, giving up after two seconds.
func (p *Pool) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.db.PingContext(hcCtx); err != nil {
		p.logger.Error(p.name+" health check failed", "error", err)
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// Close gracefully closes the pool.
func (p *Pool) Close() error {
	p.logger.Info("closing " + p.name + " connection")
	if err := p.db.Close(); err != nil {
		p.logger.Error("failed to close "+p.name+" connection", "error", err)
		return fmt.Errorf("failed to close %s connection: %w", p.name, err)
	}
	p.logger.Info(p.name + " connection closed successfully")
	return nil
}
