package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nimburion/unitofwork/pkg/uow"
)

const defaultTimeout = 5 * time.Second

// Checkable is an interface for components that support health checks
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports a component healthy when its HealthCheck succeeds
// within the timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a new health checker for an adapter
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// NewDatabaseChecker creates an AdapterChecker with the database timeout.
func NewDatabaseChecker(name string, db Checkable) *AdapterChecker {
	return NewAdapterChecker(name, db, defaultTimeout)
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return finish(c.name, start, c.adapter.HealthCheck(checkCtx), "OK")
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string { return c.name }

// StatsSource exposes connection pool statistics.
type StatsSource interface {
	Stats() sql.DBStats
}

// PoolChecker inspects pool statistics without touching the network. The pool
// is degraded once every allowed connection is in use and callers have started
// waiting for one.
type PoolChecker struct {
	name string
	pool StatsSource
}

// NewPoolChecker creates a checker over pool statistics.
func NewPoolChecker(name string, pool StatsSource) *PoolChecker {
	return &PoolChecker{name: name, pool: pool}
}

// Check reports pool saturation.
func (c *PoolChecker) Check(context.Context) CheckResult {
	start := time.Now()
	stats := c.pool.Stats()

	result := CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "OK",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Metadata: map[string]any{
			"open_connections":     stats.OpenConnections,
			"in_use":               stats.InUse,
			"idle":                 stats.Idle,
			"max_open_connections": stats.MaxOpenConnections,
			"wait_count":           stats.WaitCount,
			"wait_duration":        stats.WaitDuration.String(),
		},
	}

	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections && stats.WaitCount > 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("connection pool exhausted (%d/%d in use)", stats.InUse, stats.MaxOpenConnections)
	}
	return result
}

// Name returns the name of the health check
func (c *PoolChecker) Name() string { return c.name }

// SessionOpener opens unit-of-work sessions. *uow.Provider satisfies it.
type SessionOpener interface {
	NewSession(ctx context.Context) (*uow.Session, error)
}

// SessionChecker opens a session, runs a trivial query through it and
// disposes it. It exercises the same path application code takes.
type SessionChecker struct {
	name    string
	opener  SessionOpener
	timeout time.Duration
}

// NewSessionChecker creates a checker that round-trips a session.
func NewSessionChecker(name string, opener SessionOpener, timeout time.Duration) *SessionChecker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &SessionChecker{name: name, opener: opener, timeout: timeout}
}

// Check opens a session and queries SELECT 1.
func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s, err := c.opener.NewSession(checkCtx)
	if err != nil {
		return finish(c.name, start, fmt.Errorf("open session: %w", err), "")
	}
	defer s.Dispose()

	one, err := uow.QuerySingle[int](checkCtx, s, "SELECT 1")
	if err == nil && one != 1 {
		err = fmt.Errorf("unexpected probe result %d", one)
	}
	return finish(c.name, start, err, "session round-trip OK")
}

// Name returns the name of the health check
func (c *SessionChecker) Name() string { return c.name }

func finish(name string, start time.Time, err error, message string) CheckResult {
	result := CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	return result
}
